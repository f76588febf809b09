package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/shipbatch/shipbatch/internal/auth"
	"github.com/shipbatch/shipbatch/internal/config"
	"github.com/shipbatch/shipbatch/internal/handler"
	"github.com/shipbatch/shipbatch/internal/infra/postgresql"
	"github.com/shipbatch/shipbatch/internal/infra/postgresql/migrations"
	infraredis "github.com/shipbatch/shipbatch/internal/infra/redis"
	"github.com/shipbatch/shipbatch/internal/notify"
	"github.com/shipbatch/shipbatch/internal/observability"
	"github.com/shipbatch/shipbatch/internal/queue"
	"github.com/shipbatch/shipbatch/internal/ratelimit"
	"github.com/shipbatch/shipbatch/internal/repository"
	"github.com/shipbatch/shipbatch/internal/service"
	"github.com/shipbatch/shipbatch/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	batchCache := infraredis.NewCacheWithClient(rdb)

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer mq.Close()

	publisher := queue.NewRabbitMQPublisher(mq)
	defer publisher.Close()

	consumer := queue.NewRabbitMQConsumer(mq, cfg.ErrorConsumerConcurrency, logger)
	defer consumer.Close()

	var notifier notify.Notifier
	if cfg.EventWebhookURL != "" {
		notifier, err = notify.NewWebhookNotifier(cfg.EventWebhookURL)
		if err != nil {
			logger.Fatal("webhook notifier initialization failed", zap.Error(err))
		}
	}

	authenticator, err := auth.NewJWTAuthenticator(cfg.JWTSecret)
	if err != nil {
		logger.Fatal("authenticator initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	batchRepo := repository.NewGormBatchRepo(db)

	batchService, err := service.NewBatchService(
		batchRepo,
		batchCache,
		publisher,
		notifier,
		logger,
		service.WithCacheTTL(time.Duration(cfg.CacheTTLSeconds)*time.Second),
		service.WithMetrics(metrics),
	)
	if err != nil {
		logger.Fatal("batch service initialization failed", zap.Error(err))
	}

	recorder, err := service.NewErrorRecorder(batchService, consumer, cfg.ErrorConsumerConcurrency, logger)
	if err != nil {
		logger.Fatal("error recorder initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, mq)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	v1 := app.Group("/v1", auth.Middleware(authenticator), ratelimit.Middleware(limiter))
	if err := handler.RegisterBatchRoutes(v1, batchService); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("shipbatch api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		return recorder.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
