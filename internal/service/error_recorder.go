package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shipbatch/shipbatch/internal/domain"
	"github.com/shipbatch/shipbatch/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minRecorderConcurrency = 1

// BatchErrorSink appends a provider-reported failure to a batch's error log.
type BatchErrorSink interface {
	RecordError(ctx context.Context, batchKey string, e domain.BatchError) (*domain.BatchError, error)
}

// ErrorRecorder consumes provider error reports and appends them to their
// batch. It is the in-process end of the provider-integration path: the core
// never calls the label/rate provider, it only records what the provider
// reports back.
type ErrorRecorder struct {
	sink        BatchErrorSink
	consumer    queue.Consumer
	logger      *zap.Logger
	concurrency int
}

func NewErrorRecorder(
	sink BatchErrorSink,
	consumer queue.Consumer,
	concurrency int,
	logger *zap.Logger,
) (*ErrorRecorder, error) {
	if sink == nil {
		return nil, fmt.Errorf("error sink is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if concurrency < minRecorderConcurrency {
		concurrency = minRecorderConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ErrorRecorder{
		sink:        sink,
		consumer:    consumer,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start consumes the error-report queue until context cancellation.
func (r *ErrorRecorder) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < r.concurrency; i++ {
		recorderID := i + 1

		g.Go(func() error {
			r.logger.Info("error recorder started",
				zap.Int("recorderId", recorderID),
				zap.String("queue", queue.ErrorReportsQueue),
			)

			err := r.consumer.Consume(groupCtx, queue.ErrorReportsQueue, r.processReport)
			if err != nil {
				r.logger.Error("error recorder stopped with error",
					zap.Int("recorderId", recorderID),
					zap.Error(err),
				)
				return err
			}

			r.logger.Info("error recorder stopped",
				zap.Int("recorderId", recorderID),
			)
			return nil
		})
	}

	return g.Wait()
}

func (r *ErrorRecorder) processReport(ctx context.Context, msg queue.ErrorReportMessage) error {
	record := domain.BatchError{
		ErrorCode:    msg.ErrorCode,
		ErrorMessage: msg.ErrorMessage,
		ErrorType:    msg.ErrorType,
		Source:       msg.Source,
	}

	_, err := r.sink.RecordError(ctx, msg.BatchKey, record)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound):
		// The batch was deleted after the provider reported; nothing to
		// attribute the failure to.
		r.logger.Warn("dropping error report for unknown batch",
			zap.String("batchKey", msg.BatchKey),
		)
		return nil
	case errors.Is(err, domain.ErrValidation):
		r.logger.Warn("dropping invalid error report",
			zap.String("batchKey", msg.BatchKey),
			zap.Error(err),
		)
		return nil
	default:
		r.logger.Error("failed to record provider error",
			zap.String("batchKey", msg.BatchKey),
			zap.Error(err),
		)
		return err
	}
}
