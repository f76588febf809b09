package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shipbatch/shipbatch/internal/cache"
	"github.com/shipbatch/shipbatch/internal/domain"
	"github.com/shipbatch/shipbatch/internal/notify"
	"github.com/shipbatch/shipbatch/internal/observability"
	"github.com/shipbatch/shipbatch/internal/queue"
	"github.com/shipbatch/shipbatch/internal/repository"
	"go.uber.org/zap"
)

const (
	batchCacheKeyPrefix = "batch:"
	defaultCacheTTL     = 300 * time.Second

	minPageSize = 1
	maxPageSize = 100
)

// BatchService owns the batch aggregate lifecycle: membership mutations,
// reads through the cache, label-processing dispatch, deletion, and the error
// log. Every mutation invalidates the batch's cache key before returning.
type BatchService struct {
	batches   repository.BatchRepository
	cache     cache.Cache
	publisher queue.Publisher
	notifier  notify.Notifier
	logger    *zap.Logger
	metrics   *observability.Metrics

	cacheTTL time.Duration
	// legacyCacheAuth reproduces the historical behavior where a cache hit
	// skipped the ownership check. Off by default: the snapshot carries the
	// owner id precisely so hits can be authorized.
	legacyCacheAuth bool
}

type Option func(*BatchService)

func WithCacheTTL(ttl time.Duration) Option {
	return func(s *BatchService) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithLegacyCacheAuthorization restores the pre-fix policy of serving cache
// hits without an ownership check. A batch cached by its owner can then be
// read by any authenticated caller until the TTL expires.
func WithLegacyCacheAuthorization() Option {
	return func(s *BatchService) {
		s.legacyCacheAuth = true
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *BatchService) {
		s.metrics = m
	}
}

func NewBatchService(
	batches repository.BatchRepository,
	batchCache cache.Cache,
	publisher queue.Publisher,
	notifier notify.Notifier,
	logger *zap.Logger,
	opts ...Option,
) (*BatchService, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if batchCache == nil {
		return nil, fmt.Errorf("batch cache is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &BatchService{
		batches:   batches,
		cache:     batchCache,
		publisher: publisher,
		notifier:  notifier,
		logger:    logger,
		cacheTTL:  defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AddItems appends shipment and rate identifiers to the batch, creating the
// batch (owned by ownerID, status pending) when the key is unknown. Duplicate
// identifiers accumulate rows. Two concurrent calls racing on creation leave
// one with ErrConflict from the key's uniqueness constraint.
func (s *BatchService) AddItems(ctx context.Context, batchKey string, ownerID int64, shipmentIDs, rateIDs []string) (*domain.Batch, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	key, err := normalizeBatchKey(batchKey)
	if err != nil {
		return nil, err
	}

	var result *domain.Batch
	err = s.batches.Transaction(ctx, func(repo repository.BatchRepository) error {
		b, err := repo.GetByKey(ctx, key)
		if errors.Is(err, domain.ErrNotFound) {
			b = &domain.Batch{
				BatchKey: key,
				UserID:   ownerID,
				Status:   domain.BatchStatusPending,
			}
			if err := repo.Create(ctx, b); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if err := repo.AddShipments(ctx, b.ID, shipmentIDs); err != nil {
			return err
		}
		if err := repo.AddRates(ctx, b.ID, rateIDs); err != nil {
			return err
		}

		result, err = repo.GetByKey(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, key)
	s.metrics.IncBatchOperation("add_items")
	return result, nil
}

// GetByKey serves the batch read-through: a fresh cache snapshot short-circuits
// the Store, a miss loads the aggregate, authorizes it, and repopulates the
// cache for the TTL window. The caller always receives live (uncached) data on
// the miss path.
func (s *BatchService) GetByKey(ctx context.Context, batchKey string, callerID int64) (*domain.Batch, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	key, err := normalizeBatchKey(batchKey)
	if err != nil {
		return nil, err
	}
	cacheKey := batchCacheKey(key)

	var snap batchSnapshot
	if s.cache.GetInto(ctx, cacheKey, &snap) && snap.BatchKey != "" {
		if !s.legacyCacheAuth && snap.UserID != callerID {
			return nil, fmt.Errorf("%w: batch %q belongs to another user", domain.ErrForbidden, key)
		}

		if b, err := snap.toDomain(); err == nil {
			s.metrics.IncCacheHit()
			s.metrics.IncBatchOperation("get")
			return b, nil
		}
		// An unreadable snapshot is treated as a miss and overwritten below.
		s.logger.Warn("discarding undecodable cache snapshot", zap.String("batchKey", key))
	}
	s.metrics.IncCacheMiss()

	b, err := s.batches.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if b.UserID != callerID {
		return nil, fmt.Errorf("%w: batch %q belongs to another user", domain.ErrForbidden, key)
	}

	s.cache.Set(ctx, cacheKey, snapshotFromBatch(b), s.cacheTTL)
	s.metrics.IncBatchOperation("get")
	return b, nil
}

// ProcessLabels overwrites the batch's shipping metadata and force-sets its
// status to processing regardless of the current status, then hands the job to
// the external worker. Queue and webhook delivery are best-effort: the Store
// write is the source of truth.
func (s *BatchService) ProcessLabels(ctx context.Context, batchKey string, callerID int64, opts domain.LabelOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	key, err := normalizeBatchKey(batchKey)
	if err != nil {
		return err
	}

	b, err := s.loadOwned(ctx, key, callerID)
	if err != nil {
		return err
	}

	if err := s.batches.UpdateLabelOptions(ctx, b.ID, opts, domain.BatchStatusProcessing); err != nil {
		return err
	}

	s.invalidate(ctx, key)
	s.metrics.IncBatchOperation("process_labels")

	s.dispatchLabelJob(ctx, key)
	s.notifyEvent(ctx, notify.EventLabelsProcessing, key, domain.BatchStatusProcessing)
	return nil
}

// RemoveItems deletes every shipment/rate row whose identifier is in the
// supplied sets. Identifiers with no matching rows are a no-op; identifiers
// with duplicates lose all their rows.
func (s *BatchService) RemoveItems(ctx context.Context, batchKey string, callerID int64, shipmentIDs, rateIDs []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	key, err := normalizeBatchKey(batchKey)
	if err != nil {
		return err
	}

	err = s.batches.Transaction(ctx, func(repo repository.BatchRepository) error {
		b, err := repo.GetByKey(ctx, key)
		if err != nil {
			return err
		}
		if b.UserID != callerID {
			return fmt.Errorf("%w: batch %q belongs to another user", domain.ErrForbidden, key)
		}

		if err := repo.RemoveShipments(ctx, b.ID, shipmentIDs); err != nil {
			return err
		}
		return repo.RemoveRates(ctx, b.ID, rateIDs)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, key)
	s.metrics.IncBatchOperation("remove_items")
	return nil
}

// Delete removes the batch and cascades over its shipments, rates, and errors.
func (s *BatchService) Delete(ctx context.Context, batchKey string, callerID int64) error {
	if ctx == nil {
		ctx = context.Background()
	}
	key, err := normalizeBatchKey(batchKey)
	if err != nil {
		return err
	}

	err = s.batches.Transaction(ctx, func(repo repository.BatchRepository) error {
		b, err := repo.GetByKey(ctx, key)
		if err != nil {
			return err
		}
		if b.UserID != callerID {
			return fmt.Errorf("%w: batch %q belongs to another user", domain.ErrForbidden, key)
		}
		return repo.Delete(ctx, b.ID)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, key)
	s.metrics.IncBatchOperation("delete")

	s.notifyEvent(ctx, notify.EventBatchDeleted, key, "")
	return nil
}

// GetErrors returns one page of the batch's error log in insertion order plus
// an exact has-more flag from a bounded over-fetch of pageSize+1 rows. Errors
// are read from the Store directly, never the cache.
func (s *BatchService) GetErrors(ctx context.Context, batchKey string, callerID int64, page, pageSize int) ([]domain.BatchError, bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	key, err := normalizeBatchKey(batchKey)
	if err != nil {
		return nil, false, err
	}
	if page < 1 {
		return nil, false, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if pageSize < minPageSize || pageSize > maxPageSize {
		return nil, false, fmt.Errorf("%w: pagesize must be between %d and %d", domain.ErrValidation, minPageSize, maxPageSize)
	}

	b, err := s.loadOwned(ctx, key, callerID)
	if err != nil {
		return nil, false, err
	}

	offset := (page - 1) * pageSize
	rows, err := s.batches.ListErrors(ctx, b.ID, offset, pageSize+1)
	if err != nil {
		return nil, false, err
	}

	hasMore := len(rows) > pageSize
	if hasMore {
		rows = rows[:pageSize]
	}

	s.metrics.IncBatchOperation("get_errors")
	return rows, hasMore, nil
}

// RecordError appends a provider-reported failure to the batch's error log.
// This is the only write path for BatchError rows; it bypasses ownership
// because reports arrive from the trusted provider integration, not a caller.
func (s *BatchService) RecordError(ctx context.Context, batchKey string, e domain.BatchError) (*domain.BatchError, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	key, err := normalizeBatchKey(batchKey)
	if err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}

	b, err := s.batches.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	e.BatchID = b.ID
	if err := s.batches.AddError(ctx, &e); err != nil {
		return nil, err
	}

	s.invalidate(ctx, key)
	source := ""
	if e.Source != nil {
		source = *e.Source
	}
	s.metrics.IncErrorRecorded(source)
	return &e, nil
}

func (s *BatchService) loadOwned(ctx context.Context, batchKey string, callerID int64) (*domain.Batch, error) {
	b, err := s.batches.GetByKey(ctx, batchKey)
	if err != nil {
		return nil, err
	}
	if b.UserID != callerID {
		return nil, fmt.Errorf("%w: batch %q belongs to another user", domain.ErrForbidden, batchKey)
	}
	return b, nil
}

// invalidate removes the cached snapshot synchronously so the next read
// refreshes from the Store. A crash between the Store write and this call
// leaves staleness bounded by the TTL.
func (s *BatchService) invalidate(ctx context.Context, batchKey string) {
	s.cache.Delete(ctx, batchCacheKey(batchKey))
}

func (s *BatchService) dispatchLabelJob(ctx context.Context, batchKey string) {
	if s.publisher == nil {
		return
	}

	msg := queue.LabelJobMessage{BatchKey: batchKey}
	if err := s.publisher.Publish(ctx, queue.LabelJobsQueue, msg); err != nil {
		s.logger.Warn("failed to dispatch label job",
			zap.String("batchKey", batchKey),
			zap.Error(err),
		)
		s.metrics.IncLabelDispatch("failed")
		return
	}
	s.metrics.IncLabelDispatch("published")
}

func (s *BatchService) notifyEvent(ctx context.Context, event, batchKey string, status domain.BatchStatus) {
	if s.notifier == nil {
		return
	}

	err := s.notifier.Notify(ctx, notify.BatchEvent{
		Event:      event,
		BatchKey:   batchKey,
		Status:     status.String(),
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("failed to deliver batch event",
			zap.String("event", event),
			zap.String("batchKey", batchKey),
			zap.Error(err),
		)
	}
}

func normalizeBatchKey(batchKey string) (string, error) {
	trimmed := strings.TrimSpace(batchKey)
	if trimmed == "" {
		return "", fmt.Errorf("%w: batch key is required", domain.ErrValidation)
	}
	return trimmed, nil
}

func batchCacheKey(batchKey string) string {
	return batchCacheKeyPrefix + batchKey
}
