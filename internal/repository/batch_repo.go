package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shipbatch/shipbatch/internal/domain"
	"gorm.io/gorm"
)

// BatchRepository exposes the primitive Store operations the aggregate
// lifecycle is composed from. Lookup and creation are deliberately separate so
// the concurrent-create race on a batch key is an explicit code path.
type BatchRepository interface {
	Transaction(ctx context.Context, fn func(BatchRepository) error) error
	GetByKey(ctx context.Context, batchKey string) (*domain.Batch, error)
	Create(ctx context.Context, b *domain.Batch) error
	AddShipments(ctx context.Context, batchID int64, shipmentIDs []string) error
	AddRates(ctx context.Context, batchID int64, rateIDs []string) error
	RemoveShipments(ctx context.Context, batchID int64, shipmentIDs []string) error
	RemoveRates(ctx context.Context, batchID int64, rateIDs []string) error
	UpdateLabelOptions(ctx context.Context, batchID int64, opts domain.LabelOptions, status domain.BatchStatus) error
	Delete(ctx context.Context, batchID int64) error
	ListErrors(ctx context.Context, batchID int64, offset, limit int) ([]domain.BatchError, error)
	AddError(ctx context.Context, e *domain.BatchError) error
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

// Transaction runs fn against a repository bound to a single Store transaction.
// Any error rolls the whole unit of work back.
func (r *GormBatchRepo) Transaction(ctx context.Context, fn func(BatchRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormBatchRepo{db: tx})
	})
}

// GetByKey loads a batch by its caller-visible key with all children eagerly
// joined. The lookup is global: key uniqueness, not ownership, scopes it.
func (r *GormBatchRepo) GetByKey(ctx context.Context, batchKey string) (*domain.Batch, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).
		Preload("Shipments").
		Preload("Rates").
		Preload("Errors").
		First(&model, "batch_id = ?", batchKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func (r *GormBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	model := batchModelFromDomain(b)
	if model != nil && model.Status == "" {
		model.Status = domain.BatchStatusPending
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return err
	}
	if b != nil {
		*b = *batchModelToDomain(model)
	}
	return nil
}

// AddShipments inserts one row per identifier. Duplicates accumulate: there is
// no existence check against rows already carrying the same shipment id.
func (r *GormBatchRepo) AddShipments(ctx context.Context, batchID int64, shipmentIDs []string) error {
	if len(shipmentIDs) == 0 {
		return nil
	}

	rows := make([]BatchShipmentModel, 0, len(shipmentIDs))
	for _, id := range shipmentIDs {
		rows = append(rows, BatchShipmentModel{BatchID: batchID, ShipmentID: id})
	}
	if err := r.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return err
	}
	return r.touch(ctx, batchID)
}

func (r *GormBatchRepo) AddRates(ctx context.Context, batchID int64, rateIDs []string) error {
	if len(rateIDs) == 0 {
		return nil
	}

	rows := make([]BatchRateModel, 0, len(rateIDs))
	for _, id := range rateIDs {
		rows = append(rows, BatchRateModel{BatchID: batchID, RateID: id})
	}
	if err := r.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return err
	}
	return r.touch(ctx, batchID)
}

// RemoveShipments deletes every row whose identifier is in the set, preserving
// multiset semantics: all matching duplicates go, and absent identifiers are a
// no-op rather than an error.
func (r *GormBatchRepo) RemoveShipments(ctx context.Context, batchID int64, shipmentIDs []string) error {
	if len(shipmentIDs) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND shipment_id IN ?", batchID, shipmentIDs).
		Delete(&BatchShipmentModel{}).Error
	if err != nil {
		return err
	}
	return r.touch(ctx, batchID)
}

func (r *GormBatchRepo) RemoveRates(ctx context.Context, batchID int64, rateIDs []string) error {
	if len(rateIDs) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND rate_id IN ?", batchID, rateIDs).
		Delete(&BatchRateModel{}).Error
	if err != nil {
		return err
	}
	return r.touch(ctx, batchID)
}

// UpdateLabelOptions overwrites all four shipping-metadata fields (nil values
// clear columns) and force-sets the status, whatever the current one is.
func (r *GormBatchRepo) UpdateLabelOptions(ctx context.Context, batchID int64, opts domain.LabelOptions, status domain.BatchStatus) error {
	updates := map[string]any{
		"ship_date":      opts.ShipDate,
		"label_layout":   opts.LabelLayout,
		"label_format":   opts.LabelFormat,
		"display_scheme": opts.DisplayScheme,
		"status":         status,
		"updated_at":     time.Now().UTC(),
	}

	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ?", batchID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes the batch and cascades over its children.
func (r *GormBatchRepo) Delete(ctx context.Context, batchID int64) error {
	for _, child := range []any{&BatchShipmentModel{}, &BatchRateModel{}, &BatchErrorModel{}} {
		if err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Delete(child).Error; err != nil {
			return err
		}
	}

	result := r.db.WithContext(ctx).Delete(&BatchModel{}, "id = ?", batchID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListErrors returns a page of error records in insertion order.
func (r *GormBatchRepo) ListErrors(ctx context.Context, batchID int64, offset, limit int) ([]domain.BatchError, error) {
	var models []BatchErrorModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	errs := make([]domain.BatchError, 0, len(models))
	for i := range models {
		errs = append(errs, *errorModelToDomain(&models[i]))
	}
	return errs, nil
}

func (r *GormBatchRepo) AddError(ctx context.Context, e *domain.BatchError) error {
	model := errorModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if e != nil {
		*e = *errorModelToDomain(model)
	}
	return nil
}

// touch bumps the parent batch's updated_at so child mutations are visible on
// the aggregate timestamp.
func (r *GormBatchRepo) touch(ctx context.Context, batchID int64) error {
	return r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ?", batchID).
		UpdateColumn("updated_at", time.Now().UTC()).Error
}
