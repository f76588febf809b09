package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shipbatch/shipbatch/internal/domain"
)

// JSONColumn stores raw JSON in a jsonb column without imposing a schema.
type JSONColumn json.RawMessage

func (j JSONColumn) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSONColumn) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		*j = append((*j)[:0], v...)
		return nil
	case string:
		*j = JSONColumn(v)
		return nil
	}
	return fmt.Errorf("unsupported jsonb source type %T", value)
}

func (JSONColumn) GormDataType() string { return "jsonb" }

// BatchModel is the persistence model for the batches table. The caller-visible
// key lives in the batch_id column; ID is the internal identity.
type BatchModel struct {
	ID            int64              `gorm:"primaryKey;autoIncrement"`
	BatchKey      string             `gorm:"column:batch_id;type:varchar(255);not null;uniqueIndex:idx_batches_batch_id"`
	UserID        int64              `gorm:"not null;index"`
	Status        domain.BatchStatus `gorm:"type:varchar(50);not null;default:pending"`
	ShipDate      *time.Time         `gorm:"type:timestamptz"`
	LabelLayout   *string            `gorm:"type:varchar(50)"`
	LabelFormat   *string            `gorm:"type:varchar(50)"`
	DisplayScheme *string            `gorm:"type:varchar(100)"`
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Shipments []BatchShipmentModel `gorm:"foreignKey:BatchID;constraint:OnDelete:CASCADE"`
	Rates     []BatchRateModel     `gorm:"foreignKey:BatchID;constraint:OnDelete:CASCADE"`
	Errors    []BatchErrorModel    `gorm:"foreignKey:BatchID;constraint:OnDelete:CASCADE"`
}

func (BatchModel) TableName() string {
	return "batches"
}

// BatchShipmentModel is the persistence model for batch_shipments. ShipmentID
// carries no uniqueness constraint: membership is a multiset.
type BatchShipmentModel struct {
	ID             int64      `gorm:"primaryKey;autoIncrement"`
	BatchID        int64      `gorm:"not null;index"`
	ShipmentID     string     `gorm:"type:varchar(255);not null;index"`
	TrackingNumber *string    `gorm:"type:varchar(255)"`
	Carrier        *string    `gorm:"type:varchar(100)"`
	ServiceCode    *string    `gorm:"type:varchar(100)"`
	LabelData      JSONColumn `gorm:"type:jsonb"`
	CreatedAt      time.Time
}

func (BatchShipmentModel) TableName() string {
	return "batch_shipments"
}

// BatchRateModel is the persistence model for batch_rates.
type BatchRateModel struct {
	ID          int64    `gorm:"primaryKey;autoIncrement"`
	BatchID     int64    `gorm:"not null;index"`
	RateID      string   `gorm:"type:varchar(255);not null;index"`
	Carrier     *string  `gorm:"type:varchar(100)"`
	ServiceType *string  `gorm:"type:varchar(100)"`
	Amount      *float64 `gorm:"type:numeric"`
	Currency    *string  `gorm:"type:varchar(10)"`
	CreatedAt   time.Time
}

func (BatchRateModel) TableName() string {
	return "batch_rates"
}

// BatchErrorModel is the persistence model for batch_errors.
type BatchErrorModel struct {
	ID           int64   `gorm:"primaryKey;autoIncrement"`
	BatchID      int64   `gorm:"not null;index"`
	ErrorCode    *string `gorm:"type:varchar(100)"`
	ErrorMessage string  `gorm:"type:text;not null"`
	ErrorType    *string `gorm:"type:varchar(100)"`
	Source       *string `gorm:"type:varchar(255)"`
	CreatedAt    time.Time
}

func (BatchErrorModel) TableName() string {
	return "batch_errors"
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:            b.ID,
		BatchKey:      b.BatchKey,
		UserID:        b.UserID,
		Status:        b.Status,
		ShipDate:      b.ShipDate,
		LabelLayout:   b.LabelLayout,
		LabelFormat:   b.LabelFormat,
		DisplayScheme: b.DisplayScheme,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	b := &domain.Batch{
		ID:            m.ID,
		BatchKey:      m.BatchKey,
		UserID:        m.UserID,
		Status:        m.Status,
		ShipDate:      m.ShipDate,
		LabelLayout:   m.LabelLayout,
		LabelFormat:   m.LabelFormat,
		DisplayScheme: m.DisplayScheme,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		Shipments:     make([]domain.BatchShipment, 0, len(m.Shipments)),
		Rates:         make([]domain.BatchRate, 0, len(m.Rates)),
		Errors:        make([]domain.BatchError, 0, len(m.Errors)),
	}

	for i := range m.Shipments {
		b.Shipments = append(b.Shipments, *shipmentModelToDomain(&m.Shipments[i]))
	}
	for i := range m.Rates {
		b.Rates = append(b.Rates, *rateModelToDomain(&m.Rates[i]))
	}
	for i := range m.Errors {
		b.Errors = append(b.Errors, *errorModelToDomain(&m.Errors[i]))
	}

	return b
}

func shipmentModelToDomain(m *BatchShipmentModel) *domain.BatchShipment {
	if m == nil {
		return nil
	}

	return &domain.BatchShipment{
		ID:             m.ID,
		BatchID:        m.BatchID,
		ShipmentID:     m.ShipmentID,
		TrackingNumber: m.TrackingNumber,
		Carrier:        m.Carrier,
		ServiceCode:    m.ServiceCode,
		LabelData:      json.RawMessage(m.LabelData),
		CreatedAt:      m.CreatedAt,
	}
}

func rateModelToDomain(m *BatchRateModel) *domain.BatchRate {
	if m == nil {
		return nil
	}

	return &domain.BatchRate{
		ID:          m.ID,
		BatchID:     m.BatchID,
		RateID:      m.RateID,
		Carrier:     m.Carrier,
		ServiceType: m.ServiceType,
		Amount:      m.Amount,
		Currency:    m.Currency,
		CreatedAt:   m.CreatedAt,
	}
}

func errorModelFromDomain(e *domain.BatchError) *BatchErrorModel {
	if e == nil {
		return nil
	}

	return &BatchErrorModel{
		ID:           e.ID,
		BatchID:      e.BatchID,
		ErrorCode:    e.ErrorCode,
		ErrorMessage: e.ErrorMessage,
		ErrorType:    e.ErrorType,
		Source:       e.Source,
		CreatedAt:    e.CreatedAt,
	}
}

func errorModelToDomain(m *BatchErrorModel) *domain.BatchError {
	if m == nil {
		return nil
	}

	return &domain.BatchError{
		ID:           m.ID,
		BatchID:      m.BatchID,
		ErrorCode:    m.ErrorCode,
		ErrorMessage: m.ErrorMessage,
		ErrorType:    m.ErrorType,
		Source:       m.Source,
		CreatedAt:    m.CreatedAt,
	}
}
