package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BatchStatus represents the lifecycle state of a batch. Transitions are
// caller-driven; no state machine is enforced at this layer.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusPending, BatchStatusProcessing, BatchStatusCompleted, BatchStatusFailed:
		return true
	}
	return false
}

func ParseBatchStatusFromString(s string) (BatchStatus, error) {
	st := BatchStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid batch status %q", ErrValidation, s)
	}
	return st, nil
}

// Batch groups shipment-label and rate-quote requests processed together.
// BatchKey is the caller-supplied, globally unique identifier; ID is the
// internal numeric identity.
type Batch struct {
	ID            int64
	BatchKey      string
	UserID        int64
	Status        BatchStatus
	ShipDate      *time.Time
	LabelLayout   *string
	LabelFormat   *string
	DisplayScheme *string
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Shipments []BatchShipment
	Rates     []BatchRate
	Errors    []BatchError
}

// LabelOptions carries the shipping metadata applied when label processing is
// requested for a batch.
type LabelOptions struct {
	ShipDate      *time.Time
	LabelLayout   *string
	LabelFormat   *string
	DisplayScheme *string
}

// BatchShipment is a shipment membership row owned by exactly one batch.
// ShipmentID is provider-assigned and not unique across the table: repeated
// additions of the same identifier accumulate rows.
type BatchShipment struct {
	ID             int64
	BatchID        int64
	ShipmentID     string
	TrackingNumber *string
	Carrier        *string
	ServiceCode    *string
	LabelData      json.RawMessage
	CreatedAt      time.Time
}

// BatchRate is a rate-quote membership row owned by exactly one batch.
type BatchRate struct {
	ID          int64
	BatchID     int64
	RateID      string
	Carrier     *string
	ServiceType *string
	Amount      *float64
	Currency    *string
	CreatedAt   time.Time
}

// BatchError is an append-only record of a provider-reported failure. Rows are
// never updated or deduplicated and are ordered by creation.
type BatchError struct {
	ID           int64
	BatchID      int64
	ErrorCode    *string
	ErrorMessage string
	ErrorType    *string
	Source       *string
	CreatedAt    time.Time
}

func (e *BatchError) Validate() error {
	if strings.TrimSpace(e.ErrorMessage) == "" {
		return fmt.Errorf("%w: error message is required", ErrValidation)
	}
	return nil
}
