package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shipbatch/shipbatch/internal/domain"
)

// batchSnapshot is the denormalized cache representation of a batch: children
// flattened, timestamps ISO-8601. It embeds user_id so a cache hit can still
// be authorized against the caller.
type batchSnapshot struct {
	ID            int64              `json:"id"`
	BatchKey      string             `json:"batch_id"`
	UserID        int64              `json:"user_id"`
	Status        string             `json:"status"`
	ShipDate      *string            `json:"ship_date"`
	LabelLayout   *string            `json:"label_layout"`
	LabelFormat   *string            `json:"label_format"`
	DisplayScheme *string            `json:"display_scheme"`
	CreatedAt     string             `json:"created_at"`
	UpdatedAt     string             `json:"updated_at"`
	Shipments     []shipmentSnapshot `json:"shipments"`
	Rates         []rateSnapshot     `json:"rates"`
	Errors        []errorSnapshot    `json:"errors"`
}

type shipmentSnapshot struct {
	ID             int64           `json:"id"`
	BatchID        int64           `json:"batch_id"`
	ShipmentID     string          `json:"shipment_id"`
	TrackingNumber *string         `json:"tracking_number"`
	Carrier        *string         `json:"carrier"`
	ServiceCode    *string         `json:"service_code"`
	LabelData      json.RawMessage `json:"label_data"`
	CreatedAt      string          `json:"created_at"`
}

type rateSnapshot struct {
	ID          int64    `json:"id"`
	BatchID     int64    `json:"batch_id"`
	RateID      string   `json:"rate_id"`
	Carrier     *string  `json:"carrier"`
	ServiceType *string  `json:"service_type"`
	Amount      *float64 `json:"amount"`
	Currency    *string  `json:"currency"`
	CreatedAt   string   `json:"created_at"`
}

type errorSnapshot struct {
	ID           int64   `json:"id"`
	BatchID      int64   `json:"batch_id"`
	ErrorCode    *string `json:"error_code"`
	ErrorMessage string  `json:"error_message"`
	ErrorType    *string `json:"error_type"`
	Source       *string `json:"source"`
	CreatedAt    string  `json:"created_at"`
}

func snapshotFromBatch(b *domain.Batch) batchSnapshot {
	snap := batchSnapshot{
		ID:            b.ID,
		BatchKey:      b.BatchKey,
		UserID:        b.UserID,
		Status:        b.Status.String(),
		ShipDate:      formatOptionalTime(b.ShipDate),
		LabelLayout:   b.LabelLayout,
		LabelFormat:   b.LabelFormat,
		DisplayScheme: b.DisplayScheme,
		CreatedAt:     formatTime(b.CreatedAt),
		UpdatedAt:     formatTime(b.UpdatedAt),
		Shipments:     make([]shipmentSnapshot, 0, len(b.Shipments)),
		Rates:         make([]rateSnapshot, 0, len(b.Rates)),
		Errors:        make([]errorSnapshot, 0, len(b.Errors)),
	}

	for _, s := range b.Shipments {
		snap.Shipments = append(snap.Shipments, shipmentSnapshot{
			ID:             s.ID,
			BatchID:        s.BatchID,
			ShipmentID:     s.ShipmentID,
			TrackingNumber: s.TrackingNumber,
			Carrier:        s.Carrier,
			ServiceCode:    s.ServiceCode,
			LabelData:      s.LabelData,
			CreatedAt:      formatTime(s.CreatedAt),
		})
	}
	for _, r := range b.Rates {
		snap.Rates = append(snap.Rates, rateSnapshot{
			ID:          r.ID,
			BatchID:     r.BatchID,
			RateID:      r.RateID,
			Carrier:     r.Carrier,
			ServiceType: r.ServiceType,
			Amount:      r.Amount,
			Currency:    r.Currency,
			CreatedAt:   formatTime(r.CreatedAt),
		})
	}
	for _, e := range b.Errors {
		snap.Errors = append(snap.Errors, errorSnapshot{
			ID:           e.ID,
			BatchID:      e.BatchID,
			ErrorCode:    e.ErrorCode,
			ErrorMessage: e.ErrorMessage,
			ErrorType:    e.ErrorType,
			Source:       e.Source,
			CreatedAt:    formatTime(e.CreatedAt),
		})
	}

	return snap
}

func (s batchSnapshot) toDomain() (*domain.Batch, error) {
	createdAt, err := parseTime(s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at in snapshot: %w", err)
	}
	updatedAt, err := parseTime(s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid updated_at in snapshot: %w", err)
	}
	shipDate, err := parseOptionalTime(s.ShipDate)
	if err != nil {
		return nil, fmt.Errorf("invalid ship_date in snapshot: %w", err)
	}

	b := &domain.Batch{
		ID:            s.ID,
		BatchKey:      s.BatchKey,
		UserID:        s.UserID,
		Status:        domain.BatchStatus(s.Status),
		ShipDate:      shipDate,
		LabelLayout:   s.LabelLayout,
		LabelFormat:   s.LabelFormat,
		DisplayScheme: s.DisplayScheme,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
		Shipments:     make([]domain.BatchShipment, 0, len(s.Shipments)),
		Rates:         make([]domain.BatchRate, 0, len(s.Rates)),
		Errors:        make([]domain.BatchError, 0, len(s.Errors)),
	}

	for _, item := range s.Shipments {
		createdAt, err := parseTime(item.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid shipment created_at in snapshot: %w", err)
		}
		b.Shipments = append(b.Shipments, domain.BatchShipment{
			ID:             item.ID,
			BatchID:        item.BatchID,
			ShipmentID:     item.ShipmentID,
			TrackingNumber: item.TrackingNumber,
			Carrier:        item.Carrier,
			ServiceCode:    item.ServiceCode,
			LabelData:      item.LabelData,
			CreatedAt:      createdAt,
		})
	}
	for _, item := range s.Rates {
		createdAt, err := parseTime(item.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid rate created_at in snapshot: %w", err)
		}
		b.Rates = append(b.Rates, domain.BatchRate{
			ID:          item.ID,
			BatchID:     item.BatchID,
			RateID:      item.RateID,
			Carrier:     item.Carrier,
			ServiceType: item.ServiceType,
			Amount:      item.Amount,
			Currency:    item.Currency,
			CreatedAt:   createdAt,
		})
	}
	for _, item := range s.Errors {
		createdAt, err := parseTime(item.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid error created_at in snapshot: %w", err)
		}
		b.Errors = append(b.Errors, domain.BatchError{
			ID:           item.ID,
			BatchID:      item.BatchID,
			ErrorCode:    item.ErrorCode,
			ErrorMessage: item.ErrorMessage,
			ErrorType:    item.ErrorType,
			Source:       item.Source,
			CreatedAt:    createdAt,
		})
	}

	return b, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := formatTime(*t)
	return &formatted
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}

func parseOptionalTime(value *string) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}
	parsed, err := parseTime(*value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
