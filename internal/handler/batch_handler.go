package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shipbatch/shipbatch/internal/auth"
	"github.com/shipbatch/shipbatch/internal/domain"
)

const (
	defaultPage     = 1
	defaultPageSize = 25
	maxPageSize     = 100

	defaultLabelLayout   = "4x6"
	defaultLabelFormat   = "pdf"
	defaultDisplayScheme = "label"
)

type BatchService interface {
	AddItems(ctx context.Context, batchKey string, ownerID int64, shipmentIDs, rateIDs []string) (*domain.Batch, error)
	GetByKey(ctx context.Context, batchKey string, callerID int64) (*domain.Batch, error)
	ProcessLabels(ctx context.Context, batchKey string, callerID int64, opts domain.LabelOptions) error
	RemoveItems(ctx context.Context, batchKey string, callerID int64, shipmentIDs, rateIDs []string) error
	Delete(ctx context.Context, batchKey string, callerID int64) error
	GetErrors(ctx context.Context, batchKey string, callerID int64, page, pageSize int) ([]domain.BatchError, bool, error)
}

type BatchHandler struct {
	service BatchService
}

func NewBatchHandler(service BatchService) (*BatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	return &BatchHandler{service: service}, nil
}

// RegisterBatchRoutes mounts the batch endpoints on router, which is expected
// to already carry the authentication middleware.
func RegisterBatchRoutes(router fiber.Router, service BatchService) error {
	h, err := NewBatchHandler(service)
	if err != nil {
		return err
	}

	batches := router.Group("/batches")
	batches.Post("/:batchKey/add", h.AddItems)
	batches.Get("/:batchKey/errors", h.GetErrors)
	batches.Post("/:batchKey/process/labels", h.ProcessLabels)
	batches.Post("/:batchKey/remove", h.RemoveItems)
	batches.Get("/:batchKey", h.GetBatch)
	batches.Delete("/:batchKey", h.DeleteBatch)

	return nil
}

type batchItemsRequest struct {
	ShipmentIDs []string `json:"shipment_ids"`
	RateIDs     []string `json:"rate_ids"`
}

type processLabelsRequest struct {
	ShipDate      *time.Time `json:"ship_date"`
	LabelLayout   *string    `json:"label_layout"`
	LabelFormat   *string    `json:"label_format"`
	DisplayScheme *string    `json:"display_scheme"`
}

type batchResponse struct {
	ID            int64              `json:"id"`
	BatchID       string             `json:"batch_id"`
	UserID        int64              `json:"user_id"`
	Status        string             `json:"status"`
	ShipDate      *time.Time         `json:"ship_date"`
	LabelLayout   *string            `json:"label_layout"`
	LabelFormat   *string            `json:"label_format"`
	DisplayScheme *string            `json:"display_scheme"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	Shipments     []shipmentResponse `json:"shipments"`
	Rates         []rateResponse     `json:"rates"`
	Errors        []errorResponse    `json:"errors"`
}

type shipmentResponse struct {
	ID             int64           `json:"id"`
	BatchID        int64           `json:"batch_id"`
	ShipmentID     string          `json:"shipment_id"`
	TrackingNumber *string         `json:"tracking_number"`
	Carrier        *string         `json:"carrier"`
	ServiceCode    *string         `json:"service_code"`
	LabelData      json.RawMessage `json:"label_data"`
	CreatedAt      time.Time       `json:"created_at"`
}

type rateResponse struct {
	ID          int64     `json:"id"`
	BatchID     int64     `json:"batch_id"`
	RateID      string    `json:"rate_id"`
	Carrier     *string   `json:"carrier"`
	ServiceType *string   `json:"service_type"`
	Amount      *float64  `json:"amount"`
	Currency    *string   `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
}

type errorResponse struct {
	ID           int64     `json:"id"`
	BatchID      int64     `json:"batch_id"`
	ErrorCode    *string   `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
	ErrorType    *string   `json:"error_type"`
	Source       *string   `json:"source"`
	CreatedAt    time.Time `json:"created_at"`
}

type batchErrorsResponse struct {
	Errors []errorResponse   `json:"errors"`
	Links  map[string]string `json:"links"`
}

func (h *BatchHandler) AddItems(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}

	var req batchItemsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	batchKey := strings.TrimSpace(c.Params("batchKey"))
	if _, err := h.service.AddItems(c.Context(), batchKey, principal.UserID, req.ShipmentIDs, req.RateIDs); err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *BatchHandler) GetBatch(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}

	batchKey := strings.TrimSpace(c.Params("batchKey"))
	batch, err := h.service.GetByKey(c.Context(), batchKey, principal.UserID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) GetErrors(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}

	page := c.QueryInt("page", defaultPage)
	pageSize := c.QueryInt("pagesize", defaultPageSize)
	if page < 1 {
		return toHTTPError(fmt.Errorf("%w: page must be >= 1", domain.ErrValidation))
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return toHTTPError(fmt.Errorf("%w: pagesize must be between 1 and %d", domain.ErrValidation, maxPageSize))
	}

	batchKey := strings.TrimSpace(c.Params("batchKey"))
	batchErrors, hasMore, err := h.service.GetErrors(c.Context(), batchKey, principal.UserID, page, pageSize)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]errorResponse, 0, len(batchErrors))
	for i := range batchErrors {
		items = append(items, toErrorResponse(&batchErrors[i]))
	}

	return c.Status(fiber.StatusOK).JSON(batchErrorsResponse{
		Errors: items,
		Links:  errorPageLinks(batchKey, page, pageSize, hasMore),
	})
}

func (h *BatchHandler) ProcessLabels(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}

	var req processLabelsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.ShipDate == nil {
		return toHTTPError(fmt.Errorf("%w: ship_date is required", domain.ErrValidation))
	}

	opts := domain.LabelOptions{
		ShipDate:      req.ShipDate,
		LabelLayout:   stringOrDefault(req.LabelLayout, defaultLabelLayout),
		LabelFormat:   stringOrDefault(req.LabelFormat, defaultLabelFormat),
		DisplayScheme: stringOrDefault(req.DisplayScheme, defaultDisplayScheme),
	}

	batchKey := strings.TrimSpace(c.Params("batchKey"))
	if err := h.service.ProcessLabels(c.Context(), batchKey, principal.UserID, opts); err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *BatchHandler) RemoveItems(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}

	var req batchItemsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	batchKey := strings.TrimSpace(c.Params("batchKey"))
	if err := h.service.RemoveItems(c.Context(), batchKey, principal.UserID, req.ShipmentIDs, req.RateIDs); err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *BatchHandler) DeleteBatch(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}

	batchKey := strings.TrimSpace(c.Params("batchKey"))
	if err := h.service.Delete(c.Context(), batchKey, principal.UserID); err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// errorPageLinks mirrors the historical link shape: first is always page 1,
// last points at the current page, prev appears past page 1, and next appears
// exactly when more rows exist.
func errorPageLinks(batchKey string, page, pageSize int, hasMore bool) map[string]string {
	base := fmt.Sprintf("/v1/batches/%s/errors", url.PathEscape(batchKey))

	links := map[string]string{
		"first": fmt.Sprintf("%s?page=1&pagesize=%d", base, pageSize),
		"last":  fmt.Sprintf("%s?page=%d&pagesize=%d", base, page, pageSize),
	}
	if page > 1 {
		links["prev"] = fmt.Sprintf("%s?page=%d&pagesize=%d", base, page-1, pageSize)
	}
	if hasMore {
		links["next"] = fmt.Sprintf("%s?page=%d&pagesize=%d", base, page+1, pageSize)
	}

	return links
}

func stringOrDefault(v *string, fallback string) *string {
	if v != nil && strings.TrimSpace(*v) != "" {
		return v
	}
	d := fallback
	return &d
}

func requirePrincipal(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromCtx(c)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "missing bearer credential")
	}
	return principal, nil
}

func toBatchResponse(b *domain.Batch) batchResponse {
	if b == nil {
		return batchResponse{}
	}

	resp := batchResponse{
		ID:            b.ID,
		BatchID:       b.BatchKey,
		UserID:        b.UserID,
		Status:        b.Status.String(),
		ShipDate:      b.ShipDate,
		LabelLayout:   b.LabelLayout,
		LabelFormat:   b.LabelFormat,
		DisplayScheme: b.DisplayScheme,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
		Shipments:     make([]shipmentResponse, 0, len(b.Shipments)),
		Rates:         make([]rateResponse, 0, len(b.Rates)),
		Errors:        make([]errorResponse, 0, len(b.Errors)),
	}

	for i := range b.Shipments {
		s := &b.Shipments[i]
		resp.Shipments = append(resp.Shipments, shipmentResponse{
			ID:             s.ID,
			BatchID:        s.BatchID,
			ShipmentID:     s.ShipmentID,
			TrackingNumber: s.TrackingNumber,
			Carrier:        s.Carrier,
			ServiceCode:    s.ServiceCode,
			LabelData:      s.LabelData,
			CreatedAt:      s.CreatedAt,
		})
	}
	for i := range b.Rates {
		r := &b.Rates[i]
		resp.Rates = append(resp.Rates, rateResponse{
			ID:          r.ID,
			BatchID:     r.BatchID,
			RateID:      r.RateID,
			Carrier:     r.Carrier,
			ServiceType: r.ServiceType,
			Amount:      r.Amount,
			Currency:    r.Currency,
			CreatedAt:   r.CreatedAt,
		})
	}
	for i := range b.Errors {
		resp.Errors = append(resp.Errors, toErrorResponse(&b.Errors[i]))
	}

	return resp
}

func toErrorResponse(e *domain.BatchError) errorResponse {
	if e == nil {
		return errorResponse{}
	}

	return errorResponse{
		ID:           e.ID,
		BatchID:      e.BatchID,
		ErrorCode:    e.ErrorCode,
		ErrorMessage: e.ErrorMessage,
		ErrorType:    e.ErrorType,
		Source:       e.Source,
		CreatedAt:    e.CreatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
