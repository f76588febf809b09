package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shipbatch/shipbatch/internal/auth"
	"github.com/shipbatch/shipbatch/internal/domain"
	"github.com/shipbatch/shipbatch/internal/transport"
	"go.uber.org/zap"
)

const testJWTSecret = "integration-test-secret"

type stubBatchService struct {
	addItemsFn      func(ctx context.Context, batchKey string, ownerID int64, shipmentIDs, rateIDs []string) (*domain.Batch, error)
	getByKeyFn      func(ctx context.Context, batchKey string, callerID int64) (*domain.Batch, error)
	processLabelsFn func(ctx context.Context, batchKey string, callerID int64, opts domain.LabelOptions) error
	removeItemsFn   func(ctx context.Context, batchKey string, callerID int64, shipmentIDs, rateIDs []string) error
	deleteFn        func(ctx context.Context, batchKey string, callerID int64) error
	getErrorsFn     func(ctx context.Context, batchKey string, callerID int64, page, pageSize int) ([]domain.BatchError, bool, error)
}

func (s *stubBatchService) AddItems(ctx context.Context, batchKey string, ownerID int64, shipmentIDs, rateIDs []string) (*domain.Batch, error) {
	return s.addItemsFn(ctx, batchKey, ownerID, shipmentIDs, rateIDs)
}

func (s *stubBatchService) GetByKey(ctx context.Context, batchKey string, callerID int64) (*domain.Batch, error) {
	return s.getByKeyFn(ctx, batchKey, callerID)
}

func (s *stubBatchService) ProcessLabels(ctx context.Context, batchKey string, callerID int64, opts domain.LabelOptions) error {
	return s.processLabelsFn(ctx, batchKey, callerID, opts)
}

func (s *stubBatchService) RemoveItems(ctx context.Context, batchKey string, callerID int64, shipmentIDs, rateIDs []string) error {
	return s.removeItemsFn(ctx, batchKey, callerID, shipmentIDs, rateIDs)
}

func (s *stubBatchService) Delete(ctx context.Context, batchKey string, callerID int64) error {
	return s.deleteFn(ctx, batchKey, callerID)
}

func (s *stubBatchService) GetErrors(ctx context.Context, batchKey string, callerID int64, page, pageSize int) ([]domain.BatchError, bool, error) {
	return s.getErrorsFn(ctx, batchKey, callerID, page, pageSize)
}

func newBatchTestApp(t *testing.T, svc BatchService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	authenticator, err := auth.NewJWTAuthenticator(testJWTSecret)
	if err != nil {
		t.Fatalf("NewJWTAuthenticator: %v", err)
	}

	v1 := app.Group("/v1", auth.Middleware(authenticator))
	if err := RegisterBatchRoutes(v1, svc); err != nil {
		t.Fatalf("RegisterBatchRoutes: %v", err)
	}

	return app
}

func signToken(t *testing.T, userID string, active *bool) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if active != nil {
		claims["active"] = *active
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func performRequest(t *testing.T, app *fiber.App, method, target, body, token string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error = %v", err)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body error = %v", err)
	}
	resp.Body.Close()
	return resp, payload
}

func TestBatchIntegration_AddThenGet(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	batch := &domain.Batch{
		ID:       1,
		BatchKey: "test-001",
		UserID:   7,
		Status:   domain.BatchStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Shipments: []domain.BatchShipment{
			{ID: 2, BatchID: 1, ShipmentID: "s1", CreatedAt: now},
			{ID: 3, BatchID: 1, ShipmentID: "s2", CreatedAt: now},
		},
		Rates: []domain.BatchRate{
			{ID: 4, BatchID: 1, RateID: "r1", CreatedAt: now},
		},
	}

	svc := &stubBatchService{
		addItemsFn: func(ctx context.Context, batchKey string, ownerID int64, shipmentIDs, rateIDs []string) (*domain.Batch, error) {
			if batchKey != "test-001" {
				t.Errorf("batchKey = %q, want test-001", batchKey)
			}
			if ownerID != 7 {
				t.Errorf("ownerID = %d, want 7", ownerID)
			}
			if len(shipmentIDs) != 2 || shipmentIDs[0] != "s1" || shipmentIDs[1] != "s2" {
				t.Errorf("shipmentIDs = %v", shipmentIDs)
			}
			if len(rateIDs) != 1 || rateIDs[0] != "r1" {
				t.Errorf("rateIDs = %v", rateIDs)
			}
			return batch, nil
		},
		getByKeyFn: func(ctx context.Context, batchKey string, callerID int64) (*domain.Batch, error) {
			return batch, nil
		},
	}

	app := newBatchTestApp(t, svc)
	token := signToken(t, "7", nil)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/batches/test-001/add",
		`{"shipment_ids":["s1","s2"],"rate_ids":["r1"]}`, token)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("status = %d, want 204, body=%s", resp.StatusCode, string(body))
	}

	resp, body = performRequest(t, app, http.MethodGet, "/v1/batches/test-001", "", token)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var got batchResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if got.BatchID != "test-001" {
		t.Errorf("batch_id = %q, want test-001", got.BatchID)
	}
	if got.Status != "pending" {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if len(got.Shipments) != 2 {
		t.Errorf("shipments = %d, want 2", len(got.Shipments))
	}
	if len(got.Rates) != 1 {
		t.Errorf("rates = %d, want 1", len(got.Rates))
	}
	if got.ShipDate != nil {
		t.Errorf("ship_date = %v, want null", got.ShipDate)
	}
}

func TestBatchIntegration_RequiresBearerToken(t *testing.T) {
	t.Parallel()

	svc := &stubBatchService{
		getByKeyFn: func(ctx context.Context, batchKey string, callerID int64) (*domain.Batch, error) {
			t.Fatal("service must not be reached without a credential")
			return nil, nil
		},
	}
	app := newBatchTestApp(t, svc)

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/batches/test-001", "", "")
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches/test-001", "", "not-a-jwt")
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for malformed token", resp.StatusCode)
	}
}

func TestBatchIntegration_InactiveUserForbidden(t *testing.T) {
	t.Parallel()

	svc := &stubBatchService{}
	app := newBatchTestApp(t, svc)

	inactive := false
	token := signToken(t, "7", &inactive)
	resp, _ := performRequest(t, app, http.MethodGet, "/v1/batches/test-001", "", token)
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want 403 for inactive user", resp.StatusCode)
	}
}

func TestBatchIntegration_DomainErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", domain.ErrNotFound, fiber.StatusNotFound},
		{"forbidden", domain.ErrForbidden, fiber.StatusForbidden},
		{"validation", domain.ErrValidation, fiber.StatusBadRequest},
		{"conflict", domain.ErrConflict, fiber.StatusConflict},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc := &stubBatchService{
				getByKeyFn: func(ctx context.Context, batchKey string, callerID int64) (*domain.Batch, error) {
					return nil, tc.err
				},
			}
			app := newBatchTestApp(t, svc)

			resp, _ := performRequest(t, app, http.MethodGet, "/v1/batches/test-001", "", signToken(t, "7", nil))
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestBatchIntegration_ProcessLabels(t *testing.T) {
	t.Parallel()

	var gotOpts domain.LabelOptions
	svc := &stubBatchService{
		processLabelsFn: func(ctx context.Context, batchKey string, callerID int64, opts domain.LabelOptions) error {
			gotOpts = opts
			return nil
		},
	}
	app := newBatchTestApp(t, svc)

	body := `{"ship_date":"2025-06-01T00:00:00Z","label_layout":"4x6","label_format":"pdf"}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/batches/test-001/process/labels", body, signToken(t, "7", nil))
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("status = %d, want 204, body=%s", resp.StatusCode, string(respBody))
	}

	if gotOpts.ShipDate == nil || !gotOpts.ShipDate.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("shipDate = %v", gotOpts.ShipDate)
	}
	if gotOpts.LabelLayout == nil || *gotOpts.LabelLayout != "4x6" {
		t.Errorf("labelLayout = %v", gotOpts.LabelLayout)
	}
	if gotOpts.LabelFormat == nil || *gotOpts.LabelFormat != "pdf" {
		t.Errorf("labelFormat = %v", gotOpts.LabelFormat)
	}
	if gotOpts.DisplayScheme == nil || *gotOpts.DisplayScheme != "label" {
		t.Errorf("displayScheme = %v, want the label default", gotOpts.DisplayScheme)
	}
}

func TestBatchIntegration_ProcessLabelsRequiresShipDate(t *testing.T) {
	t.Parallel()

	svc := &stubBatchService{
		processLabelsFn: func(ctx context.Context, batchKey string, callerID int64, opts domain.LabelOptions) error {
			t.Fatal("service must not be reached without a ship date")
			return nil
		},
	}
	app := newBatchTestApp(t, svc)
	token := signToken(t, "7", nil)

	for _, body := range []string{`{}`, `{"label_layout":"4x6"}`} {
		resp, _ := performRequest(t, app, http.MethodPost, "/v1/batches/test-001/process/labels", body, token)
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestBatchIntegration_ProcessLabelsAppliesDefaults(t *testing.T) {
	t.Parallel()

	var gotOpts domain.LabelOptions
	svc := &stubBatchService{
		processLabelsFn: func(ctx context.Context, batchKey string, callerID int64, opts domain.LabelOptions) error {
			gotOpts = opts
			return nil
		},
	}
	app := newBatchTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/batches/test-001/process/labels",
		`{"ship_date":"2025-06-01T00:00:00Z"}`, signToken(t, "7", nil))
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("status = %d, want 204, body=%s", resp.StatusCode, string(body))
	}

	if gotOpts.LabelLayout == nil || *gotOpts.LabelLayout != "4x6" {
		t.Errorf("labelLayout = %v, want the 4x6 default", gotOpts.LabelLayout)
	}
	if gotOpts.LabelFormat == nil || *gotOpts.LabelFormat != "pdf" {
		t.Errorf("labelFormat = %v, want the pdf default", gotOpts.LabelFormat)
	}
	if gotOpts.DisplayScheme == nil || *gotOpts.DisplayScheme != "label" {
		t.Errorf("displayScheme = %v, want the label default", gotOpts.DisplayScheme)
	}
}

func TestBatchIntegration_RemoveAndDelete(t *testing.T) {
	t.Parallel()

	removed := false
	deleted := false
	svc := &stubBatchService{
		removeItemsFn: func(ctx context.Context, batchKey string, callerID int64, shipmentIDs, rateIDs []string) error {
			removed = true
			if len(shipmentIDs) != 1 || shipmentIDs[0] != "s1" {
				t.Errorf("shipmentIDs = %v", shipmentIDs)
			}
			return nil
		},
		deleteFn: func(ctx context.Context, batchKey string, callerID int64) error {
			deleted = true
			return nil
		},
	}
	app := newBatchTestApp(t, svc)
	token := signToken(t, "7", nil)

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/batches/test-001/remove", `{"shipment_ids":["s1"]}`, token)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("remove status = %d, want 204", resp.StatusCode)
	}
	if !removed {
		t.Error("remove handler did not reach the service")
	}

	resp, _ = performRequest(t, app, http.MethodDelete, "/v1/batches/test-001", "", token)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	if !deleted {
		t.Error("delete handler did not reach the service")
	}
}

func TestBatchIntegration_ErrorPageLinks(t *testing.T) {
	t.Parallel()

	svc := &stubBatchService{
		getErrorsFn: func(ctx context.Context, batchKey string, callerID int64, page, pageSize int) ([]domain.BatchError, bool, error) {
			rows := make([]domain.BatchError, pageSize)
			for i := range rows {
				rows[i] = domain.BatchError{ID: int64((page-1)*pageSize + i + 1), BatchID: 1, ErrorMessage: "carrier timeout"}
			}
			return rows, page < 2, nil
		},
	}
	app := newBatchTestApp(t, svc)
	token := signToken(t, "7", nil)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches/test-001/errors", "", token)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var page1 batchErrorsResponse
	if err := json.Unmarshal(body, &page1); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(page1.Errors) != 25 {
		t.Errorf("errors = %d, want default pagesize 25", len(page1.Errors))
	}
	if page1.Links["first"] != "/v1/batches/test-001/errors?page=1&pagesize=25" {
		t.Errorf("first = %q", page1.Links["first"])
	}
	if page1.Links["next"] != "/v1/batches/test-001/errors?page=2&pagesize=25" {
		t.Errorf("next = %q", page1.Links["next"])
	}
	if _, ok := page1.Links["prev"]; ok {
		t.Error("page 1 must not carry a prev link")
	}

	resp, body = performRequest(t, app, http.MethodGet, "/v1/batches/test-001/errors?page=2&pagesize=25", "", token)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var page2 batchErrorsResponse
	if err := json.Unmarshal(body, &page2); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if page2.Links["prev"] != "/v1/batches/test-001/errors?page=1&pagesize=25" {
		t.Errorf("prev = %q", page2.Links["prev"])
	}
	if page2.Links["last"] != "/v1/batches/test-001/errors?page=2&pagesize=25" {
		t.Errorf("last = %q, want the current page", page2.Links["last"])
	}
	if _, ok := page2.Links["next"]; ok {
		t.Error("exhausted page must not carry a next link")
	}
}

func TestErrorPageLinks_EscapesBatchKey(t *testing.T) {
	t.Parallel()

	links := errorPageLinks("ship me?now&later", 1, 25, false)
	want := "/v1/batches/ship%20me%3Fnow&later/errors?page=1&pagesize=25"
	if links["first"] != want {
		t.Errorf("first = %q, want %q", links["first"], want)
	}
	if _, ok := links["next"]; ok {
		t.Error("no next link expected without more rows")
	}
}

func TestBatchIntegration_ErrorPageValidation(t *testing.T) {
	t.Parallel()

	svc := &stubBatchService{
		getErrorsFn: func(ctx context.Context, batchKey string, callerID int64, page, pageSize int) ([]domain.BatchError, bool, error) {
			t.Fatal("service must not be reached with invalid paging")
			return nil, false, nil
		},
	}
	app := newBatchTestApp(t, svc)
	token := signToken(t, "7", nil)

	for _, target := range []string{
		"/v1/batches/test-001/errors?page=0",
		"/v1/batches/test-001/errors?pagesize=0",
		"/v1/batches/test-001/errors?pagesize=101",
	} {
		resp, _ := performRequest(t, app, http.MethodGet, target, "", token)
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, resp.StatusCode)
		}
	}
}
