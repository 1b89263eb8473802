package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/kursadbilgin/gcm-relay/internal/domain"
	"github.com/kursadbilgin/gcm-relay/internal/observability"
	"github.com/kursadbilgin/gcm-relay/internal/transport"
	"go.uber.org/zap"
)

const testDeliveryID = "0b8e2a58-4a57-4f7d-9f4c-3f9c8a1d2e77"

func TestDeliveryRoutes_CreateDelivery(t *testing.T) {
	t.Parallel()

	var gotRecipients []string
	var gotCorrelationID string
	svc := &stubDeliveryService{
		enqueueFn: func(ctx context.Context, message *domain.Message) (*domain.Delivery, error) {
			gotRecipients = message.Recipients()
			gotCorrelationID, _ = observability.CorrelationIDFromContext(ctx)

			delivery, err := domain.NewDelivery(testDeliveryID, gotCorrelationID, message)
			if err != nil {
				return nil, err
			}
			delivery.Status = domain.DeliveryStatusQueued
			return delivery, nil
		},
	}
	app := newDeliveryTestApp(t, svc)

	body := `{"registration_ids": ["tok-1", "tok-2"], "data": {"score": "5x1"}}`
	req := newJSONRequest(http.MethodPost, "/v1/deliveries", body)
	req.Header.Set(observability.CorrelationIDHeader, "campaign-42")

	resp, respBody := doRequest(t, app, req)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(respBody))
	}

	if diff := cmp.Diff([]string{"tok-1", "tok-2"}, gotRecipients); diff != "" {
		t.Fatalf("recipients mismatch (-want +got):\n%s", diff)
	}
	if gotCorrelationID != "campaign-42" {
		t.Fatalf("correlation id = %q, want campaign-42", gotCorrelationID)
	}

	var got struct {
		ID            string         `json:"id"`
		CorrelationID string         `json:"correlationId"`
		Status        string         `json:"status"`
		Request       map[string]any `json:"request"`
		Report        map[string]any `json:"report"`
	}
	if err := json.Unmarshal(respBody, &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.ID != testDeliveryID || got.Status != "QUEUED" || got.CorrelationID != "campaign-42" {
		t.Fatalf("response = %+v, want queued delivery %s", got, testDeliveryID)
	}
	wantRequest := map[string]any{
		"registration_ids": []any{"tok-1", "tok-2"},
		"data":             map[string]any{"score": "5x1"},
	}
	if diff := cmp.Diff(wantRequest, got.Request); diff != "" {
		t.Fatalf("request mismatch (-want +got):\n%s", diff)
	}
	if got.Report != nil {
		t.Fatalf("report = %v, want omitted", got.Report)
	}
}

func TestDeliveryRoutes_CreateDeliveryRejectsInvalidMessage(t *testing.T) {
	t.Parallel()

	svc := &stubDeliveryService{
		enqueueFn: func(ctx context.Context, message *domain.Message) (*domain.Delivery, error) {
			t.Error("Enqueue should not be called for an invalid message")
			return nil, nil
		},
	}
	app := newDeliveryTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/deliveries", `{"to": "tok-1", "registration_ids": ["tok-2"]}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", resp.StatusCode, string(body))
	}
}

func TestDeliveryRoutes_CreateDeliveryPublishFailure(t *testing.T) {
	t.Parallel()

	svc := &stubDeliveryService{
		enqueueFn: func(ctx context.Context, message *domain.Message) (*domain.Delivery, error) {
			return nil, errors.New("failed to publish delivery: channel closed")
		},
	}
	app := newDeliveryTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/deliveries", `{"to": "/topics/news"}`)
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500, body=%s", resp.StatusCode, string(body))
	}
	if string(body) != `{"error":"internal server error"}` {
		t.Fatalf("body = %s, want generic error", string(body))
	}
}

func TestDeliveryRoutes_GetDelivery(t *testing.T) {
	t.Parallel()

	reason := "gcm error: status 401"
	completedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		id         string
		getFn      func(ctx context.Context, id string) (*domain.Delivery, error)
		wantStatus int
		wantBody   map[string]any
	}{
		{
			name: "completed delivery",
			id:   testDeliveryID,
			getFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
				return &domain.Delivery{
					ID:        id,
					Status:    domain.DeliveryStatusCompleted,
					Request:   json.RawMessage(`{"to":"/topics/news","data":null}`),
					Report:    json.RawMessage(`{"messageId":"m-1","attempts":1}`),
					Attempts:  1,
					CreatedAt: completedAt.Add(-time.Second),
					UpdatedAt: completedAt,
				}, nil
			},
			wantStatus: fiber.StatusOK,
			wantBody: map[string]any{
				"id":        testDeliveryID,
				"status":    "COMPLETED",
				"request":   map[string]any{"to": "/topics/news", "data": nil},
				"report":    map[string]any{"messageId": "m-1", "attempts": float64(1)},
				"attempts":  float64(1),
				"createdAt": "2026-03-01T11:59:59Z",
				"updatedAt": "2026-03-01T12:00:00Z",
			},
		},
		{
			name: "failed delivery",
			id:   testDeliveryID,
			getFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
				return &domain.Delivery{
					ID:        id,
					Status:    domain.DeliveryStatusFailed,
					Request:   json.RawMessage(`{"to":"/topics/news","data":null}`),
					Error:     &reason,
					CreatedAt: completedAt,
					UpdatedAt: completedAt,
				}, nil
			},
			wantStatus: fiber.StatusOK,
			wantBody: map[string]any{
				"id":        testDeliveryID,
				"status":    "FAILED",
				"request":   map[string]any{"to": "/topics/news", "data": nil},
				"error":     reason,
				"attempts":  float64(0),
				"createdAt": "2026-03-01T12:00:00Z",
				"updatedAt": "2026-03-01T12:00:00Z",
			},
		},
		{
			name: "unknown delivery",
			id:   "missing",
			getFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
				return nil, domain.ErrNotFound
			},
			wantStatus: fiber.StatusNotFound,
			wantBody:   map[string]any{"error": "not found"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var gotID string
			svc := &stubDeliveryService{
				getByIDFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
					gotID = id
					return tt.getFn(ctx, id)
				},
			}
			app := newDeliveryTestApp(t, svc)

			resp, body := performRequest(t, app, http.MethodGet, "/v1/deliveries/"+tt.id, "")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.wantStatus, string(body))
			}
			if gotID != tt.id {
				t.Fatalf("GetByID() id = %q, want %q", gotID, tt.id)
			}

			var got map[string]any
			if err := json.Unmarshal(body, &got); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if diff := cmp.Diff(tt.wantBody, got); diff != "" {
				t.Fatalf("body mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNewDeliveryHandlerRequiresService(t *testing.T) {
	t.Parallel()

	if _, err := NewDeliveryHandler(nil, zap.NewNop()); err == nil {
		t.Fatal("expected error when delivery service is nil")
	}
}

type stubDeliveryService struct {
	enqueueFn func(ctx context.Context, message *domain.Message) (*domain.Delivery, error)
	getByIDFn func(ctx context.Context, id string) (*domain.Delivery, error)
}

func (s *stubDeliveryService) Enqueue(ctx context.Context, message *domain.Message) (*domain.Delivery, error) {
	if s.enqueueFn != nil {
		return s.enqueueFn(ctx, message)
	}
	return nil, errors.New("not implemented")
}

func (s *stubDeliveryService) GetByID(ctx context.Context, id string) (*domain.Delivery, error) {
	if s.getByIDFn != nil {
		return s.getByIDFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func newDeliveryTestApp(t *testing.T, svc DeliveryService) *fiber.App {
	t.Helper()

	app := fiber.New(transport.AppConfig(zap.NewNop()))
	app.Use(CorrelationID())

	if err := RegisterDeliveryRoutes(app, svc, zap.NewNop()); err != nil {
		t.Fatalf("RegisterDeliveryRoutes() error = %v", err)
	}

	return app
}
