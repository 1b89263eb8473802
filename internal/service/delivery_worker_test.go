package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kursadbilgin/gcm-relay/internal/domain"
	"github.com/kursadbilgin/gcm-relay/internal/observability"
	"github.com/kursadbilgin/gcm-relay/internal/provider"
	"github.com/kursadbilgin/gcm-relay/internal/queue"
	"go.uber.org/zap"
)

type fakeDispatcher struct {
	dispatchFn func(ctx context.Context, message *domain.Message) (*Report, error)
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, message *domain.Message) (*Report, error) {
	return f.dispatchFn(ctx, message)
}

func queuedDelivery(t *testing.T, params domain.MessageParams) *domain.Delivery {
	t.Helper()

	delivery, err := domain.NewDelivery(testDeliveryID, "campaign-9", mustMessage(t, params))
	if err != nil {
		t.Fatalf("NewDelivery() error = %v", err)
	}
	delivery.Status = domain.DeliveryStatusProcessing
	return delivery
}

func TestDeliveryWorkerProcessMessageSuccess(t *testing.T) {
	t.Parallel()

	var storedReport []byte
	var storedAttempts int
	repo := &fakeDeliveryRepo{
		lockForProcessingFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
			return queuedDelivery(t, domain.MessageParams{RegistrationIDs: []string{"tok-1", "tok-2"}}), nil
		},
		completeFn: func(ctx context.Context, id string, report []byte, attempts int) error {
			storedReport, storedAttempts = report, attempts
			return nil
		},
		failFn: func(ctx context.Context, id string, reason string, attempts int) error {
			t.Fatalf("Fail() should not be called, reason=%s", reason)
			return nil
		},
	}

	var gotRecipients []string
	var gotCorrelationID string
	dispatcher := &fakeDispatcher{
		dispatchFn: func(ctx context.Context, message *domain.Message) (*Report, error) {
			gotRecipients = message.Recipients()
			gotCorrelationID, _ = observability.CorrelationIDFromContext(ctx)

			report := newReport()
			report.Success["tok-1"] = "0:1"
			report.Unavailable = []string{"tok-2"}
			report.Attempts = 3
			return report, nil
		},
	}

	metrics := observability.NewMetrics()
	worker := newTestDeliveryWorker(t, repo, &fakeConsumer{}, dispatcher)
	worker.SetMetrics(metrics)

	err := worker.processMessage(context.Background(), queue.DeliveryMessage{
		DeliveryID:    testDeliveryID,
		CorrelationID: "campaign-9",
	})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	if diff := cmp.Diff([]string{"tok-1", "tok-2"}, gotRecipients); diff != "" {
		t.Fatalf("dispatched recipients mismatch (-want +got):\n%s", diff)
	}
	if gotCorrelationID != "campaign-9" {
		t.Fatalf("correlation id = %q, want campaign-9", gotCorrelationID)
	}
	if storedAttempts != 3 {
		t.Fatalf("attempts = %d, want 3", storedAttempts)
	}

	var report Report
	if err := json.Unmarshal(storedReport, &report); err != nil {
		t.Fatalf("stored report is not JSON: %v", err)
	}
	if diff := cmp.Diff([]string{"tok-2"}, report.Unavailable); diff != "" {
		t.Fatalf("stored unavailable mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(scrapeMetrics(t, metrics), `gcm_relay_deliveries_total{status="completed"} 1`) {
		t.Fatal("completed delivery counter not incremented")
	}
}

func TestDeliveryWorkerProcessMessageSkips(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		lockFn func(ctx context.Context, id string) (*domain.Delivery, error)
	}{
		{
			name: "unknown delivery",
			lockFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
				return nil, domain.ErrNotFound
			},
		},
		{
			name: "already processed",
			lockFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
				return nil, nil
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := &fakeDeliveryRepo{lockForProcessingFn: tt.lockFn}
			dispatcher := &fakeDispatcher{
				dispatchFn: func(ctx context.Context, message *domain.Message) (*Report, error) {
					t.Error("Dispatch should not be called")
					return nil, nil
				},
			}
			worker := newTestDeliveryWorker(t, repo, &fakeConsumer{}, dispatcher)

			if err := worker.processMessage(context.Background(), queue.DeliveryMessage{DeliveryID: testDeliveryID}); err != nil {
				t.Fatalf("processMessage() error = %v, want nil", err)
			}
		})
	}
}

func TestDeliveryWorkerProcessMessageLockError(t *testing.T) {
	t.Parallel()

	repo := &fakeDeliveryRepo{
		lockForProcessingFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
			return nil, errors.New("connection reset")
		},
	}
	worker := newTestDeliveryWorker(t, repo, &fakeConsumer{}, &fakeDispatcher{})

	if err := worker.processMessage(context.Background(), queue.DeliveryMessage{DeliveryID: testDeliveryID}); err == nil {
		t.Fatal("processMessage() error = nil, want lock error so the message is requeued")
	}
}

func TestDeliveryWorkerProcessMessageFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		delivery   func(t *testing.T) *domain.Delivery
		dispatchFn   func(ctx context.Context, message *domain.Message) (*Report, error)
		wantReason   string
		wantAttempts int
	}{
		{
			name: "provider rejects the request",
			delivery: func(t *testing.T) *domain.Delivery {
				return queuedDelivery(t, domain.MessageParams{To: "/topics/news"})
			},
			dispatchFn: func(ctx context.Context, message *domain.Message) (*Report, error) {
				return nil, &provider.ServiceError{StatusCode: http.StatusUnauthorized, Message: "unauthorized"}
			},
			wantReason: "unauthorized",
		},
		{
			name: "retries exhausted on transport errors",
			delivery: func(t *testing.T) *domain.Delivery {
				return queuedDelivery(t, domain.MessageParams{RegistrationIDs: []string{"a", "b"}})
			},
			dispatchFn: func(ctx context.Context, message *domain.Message) (*Report, error) {
				report := newReport()
				report.Attempts = 3
				return report, errors.New("gcm send failed after 3 attempts: i/o timeout")
			},
			wantReason:   "i/o timeout",
			wantAttempts: 3,
		},
		{
			name: "stored request is corrupt",
			delivery: func(t *testing.T) *domain.Delivery {
				return &domain.Delivery{ID: testDeliveryID, Status: domain.DeliveryStatusProcessing, Request: json.RawMessage(`{"data":{}}`)}
			},
			wantReason: "missing target",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var reason string
			var attempts int
			repo := &fakeDeliveryRepo{
				lockForProcessingFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
					return tt.delivery(t), nil
				},
				failFn: func(ctx context.Context, id string, r string, n int) error {
					reason, attempts = r, n
					return nil
				},
				completeFn: func(ctx context.Context, id string, report []byte, attempts int) error {
					t.Error("Complete() should not be called")
					return nil
				},
			}
			dispatcher := &fakeDispatcher{dispatchFn: tt.dispatchFn}
			metrics := observability.NewMetrics()
			worker := newTestDeliveryWorker(t, repo, &fakeConsumer{}, dispatcher)
			worker.SetMetrics(metrics)

			if err := worker.processMessage(context.Background(), queue.DeliveryMessage{DeliveryID: testDeliveryID}); err != nil {
				t.Fatalf("processMessage() error = %v, want nil so the message is acked", err)
			}
			if !strings.Contains(reason, tt.wantReason) {
				t.Fatalf("fail reason = %q, want it to contain %q", reason, tt.wantReason)
			}
			if attempts != tt.wantAttempts {
				t.Fatalf("fail attempts = %d, want %d", attempts, tt.wantAttempts)
			}
			if !strings.Contains(scrapeMetrics(t, metrics), `gcm_relay_deliveries_total{status="failed"} 1`) {
				t.Fatal("failed delivery counter not incremented")
			}
		})
	}
}

func TestDeliveryWorkerRequeuesInterruptedDelivery(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	var requeued bool
	repo := &fakeDeliveryRepo{
		lockForProcessingFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
			return queuedDelivery(t, domain.MessageParams{To: "/topics/news"}), nil
		},
		transitionStatusFn: func(ctx context.Context, id string, from, to domain.DeliveryStatus) (bool, error) {
			if ctx.Err() != nil {
				t.Error("status reset must not use the cancelled context")
			}
			requeued = from == domain.DeliveryStatusProcessing && to == domain.DeliveryStatusQueued
			return true, nil
		},
		failFn: func(ctx context.Context, id string, reason string, attempts int) error {
			t.Error("Fail() should not be called for an interrupted delivery")
			return nil
		},
	}
	dispatcher := &fakeDispatcher{
		dispatchFn: func(ctx context.Context, message *domain.Message) (*Report, error) {
			cancel()
			return nil, ctx.Err()
		},
	}
	worker := newTestDeliveryWorker(t, repo, &fakeConsumer{}, dispatcher)

	err := worker.processMessage(ctx, queue.DeliveryMessage{DeliveryID: testDeliveryID})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("processMessage() error = %v, want context.Canceled", err)
	}
	if !requeued {
		t.Fatal("interrupted delivery should be put back to QUEUED")
	}
}

func TestDeliveryWorkerStartRunsConsumers(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	queues := make([]string, 0, 3)
	consumer := &fakeConsumer{
		consumeFn: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
			mu.Lock()
			queues = append(queues, queueName)
			mu.Unlock()
			return nil
		},
	}

	worker, err := NewDeliveryWorker(&fakeDeliveryRepo{}, consumer, &fakeDispatcher{}, 3, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDeliveryWorker() error = %v", err)
	}

	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	want := []string{queue.SendQueueName, queue.SendQueueName, queue.SendQueueName}
	if diff := cmp.Diff(want, queues); diff != "" {
		t.Fatalf("consumed queues mismatch (-want +got):\n%s", diff)
	}
}

func TestNewDeliveryWorkerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewDeliveryWorker(nil, &fakeConsumer{}, &fakeDispatcher{}, 1, nil); err == nil {
		t.Fatal("expected error when delivery repository is nil")
	}
	if _, err := NewDeliveryWorker(&fakeDeliveryRepo{}, nil, &fakeDispatcher{}, 1, nil); err == nil {
		t.Fatal("expected error when consumer is nil")
	}
	if _, err := NewDeliveryWorker(&fakeDeliveryRepo{}, &fakeConsumer{}, nil, 1, nil); err == nil {
		t.Fatal("expected error when dispatcher is nil")
	}
}

func newTestDeliveryWorker(t *testing.T, repo *fakeDeliveryRepo, consumer *fakeConsumer, dispatcher *fakeDispatcher) *DeliveryWorker {
	t.Helper()

	worker, err := NewDeliveryWorker(repo, consumer, dispatcher, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDeliveryWorker() error = %v", err)
	}
	return worker
}
