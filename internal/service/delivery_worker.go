package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kursadbilgin/gcm-relay/internal/domain"
	"github.com/kursadbilgin/gcm-relay/internal/observability"
	"github.com/kursadbilgin/gcm-relay/internal/queue"
	"github.com/kursadbilgin/gcm-relay/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// Dispatcher sends a message until every recipient has a final outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, message *domain.Message) (*Report, error)
}

var _ Dispatcher = (*DispatchService)(nil)

// DeliveryWorker consumes the send queue and dispatches queued deliveries.
type DeliveryWorker struct {
	deliveries  repository.DeliveryRepository
	consumer    queue.Consumer
	dispatcher  Dispatcher
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewDeliveryWorker(
	deliveries repository.DeliveryRepository,
	consumer queue.Consumer,
	dispatcher Dispatcher,
	concurrency int,
	logger *zap.Logger,
) (*DeliveryWorker, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryWorker{
		deliveries:  deliveries,
		consumer:    consumer,
		dispatcher:  dispatcher,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (w *DeliveryWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start runs the configured number of consumers until ctx is cancelled.
func (w *DeliveryWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.SendQueueName),
			)

			err := w.consumer.Consume(groupCtx, queue.SendQueueName, w.processMessage)
			if err != nil {
				w.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *DeliveryWorker) processMessage(ctx context.Context, msg queue.DeliveryMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	logger := observability.WithContextLogger(w.logger, ctx).With(zap.String("deliveryId", msg.DeliveryID))

	delivery, err := w.deliveries.LockForProcessing(ctx, msg.DeliveryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("delivery not found during lock, skipping")
			return nil
		}
		return fmt.Errorf("failed to lock delivery for processing: %w", err)
	}

	// Nil means another worker holds it or it is finished; ack and skip.
	if delivery == nil {
		return nil
	}

	message, err := delivery.Message()
	if err != nil {
		return w.fail(ctx, logger, delivery.ID, err, 0)
	}

	report, err := w.dispatcher.Dispatch(ctx, message)
	if err != nil {
		if ctx.Err() != nil {
			if _, resetErr := w.deliveries.TransitionStatus(
				context.WithoutCancel(ctx),
				delivery.ID,
				domain.DeliveryStatusProcessing,
				domain.DeliveryStatusQueued,
			); resetErr != nil {
				logger.Error("failed to requeue interrupted delivery", zap.Error(resetErr))
			}
			return fmt.Errorf("delivery interrupted: %w", err)
		}
		attempts := 0
		if report != nil {
			attempts = report.Attempts
		}
		return w.fail(ctx, logger, delivery.ID, err, attempts)
	}

	encoded, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode delivery report: %w", err)
	}
	if err := w.deliveries.Complete(ctx, delivery.ID, encoded, report.Attempts); err != nil {
		return fmt.Errorf("failed to complete delivery: %w", err)
	}
	w.metrics.IncDeliveryFinished(domain.DeliveryStatusCompleted.String())

	logger.Info("delivery completed",
		zap.Int("success", len(report.Success)),
		zap.Int("failure", len(report.Failure)),
		zap.Int("unavailable", len(report.Unavailable)),
		zap.Int("attempts", report.Attempts),
	)
	return nil
}

func (w *DeliveryWorker) fail(ctx context.Context, logger *zap.Logger, id string, cause error, attempts int) error {
	if err := w.deliveries.Fail(ctx, id, cause.Error(), attempts); err != nil {
		return fmt.Errorf("failed to mark delivery as failed: %w", err)
	}
	w.metrics.IncDeliveryFinished(domain.DeliveryStatusFailed.String())

	logger.Warn("delivery failed", zap.Int("attempts", attempts), zap.Error(cause))
	return nil
}
