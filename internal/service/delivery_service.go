package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/gcm-relay/internal/domain"
	"github.com/kursadbilgin/gcm-relay/internal/observability"
	"github.com/kursadbilgin/gcm-relay/internal/queue"
	"github.com/kursadbilgin/gcm-relay/internal/repository"
	"go.uber.org/zap"
)

// DeliveryService accepts messages for asynchronous sending by the worker.
type DeliveryService struct {
	deliveries repository.DeliveryRepository
	publisher  queue.Publisher
	logger     *zap.Logger
	newID      func() string
}

func NewDeliveryService(
	deliveries repository.DeliveryRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*DeliveryService, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryService{
		deliveries: deliveries,
		publisher:  publisher,
		logger:     logger,
		newID:      uuid.NewString,
	}, nil
}

// Enqueue persists message as a new delivery and publishes it to the send
// queue. A delivery whose publish fails is marked FAILED.
func (s *DeliveryService) Enqueue(ctx context.Context, message *domain.Message) (*domain.Delivery, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	delivery, err := domain.NewDelivery(s.newID(), correlationID, message)
	if err != nil {
		return nil, err
	}

	if err := s.deliveries.Create(ctx, delivery); err != nil {
		return nil, fmt.Errorf("failed to create delivery: %w", err)
	}

	logger := observability.WithContextLogger(s.logger, ctx)
	msg := queue.DeliveryMessage{
		DeliveryID:    delivery.ID,
		CorrelationID: delivery.CorrelationID,
	}
	if err := s.publisher.Publish(ctx, queue.SendQueueName, msg); err != nil {
		logger.Error("failed to publish delivery",
			zap.String("deliveryId", delivery.ID),
			zap.Error(err),
		)
		if failErr := s.deliveries.Fail(ctx, delivery.ID, err.Error(), 0); failErr != nil {
			logger.Error("failed to mark delivery as failed after publish error",
				zap.String("deliveryId", delivery.ID),
				zap.Error(failErr),
			)
			return nil, fmt.Errorf("failed to publish delivery: %w (failed to mark as failed: %v)", err, failErr)
		}
		delivery.Status = domain.DeliveryStatusFailed
		return nil, fmt.Errorf("failed to publish delivery: %w", err)
	}

	moved, err := s.deliveries.TransitionStatus(ctx, delivery.ID, domain.DeliveryStatusAccepted, domain.DeliveryStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("failed to update delivery status to queued: %w", err)
	}
	if !moved {
		// A worker took the delivery between the publish confirm and now.
		logger.Debug("delivery picked up before it was marked queued", zap.String("deliveryId", delivery.ID))
		if current, err := s.deliveries.GetByID(ctx, delivery.ID); err == nil {
			delivery = current
		}
		return delivery, nil
	}
	delivery.Status = domain.DeliveryStatusQueued

	logger.Info("delivery queued",
		zap.String("deliveryId", delivery.ID),
		zap.Int("recipients", len(message.Recipients())),
	)

	return delivery, nil
}

func (s *DeliveryService) GetByID(ctx context.Context, id string) (*domain.Delivery, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: delivery id is required", domain.ErrValidation)
	}
	if _, err := uuid.Parse(trimmed); err != nil {
		return nil, domain.ErrNotFound
	}
	return s.deliveries.GetByID(ctx, trimmed)
}
