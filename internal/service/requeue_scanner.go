package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/gcm-relay/internal/domain"
	"github.com/kursadbilgin/gcm-relay/internal/queue"
	"github.com/kursadbilgin/gcm-relay/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRequeueScanInterval = 30 * time.Second
	defaultRequeueStaleAfter   = time.Minute
	defaultRequeueScanLimit    = 100
)

// RequeueScanner republishes deliveries that were accepted but never reached
// the queue, e.g. when the API stopped between persisting and publishing.
type RequeueScanner struct {
	deliveries repository.DeliveryRepository
	publisher  queue.Publisher
	logger     *zap.Logger
	interval   time.Duration
	staleAfter time.Duration
	limit      int
	now        func() time.Time
}

func NewRequeueScanner(
	deliveries repository.DeliveryRepository,
	publisher queue.Publisher,
	interval time.Duration,
	staleAfter time.Duration,
	limit int,
	logger *zap.Logger,
) (*RequeueScanner, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultRequeueScanInterval
	}
	if staleAfter <= 0 {
		staleAfter = defaultRequeueStaleAfter
	}
	if limit <= 0 {
		limit = defaultRequeueScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RequeueScanner{
		deliveries: deliveries,
		publisher:  publisher,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
		limit:      limit,
		now:        time.Now,
	}, nil
}

func (s *RequeueScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.scanStale(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("requeue scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanStale(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("requeue scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *RequeueScanner) scanStale(ctx context.Context) error {
	stale, err := s.deliveries.GetStale(ctx, domain.DeliveryStatusAccepted, s.now().Add(-s.staleAfter), s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch stale deliveries: %w", err)
	}

	for i := range stale {
		delivery := stale[i]
		msg := queue.DeliveryMessage{
			DeliveryID:    delivery.ID,
			CorrelationID: delivery.CorrelationID,
		}

		if err := s.publisher.Publish(ctx, queue.SendQueueName, msg); err != nil {
			s.logger.Error("failed to requeue stale delivery",
				zap.String("deliveryId", delivery.ID),
				zap.Error(err),
			)
			continue
		}

		moved, err := s.deliveries.TransitionStatus(ctx, delivery.ID, domain.DeliveryStatusAccepted, domain.DeliveryStatusQueued)
		if err != nil {
			s.logger.Error("failed to mark requeued delivery as queued",
				zap.String("deliveryId", delivery.ID),
				zap.Error(err),
			)
			continue
		}
		if !moved {
			s.logger.Debug("requeued delivery already picked up", zap.String("deliveryId", delivery.ID))
		}
	}

	return nil
}
