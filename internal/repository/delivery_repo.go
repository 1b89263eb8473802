package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/gcm-relay/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeliveryRepository interface {
	Create(ctx context.Context, d *domain.Delivery) error
	GetByID(ctx context.Context, id string) (*domain.Delivery, error)
	TransitionStatus(ctx context.Context, id string, from domain.DeliveryStatus, to domain.DeliveryStatus) (bool, error)
	LockForProcessing(ctx context.Context, id string) (*domain.Delivery, error)
	Complete(ctx context.Context, id string, report []byte, attempts int) error
	Fail(ctx context.Context, id string, reason string, attempts int) error
	GetStale(ctx context.Context, status domain.DeliveryStatus, updatedBefore time.Time, limit int) ([]domain.Delivery, error)
}

var _ DeliveryRepository = (*GormDeliveryRepo)(nil)

type GormDeliveryRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db}
}

func (r *GormDeliveryRepo) Create(ctx context.Context, d *domain.Delivery) error {
	model := deliveryModelFromDomain(d)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if d != nil {
		*d = *deliveryModelToDomain(model)
	}
	return nil
}

func (r *GormDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.Delivery, error) {
	var model DeliveryModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

// TransitionStatus moves the delivery to status to only while it is still in
// status from. It reports false when the row was missing or had already moved
// on, e.g. a worker locked it first.
func (r *GormDeliveryRepo) TransitionStatus(
	ctx context.Context,
	id string,
	from domain.DeliveryStatus,
	to domain.DeliveryStatus,
) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// LockForProcessing moves an ACCEPTED or QUEUED delivery to PROCESSING and
// returns it. It returns nil, nil when another worker holds the delivery or
// it is already finished.
func (r *GormDeliveryRepo) LockForProcessing(ctx context.Context, id string) (*domain.Delivery, error) {
	var locked *domain.Delivery

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model DeliveryModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		switch model.Status {
		case domain.DeliveryStatusAccepted, domain.DeliveryStatusQueued:
		default:
			return nil
		}

		if err := tx.Model(&model).Update("status", domain.DeliveryStatusProcessing).Error; err != nil {
			return err
		}
		model.Status = domain.DeliveryStatusProcessing
		locked = deliveryModelToDomain(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return locked, nil
}

func (r *GormDeliveryRepo) Complete(ctx context.Context, id string, report []byte, attempts int) error {
	return r.finish(ctx, id, map[string]any{
		"status":   domain.DeliveryStatusCompleted,
		"report":   report,
		"attempts": attempts,
		"error":    nil,
	})
}

func (r *GormDeliveryRepo) Fail(ctx context.Context, id string, reason string, attempts int) error {
	return r.finish(ctx, id, map[string]any{
		"status":   domain.DeliveryStatusFailed,
		"error":    reason,
		"attempts": attempts,
	})
}

// GetStale returns deliveries left in status since before updatedBefore,
// oldest first.
func (r *GormDeliveryRepo) GetStale(
	ctx context.Context,
	status domain.DeliveryStatus,
	updatedBefore time.Time,
	limit int,
) ([]domain.Delivery, error) {
	var models []DeliveryModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	deliveries := make([]domain.Delivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *deliveryModelToDomain(&models[i]))
	}

	return deliveries, nil
}

func (r *GormDeliveryRepo) finish(ctx context.Context, id string, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
