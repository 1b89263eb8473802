package repository

import (
	"encoding/json"
	"time"

	"github.com/kursadbilgin/gcm-relay/internal/domain"
)

// DeliveryModel is the persistence model for the deliveries table.
type DeliveryModel struct {
	ID            string                `gorm:"type:uuid;primaryKey"`
	CorrelationID string                `gorm:"type:varchar(128);not null"`
	Status        domain.DeliveryStatus `gorm:"type:varchar(20);not null"`
	Request       []byte                `gorm:"type:jsonb;not null"`
	Report        []byte                `gorm:"type:jsonb"`
	Error         *string               `gorm:"type:text"`
	Attempts      int                   `gorm:"not null;default:0"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (DeliveryModel) TableName() string {
	return "deliveries"
}

func deliveryModelFromDomain(d *domain.Delivery) *DeliveryModel {
	if d == nil {
		return nil
	}

	return &DeliveryModel{
		ID:            d.ID,
		CorrelationID: d.CorrelationID,
		Status:        d.Status,
		Request:       []byte(d.Request),
		Report:        []byte(d.Report),
		Error:         d.Error,
		Attempts:      d.Attempts,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func deliveryModelToDomain(m *DeliveryModel) *domain.Delivery {
	if m == nil {
		return nil
	}

	return &domain.Delivery{
		ID:            m.ID,
		CorrelationID: m.CorrelationID,
		Status:        m.Status,
		Request:       json.RawMessage(m.Request),
		Report:        json.RawMessage(m.Report),
		Error:         m.Error,
		Attempts:      m.Attempts,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}
