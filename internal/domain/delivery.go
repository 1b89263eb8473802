package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DeliveryStatus is the lifecycle state of a queued send.
type DeliveryStatus string

const (
	DeliveryStatusAccepted   DeliveryStatus = "ACCEPTED"
	DeliveryStatusQueued     DeliveryStatus = "QUEUED"
	DeliveryStatusProcessing DeliveryStatus = "PROCESSING"
	DeliveryStatusCompleted  DeliveryStatus = "COMPLETED"
	DeliveryStatusFailed     DeliveryStatus = "FAILED"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryStatusAccepted, DeliveryStatusQueued, DeliveryStatusProcessing,
		DeliveryStatusCompleted, DeliveryStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the worker is done with the delivery.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusCompleted || s == DeliveryStatusFailed
}

func ParseDeliveryStatusFromString(s string) (DeliveryStatus, error) {
	st := DeliveryStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid delivery status %q", ErrValidation, s)
	}
	return st, nil
}

// Delivery is a message accepted for asynchronous sending. Request holds the
// encoded MessageParams; Report is set once the worker completes it.
type Delivery struct {
	ID            string
	CorrelationID string
	Status        DeliveryStatus
	Request       json.RawMessage
	Report        json.RawMessage
	Error         *string
	Attempts      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewDelivery encodes message as the request of a new ACCEPTED delivery.
func NewDelivery(id string, correlationID string, message *Message) (*Delivery, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: delivery id is required", ErrValidation)
	}
	if message == nil {
		return nil, fmt.Errorf("%w: message is required", ErrValidation)
	}

	request, err := json.Marshal(message.Params())
	if err != nil {
		return nil, fmt.Errorf("failed to encode delivery request: %w", err)
	}

	return &Delivery{
		ID:            id,
		CorrelationID: strings.TrimSpace(correlationID),
		Status:        DeliveryStatusAccepted,
		Request:       request,
	}, nil
}

// Message rebuilds the Message stored in the delivery request.
func (d *Delivery) Message() (*Message, error) {
	if d == nil || len(d.Request) == 0 {
		return nil, fmt.Errorf("%w: delivery request is empty", ErrValidation)
	}

	var params MessageParams
	if err := json.Unmarshal(d.Request, &params); err != nil {
		return nil, fmt.Errorf("%w: invalid delivery request: %v", ErrValidation, err)
	}
	return NewMessage(params)
}
