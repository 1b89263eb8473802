package queue

import (
	"fmt"
	"strings"
)

// DeliveryMessage is the broker payload for a queued send. The message itself
// stays in the delivery row.
type DeliveryMessage struct {
	DeliveryID    string `json:"deliveryId"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (m DeliveryMessage) Validate() error {
	if strings.TrimSpace(m.DeliveryID) == "" {
		return fmt.Errorf("deliveryId is required")
	}
	return nil
}
