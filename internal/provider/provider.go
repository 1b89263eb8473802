package provider

import (
	"context"

	"github.com/kursadbilgin/gcm-relay/internal/domain"
)

// Provider is the outbound push delivery port. One call is one round trip.
type Provider interface {
	Send(ctx context.Context, message *domain.Message) (*domain.Result, error)
}
