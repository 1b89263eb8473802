package ratelimit

import "context"

// RateLimiter bounds the request rate towards the push provider. Keys name
// independent budgets, e.g. one per sender endpoint.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
