package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/gcm-relay/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec = 100
	window             = time.Second
	// Counters outlive their window so instances with slightly skewed clocks
	// still land on the same key.
	counterTTL  = 2 * window
	minWaitStep = 5 * time.Millisecond
	keyPrefix   = "gcm-relay:ratelimit"
)

// incrWindow counts one request in KEYS[1] and reports whether the count is
// within ARGV[1].
var incrWindow = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a fixed one-second window limiter in Redis, so every
// relay process draws from one provider budget.
type RedisRateLimiter struct {
	client      *goredis.Client
	limitPerSec int
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}

	return &RedisRateLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		now:         time.Now,
		sleep:       sleepWithContext,
	}, nil
}

// NewRateLimiter connects to url and returns a shared Redis limiter. With an
// empty url it falls back to an in-process limiter and a nil client.
func NewRateLimiter(ctx context.Context, url string, limitPerSec int) (ratelimit.RateLimiter, *goredis.Client, error) {
	if strings.TrimSpace(url) == "" {
		return ratelimit.NewLocalRateLimiter(limitPerSec), nil, nil
	}

	client, err := NewRedis(ctx, url)
	if err != nil {
		return nil, nil, err
	}

	limiter, err := NewRedisRateLimiter(client, limitPerSec)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return limiter, client, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	allowed, _, err := r.take(ctx, key)
	return allowed, err
}

// Wait blocks until key has budget, sleeping to the start of the next window
// after each refusal.
func (r *RedisRateLimiter) Wait(ctx context.Context, key string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		allowed, retryIn, err := r.take(ctx, key)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		if err := r.sleep(ctx, retryIn); err != nil {
			return err
		}
	}
}

// take counts one request against the current window. When refused, retryIn
// is the time left until the next window opens.
func (r *RedisRateLimiter) take(ctx context.Context, key string) (allowed bool, retryIn time.Duration, err error) {
	if r == nil || r.client == nil {
		return false, 0, fmt.Errorf("rate limiter is not initialized")
	}

	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return false, 0, fmt.Errorf("rate limit key is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := r.now()
	start := now.Truncate(window)
	windowKey := fmt.Sprintf("%s:%s:%d", keyPrefix, normalized, start.Unix())

	ok, err := incrWindow.Run(ctx, r.client, []string{windowKey}, r.limitPerSec, counterTTL.Milliseconds()).Bool()
	if err != nil {
		return false, 0, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	if ok {
		return true, 0, nil
	}

	return false, max(start.Add(window).Sub(now), minWaitStep), nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
