package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/kursadbilgin/gcm-relay/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

func TestRedisRateLimiterAllowWindow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	limiter := newTestLimiter(t, newTestRedisClient(t), 2, &now)

	steps := []struct {
		key     string
		advance time.Duration
		want    bool
	}{
		{key: "gcm", want: true},
		{key: "gcm", advance: 300 * time.Millisecond, want: true},
		{key: "gcm", advance: 300 * time.Millisecond, want: false},
		{key: "gcm-staging", want: true},
		{key: "gcm", advance: 400 * time.Millisecond, want: true},
	}

	for i, step := range steps {
		now = now.Add(step.advance)

		allowed, err := limiter.Allow(context.Background(), step.key)
		if err != nil {
			t.Fatalf("step %d: Allow(%s) error = %v", i, step.key, err)
		}
		if allowed != step.want {
			t.Fatalf("step %d: Allow(%s) = %v, want %v", i, step.key, allowed, step.want)
		}
	}
}

func TestRedisRateLimiterWaitSleepsUntilNextWindow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_200, 0).Add(250 * time.Millisecond)
	limiter := newTestLimiter(t, newTestRedisClient(t), 1, &now)

	var sleeps []time.Duration
	limiter.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		now = now.Add(d)
		return nil
	}

	if err := limiter.Wait(context.Background(), "gcm"); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	if err := limiter.Wait(context.Background(), "gcm"); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}

	if diff := cmp.Diff([]time.Duration{750 * time.Millisecond}, sleeps); diff != "" {
		t.Fatalf("sleeps mismatch (-want +got):\n%s", diff)
	}
}

func TestRedisRateLimiterWaitContextDeadline(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_300, 0)
	limiter := newTestLimiter(t, newTestRedisClient(t), 1, &now)

	if allowed, err := limiter.Allow(context.Background(), "gcm"); err != nil || !allowed {
		t.Fatalf("Allow() = %v, %v, want first call allowed", allowed, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "gcm"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestRedisRateLimiterRejectsBlankKey(t *testing.T) {
	t.Parallel()

	limiter, err := NewRedisRateLimiter(newTestRedisClient(t), 10)
	if err != nil {
		t.Fatalf("NewRedisRateLimiter() error = %v", err)
	}

	if _, err := limiter.Allow(context.Background(), "  "); err == nil {
		t.Fatal("expected error for blank key")
	}
	if _, err := NewRedisRateLimiter(nil, 10); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestRedisRateLimiterCounterKey(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Unix(1_700_000_400, 0).Add(900 * time.Millisecond)
	limiter := newTestLimiter(t, rdb, 5, &now)

	if _, err := limiter.Allow(context.Background(), " GCM "); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}

	const key = "gcm-relay:ratelimit:gcm:1700000400"
	got, err := mr.Get(key)
	if err != nil {
		t.Fatalf("miniredis Get() error = %v", err)
	}
	if got != "1" {
		t.Fatalf("window counter = %q, want 1", got)
	}
	if ttl := mr.TTL(key); ttl != counterTTL {
		t.Fatalf("counter ttl = %v, want %v", ttl, counterTTL)
	}
}

func TestNewRateLimiterSelectsBackend(t *testing.T) {
	t.Parallel()

	limiter, client, err := NewRateLimiter(context.Background(), " ", 5)
	if err != nil {
		t.Fatalf("NewRateLimiter() error = %v", err)
	}
	if client != nil {
		t.Fatal("client should be nil without a redis url")
	}
	if _, ok := limiter.(*ratelimit.LocalRateLimiter); !ok {
		t.Fatalf("limiter = %T, want *ratelimit.LocalRateLimiter", limiter)
	}

	mr := miniredis.RunT(t)
	limiter, client, err = NewRateLimiter(context.Background(), "redis://"+mr.Addr()+"/0", 5)
	if err != nil {
		t.Fatalf("NewRateLimiter() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	if _, ok := limiter.(*RedisRateLimiter); !ok {
		t.Fatalf("limiter = %T, want *RedisRateLimiter", limiter)
	}
}

func newTestLimiter(t *testing.T, rdb *goredis.Client, limitPerSec int, now *time.Time) *RedisRateLimiter {
	t.Helper()

	limiter, err := NewRedisRateLimiter(rdb, limitPerSec)
	if err != nil {
		t.Fatalf("NewRedisRateLimiter() error = %v", err)
	}
	limiter.now = func() time.Time { return *now }
	return limiter
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return rdb
}
