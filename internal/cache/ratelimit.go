package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimiter enforces a fixed-window request budget shared across processes.
// The upstream marketdata client checks it before every outbound call.
type RateLimiter struct {
	store  *Store
	limit  int
	window time.Duration
}

// NewRateLimiter creates a rate limiter with the given per-window budget.
func NewRateLimiter(store *Store, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		store:  store,
		limit:  limit,
		window: window,
	}
}

// Allow consumes one slot from the current window. Returns whether the call
// may proceed and the number of slots used so far.
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	fullKey := r.store.prefix + "ratelimit:" + key

	// Pipeline keeps INCR and EXPIRE in one round trip
	pipe := r.store.client.Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, r.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("failed to check rate limit %s: %w", key, err)
	}

	count := int(incr.Val())
	return count <= r.limit, count, nil
}

// Remaining reports unused slots in the current window without consuming one.
func (r *RateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	fullKey := r.store.prefix + "ratelimit:" + key

	count, err := r.store.client.Get(ctx, fullKey).Int()
	if err == redis.Nil {
		return r.limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read rate limit %s: %w", key, err)
	}

	remaining := r.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Limit returns the configured per-window budget.
func (r *RateLimiter) Limit() int {
	return r.limit
}
