package service

import (
	"context"
	"fmt"
	"time"

	"gavel/internal/common/cache"
)

const rateLimitKeyPrefix = "ratelimit:submit:"

// SubmitRateLimiter is a fixed-window per-user submit limiter backed by
// Redis, so the limit holds across engine replicas.
type SubmitRateLimiter struct {
	cache  cache.Cache
	limit  int64
	window time.Duration
}

// NewSubmitRateLimiter creates a limiter allowing limit submissions per
// window per user. A nil cache disables limiting.
func NewSubmitRateLimiter(cacheClient cache.Cache, limit int64, window time.Duration) *SubmitRateLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &SubmitRateLimiter{cache: cacheClient, limit: limit, window: window}
}

// Allow reports whether userID may submit now. Limiter errors fail open; a
// cache outage must not block submissions.
func (l *SubmitRateLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	if l.cache == nil {
		return true, nil
	}
	key := fmt.Sprintf("%s%s:%d", rateLimitKeyPrefix, userID, time.Now().Unix()/int64(l.window.Seconds()))
	count, err := l.cache.Incr(ctx, key)
	if err != nil {
		return true, err
	}
	if count == 1 {
		_ = l.cache.Expire(ctx, key, l.window)
	}
	return count <= l.limit, nil
}
