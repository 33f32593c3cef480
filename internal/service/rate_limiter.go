package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prperemyshlev/auth-lifecycle/pkg/database"
	"github.com/redis/go-redis/v9"
)

// RateLimitDecision is the outcome of one rate limit check
type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long the client should wait before retrying
func (d *RateLimitDecision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// RateLimiter handles rate limiting using Redis
type RateLimiter struct {
	redis *database.Redis
	now   func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(redis *database.Redis) *RateLimiter {
	return &RateLimiter{redis: redis, now: time.Now}
}

// Allow records a request for key and reports whether it fits in limit
// requests per window. It uses a sliding window log kept in a sorted set.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitDecision, error) {
	now := r.now()
	windowStart := now.Add(-window)
	redisKey := "ratelimit:" + key

	// Remove entries older than the window
	err := r.redis.Client.ZRemRangeByScore(ctx, redisKey, "-inf", "("+strconv.FormatInt(windowStart.UnixNano(), 10)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := r.redis.Client.ZCard(ctx, redisKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}

	decision := &RateLimitDecision{Limit: limit, ResetAt: now.Add(window)}

	if count >= int64(limit) {
		// The window frees up when its oldest entry ages out
		oldest, err := r.redis.Client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			decision.ResetAt = time.Unix(0, int64(oldest[0].Score)).Add(window)
		}
		return decision, nil
	}

	err = r.redis.Client.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	}).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to add entry: %w", err)
	}

	// Set expiration on the key (window duration + 1 minute buffer)
	if err := r.redis.Client.Expire(ctx, redisKey, window+time.Minute).Err(); err != nil {
		return nil, fmt.Errorf("failed to set window expiry: %w", err)
	}

	decision.Allowed = true
	decision.Remaining = limit - int(count) - 1
	return decision, nil
}
