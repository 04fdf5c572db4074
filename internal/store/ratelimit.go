package store

import (
	"context"
	"fmt"
	"time"

	"courier/internal/types"
)

// IncrementAndCheck counts a request against key in a fixed window. The first
// request of a window sets the expiry; later ones leave it alone so the window
// does not slide.
func (s *RedisStore) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	redisKey := fmt.Sprintf(rateLimitKeyFmt, key)

	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return types.RateLimitResult{}, fmt.Errorf("store: increment rate limit: %w", err)
	}

	now := s.opts.Clock.Now()
	remainingTTL := pttl.Val()
	if remainingTTL < 0 {
		if err := s.client.PExpire(ctx, redisKey, window).Err(); err != nil {
			return types.RateLimitResult{}, fmt.Errorf("store: expire rate limit: %w", err)
		}
		remainingTTL = window
	}

	count := incr.Val()
	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}

	return types.RateLimitResult{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: int(remaining),
		ResetAt:   now.Add(remainingTTL),
	}, nil
}
