package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the claim only if it still maps to the id that made
// it, so a late release cannot drop a claim taken over by another request.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LookupIdempotency returns the notification id stored under key.
// found is false when the key is unknown or expired.
func (s *RedisStore) LookupIdempotency(ctx context.Context, key string) (id string, found bool, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	id, err = s.client.Get(ctx, fmt.Sprintf(idempotencyKeyFmt, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get idempotency key: %w", err)
	}
	return id, true, nil
}

// ClaimIdempotency atomically binds key to id for the idempotency TTL.
// When another request already holds the key, claimed is false and existing
// carries the winner's id.
func (s *RedisStore) ClaimIdempotency(ctx context.Context, key, id string) (existing string, claimed bool, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	redisKey := fmt.Sprintf(idempotencyKeyFmt, key)
	ok, err := s.client.SetNX(ctx, redisKey, id, s.opts.IdempotencyTTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("store: claim idempotency key: %w", err)
	}
	if ok {
		return id, true, nil
	}

	existing, err = s.client.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; treat as a lost race with no winner.
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: read idempotency claim: %w", err)
	}
	return existing, false, nil
}

// ReleaseIdempotency drops a claim made by id. It is a no-op when the key has
// expired or belongs to a different id.
func (s *RedisStore) ReleaseIdempotency(ctx context.Context, key, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := releaseScript.Run(ctx, s.client, []string{fmt.Sprintf(idempotencyKeyFmt, key)}, id).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("store: release idempotency key: %w", err)
	}
	return nil
}
