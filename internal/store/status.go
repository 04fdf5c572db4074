package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"courier/internal/types"
)

// GetStatus loads the status record for id, or ErrNotFound.
func (s *RedisStore) GetStatus(ctx context.Context, id string) (*types.NotificationStatus, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw, err := s.client.Get(ctx, fmt.Sprintf(statusKeyFmt, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get status: %w", err)
	}

	var st types.NotificationStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("store: decode status %s: %w", id, err)
	}
	return &st, nil
}

// PutStatus writes st and (re)applies the status TTL.
func (s *RedisStore) PutStatus(ctx context.Context, st *types.NotificationStatus) error {
	if st == nil || st.NotificationID == "" {
		return errors.New("store: status record requires a notification id")
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("store: encode status: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Set(ctx, fmt.Sprintf(statusKeyFmt, st.NotificationID), payload, s.opts.StatusTTL).Err(); err != nil {
		return fmt.Errorf("store: put status: %w", err)
	}
	return nil
}

// CreateStatus writes st only if no record exists for its id yet. It reports
// whether the record was created; an existing record is left untouched.
func (s *RedisStore) CreateStatus(ctx context.Context, st *types.NotificationStatus) (bool, error) {
	if st == nil || st.NotificationID == "" {
		return false, errors.New("store: status record requires a notification id")
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return false, fmt.Errorf("store: encode status: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	created, err := s.client.SetNX(ctx, fmt.Sprintf(statusKeyFmt, st.NotificationID), payload, s.opts.StatusTTL).Result()
	if err != nil {
		return false, fmt.Errorf("store: create status: %w", err)
	}
	return created, nil
}
