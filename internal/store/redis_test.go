package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/config"
	"courier/internal/types"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, Options{Clock: fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}}), mr
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := Open(context.Background(), config.RedisConfig{
		URL:     config.SecretString("redis://" + mr.Addr()),
		DB:      0,
		Timeout: time.Second,
	})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 7*24*time.Hour, s.StatusTTL(), "zero TTL should fall back to seven days")

	_, err = Open(context.Background(), config.RedisConfig{URL: "not a url"})
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	s, mr := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))

	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}

func TestIdempotency_ClaimAndLookup(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, found, err := s.LookupIdempotency(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, found)

	existing, claimed, err := s.ClaimIdempotency(ctx, "k1", "id-1")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "id-1", existing)

	existing, claimed, err = s.ClaimIdempotency(ctx, "k1", "id-2")
	require.NoError(t, err)
	assert.False(t, claimed, "second claim must lose")
	assert.Equal(t, "id-1", existing)

	id, found, err := s.LookupIdempotency(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "id-1", id)

	assert.Equal(t, 24*time.Hour, mr.TTL("idempotency:k1"))

	mr.FastForward(24*time.Hour + time.Second)
	_, found, err = s.LookupIdempotency(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, found, "claim should expire after 24h")
}

func TestIdempotency_Release(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.ClaimIdempotency(ctx, "k1", "id-1")
	require.NoError(t, err)

	require.NoError(t, s.ReleaseIdempotency(ctx, "k1", "someone-else"))
	assert.True(t, mr.Exists("idempotency:k1"), "release by a different id must not delete the claim")

	require.NoError(t, s.ReleaseIdempotency(ctx, "k1", "id-1"))
	assert.False(t, mr.Exists("idempotency:k1"))

	require.NoError(t, s.ReleaseIdempotency(ctx, "missing", "id-1"))
}

func TestStatus_RoundTripAndTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.GetStatus(ctx, "n1")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.PutStatus(ctx, &types.NotificationStatus{
		NotificationID: "n1",
		Type:           types.NotificationTypePush,
		UserID:         "u1",
		Status:         types.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}))

	got, err := s.GetStatus(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, got.CreatedAt.Equal(now))

	mr.FastForward(6 * 24 * time.Hour)
	_, err = s.GetStatus(ctx, "n1")
	require.NoError(t, err, "record must still exist after six days")

	mr.FastForward(2 * 24 * time.Hour)
	_, err = s.GetStatus(ctx, "n1")
	assert.True(t, errors.Is(err, ErrNotFound), "record must be gone after eight days")
}

func TestStatus_PutRequiresID(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Error(t, s.PutStatus(context.Background(), &types.NotificationStatus{}))
	assert.Error(t, s.PutStatus(context.Background(), nil))
}

func TestStatus_CreateDoesNotOverwrite(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutStatus(ctx, &types.NotificationStatus{
		NotificationID: "n1",
		Status:         types.StatusDelivered,
	}))

	created, err := s.CreateStatus(ctx, &types.NotificationStatus{
		NotificationID: "n1",
		Status:         types.StatusPending,
	})
	require.NoError(t, err)
	assert.False(t, created)

	got, err := s.GetStatus(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusDelivered, got.Status)

	created, err = s.CreateStatus(ctx, &types.NotificationStatus{
		NotificationID: "n2",
		Status:         types.StatusPending,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 7*24*time.Hour, mr.TTL("notification:n2"))

	_, err = s.CreateStatus(ctx, &types.NotificationStatus{})
	assert.Error(t, err)
}

func TestStatus_CorruptRecord(t *testing.T) {
	s, mr := newTestStore(t)
	require.NoError(t, mr.Set("notification:bad", "{not json"))

	_, err := s.GetStatus(context.Background(), "bad")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestIncrementAndCheck(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := s.IncrementAndCheck(ctx, "u1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be allowed", i)
		assert.Equal(t, 3-i, res.Remaining)
		assert.Equal(t, 3, res.Limit)
	}

	res, err := s.IncrementAndCheck(ctx, "u1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, time.Minute, mr.TTL("ratelimit:u1"), "window must not be extended by later requests")

	mr.FastForward(time.Minute + time.Second)
	res, err = s.IncrementAndCheck(ctx, "u1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "new window should reset the counter")
}

func TestIncrementAndCheck_StoreDown(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.IncrementAndCheck(context.Background(), "u1", 3, time.Minute)
	assert.Error(t, err)
}
