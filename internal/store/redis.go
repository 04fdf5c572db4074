// Package store implements the Redis-backed idempotency, status and rate-limit
// records shared by the ingress and the channel workers.
//
// Key layout:
//
//	idempotency:<key>   -> notification_id          (TTL 24h)
//	notification:<id>   -> NotificationStatus JSON  (TTL 7d)
//	ratelimit:<caller>  -> request counter          (TTL = window)
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"courier/internal/config"
	"courier/internal/types"
)

// ErrNotFound is returned when a status record does not exist or has expired.
var ErrNotFound = errors.New("store: record not found")

const (
	idempotencyKeyFmt = "idempotency:%s"
	statusKeyFmt      = "notification:%s"
	rateLimitKeyFmt   = "ratelimit:%s"
)

// Options tunes a RedisStore. Zero values fall back to the documented defaults.
type Options struct {
	Timeout        time.Duration
	IdempotencyTTL time.Duration
	StatusTTL      time.Duration
	Clock          types.Clock
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 3 * time.Second
	}
	if o.IdempotencyTTL <= 0 {
		o.IdempotencyTTL = 24 * time.Hour
	}
	if o.StatusTTL <= 0 {
		o.StatusTTL = 7 * 24 * time.Hour
	}
	if o.Clock == nil {
		o.Clock = types.RealClock{}
	}
	return o
}

// RedisStore is safe for concurrent use; go-redis pools connections.
type RedisStore struct {
	client *redis.Client
	opts   Options
}

// Open parses the configured URL, selects the database and verifies the
// connection with PING.
func Open(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	redisOpts.DB = cfg.DB

	s := New(redis.NewClient(redisOpts), Options{
		Timeout:        cfg.Timeout,
		IdempotencyTTL: cfg.IdempotencyTTL,
		StatusTTL:      cfg.StatusTTL,
	})
	if err := s.Ping(ctx); err != nil {
		_ = s.client.Close()
		return nil, fmt.Errorf("store: connect to redis: %w", err)
	}
	return s, nil
}

// New wraps an existing client.
func New(client *redis.Client, opts Options) *RedisStore {
	return &RedisStore{client: client, opts: opts.withDefaults()}
}

// Ping checks connectivity. Used by the health probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// StatusTTL reports the retention applied to status records.
func (s *RedisStore) StatusTTL() time.Duration {
	return s.opts.StatusTTL
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.Timeout)
}
