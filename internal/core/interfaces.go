package core

import (
	"context"
	"time"

	"courier/internal/types"
)

// Authenticator resolves a bearer token to the calling Actor.
//
// Implementations return an AppError with ErrCodeAuthTokenExpired for expired
// tokens and ErrCodeAuthTokenInvalid for anything else that fails to verify.
type Authenticator interface {
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// RateLimitStore atomically counts requests per key within a fixed window.
// Production uses the Redis store.
type RateLimitStore interface {
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error)
}
