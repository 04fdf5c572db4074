package core

import (
	"context"
	"sync"
	"time"

	"courier/internal/types"
)

// MockAuthenticator implements Authenticator for tests. ResolveTokenFunc wins
// over Err, which wins over Actor.
//
//	mock := &MockAuthenticator{Actor: &types.Actor{ID: "u1", Type: types.ActorTypeUser}}
type MockAuthenticator struct {
	Actor            *types.Actor
	Err              error
	ResolveTokenFunc func(ctx context.Context, token string) (*types.Actor, error)

	mu    sync.Mutex
	Calls []string
}

func (m *MockAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.ResolveTokenFunc != nil {
		return m.ResolveTokenFunc(ctx, token)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Actor, nil
}

// MockRateLimitStore implements RateLimitStore for tests.
type MockRateLimitStore struct {
	Result types.RateLimitResult
	Err    error

	mu    sync.Mutex
	Calls []RateLimitCall
}

// RateLimitCall records one IncrementAndCheck invocation.
type RateLimitCall struct {
	Key    string
	Limit  int
	Window time.Duration
}

func (m *MockRateLimitStore) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RateLimitCall{Key: key, Limit: limit, Window: window})
	m.mu.Unlock()
	return m.Result, m.Err
}

// MockMetricsCollector records RecordRequest calls.
type MockMetricsCollector struct {
	mu    sync.Mutex
	Calls []MetricsCall
}

// MetricsCall records one RecordRequest invocation.
type MetricsCall struct {
	Method, Route, Status string
	Duration              time.Duration
}

func (m *MockMetricsCollector) RecordRequest(method, route, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MetricsCall{Method: method, Route: route, Status: status, Duration: duration})
}

var (
	_ Authenticator    = (*MockAuthenticator)(nil)
	_ RateLimitStore   = (*MockRateLimitStore)(nil)
	_ MetricsCollector = (*MockMetricsCollector)(nil)
)
