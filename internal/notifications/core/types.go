// Package core provides the delivery machinery shared by the channel workers
// (email, push). It owns the retry policy, the per-channel circuit breaker,
// the retry scheduler, status transitions and delivery metrics, so every
// channel behaves the same way regardless of its provider.
package core

import (
	"context"
	"time"

	"courier/internal/config"
	"courier/internal/types"
)

// StatusStore is the subset of the Redis store the status updater needs.
type StatusStore interface {
	GetStatus(ctx context.Context, id string) (*types.NotificationStatus, error)
	PutStatus(ctx context.Context, st *types.NotificationStatus) error
}

// StatusForwarder relays transitions to the external status tracker.
type StatusForwarder interface {
	ForwardStatus(ctx context.Context, update types.StatusUpdate) error
}

// StatusSetter records a status transition. Implementations never fail the
// caller; write errors are logged.
type StatusSetter interface {
	SetStatus(ctx context.Context, notificationID string, status types.NotificationStatusValue, errMsg string)
}

// MetricResult categorizes a delivery attempt for metrics reporting.
type MetricResult string

const (
	MetricSuccess  MetricResult = "success"
	MetricRetry    MetricResult = "retry"
	MetricDeferred MetricResult = "deferred"
	MetricFailed   MetricResult = "failed"
)

// NotificationMetrics abstracts the delivery telemetry backend.
type NotificationMetrics interface {
	RecordDelivery(ctx context.Context, channel types.NotificationType, result MetricResult)
	RecordLatency(ctx context.Context, channel types.NotificationType, duration time.Duration)
	RecordQueueLag(ctx context.Context, channel types.NotificationType, lag time.Duration)
	RecordBreakerState(ctx context.Context, channel types.NotificationType, open bool)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordDelivery(context.Context, types.NotificationType, MetricResult)  {}
func (NopMetrics) RecordLatency(context.Context, types.NotificationType, time.Duration)  {}
func (NopMetrics) RecordQueueLag(context.Context, types.NotificationType, time.Duration) {}
func (NopMetrics) RecordBreakerState(context.Context, types.NotificationType, bool)      {}

// RetryPolicy defines the exponential backoff parameters for delivery retries.
// MaxRetries counts retries after the first attempt.
type RetryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy gives one attempt plus three retries at 1s, 2s and 4s.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:    types.DefaultMaxRetries,
	BaseDelay:     1 * time.Second,
	MaxDelay:      1 * time.Minute,
	BackoffFactor: 2.0,
}

// RetryPolicyFromConfig builds the doubling policy from delivery settings.
func RetryPolicyFromConfig(cfg config.DeliveryConfig) RetryPolicy {
	p := DefaultRetryPolicy
	p.MaxRetries = cfg.MaxRetries
	if cfg.BaseDelay > 0 {
		p.BaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	return p
}

// CalculateNextRetry computes the delay before retry number retryCount+1
// using exponential backoff: delay = min(BaseDelay * BackoffFactor^retryCount, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < retryCount; i++ {
		delay *= policy.BackoffFactor
	}

	d := time.Duration(delay)
	if policy.MaxDelay > 0 && d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	if d < 0 {
		// Guard against overflow
		d = policy.MaxDelay
	}

	return d
}
