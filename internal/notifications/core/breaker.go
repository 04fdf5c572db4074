package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"courier/internal/types"
)

// ErrCircuitOpen is returned when the channel breaker rejects a call without
// invoking the provider.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerSettings configures a channel breaker.
type BreakerSettings struct {
	// Threshold is the number of consecutive failures that trips the breaker.
	Threshold uint32
	// ResetAfter is how long the breaker stays open. Afterwards it is closed
	// again with a zero failure count.
	ResetAfter time.Duration
	// Clock defaults to the wall clock.
	Clock types.Clock
}

// DefaultBreakerSettings trips after 5 consecutive failures and closes again after 60s.
var DefaultBreakerSettings = BreakerSettings{Threshold: 5, ResetAfter: 60 * time.Second}

// Breaker guards one channel's provider. It has two states: closed, where
// calls pass through and failures are counted, and open, where calls are
// rejected until ResetAfter has elapsed since the trip. There is no trial
// state: once the window is over the breaker needs Threshold fresh failures
// to open again. State is process-local.
type Breaker struct {
	channel  types.NotificationType
	settings BreakerSettings
	metrics  NotificationMetrics
	logger   types.Logger

	mu       sync.Mutex
	failures uint32
	openedAt time.Time
	open     bool
}

// NewBreaker creates the breaker for channel. A nil metrics records nothing.
func NewBreaker(channel types.NotificationType, settings BreakerSettings, metrics NotificationMetrics, logger types.Logger) *Breaker {
	if settings.Threshold == 0 {
		settings.Threshold = DefaultBreakerSettings.Threshold
	}
	if settings.ResetAfter <= 0 {
		settings.ResetAfter = DefaultBreakerSettings.ResetAfter
	}
	if settings.Clock == nil {
		settings.Clock = types.RealClock{}
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}

	return &Breaker{
		channel:  channel,
		settings: settings,
		metrics:  metrics,
		logger:   logger.With("breaker", string(channel)),
	}
}

// Execute calls fn unless the breaker is open. Rejected calls return an error
// wrapping ErrCircuitOpen.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if b.rejects() {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, b.channel)
	}

	err := fn(ctx)
	b.record(err)
	return err
}

// rejects reports whether the breaker is open, closing it first if the
// reset window has passed.
func (b *Breaker) rejects() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeIfExpiredLocked()
	return b.open
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Permanent errors are caused by the request, not by the provider.
	if err == nil || types.IsPermanent(err) || errors.Is(err, context.Canceled) {
		b.failures = 0
		return
	}

	// Calls admitted before a concurrent trip still report here; they do not
	// extend the open window.
	if b.open {
		return
	}

	b.failures++
	if b.failures >= b.settings.Threshold {
		b.open = true
		b.openedAt = b.settings.Clock.Now()
		b.logger.Warn("circuit breaker opened",
			"consecutive_failures", b.failures,
			"reset_after", b.settings.ResetAfter.String(),
		)
		b.metrics.RecordBreakerState(context.Background(), b.channel, true)
	}
}

func (b *Breaker) closeIfExpiredLocked() {
	if !b.open || b.settings.Clock.Now().Sub(b.openedAt) < b.settings.ResetAfter {
		return
	}
	b.open = false
	b.failures = 0
	b.logger.Info("circuit breaker closed")
	b.metrics.RecordBreakerState(context.Background(), b.channel, false)
}

// State returns "closed" or "open".
func (b *Breaker) State() string {
	if b.IsOpen() {
		return "open"
	}
	return "closed"
}

// IsOpen reports whether calls are currently rejected.
func (b *Breaker) IsOpen() bool {
	return b.rejects()
}

// ConsecutiveFailures is exposed for health reporting and tests.
func (b *Breaker) ConsecutiveFailures() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeIfExpiredLocked()
	return b.failures
}
