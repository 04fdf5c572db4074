package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"courier/internal/types"
)

// DeliverFunc performs one delivery attempt against a provider.
type DeliverFunc func(ctx context.Context) error

// Dispatcher runs the attempt loop for a single channel: breaker, per-attempt
// timeout, exponential backoff and status transitions.
type Dispatcher struct {
	channel        types.NotificationType
	policy         RetryPolicy
	breaker        *Breaker
	scheduler      *Scheduler
	status         StatusSetter
	metrics        NotificationMetrics
	limiter        *rate.Limiter
	attemptTimeout time.Duration
	clock          types.Clock
	logger         types.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithAttemptTimeout bounds each provider call. Zero disables the bound.
func WithAttemptTimeout(d time.Duration) DispatcherOption {
	return func(x *Dispatcher) { x.attemptTimeout = d }
}

// WithRateLimit paces provider calls with a token bucket. A non-positive
// rate disables pacing.
func WithRateLimit(perSecond float64, burst int) DispatcherOption {
	return func(x *Dispatcher) {
		if perSecond <= 0 {
			x.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		x.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMetrics sets the telemetry backend.
func WithMetrics(m NotificationMetrics) DispatcherOption {
	return func(x *Dispatcher) { x.metrics = m }
}

// WithClock overrides the clock used for latency measurement.
func WithClock(c types.Clock) DispatcherOption {
	return func(x *Dispatcher) { x.clock = c }
}

// NewDispatcher wires the attempt loop for channel.
func NewDispatcher(
	channel types.NotificationType,
	policy RetryPolicy,
	breaker *Breaker,
	scheduler *Scheduler,
	status StatusSetter,
	logger types.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	d := &Dispatcher{
		channel:        channel,
		policy:         policy,
		breaker:        breaker,
		scheduler:      scheduler,
		status:         status,
		metrics:        NopMetrics{},
		attemptTimeout: 10 * time.Second,
		clock:          types.RealClock{},
		logger:         logger.With("channel", string(channel)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Interrupted reports whether err means the loop was cut short by shutdown
// rather than by the provider. Such messages should be left for redelivery.
func Interrupted(err error) bool {
	return errors.Is(err, ErrSchedulerStopped) || errors.Is(err, context.Canceled)
}

// AttemptDelivery calls deliver until it succeeds, fails permanently or the
// retry budget is spent. It returns true once the notification is delivered.
//
// Status transitions: processing before the first attempt, retry between
// attempts (pending while the breaker is open), then delivered or failed.
// When shutdown interrupts the loop the returned error satisfies Interrupted
// and no terminal status is written.
func (d *Dispatcher) AttemptDelivery(ctx context.Context, notificationID string, deliver DeliverFunc) (bool, error) {
	log := d.logger.With("notification_id", notificationID)
	d.status.SetStatus(ctx, notificationID, types.StatusProcessing, "")

	for retryCount := 0; ; retryCount++ {
		err := d.attempt(ctx, deliver)
		if err == nil {
			d.status.SetStatus(ctx, notificationID, types.StatusDelivered, "")
			d.metrics.RecordDelivery(ctx, d.channel, MetricSuccess)
			log.Info("notification delivered", "retry_count", retryCount)
			return true, nil
		}

		if ctx.Err() != nil {
			log.Warn("delivery interrupted", "retry_count", retryCount, "error", err.Error())
			return false, fmt.Errorf("attempt %d interrupted: %w", retryCount+1, ctx.Err())
		}

		if types.IsPermanent(err) || retryCount >= d.policy.MaxRetries {
			d.status.SetStatus(ctx, notificationID, types.StatusFailed, err.Error())
			d.metrics.RecordDelivery(ctx, d.channel, MetricFailed)
			log.Error("notification failed",
				"retry_count", retryCount,
				"permanent", types.IsPermanent(err),
				"error", err.Error(),
			)
			return false, err
		}

		delay := CalculateNextRetry(d.policy, retryCount)
		if errors.Is(err, ErrCircuitOpen) {
			d.status.SetStatus(ctx, notificationID, types.StatusPending, "")
			d.metrics.RecordDelivery(ctx, d.channel, MetricDeferred)
			log.Warn("provider circuit open, deferring", "retry_count", retryCount, "delay", delay.String())
		} else {
			d.status.SetStatus(ctx, notificationID, types.StatusRetry, "")
			d.metrics.RecordDelivery(ctx, d.channel, MetricRetry)
			log.Warn("delivery attempt failed, retrying",
				"retry_count", retryCount,
				"delay", delay.String(),
				"error", err.Error(),
			)
		}

		if werr := d.scheduler.Wait(ctx, delay); werr != nil {
			log.Warn("retry wait cancelled", "retry_count", retryCount, "error", werr.Error())
			return false, fmt.Errorf("waiting for retry %d: %w", retryCount+1, werr)
		}
	}
}

func (d *Dispatcher) attempt(ctx context.Context, deliver DeliverFunc) error {
	if d.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.attemptTimeout)
		defer cancel()
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("provider rate limit: %w", err)
		}
	}

	start := d.clock.Now()
	err := d.breaker.Execute(ctx, deliver)
	if !errors.Is(err, ErrCircuitOpen) {
		d.metrics.RecordLatency(ctx, d.channel, d.clock.Now().Sub(start))
	}
	return err
}
