package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"courier/internal/types"
)

var _ NotificationMetrics = (*PrometheusNotificationMetrics)(nil)

// PrometheusNotificationMetrics exposes delivery metrics on /metrics.
type PrometheusNotificationMetrics struct {
	attempts     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	queueLag     *prometheus.HistogramVec
	breakerOpen  *prometheus.GaugeVec
	breakerTrips *prometheus.CounterVec
}

// NewPrometheusNotificationMetrics registers the delivery collectors on reg.
func NewPrometheusNotificationMetrics(reg prometheus.Registerer) *PrometheusNotificationMetrics {
	f := promauto.With(reg)
	return &PrometheusNotificationMetrics{
		attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_delivery_attempts_total",
				Help: "Delivery attempt outcomes per channel",
			},
			[]string{"channel", "result"}, // result: success|retry|deferred|failed
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "courier_delivery_duration_seconds",
				Help:    "Provider call duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"channel"},
		),
		queueLag: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "courier_queue_lag_seconds",
				Help:    "Time between submission and processing start in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 60, 300},
			},
			[]string{"channel"},
		),
		breakerOpen: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "courier_circuit_breaker_open",
				Help: "1 while the channel circuit breaker is open",
			},
			[]string{"channel"},
		),
		breakerTrips: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_circuit_breaker_open_total",
				Help: "Total number of circuit breaker open events",
			},
			[]string{"channel"},
		),
	}
}

func (m *PrometheusNotificationMetrics) RecordDelivery(_ context.Context, channel types.NotificationType, result MetricResult) {
	m.attempts.WithLabelValues(string(channel), string(result)).Inc()
}

func (m *PrometheusNotificationMetrics) RecordLatency(_ context.Context, channel types.NotificationType, duration time.Duration) {
	m.latency.WithLabelValues(string(channel)).Observe(duration.Seconds())
}

func (m *PrometheusNotificationMetrics) RecordQueueLag(_ context.Context, channel types.NotificationType, lag time.Duration) {
	m.queueLag.WithLabelValues(string(channel)).Observe(lag.Seconds())
}

func (m *PrometheusNotificationMetrics) RecordBreakerState(_ context.Context, channel types.NotificationType, open bool) {
	if open {
		m.breakerOpen.WithLabelValues(string(channel)).Set(1)
		m.breakerTrips.WithLabelValues(string(channel)).Inc()
		return
	}
	m.breakerOpen.WithLabelValues(string(channel)).Set(0)
}
