package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"courier/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchNotificationMetrics implements NotificationMetrics.
var _ NotificationMetrics = (*CloudWatchNotificationMetrics)(nil)

// CloudWatchNotificationMetrics emits delivery metrics to AWS CloudWatch.
//
// Metrics emitted:
//   - DeliveryAttempt: Dims {Channel, Result} -- on every attempt outcome
//   - DeliveryLatency: Dims {Channel} -- provider call duration
//   - QueueLag: Dims {Channel} -- time between submission and processing start
//   - CircuitBreakerOpen: Dims {Channel} -- 1 when the breaker opens, 0 when it closes
type CloudWatchNotificationMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchNotificationMetrics publishes to namespace, falling back to
// types.MetricNamespace when empty.
func NewCloudWatchNotificationMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchNotificationMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchNotificationMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

func channelDim(channel types.NotificationType) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(types.DimChannel), Value: aws.String(string(channel))}
}

func (m *CloudWatchNotificationMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) error {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	return err
}

// RecordDelivery emits a DeliveryAttempt metric with Channel and Result dimensions.
func (m *CloudWatchNotificationMetrics) RecordDelivery(ctx context.Context, channel types.NotificationType, result MetricResult) {
	err := m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDeliveryAttempt),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			channelDim(channel),
			{Name: aws.String(types.DimResult), Value: aws.String(string(result))},
		},
	})
	if err != nil {
		m.logger.Error("failed to record delivery metric",
			"error", err.Error(),
			"channel", string(channel),
			"result", string(result),
		)
	}
}

// RecordLatency records provider call duration in milliseconds.
func (m *CloudWatchNotificationMetrics) RecordLatency(ctx context.Context, channel types.NotificationType, duration time.Duration) {
	err := m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDeliveryLatency),
		Value:      aws.Float64(float64(duration.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{channelDim(channel)},
	})
	if err != nil {
		m.logger.Error("failed to record latency metric",
			"error", err.Error(),
			"channel", string(channel),
			"duration_ms", duration.Milliseconds(),
		)
	}
}

// RecordQueueLag records the time between submission and the start of
// processing.
func (m *CloudWatchNotificationMetrics) RecordQueueLag(ctx context.Context, channel types.NotificationType, lag time.Duration) {
	err := m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricQueueLag),
		Value:      aws.Float64(float64(lag.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{channelDim(channel)},
	})
	if err != nil {
		m.logger.Error("failed to record queue lag metric",
			"error", err.Error(),
			"lag_ms", lag.Milliseconds(),
		)
	}
}

// RecordBreakerState records 1 when the channel breaker opens and 0 otherwise.
func (m *CloudWatchNotificationMetrics) RecordBreakerState(ctx context.Context, channel types.NotificationType, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	err := m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricBreakerOpen),
		Value:      aws.Float64(v),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{channelDim(channel)},
	})
	if err != nil {
		m.logger.Error("failed to record breaker metric",
			"error", err.Error(),
			"channel", string(channel),
		)
	}
}
