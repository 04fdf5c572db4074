package types

// Telemetry metric names. CloudWatch uses them verbatim; the Prometheus
// backend lowercases them into snake_case series.
const (
	MetricDeliveryAttempt = "DeliveryAttempt"
	MetricDeliverySuccess = "DeliverySuccess"
	MetricDeliveryFailed  = "DeliveryFailed"
	MetricDeliveryLatency = "DeliveryLatency"
	MetricQueueLag        = "QueueLag"
	MetricBreakerOpen     = "CircuitBreakerOpen"

	DimChannel  = "Channel"
	DimProvider = "Provider"
	DimResult   = "Result"

	MetricNamespace = "Courier"
)
