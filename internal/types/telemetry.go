package types

// Telemetry metric names and dimensions. CloudWatch and Prometheus sinks
// MUST use these constants.
const (
	MetricJobOutcome      = "JobOutcome"
	MetricDeliveryLatency = "DeliveryLatency"
	MetricQueueLag        = "QueueLag"
	MetricAlertDecision   = "AlertDecision"
	MetricEnqueue         = "JobEnqueued"

	DimCategory = "Category"
	DimResult   = "Result"
	DimStream   = "Stream"

	MetricNamespace = "Medtrack/Notifications"
)
