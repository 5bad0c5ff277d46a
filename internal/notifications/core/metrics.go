package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/prometheus"

	"medtrack/internal/types"
)

// metricTimeout bounds PutMetricData calls made without a caller context.
const metricTimeout = 2 * time.Second

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ PipelineMetrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics emits pipeline metrics to AWS CloudWatch:
//   - JobOutcome: Dims {Category, Result}
//   - DeliveryLatency: Dims {Category}, milliseconds
//   - QueueLag: Dims {Stream}, milliseconds
//   - JobEnqueued: Dims {Category, Result}
//   - AlertDecision: Dims {Category, Result}
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

func (m *CloudWatchMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record metric", "metric", aws.ToString(datum.MetricName), "error", err.Error())
	}
}

func (m *CloudWatchMetrics) putDetached(datum cwtypes.MetricDatum) {
	ctx, cancel := context.WithTimeout(context.Background(), metricTimeout)
	defer cancel()
	m.put(ctx, datum)
}

func dims(kv ...string) []cwtypes.Dimension {
	out := make([]cwtypes.Dimension, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, cwtypes.Dimension{Name: aws.String(kv[i]), Value: aws.String(kv[i+1])})
	}
	return out
}

func (m *CloudWatchMetrics) RecordOutcome(ctx context.Context, category types.Category, result MetricResult) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricJobOutcome),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims(types.DimCategory, string(category), types.DimResult, string(result)),
	})
}

func (m *CloudWatchMetrics) RecordLatency(ctx context.Context, category types.Category, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDeliveryLatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: dims(types.DimCategory, string(category)),
	})
}

func (m *CloudWatchMetrics) RecordQueueLag(ctx context.Context, stream string, lag time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricQueueLag),
		Value:      aws.Float64(float64(lag.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: dims(types.DimStream, stream),
	})
}

func (m *CloudWatchMetrics) RecordEnqueue(category types.Category, duplicate bool) {
	m.putDetached(cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricEnqueue),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims(types.DimCategory, string(category), types.DimResult, enqueueResult(duplicate)),
	})
}

func (m *CloudWatchMetrics) RecordAlertDecision(category string, allowed bool) {
	m.putDetached(cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricAlertDecision),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims(types.DimCategory, category, types.DimResult, alertResult(allowed)),
	})
}

func enqueueResult(duplicate bool) string {
	if duplicate {
		return "duplicate"
	}
	return "appended"
}

func alertResult(allowed bool) string {
	if allowed {
		return "sent"
	}
	return "suppressed"
}

var _ PipelineMetrics = (*PrometheusMetrics)(nil)

// PrometheusMetrics exposes pipeline metrics for scraping on /metrics.
type PrometheusMetrics struct {
	outcomes  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	queueLag  *prometheus.GaugeVec
	enqueued  *prometheus.CounterVec
	decisions *prometheus.CounterVec
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medtrack_notification_jobs_total",
				Help: "Notification jobs by category and outcome.",
			},
			[]string{"category", "result"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "medtrack_notification_delivery_seconds",
				Help:    "Time spent delivering one job.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"category"},
		),
		queueLag: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "medtrack_notification_queue_lag_seconds",
				Help: "Delay between a job becoming due and being claimed.",
			},
			[]string{"stream"},
		),
		enqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medtrack_notification_enqueued_total",
				Help: "Enqueue calls by category and whether they were deduplicated.",
			},
			[]string{"category", "result"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medtrack_alert_decisions_total",
				Help: "Operator alert rate limiter decisions.",
			},
			[]string{"category", "result"},
		),
	}
	reg.MustRegister(m.outcomes, m.latency, m.queueLag, m.enqueued, m.decisions)
	return m
}

func (m *PrometheusMetrics) RecordOutcome(_ context.Context, category types.Category, result MetricResult) {
	m.outcomes.WithLabelValues(string(category), string(result)).Inc()
}

func (m *PrometheusMetrics) RecordLatency(_ context.Context, category types.Category, d time.Duration) {
	m.latency.WithLabelValues(string(category)).Observe(d.Seconds())
}

func (m *PrometheusMetrics) RecordQueueLag(_ context.Context, stream string, lag time.Duration) {
	m.queueLag.WithLabelValues(stream).Set(lag.Seconds())
}

func (m *PrometheusMetrics) RecordEnqueue(category types.Category, duplicate bool) {
	m.enqueued.WithLabelValues(string(category), enqueueResult(duplicate)).Inc()
}

func (m *PrometheusMetrics) RecordAlertDecision(category string, allowed bool) {
	m.decisions.WithLabelValues(category, alertResult(allowed)).Inc()
}

// FanoutMetrics forwards every call to each sink.
type FanoutMetrics []PipelineMetrics

func (f FanoutMetrics) RecordOutcome(ctx context.Context, category types.Category, result MetricResult) {
	for _, m := range f {
		m.RecordOutcome(ctx, category, result)
	}
}

func (f FanoutMetrics) RecordLatency(ctx context.Context, category types.Category, d time.Duration) {
	for _, m := range f {
		m.RecordLatency(ctx, category, d)
	}
}

func (f FanoutMetrics) RecordQueueLag(ctx context.Context, stream string, lag time.Duration) {
	for _, m := range f {
		m.RecordQueueLag(ctx, stream, lag)
	}
}

func (f FanoutMetrics) RecordEnqueue(category types.Category, duplicate bool) {
	for _, m := range f {
		m.RecordEnqueue(category, duplicate)
	}
}

func (f FanoutMetrics) RecordAlertDecision(category string, allowed bool) {
	for _, m := range f {
		m.RecordAlertDecision(category, allowed)
	}
}
