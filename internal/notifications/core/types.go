// Package core holds the pieces shared by the notification worker and the
// dead-letter handler: retry backoff, the recipient policy and pipeline
// metrics.
package core

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"medtrack/internal/types"
)

// PolicyDecision represents the outcome of a policy evaluation.
type PolicyDecision string

const (
	// PolicyDeliver indicates the notification should be sent now.
	PolicyDeliver PolicyDecision = "deliver"

	// PolicySkip indicates the notification is dropped as handled.
	PolicySkip PolicyDecision = "skip"
)

// PolicyResult contains the outcome and the reason for it.
type PolicyResult struct {
	Decision PolicyDecision
	Reason   string
}

// MetricResult categorizes a job outcome for metrics reporting.
type MetricResult string

const (
	MetricDelivered MetricResult = "delivered"
	MetricSkipped   MetricResult = "skipped"
	MetricRetried   MetricResult = "retried"
	MetricDead      MetricResult = "dead_lettered"
)

// PipelineMetrics abstracts CloudWatch/Prometheus telemetry for the pipeline.
type PipelineMetrics interface {
	RecordOutcome(ctx context.Context, category types.Category, result MetricResult)
	RecordLatency(ctx context.Context, category types.Category, d time.Duration)
	RecordQueueLag(ctx context.Context, stream string, lag time.Duration)
	RecordEnqueue(category types.Category, duplicate bool)
	RecordAlertDecision(category string, allowed bool)
}

// RetryPolicy defines the exponential backoff parameters for delivery retries.
type RetryPolicy struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter is the +/- fraction applied by Backoff, e.g. 0.2.
	Jitter float64
}

// NewRetryPolicy returns the pipeline policy: doubling from base up to max
// with 20% jitter.
func NewRetryPolicy(base, max time.Duration) RetryPolicy {
	return RetryPolicy{BaseDelay: base, MaxDelay: max, BackoffFactor: 2, Jitter: 0.2}
}

// CalculateNextRetry computes the delay before the next retry attempt using
// exponential backoff: delay = min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay) * math.Pow(policy.BackoffFactor, float64(attempt))
	if delay > float64(policy.MaxDelay) || math.IsInf(delay, 0) || math.IsNaN(delay) {
		return policy.MaxDelay
	}
	return time.Duration(delay)
}

// Backoff is CalculateNextRetry with +/- Jitter applied. randFloat returns
// values in [0, 1); nil uses math/rand.
func Backoff(policy RetryPolicy, attempt int, randFloat func() float64) time.Duration {
	d := CalculateNextRetry(policy, attempt)
	if policy.Jitter <= 0 {
		return d
	}
	if randFloat == nil {
		randFloat = rand.Float64
	}
	factor := 1 + policy.Jitter*(2*randFloat()-1)
	return time.Duration(float64(d) * factor)
}
