package ops

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RequestMetrics records ops API traffic in Prometheus.
type RequestMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewRequestMetrics registers the ops HTTP collectors on reg.
func NewRequestMetrics(reg prometheus.Registerer) *RequestMetrics {
	m := &RequestMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medtrack_ops_http_requests_total",
				Help: "Ops HTTP requests by route, method and status.",
			},
			[]string{"route", "method", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "medtrack_ops_http_request_duration_seconds",
				Help:    "Ops HTTP request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

func (m *RequestMetrics) RecordRequest(method, route, status string, d time.Duration) {
	m.requests.WithLabelValues(route, method, status).Inc()
	m.duration.WithLabelValues(route, method).Observe(d.Seconds())
}
