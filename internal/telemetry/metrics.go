// Package telemetry provides observability primitives for the CF-X router.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the router.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	UpstreamDuration *prometheus.HistogramVec
	UpstreamErrors   *prometheus.CounterVec
	RateLimitRejects *prometheus.CounterVec
	TokensProcessed  *prometheus.CounterVec
	BreakerState     prometheus.Gauge
	LogQueueDepth    prometheus.Gauge
	LogQueueDrops    prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cfx",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "cfx",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cfx",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "cfx",
			Name:                            "upstream_duration_seconds",
			Help:                            "Upstream multiplexer call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"stage", "model"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cfx",
			Name:      "upstream_errors_total",
			Help:      "Total upstream multiplexer errors.",
		}, []string{"kind"}),

		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cfx",
			Name:      "ratelimit_rejects_total",
			Help:      "Total rate limit rejections.",
		}, []string{"type"}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cfx",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"model", "type"}),

		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cfx",
			Name:      "upstream_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half_open).",
		}),

		LogQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cfx",
			Name:      "log_queue_depth",
			Help:      "Current number of queued request log records.",
		}),

		LogQueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cfx",
			Name:      "log_queue_drops_total",
			Help:      "Total request log records dropped due to a full queue.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.RateLimitRejects,
		m.TokensProcessed,
		m.BreakerState,
		m.LogQueueDepth,
		m.LogQueueDrops,
	)

	return m
}
