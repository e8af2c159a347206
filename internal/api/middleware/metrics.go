// Package middleware provides HTTP middleware components for the gateway.
// This file contains Prometheus metrics middleware for observability.
package middleware

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// httpRequestsTotal counts the total number of HTTP requests processed.
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionbridge_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDurationSeconds tracks the duration of HTTP requests.
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessionbridge_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// upstreamRequestsTotal counts upstream calls grouped by outcome.
	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionbridge_upstream_requests_total",
			Help: "Total upstream API calls grouped by outcome",
		},
		[]string{"outcome", "model"},
	)

	// upstreamRetriesTotal counts retry attempts against the upstream.
	upstreamRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessionbridge_upstream_retries_total",
			Help: "Total number of upstream retry attempts",
		},
	)

	// activeSessions tracks live conversation sessions.
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessionbridge_active_sessions",
			Help: "Number of live conversation sessions",
		},
	)

	// tokenUsage tracks token usage reported or estimated per turn.
	tokenUsage = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionbridge_token_usage_total",
			Help: "Total tokens used in completed turns",
		},
		[]string{"model", "type"}, // type: input or output
	)

	// metricsRegistered ensures metrics are only registered once.
	metricsRegistered atomic.Bool
	metricsEnabled    atomic.Bool
)

// SetMetricsEnabled toggles Prometheus metrics collection.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// IsMetricsEnabled reports whether metrics are enabled.
func IsMetricsEnabled() bool {
	return metricsEnabled.Load()
}

// RegisterMetrics registers all Prometheus metrics. Safe to call repeatedly.
func RegisterMetrics() {
	if !metricsRegistered.CompareAndSwap(false, true) {
		return
	}
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamRequestsTotal,
		upstreamRetriesTotal,
		activeSessions,
		tokenUsage,
	)
}

// PrometheusMiddleware returns a Gin middleware that collects request count
// and duration metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsMetricsEnabled() {
			c.Next()
			return
		}
		RegisterMetrics()

		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		path := normalizePath(c.Request.URL.Path)
		method := c.Request.Method
		start := time.Now()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// normalizePath keeps metric cardinality bounded.
func normalizePath(path string) string {
	switch {
	case path == "/healthz":
		return "/healthz"
	case path == "/v1/models" || path == "/models":
		return "/v1/models"
	case path == "/v1/chat/completions" || path == "/chat/completions":
		return "/v1/chat/completions"
	default:
		if len(path) > 50 {
			return path[:50] + "..."
		}
		return path
	}
}

// MetricsHandler returns the Prometheus HTTP handler for /metrics.
func MetricsHandler() gin.HandlerFunc {
	handler := promhttp.Handler()
	return func(c *gin.Context) {
		if !IsMetricsEnabled() {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		RegisterMetrics()
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordUpstreamRequest records the outcome of one upstream call.
func RecordUpstreamRequest(outcome, model string) {
	if !IsMetricsEnabled() {
		return
	}
	upstreamRequestsTotal.WithLabelValues(outcome, model).Inc()
}

// RecordUpstreamRetry counts one retry attempt.
func RecordUpstreamRetry() {
	if !IsMetricsEnabled() {
		return
	}
	upstreamRetriesTotal.Inc()
}

// SetActiveSessions sets the live session gauge.
func SetActiveSessions(count int) {
	if !IsMetricsEnabled() {
		return
	}
	activeSessions.Set(float64(count))
}

// RecordTokenUsage records token usage for a completed turn.
// tokenType should be either "input" or "output".
func RecordTokenUsage(model, tokenType string, tokens int) {
	if !IsMetricsEnabled() {
		return
	}
	if tokens > 0 {
		tokenUsage.WithLabelValues(model, tokenType).Add(float64(tokens))
	}
}
