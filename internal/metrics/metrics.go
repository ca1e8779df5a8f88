// Package metrics exposes Prometheus collectors for the screening service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	screeningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screener_screenings_total",
			Help: "Total number of screenings, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	sourceScrapeDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "screener_source_scrape_duration_seconds",
			Help:    "Histogram of per-source scrape latencies, labeled by source and outcome.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"source", "outcome"},
	)

	sourceRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screener_source_retries_total",
			Help: "Total number of retried upstream calls, labeled by operation.",
		},
		[]string{"operation"},
	)

	hybridFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screener_hybrid_fallbacks_total",
			Help: "Total number of hybrid fallbacks to the primary strategy, labeled by source and reason.",
		},
		[]string{"source", "reason"},
	)

	rateLimitRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "screener_rate_limit_rejections_total",
			Help: "Total number of calls rejected by the per-client rate limiter.",
		},
	)

	upstreamThrottleDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "screener_upstream_throttle_delay_seconds",
			Help:    "Histogram of waits imposed by the outbound per-source throttle.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"source"},
	)

	persistenceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screener_persistence_failures_total",
			Help: "Total number of best-effort persistence failures, labeled by stage.",
		},
		[]string{"stage"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screener_http_requests_total",
			Help: "Total number of HTTP requests, labeled by method, route pattern and code.",
		},
		[]string{"method", "route", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "screener_http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveScreening increments the screening counter. Outcome is one of
// "clean", "partial", "failed", "canceled" or "rejected".
func ObserveScreening(outcome string) {
	screeningsTotal.WithLabelValues(outcome).Inc()
}

// ObserveScrape records one source task.
func ObserveScrape(source, outcome string, duration time.Duration) {
	sourceScrapeDurationSeconds.WithLabelValues(source, outcome).Observe(duration.Seconds())
}

// ObserveRetry counts a scheduled retry.
func ObserveRetry(operation string) {
	sourceRetriesTotal.WithLabelValues(operation).Inc()
}

// ObserveHybridFallback counts a fallback from the secondary strategy.
func ObserveHybridFallback(source, reason string) {
	hybridFallbacksTotal.WithLabelValues(source, reason).Inc()
}

// ObserveRateLimitRejection counts a rejected client call.
func ObserveRateLimitRejection() {
	rateLimitRejectionsTotal.Inc()
}

// ObserveThrottleDelay records time spent waiting on an upstream throttle.
func ObserveThrottleDelay(source string, duration time.Duration) {
	upstreamThrottleDelaySeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObservePersistenceFailure counts a failed save, archive or publish.
func ObservePersistenceFailure(stage string) {
	persistenceFailuresTotal.WithLabelValues(stage).Inc()
}

// ObserveHTTPRequest records one served request. Route is the chi pattern so
// ids in the path do not explode label cardinality.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Middleware records request count and latency per route pattern. Requests
// that match no route are labeled "unmatched".
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &codeRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		ObserveHTTPRequest(r.Method, routeOf(r), rec.code, time.Since(start))
	})
}

func routeOf(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.RoutePattern() == "" {
		return "unmatched"
	}
	return rctx.RoutePattern()
}

type codeRecorder struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (rec *codeRecorder) WriteHeader(code int) {
	if !rec.wroteHeader {
		rec.code = code
		rec.wroteHeader = true
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *codeRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
