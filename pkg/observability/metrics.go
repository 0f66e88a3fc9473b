package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec
	RateLimitedTotal    *prometheus.CounterVec

	// Audit metrics
	AuditWritesTotal      *prometheus.CounterVec
	AuditWriteDuration    prometheus.Histogram
	AuditSkippedTotal     *prometheus.CounterVec
	AuditQueriesTotal     *prometheus.CounterVec
	AuditArchiveRunsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal       *prometheus.CounterVec
	CacheMissesTotal     *prometheus.CounterVec
	CacheStaleFillsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gymcore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gymcore_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gymcore_authz_decisions_total",
				Help: "Access guard decisions by outcome",
			},
			[]string{"route", "outcome"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gymcore_rate_limited_total",
				Help: "Requests rejected by the rate limiter, by caller kind",
			},
			[]string{"kind"},
		),

		AuditWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gymcore_audit_writes_total",
				Help: "Audit entry writes by action and status",
			},
			[]string{"action", "status"},
		),
		AuditWriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gymcore_audit_write_duration_seconds",
				Help:    "Audit entry write latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2},
			},
		),
		AuditSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gymcore_audit_skipped_total",
				Help: "Audited routes that produced no entry, by reason",
			},
			[]string{"reason"},
		),
		AuditQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gymcore_audit_queries_total",
				Help: "Audit read operations by kind and status",
			},
			[]string{"kind", "status"},
		),
		AuditArchiveRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gymcore_audit_archive_runs_total",
				Help: "Audit archive job runs by status",
			},
			[]string{"status"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gymcore_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache", "tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gymcore_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),
		CacheStaleFillsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gymcore_cache_stale_fills_total",
				Help: "Total number of cache fills dropped because the key was invalidated meanwhile",
			},
			[]string{"cache"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gymcore_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gymcore_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.RateLimitedTotal,
		m.AuditWritesTotal,
		m.AuditWriteDuration,
		m.AuditSkippedTotal,
		m.AuditQueriesTotal,
		m.AuditArchiveRunsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheStaleFillsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// NewNopMetrics returns metrics registered on a throwaway registry, for tests
// and tools that do not expose /metrics.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel prefers the mux route template to keep label cardinality bounded.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Register it with router.Use so the matched route is known.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
