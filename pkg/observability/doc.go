// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown for gymcore.
//
// # Structured Logging
//
// Logger wraps logrus with a JSON formatter:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("gym_id", gymID).Info("Audit entry recorded")
//
// Request handlers should use the request-scoped logger, which carries the
// request ID and trace IDs:
//
//	observability.FromContext(r.Context()).WithError(err).Error("Audit query failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// Route labels use mux path templates, never raw paths, so gym IDs do not
// leak into label values.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, metrics, version)
//	router.HandleFunc("/healthz", checker.Liveness)
//	router.HandleFunc("/readyz", checker.Readiness)
//
// The database is required for readiness. Redis failures only degrade it.
//
// # Tracing
//
// InitOTel installs OTLP gRPC exporters as the global providers. When disabled
// the otel globals stay no-op and instrumented code pays almost nothing.
package observability
