// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Logging
//
//	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
//	logger.WithField("component", "api").Info("server started")
//
// Handlers pick up the request-scoped entry set by the request ID middleware:
//
//	observability.LoggerFromContext(r.Context(), logger).Warn("denied")
//
// # Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	observability.RegisterMetricsEndpoint(router, registry)
//
// # Tracing
//
//	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "breeze-authz",
//	}, logger)
//	defer observability.ShutdownTracing(ctx, tp, logger)
//
// # Health checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddCheck("departments", true, hierarchyLoaded)
//	observability.RegisterHealthRoutes(router, checker)
package observability
