// Package monitoring provides Prometheus metrics for the authorization
// platform.
//
// Usage:
//
//  1. Setup the metrics endpoint in your main function:
//     router := gin.New()
//     monitoring.SetupPrometheusMetrics(router)
//
//  2. Add HTTP metrics middleware:
//     router.Use(monitoring.HTTPMetricsMiddleware())
//
//  3. Record custom metrics in services:
//
//     monitoring.RecordDecision("allow", false)
//     monitoring.RecordCacheHit("l1")
//     monitoring.RecordCacheOperation("get", "hit")
//     monitoring.RecordEvaluationDuration(time.Since(start))
//
// Available metrics:
//
//   - authz_requests_total{tenant_id}
//   - authz_requests_allowed_total
//   - authz_requests_denied_total
//   - authz_decisions_total{decision, degraded}
//   - authz_cache_hits_total{tier}
//   - authz_cache_misses_total
//   - authz_cache_operations_total{operation, result}
//   - authz_evaluation_duration_seconds
//   - authz_audit_queue_depth
//   - authz_audit_dropped_total
//   - authz_rate_limited_total
//   - authz_auth_attempts_total{method, result}
//   - authz_db_operations_total{operation, table, status}
//   - authz_db_operation_duration_seconds{operation, table}
//   - authz_policy_engine_requests_total{status}
//   - authz_http_requests_total{method, endpoint, status_code, tenant_id}
//   - authz_http_request_duration_seconds{method, endpoint}
package monitoring

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_requests_total",
			Help: "Total number of authorization requests processed",
		},
		[]string{"tenant_id"},
	)

	requestsAllowed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authz_requests_allowed_total",
			Help: "Total number of allowed authorization requests",
		},
	)

	requestsDenied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authz_requests_denied_total",
			Help: "Total number of denied authorization requests",
		},
	)

	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Total number of decisions by outcome",
		},
		[]string{"decision", "degraded"},
	)

	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_cache_hits_total",
			Help: "Total number of decision cache hits by tier",
		},
		[]string{"tier"}, // l1, l2
	)

	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authz_cache_misses_total",
			Help: "Total number of decision cache misses (both tiers)",
		},
	)

	cacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_cache_operations_total",
			Help: "Total number of distributed cache operations",
		},
		[]string{"operation", "result"}, // get/set/delete/delete_multiple/add_index/get_index/delete_index/scan/incr, hit/miss/success/error
	)

	evaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "authz_evaluation_duration_seconds",
			Help:    "Authorization evaluation duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1.0},
		},
	)

	auditQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "authz_audit_queue_depth",
			Help: "Current depth of the asynchronous audit queue",
		},
	)

	auditDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authz_audit_dropped_total",
			Help: "Total number of audit records dropped",
		},
	)

	rateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authz_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	authAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"method", "result"}, // bearer/api_key, success/failure/forbidden
	)

	dbOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_db_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "table", "status"},
	)

	dbOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authz_db_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	policyEngineRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_policy_engine_requests_total",
			Help: "Total number of external policy engine calls",
		},
		[]string{"status"}, // success/error
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "endpoint", "status_code", "tenant_id"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authz_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// SetupPrometheusMetrics exposes the metrics endpoint on the default registry.
func SetupPrometheusMetrics(router gin.IRoutes) {
	_ = prometheus.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{ //nolint:errcheck
		Name: "authz_build_info",
		Help: "Build information for the authorization platform",
		ConstLabels: prometheus.Labels{
			"component": "authz-core",
		},
	}, func() float64 { return 1 }))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// HTTPMetricsMiddleware collects HTTP request metrics.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		endpoint := normalizeEndpoint(c.Request.URL.Path)

		c.Next()

		tenantID := c.GetString("tenant_id")
		if tenantID == "" {
			tenantID = "unknown"
		}

		statusCode := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(method, endpoint, statusCode, tenantID).Inc()
		httpRequestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// RecordRequest counts one authorization request for a tenant.
func RecordRequest(tenantID string) {
	requestsTotal.WithLabelValues(tenantID).Inc()
}

// RecordDecision records the outcome of one evaluated decision.
func RecordDecision(decision string, degraded bool) {
	decisionsTotal.WithLabelValues(decision, strconv.FormatBool(degraded)).Inc()
	switch decision {
	case "allow":
		requestsAllowed.Inc()
	case "deny":
		requestsDenied.Inc()
	}
}

// RecordCacheHit counts a decision cache hit on the given tier (l1 or l2).
func RecordCacheHit(tier string) {
	cacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss counts a full decision cache miss.
func RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordCacheOperation records a distributed cache operation outcome.
func RecordCacheOperation(operation, result string) {
	cacheOperations.WithLabelValues(operation, result).Inc()
}

// RecordEvaluationDuration observes one end-to-end evaluation.
func RecordEvaluationDuration(d time.Duration) {
	evaluationDuration.Observe(d.Seconds())
}

// SetAuditQueueDepth publishes the current audit queue depth.
func SetAuditQueueDepth(depth int) {
	auditQueueDepth.Set(float64(depth))
}

// RecordAuditDrop counts an audit record dropped under pressure.
func RecordAuditDrop() {
	auditDropped.Inc()
}

// RecordRateLimited counts a request rejected at the boundary.
func RecordRateLimited() {
	rateLimited.Inc()
}

// RecordAuthAttempt records an authentication attempt outcome.
func RecordAuthAttempt(method, result string) {
	authAttempts.WithLabelValues(method, result).Inc()
}

// RecordDBOperation records database operation metrics.
func RecordDBOperation(operation, table string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	dbOperationsTotal.WithLabelValues(operation, table, status).Inc()
	dbOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordPolicyEngineRequest records one external policy engine call.
func RecordPolicyEngineRequest(status string) {
	policyEngineRequests.WithLabelValues(status).Inc()
}

// normalizeEndpoint collapses path parameters so metric cardinality stays
// bounded.
func normalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if isIdentifier(p) {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

// isIdentifier reports whether a path segment looks like a UUID or numeric id.
func isIdentifier(s string) bool {
	if len(s) == 36 && strings.Count(s, "-") == 4 {
		return true
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
