package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "attribution_relay"

// Metrics stores Prometheus collectors used by the relay and attribution flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	conversionsTotal         *prometheus.CounterVec
	commissionCallDuration   *prometheus.HistogramVec
	vendorCallsTotal         *prometheus.CounterVec
	backupWritesTotal        *prometheus.CounterVec
	syncOperationsTotal      *prometheus.CounterVec
	rateLimitedTotal         *prometheus.CounterVec
	attributionResolvedTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		conversionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "conversions_relayed_total",
				Help:      "Webhook deliveries handled by the relay grouped by outcome.",
			},
			[]string{"status"},
		),
		commissionCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "commission_call_duration_seconds",
				Help:      "Commission API call duration in seconds grouped by outcome.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"outcome"},
		),
		vendorCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "vendor_calls_total",
				Help:      "Outbound vendor calls made during propagation grouped by vendor and outcome.",
			},
			[]string{"vendor", "outcome"},
		),
		backupWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "backup_writes_total",
				Help:      "Attribution backup writes grouped by outcome.",
			},
			[]string{"outcome"},
		),
		syncOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sync_operations_total",
				Help:      "Sync store operations grouped by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		rateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rate_limited_requests_total",
				Help:      "Requests rejected by the rate limiter grouped by path.",
			},
			[]string{"path"},
		),
		attributionResolvedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "attribution_resolved_total",
				Help:      "Attribution resolutions grouped by the source that matched.",
			},
			[]string{"source"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.conversionsTotal,
		m.commissionCallDuration,
		m.vendorCallsTotal,
		m.backupWritesTotal,
		m.syncOperationsTotal,
		m.rateLimitedTotal,
		m.attributionResolvedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncConversion(status string) {
	if m == nil {
		return
	}
	m.conversionsTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) ObserveCommissionDuration(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.commissionCallDuration.WithLabelValues(normalizeLabel(outcome)).Observe(seconds)
}

func (m *Metrics) IncVendorCall(vendor, outcome string) {
	if m == nil {
		return
	}
	m.vendorCallsTotal.WithLabelValues(normalizeLabel(vendor), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncBackupWrite(outcome string) {
	if m == nil {
		return
	}
	m.backupWritesTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncSyncOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.syncOperationsTotal.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncRateLimited(path string) {
	if m == nil {
		return
	}
	m.rateLimitedTotal.WithLabelValues(normalizeLabel(path)).Inc()
}

// IncAttributionResolved counts a resolution; an empty source counts as "none".
func (m *Metrics) IncAttributionResolved(source string) {
	if m == nil {
		return
	}
	label := strings.ToLower(strings.TrimSpace(source))
	if label == "" {
		label = "none"
	}
	m.attributionResolvedTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
