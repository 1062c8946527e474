package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRelayCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncConversion("SUCCESS")
	metrics.IncConversion("no_affiliate")
	metrics.ObserveCommissionDuration("success", 120*time.Millisecond)
	metrics.IncVendorCall("segment", "error")
	metrics.IncBackupWrite("success")
	metrics.IncSyncOperation("put", "success")
	metrics.IncRateLimited("/api/track")
	metrics.IncAttributionResolved("")
	metrics.IncAttributionResolved("cookie")

	if got := testutil.ToFloat64(metrics.conversionsTotal.WithLabelValues("success")); got != 1 {
		t.Fatalf("conversions_relayed_total{success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.conversionsTotal.WithLabelValues("no_affiliate")); got != 1 {
		t.Fatalf("conversions_relayed_total{no_affiliate} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.vendorCallsTotal.WithLabelValues("segment", "error")); got != 1 {
		t.Fatalf("vendor_calls_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.backupWritesTotal.WithLabelValues("success")); got != 1 {
		t.Fatalf("backup_writes_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.syncOperationsTotal.WithLabelValues("put", "success")); got != 1 {
		t.Fatalf("sync_operations_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.rateLimitedTotal.WithLabelValues("/api/track")); got != 1 {
		t.Fatalf("rate_limited_requests_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.attributionResolvedTotal.WithLabelValues("none")); got != 1 {
		t.Fatalf("attribution_resolved_total{none} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(metrics.commissionCallDuration); got != 1 {
		t.Fatalf("commission_call_duration_seconds series = %d, want 1", got)
	}
}

func TestMetricsNilReceiverIsNoop(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncConversion("success")
	metrics.IncVendorCall("segment", "success")
	metrics.IncBackupWrite("error")
	metrics.IncAttributionResolved("url")
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
