package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := newTestApp()
		RegisterHealthRoutes(app, sql.OpenDB(stubConnector{}), newStubRedisClient(nil))

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(nil)
		t.Cleanup(func() { _ = rdb.Close() })

		app := newTestApp()
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 503 when dependencies down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{pingErr: errors.New("postgres down")})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(errors.New("redis down"))
		t.Cleanup(func() { _ = rdb.Close() })

		app := newTestApp()
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}
	})
}

func TestReadyzHandler_ReportsEachCheck(t *testing.T) {
	t.Parallel()

	app := newTestApp()
	app.Get("/readyz", ReadyzHandler(
		ReadinessCheck{Name: "postgres", Ping: func(context.Context) error { return nil }},
		ReadinessCheck{Name: "redis", Ping: func(context.Context) error { return errors.New("redis down") }},
	))

	resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
	}

	var payload struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.Status != "not_ready" {
		t.Fatalf("status = %q, want not_ready", payload.Status)
	}
	if payload.Checks["postgres"] != "ok" || payload.Checks["redis"] != "down" {
		t.Fatalf("checks = %v", payload.Checks)
	}
}
