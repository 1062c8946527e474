package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const readinessTimeout = 2 * time.Second

// ReadinessCheck pings one backing dependency.
type ReadinessCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

func RegisterHealthRoutes(app fiber.Router, sqlDB *sql.DB, rdb redis.UniversalClient) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(
		ReadinessCheck{Name: "postgres", Ping: sqlDB.PingContext},
		ReadinessCheck{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

// ReadyzHandler runs every check concurrently; any failure reports 503.
func ReadyzHandler(checks ...ReadinessCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		defer cancel()

		statuses := make([]string, len(checks))
		var g errgroup.Group
		for i, check := range checks {
			g.Go(func() error {
				statuses[i] = "ok"
				if err := check.Ping(ctx); err != nil {
					statuses[i] = "down"
				}
				return nil
			})
		}
		_ = g.Wait()

		status := "ready"
		statusCode := fiber.StatusOK
		results := fiber.Map{}
		for i, check := range checks {
			results[check.Name] = statuses[i]
			if statuses[i] != "ok" {
				status = "not_ready"
				statusCode = fiber.StatusServiceUnavailable
			}
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	}
}
