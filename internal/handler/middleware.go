package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/attribution-relay/internal/observability"
	"github.com/kursadbilgin/attribution-relay/internal/ratelimit"
	"go.uber.org/zap"
)

// CorrelationMiddleware carries the request id into the user context so
// service logs can be joined with access logs.
func CorrelationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id := requestCorrelationID(c); id != "" {
			c.SetUserContext(observability.WithCorrelationID(c.UserContext(), id))
		}
		return c.Next()
	}
}

// RateLimitMiddleware limits requests per client IP. Limiter errors let the
// request through.
func RateLimitMiddleware(limiter ratelimit.RateLimiter, metrics *observability.Metrics, logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if limiter == nil {
			return c.Next()
		}

		allowed, err := limiter.Allow(c.UserContext(), c.IP())
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request",
				zap.String("path", c.Path()),
				zap.Error(err),
			)
			return c.Next()
		}
		if !allowed {
			metrics.IncRateLimited(routePattern(c))
			return fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded")
		}
		return c.Next()
	}
}

func routePattern(c *fiber.Ctx) string {
	if route := c.Route(); route != nil && route.Path != "" {
		return route.Path
	}
	return c.Path()
}

func passThrough(limit fiber.Handler) fiber.Handler {
	if limit != nil {
		return limit
	}
	return func(c *fiber.Ctx) error { return c.Next() }
}
