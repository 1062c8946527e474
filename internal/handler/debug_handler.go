package handler

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/attribution-relay/internal/domain"
	"github.com/kursadbilgin/attribution-relay/internal/observability"
	"go.uber.org/zap"
)

const (
	headerDebugKey      = "X-Debug-Key"
	persistedListLimit  = 100
	trackingStatsWindow = 24 * time.Hour
)

type AttemptLog interface {
	Snapshot() []domain.ConversionAttempt
	Summary() observability.AttemptSummary
}

type PersistedAttempts interface {
	ListRecent(ctx context.Context, limit int) ([]domain.ConversionAttempt, error)
}

type TrackingStats interface {
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

type DebugOptions struct {
	Key       string
	Attempts  AttemptLog
	Persisted PersistedAttempts
	Tracking  TrackingStats
	Logger    *zap.Logger
}

type DebugHandler struct {
	key       []byte
	attempts  AttemptLog
	persisted PersistedAttempts
	tracking  TrackingStats
	logger    *zap.Logger
	now       func() time.Time
}

func NewDebugHandler(opts DebugOptions) (*DebugHandler, error) {
	if opts.Attempts == nil {
		return nil, fmt.Errorf("attempt log is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DebugHandler{
		key:       []byte(strings.TrimSpace(opts.Key)),
		attempts:  opts.Attempts,
		persisted: opts.Persisted,
		tracking:  opts.Tracking,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func RegisterDebugRoutes(router fiber.Router, opts DebugOptions) error {
	h, err := NewDebugHandler(opts)
	if err != nil {
		return err
	}
	router.Get("/api/conversion-debug", h.ConversionDebug)
	return nil
}

// ConversionDebug lists recent relay attempts. An unset key disables it.
func (h *DebugHandler) ConversionDebug(c *fiber.Ctx) error {
	if !h.authorized(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	ctx := c.UserContext()
	attempts := h.attempts.Snapshot()
	summary := h.attempts.Summary()
	source := "memory"
	if c.QueryBool("persisted") && h.persisted != nil {
		stored, err := h.persisted.ListRecent(ctx, persistedListLimit)
		if err != nil {
			return err
		}
		// Summary describes the returned list, not the in-memory ring.
		attempts = stored
		summary = observability.SummarizeAttempts(stored)
		source = "database"
	}

	response := fiber.Map{
		"message":  "Conversion debug log",
		"source":   source,
		"summary":  summary,
		"attempts": attempts,
	}

	if h.tracking != nil {
		count, err := h.tracking.CountSince(ctx, h.now().Add(-trackingStatsWindow))
		if err != nil {
			h.logger.Warn("failed to count tracking hits", zap.Error(err))
		} else {
			response["trackingHitsLast24h"] = count
		}
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

func (h *DebugHandler) authorized(c *fiber.Ctx) bool {
	if len(h.key) == 0 {
		return false
	}
	provided := strings.TrimSpace(c.Query("key"))
	if provided == "" {
		provided = strings.TrimSpace(c.Get(headerDebugKey))
	}
	return subtle.ConstantTimeCompare([]byte(provided), h.key) == 1
}
