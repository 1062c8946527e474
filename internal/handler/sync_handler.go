package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/attribution-relay/internal/domain"
)

type SyncService interface {
	Put(ctx context.Context, entry domain.TrackingSync) (domain.TrackingSync, error)
	Get(ctx context.Context, email, visitorID string) (*domain.TrackingSync, error)
}

type SyncHandler struct {
	service SyncService
}

func NewSyncHandler(service SyncService) (*SyncHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("sync service is required")
	}
	return &SyncHandler{service: service}, nil
}

func RegisterSyncRoutes(router fiber.Router, service SyncService, limit fiber.Handler) error {
	h, err := NewSyncHandler(service)
	if err != nil {
		return err
	}

	router.Post("/api/sync-tracking", passThrough(limit), h.Store)
	router.Get("/api/sync-tracking", h.Lookup)
	return nil
}

type syncRequest struct {
	Email       string `json:"email"`
	VisitorID   string `json:"visitorId"`
	AffiliateID string `json:"affiliateId"`
	RFSN        string `json:"rfsn"`
	Source      string `json:"source"`
}

func (h *SyncHandler) Store(c *fiber.Ctx) error {
	var req syncRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	entry, err := h.service.Put(c.UserContext(), domain.TrackingSync{
		AffiliateID: firstNonEmpty(req.AffiliateID, req.RFSN),
		Source:      req.Source,
		Email:       req.Email,
		VisitorID:   req.VisitorID,
	})
	if err != nil {
		return toHTTPError(err)
	}

	key := entry.Email
	if key == "" {
		key = entry.VisitorID
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"message": "Tracking stored",
		"key":     key,
	})
}

func (h *SyncHandler) Lookup(c *fiber.Ctx) error {
	entry, err := h.service.Get(c.UserContext(), c.Query("email"), c.Query("visitorId"))
	if errors.Is(err, domain.ErrNotFound) {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"found":    false,
			"tracking": nil,
		})
	}
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"found":    true,
		"tracking": entry,
	})
}
