package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/attribution-relay/internal/service"
)

const webhookPath = "/api/segment-to-refersion"

type RelayService interface {
	Handle(ctx context.Context, body []byte) (service.RelayResult, error)
}

type WebhookHandler struct {
	relay RelayService
}

func NewWebhookHandler(relay RelayService) (*WebhookHandler, error) {
	if relay == nil {
		return nil, fmt.Errorf("relay service is required")
	}
	return &WebhookHandler{relay: relay}, nil
}

func RegisterWebhookRoutes(router fiber.Router, relay RelayService) error {
	h, err := NewWebhookHandler(relay)
	if err != nil {
		return err
	}

	router.Options(webhookPath, preflight)
	router.Post(webhookPath, h.Relay)
	router.All(webhookPath, methodNotAllowed)
	return nil
}

func (h *WebhookHandler) Relay(c *fiber.Ctx) error {
	result, err := h.relay.Handle(c.UserContext(), c.Body())
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(result.StatusCode).JSON(result.Body)
}

func preflight(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}

func methodNotAllowed(c *fiber.Ctx) error {
	return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{
		"error": "Method not allowed",
	})
}
