package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/attribution-relay/internal/attribution"
	"github.com/kursadbilgin/attribution-relay/internal/domain"
	"github.com/kursadbilgin/attribution-relay/internal/provider"
	"github.com/kursadbilgin/attribution-relay/internal/service"
	"github.com/shopspring/decimal"
)

const cookieHubSpotUTK = "hubspotutk"

type ConversionService interface {
	SubmitForm(ctx context.Context, session *attribution.Session, nav attribution.Navigation, input service.FormInput) (attribution.Resolution, error)
	RecordPurchase(ctx context.Context, session *attribution.Session, nav attribution.Navigation, input service.PurchaseInput) (attribution.Resolution, error)
}

type ConversionOptions struct {
	Resolver     *attribution.Resolver
	Visitors     VisitorStoreFactory
	CookieDomain string
}

type ConversionHandler struct {
	service  ConversionService
	sessions sessionFactory
}

func NewConversionHandler(service ConversionService, opts ConversionOptions) (*ConversionHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("conversion service is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("attribution resolver is required")
	}

	return &ConversionHandler{
		service: service,
		sessions: sessionFactory{
			resolver:     opts.Resolver,
			visitors:     opts.Visitors,
			cookieDomain: opts.CookieDomain,
		},
	}, nil
}

func RegisterConversionRoutes(router fiber.Router, service ConversionService, opts ConversionOptions, limit fiber.Handler) error {
	h, err := NewConversionHandler(service, opts)
	if err != nil {
		return err
	}

	router.Post("/api/forms/:formId/submissions", passThrough(limit), h.SubmitForm)
	router.Post("/api/purchases", passThrough(limit), h.RecordPurchase)
	return nil
}

// pageContext is the page a client-side action happened on.
type pageContext struct {
	PageURI     string `json:"pageUri"`
	ParentURI   string `json:"parentUri"`
	InFrame     bool   `json:"inFrame"`
	AnonymousID string `json:"anonymousId"`
	VisitorID   string `json:"visitorId"`
}

type formSubmissionRequest struct {
	pageContext
	Fields   []provider.FormField `json:"fields"`
	PageName string               `json:"pageName"`
	HUTK     string               `json:"hutk"`
}

type purchaseItemRequest struct {
	SKU      string          `json:"sku"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

type purchaseRequest struct {
	pageContext
	OrderID    string                `json:"orderId"`
	Currency   string                `json:"currency"`
	Total      decimal.Decimal       `json:"total"`
	Email      string                `json:"email"`
	FirstName  string                `json:"firstName"`
	LastName   string                `json:"lastName"`
	CustomerID string                `json:"customerId"`
	Items      []purchaseItemRequest `json:"items"`
}

func (h *ConversionHandler) SubmitForm(c *fiber.Ctx) error {
	var req formSubmissionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	hutk := strings.TrimSpace(req.HUTK)
	if hutk == "" {
		hutk = c.Cookies(cookieHubSpotUTK)
	}

	session := h.sessions.session(c, req.VisitorID)
	nav := navigation(c, req.PageURI, req.ParentURI, req.InFrame)
	resolution, err := h.service.SubmitForm(c.UserContext(), session, nav, service.FormInput{
		FormID:      c.Params("formId"),
		Fields:      req.Fields,
		PageURI:     firstNonEmpty(req.PageURI, c.Get(fiber.HeaderReferer)),
		PageName:    req.PageName,
		HUTK:        hutk,
		AnonymousID: req.AnonymousID,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(withResolution(fiber.Map{"success": true}, resolution))
}

func (h *ConversionHandler) RecordPurchase(c *fiber.Ctx) error {
	var req purchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	items := make([]domain.LineItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.LineItem{
			SKU:      item.SKU,
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
		})
	}

	session := h.sessions.session(c, req.VisitorID)
	nav := navigation(c, req.PageURI, req.ParentURI, req.InFrame)
	resolution, err := h.service.RecordPurchase(c.UserContext(), session, nav, service.PurchaseInput{
		Order: domain.Order{
			ID:       req.OrderID,
			Currency: req.Currency,
			Total:    req.Total,
			Customer: domain.Customer{
				ID:        req.CustomerID,
				Email:     req.Email,
				FirstName: req.FirstName,
				LastName:  req.LastName,
			},
			Items: items,
		},
		PageURI:     firstNonEmpty(req.PageURI, c.Get(fiber.HeaderReferer)),
		AnonymousID: req.AnonymousID,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(withResolution(fiber.Map{
		"accepted": true,
		"orderId":  strings.TrimSpace(req.OrderID),
	}, resolution))
}

func withResolution(body fiber.Map, resolution attribution.Resolution) fiber.Map {
	body["attributed"] = resolution.Found()
	if resolution.Found() {
		body["affiliateId"] = resolution.Record.AffiliateID
		body["source"] = string(resolution.Source)
	}
	return body
}
