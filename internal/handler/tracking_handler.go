package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/attribution-relay/internal/attribution"
	"github.com/kursadbilgin/attribution-relay/internal/domain"
)

const (
	cookieBridgeID = "bridge_id"
	bridgeIDMaxAge = 30 * 24 * time.Hour
)

type TrackingService interface {
	Track(ctx context.Context, hit domain.TrackingHit) error
}

type TrackingHandler struct {
	tracking     TrackingService
	sessions     sessionFactory
	allowedHosts []string
	now          func() time.Time
	newBridgeID  func() string
}

type TrackingOptions struct {
	Resolver     *attribution.Resolver
	CookieDomain string
	AllowedHosts []string
}

func NewTrackingHandler(tracking TrackingService, opts TrackingOptions) (*TrackingHandler, error) {
	if tracking == nil {
		return nil, fmt.Errorf("tracking service is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("attribution resolver is required")
	}

	hosts := make([]string, 0, len(opts.AllowedHosts))
	for _, host := range opts.AllowedHosts {
		if host = strings.ToLower(strings.TrimSpace(host)); host != "" {
			hosts = append(hosts, host)
		}
	}

	return &TrackingHandler{
		tracking:     tracking,
		sessions:     sessionFactory{resolver: opts.Resolver, cookieDomain: opts.CookieDomain},
		allowedHosts: hosts,
		now:          time.Now,
		newBridgeID:  uuid.NewString,
	}, nil
}

func RegisterTrackingRoutes(router fiber.Router, tracking TrackingService, opts TrackingOptions, limit fiber.Handler) error {
	h, err := NewTrackingHandler(tracking, opts)
	if err != nil {
		return err
	}

	router.Options("/api/track", preflight)
	router.Post("/api/track", passThrough(limit), h.Track)
	router.All("/api/track", methodNotAllowed)
	router.Get("/api/redirect", h.Redirect)
	return nil
}

type trackRequest struct {
	AffiliateID string `json:"affiliateId"`
	RFSN        string `json:"rfsn"`
	Timestamp   string `json:"timestamp"`
	SourceURL   string `json:"sourceUrl"`
	Page        string `json:"page"`
	Referrer    string `json:"referrer"`
	UTMSource   string `json:"utmSource"`
	UTMMedium   string `json:"utmMedium"`
	UTMCampaign string `json:"utmCampaign"`
}

// Track stores a client-reported hit. Any valid JSON object is acknowledged;
// storage problems are not reported to the client.
func (h *TrackingHandler) Track(c *fiber.Ctx) error {
	var req trackRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}

	hit := domain.TrackingHit{
		AffiliateID: firstNonEmpty(req.AffiliateID, req.RFSN),
		SourceURL:   firstNonEmpty(req.SourceURL, req.Page),
		Referrer:    strings.TrimSpace(req.Referrer),
		UTMSource:   strings.TrimSpace(req.UTMSource),
		UTMMedium:   strings.TrimSpace(req.UTMMedium),
		UTMCampaign: strings.TrimSpace(req.UTMCampaign),
		ClientIP:    c.IP(),
		UserAgent:   c.Get(fiber.HeaderUserAgent),
	}
	if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(req.Timestamp)); err == nil {
		hit.CapturedAt = ts.UTC()
	}

	_ = h.tracking.Track(c.UserContext(), hit)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":   true,
		"message":   "Tracking data received",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// Redirect forwards a visitor to another domain with the identifiers attached.
func (h *TrackingHandler) Redirect(c *fiber.Ctx) error {
	destination := strings.TrimSpace(c.Query("destination"))
	if destination == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Missing destination")
	}
	if !h.hostAllowed(destination) {
		return fiber.NewError(fiber.StatusBadRequest, "destination host is not allowed")
	}

	bridgeID := strings.TrimSpace(c.Query("uid"))
	if bridgeID == "" {
		bridgeID = h.newBridgeID()
	}

	var rec *domain.AttributionRecord
	if affiliateID := strings.TrimSpace(c.Query(attribution.ParamAffiliateID)); affiliateID != "" {
		rec = &domain.AttributionRecord{
			AffiliateID: affiliateID,
			CapturedAt:  h.now().UTC(),
			SourceURL:   destination,
		}
	}

	target, err := attribution.DecorateURL(destination, rec, map[string]string{
		"_sid": c.Query("sid"),
		"_bid": bridgeID,
	})
	if err != nil {
		return toHTTPError(err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     cookieBridgeID,
		Value:    bridgeID,
		Path:     "/",
		Domain:   h.sessions.cookieDomain,
		MaxAge:   int(bridgeIDMaxAge / time.Second),
		HTTPOnly: true,
		SameSite: cookieSameSite,
	})
	if rec != nil {
		h.sessions.session(c, "").Persist(c.UserContext(), rec)
	}

	return c.Redirect(target, fiber.StatusFound)
}

func (h *TrackingHandler) hostAllowed(destination string) bool {
	if len(h.allowedHosts) == 0 {
		return true
	}
	u, err := url.Parse(destination)
	if err != nil {
		return false
	}
	return slices.Contains(h.allowedHosts, strings.ToLower(u.Hostname()))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
