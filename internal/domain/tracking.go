package domain

import (
	"strings"
	"time"
)

// TrackingHit is a server-side copy of a captured attribution, written by
// the backup endpoint.
type TrackingHit struct {
	ID          string
	AffiliateID string
	CapturedAt  time.Time
	SourceURL   string
	Referrer    string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	ClientIP    string
	UserAgent   string
	ReceivedAt  time.Time
}

func (h *TrackingHit) Validate() error {
	if h == nil || strings.TrimSpace(h.AffiliateID) == "" {
		return ErrValidation
	}
	return nil
}
