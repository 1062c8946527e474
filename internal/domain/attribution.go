package domain

import (
	"strings"
	"time"
)

// DefaultRetention is how long a persisted attribution stays resolvable.
const DefaultRetention = 30 * 24 * time.Hour

// UserIdentity binds a visitor to a known person once a form identifies them.
type UserIdentity struct {
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

func (u *UserIdentity) HasEmail() bool {
	return u != nil && strings.TrimSpace(u.Email) != ""
}

// AttributionRecord is the affiliate attribution carried by one client context.
type AttributionRecord struct {
	AffiliateID  string        `json:"affiliateId"`
	CapturedAt   time.Time     `json:"capturedAt"`
	SourceURL    string        `json:"sourceUrl,omitempty"`
	UTMSource    string        `json:"utmSource,omitempty"`
	UTMMedium    string        `json:"utmMedium,omitempty"`
	UTMCampaign  string        `json:"utmCampaign,omitempty"`
	UserIdentity *UserIdentity `json:"userIdentity,omitempty"`
}

func (r *AttributionRecord) Valid() bool {
	return r != nil && strings.TrimSpace(r.AffiliateID) != ""
}

// Expired reports whether the record is older than the retention window.
// A zero CapturedAt never expires; stores without timestamps rely on their own TTL.
func (r *AttributionRecord) Expired(now time.Time, retention time.Duration) bool {
	if r == nil || r.CapturedAt.IsZero() || retention <= 0 {
		return false
	}
	return now.After(r.CapturedAt.Add(retention))
}

func (r *AttributionRecord) Validate() error {
	if !r.Valid() {
		return ErrValidation
	}
	return nil
}
