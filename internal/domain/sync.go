package domain

import (
	"strings"
	"time"
)

// TrackingSync maps an email or visitor id to an affiliate so attribution can
// be recovered on another domain.
type TrackingSync struct {
	AffiliateID string    `json:"rfsn"`
	Source      string    `json:"source"`
	SyncedAt    time.Time `json:"timestamp"`
	Email       string    `json:"email,omitempty"`
	VisitorID   string    `json:"visitorId,omitempty"`
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *TrackingSync) Normalize() {
	s.AffiliateID = strings.TrimSpace(s.AffiliateID)
	s.Email = NormalizeEmail(s.Email)
	s.VisitorID = strings.TrimSpace(s.VisitorID)
	s.Source = strings.TrimSpace(s.Source)
	if s.Source == "" {
		s.Source = "unknown"
	}
}

func (s *TrackingSync) Validate() error {
	if s.Email == "" && s.VisitorID == "" {
		return ErrValidation
	}
	if s.AffiliateID == "" {
		return ErrValidation
	}
	return nil
}
