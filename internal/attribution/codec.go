package attribution

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/attribution-relay/internal/domain"
)

// storedRecord is the persisted shape shared by cookies, the visitor store
// and the sync store. It keeps the "rfsn"/"timestamp" names older clients wrote.
type storedRecord struct {
	RFSN        string `json:"rfsn,omitempty"`
	AffiliateID string `json:"affiliateId,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	SourceURL   string `json:"sourceUrl,omitempty"`
	UTMSource   string `json:"utmSource,omitempty"`
	UTMMedium   string `json:"utmMedium,omitempty"`
	UTMCampaign string `json:"utmCampaign,omitempty"`
	Email       string `json:"email,omitempty"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
}

func MarshalRecord(rec domain.AttributionRecord) ([]byte, error) {
	stored := storedRecord{
		RFSN:        rec.AffiliateID,
		AffiliateID: rec.AffiliateID,
		SourceURL:   rec.SourceURL,
		UTMSource:   rec.UTMSource,
		UTMMedium:   rec.UTMMedium,
		UTMCampaign: rec.UTMCampaign,
	}
	if !rec.CapturedAt.IsZero() {
		stored.Timestamp = rec.CapturedAt.UTC().Format(time.RFC3339Nano)
	}
	if rec.UserIdentity != nil {
		stored.Email = rec.UserIdentity.Email
		stored.FirstName = rec.UserIdentity.FirstName
		stored.LastName = rec.UserIdentity.LastName
	}
	return json.Marshal(stored)
}

// UnmarshalRecord decodes a persisted record. A record without an affiliate
// id is rejected with domain.ErrValidation.
func UnmarshalRecord(data []byte) (*domain.AttributionRecord, error) {
	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("%w: malformed attribution record: %v", domain.ErrValidation, err)
	}

	rec := &domain.AttributionRecord{
		AffiliateID: strings.TrimSpace(stored.AffiliateID),
		SourceURL:   stored.SourceURL,
		UTMSource:   stored.UTMSource,
		UTMMedium:   stored.UTMMedium,
		UTMCampaign: stored.UTMCampaign,
	}
	if rec.AffiliateID == "" {
		rec.AffiliateID = strings.TrimSpace(stored.RFSN)
	}
	if !rec.Valid() {
		return nil, fmt.Errorf("%w: attribution record has no affiliate id", domain.ErrValidation)
	}
	if stored.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, stored.Timestamp); err == nil {
			rec.CapturedAt = ts.UTC()
		}
	}
	if stored.Email != "" || stored.FirstName != "" || stored.LastName != "" {
		rec.UserIdentity = &domain.UserIdentity{
			Email:     stored.Email,
			FirstName: stored.FirstName,
			LastName:  stored.LastName,
		}
	}

	return rec, nil
}
