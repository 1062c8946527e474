package repository

import (
	"time"

	"github.com/kursadbilgin/attribution-relay/internal/domain"
)

// TrackingHitModel is the persistence model for the tracking_hits table.
type TrackingHitModel struct {
	ID          string    `gorm:"type:uuid;primaryKey"`
	AffiliateID string    `gorm:"type:varchar(255);not null"`
	CapturedAt  time.Time `gorm:"not null"`
	SourceURL   *string   `gorm:"type:text"`
	Referrer    *string   `gorm:"type:text"`
	UTMSource   *string   `gorm:"type:varchar(255)"`
	UTMMedium   *string   `gorm:"type:varchar(255)"`
	UTMCampaign *string   `gorm:"type:varchar(255)"`
	ClientIP    *string   `gorm:"type:varchar(64)"`
	UserAgent   *string   `gorm:"type:text"`
	CreatedAt   time.Time
}

func (TrackingHitModel) TableName() string {
	return "tracking_hits"
}

// ConversionAttemptModel is the persistence model for conversion_attempts.
type ConversionAttemptModel struct {
	ID           string               `gorm:"type:uuid;primaryKey"`
	ReceivedAt   time.Time            `gorm:"not null"`
	EventType    string               `gorm:"type:varchar(64);not null"`
	EventName    string               `gorm:"type:varchar(255);not null"`
	UserID       *string              `gorm:"type:varchar(255)"`
	AnonymousID  *string              `gorm:"type:varchar(255)"`
	OrderID      *string              `gorm:"type:varchar(255)"`
	Total        *string              `gorm:"type:varchar(64)"`
	Email        *string              `gorm:"type:varchar(255)"`
	AffiliateID  *string              `gorm:"type:varchar(255)"`
	MatchedField *string              `gorm:"type:varchar(255)"`
	Status       domain.AttemptStatus `gorm:"type:varchar(20);not null"`
	CommissionID *string              `gorm:"type:varchar(255)"`
	Error        *string              `gorm:"type:text"`
	CreatedAt    time.Time
}

func (ConversionAttemptModel) TableName() string {
	return "conversion_attempts"
}

func trackingHitModelFromDomain(h *domain.TrackingHit) *TrackingHitModel {
	if h == nil {
		return nil
	}

	return &TrackingHitModel{
		ID:          h.ID,
		AffiliateID: h.AffiliateID,
		CapturedAt:  h.CapturedAt,
		SourceURL:   optionalString(h.SourceURL),
		Referrer:    optionalString(h.Referrer),
		UTMSource:   optionalString(h.UTMSource),
		UTMMedium:   optionalString(h.UTMMedium),
		UTMCampaign: optionalString(h.UTMCampaign),
		ClientIP:    optionalString(h.ClientIP),
		UserAgent:   optionalString(h.UserAgent),
		CreatedAt:   h.ReceivedAt,
	}
}

func trackingHitModelToDomain(m *TrackingHitModel) *domain.TrackingHit {
	if m == nil {
		return nil
	}

	return &domain.TrackingHit{
		ID:          m.ID,
		AffiliateID: m.AffiliateID,
		CapturedAt:  m.CapturedAt,
		SourceURL:   stringValue(m.SourceURL),
		Referrer:    stringValue(m.Referrer),
		UTMSource:   stringValue(m.UTMSource),
		UTMMedium:   stringValue(m.UTMMedium),
		UTMCampaign: stringValue(m.UTMCampaign),
		ClientIP:    stringValue(m.ClientIP),
		UserAgent:   stringValue(m.UserAgent),
		ReceivedAt:  m.CreatedAt,
	}
}

func attemptModelFromDomain(a *domain.ConversionAttempt) *ConversionAttemptModel {
	if a == nil {
		return nil
	}

	return &ConversionAttemptModel{
		ID:           a.ID,
		ReceivedAt:   a.ReceivedAt,
		EventType:    a.EventType,
		EventName:    a.EventName,
		UserID:       optionalString(a.UserID),
		AnonymousID:  optionalString(a.AnonymousID),
		OrderID:      optionalString(a.OrderID),
		Total:        optionalString(a.Total),
		Email:        optionalString(a.Email),
		AffiliateID:  optionalString(a.AffiliateID),
		MatchedField: optionalString(a.MatchedField),
		Status:       a.Status,
		CommissionID: optionalString(a.CommissionID),
		Error:        optionalString(a.Error),
	}
}

func attemptModelToDomain(m *ConversionAttemptModel) *domain.ConversionAttempt {
	if m == nil {
		return nil
	}

	return &domain.ConversionAttempt{
		ID:           m.ID,
		ReceivedAt:   m.ReceivedAt,
		EventType:    m.EventType,
		EventName:    m.EventName,
		UserID:       stringValue(m.UserID),
		AnonymousID:  stringValue(m.AnonymousID),
		OrderID:      stringValue(m.OrderID),
		Total:        stringValue(m.Total),
		Email:        stringValue(m.Email),
		AffiliateID:  stringValue(m.AffiliateID),
		MatchedField: stringValue(m.MatchedField),
		Status:       m.Status,
		CommissionID: stringValue(m.CommissionID),
		Error:        stringValue(m.Error),
	}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
