package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/attribution-relay/internal/domain"
	"gorm.io/gorm"
)

type TrackingRepository interface {
	Create(ctx context.Context, hit *domain.TrackingHit) error
	ListByAffiliate(ctx context.Context, affiliateID string, limit int) ([]domain.TrackingHit, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

type GormTrackingRepo struct {
	db *gorm.DB
}

func NewGormTrackingRepo(db *gorm.DB) *GormTrackingRepo {
	return &GormTrackingRepo{db: db}
}

func (r *GormTrackingRepo) Create(ctx context.Context, hit *domain.TrackingHit) error {
	if err := hit.Validate(); err != nil {
		return fmt.Errorf("%w: affiliate id is required", err)
	}
	if hit.ID == "" {
		hit.ID = uuid.NewString()
	}
	if hit.ReceivedAt.IsZero() {
		hit.ReceivedAt = time.Now().UTC()
	}
	if hit.CapturedAt.IsZero() {
		hit.CapturedAt = hit.ReceivedAt
	}

	if err := r.db.WithContext(ctx).Create(trackingHitModelFromDomain(hit)).Error; err != nil {
		return fmt.Errorf("failed to persist tracking hit: %w", err)
	}
	return nil
}

func (r *GormTrackingRepo) ListByAffiliate(ctx context.Context, affiliateID string, limit int) ([]domain.TrackingHit, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	var models []TrackingHitModel
	err := r.db.WithContext(ctx).
		Where("affiliate_id = ?", strings.TrimSpace(affiliateID)).
		Order("captured_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	hits := make([]domain.TrackingHit, 0, len(models))
	for i := range models {
		hits = append(hits, *trackingHitModelToDomain(&models[i]))
	}
	return hits, nil
}

func (r *GormTrackingRepo) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&TrackingHitModel{}).
		Where("created_at >= ?", since).
		Count(&count).Error
	return count, err
}
