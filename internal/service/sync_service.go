package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/attribution-relay/internal/domain"
	"github.com/kursadbilgin/attribution-relay/internal/observability"
	"go.uber.org/zap"
)

type SyncRepository interface {
	Put(ctx context.Context, entry domain.TrackingSync, ttl time.Duration) error
	Get(ctx context.Context, email, visitorID string) (*domain.TrackingSync, error)
}

// SyncService records affiliate ids against emails and visitor ids so another
// domain can recover them.
type SyncService struct {
	store     SyncRepository
	retention time.Duration
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewSyncService(store SyncRepository, retention time.Duration, logger *zap.Logger) (*SyncService, error) {
	if store == nil {
		return nil, fmt.Errorf("sync store is required")
	}
	if retention <= 0 {
		retention = domain.DefaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SyncService{
		store:     store,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (s *SyncService) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

func (s *SyncService) Put(ctx context.Context, entry domain.TrackingSync) (domain.TrackingSync, error) {
	entry.Normalize()
	if err := entry.Validate(); err != nil {
		return domain.TrackingSync{}, fmt.Errorf("%w: email or visitorId, and affiliateId are required", err)
	}
	if entry.SyncedAt.IsZero() {
		entry.SyncedAt = s.now().UTC()
	}

	if err := s.store.Put(ctx, entry, s.retention); err != nil {
		s.metrics.IncSyncOperation("put", "error")
		observability.WithContextLogger(s.logger, ctx).Error("failed to store tracking sync",
			zap.String("affiliateId", entry.AffiliateID),
			zap.Error(err),
		)
		return domain.TrackingSync{}, err
	}

	s.metrics.IncSyncOperation("put", "success")
	return entry, nil
}

// Get returns domain.ErrNotFound when no entry matches.
func (s *SyncService) Get(ctx context.Context, email, visitorID string) (*domain.TrackingSync, error) {
	email = domain.NormalizeEmail(email)
	if email == "" && visitorID == "" {
		return nil, fmt.Errorf("%w: email or visitorId is required", domain.ErrValidation)
	}

	entry, err := s.store.Get(ctx, email, visitorID)
	switch {
	case err == nil:
		s.metrics.IncSyncOperation("get", "hit")
		return entry, nil
	case errors.Is(err, domain.ErrNotFound):
		s.metrics.IncSyncOperation("get", "miss")
		return nil, err
	default:
		s.metrics.IncSyncOperation("get", "error")
		return nil, err
	}
}
