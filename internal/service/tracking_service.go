package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/attribution-relay/internal/attribution"
	"github.com/kursadbilgin/attribution-relay/internal/domain"
	"github.com/kursadbilgin/attribution-relay/internal/observability"
	"github.com/kursadbilgin/attribution-relay/internal/repository"
	"go.uber.org/zap"
)

var _ attribution.BackupSink = (*TrackingService)(nil)

// TrackingService keeps the server-side backup copy of captured attributions.
type TrackingService struct {
	hits   repository.TrackingRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewTrackingService(hits repository.TrackingRepository, logger *zap.Logger) (*TrackingService, error) {
	if hits == nil {
		return nil, fmt.Errorf("tracking repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TrackingService{
		hits:   hits,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Backup stores a record captured by the resolver.
func (s *TrackingService) Backup(ctx context.Context, rec domain.AttributionRecord) error {
	return s.Track(ctx, domain.TrackingHit{
		AffiliateID: rec.AffiliateID,
		CapturedAt:  rec.CapturedAt,
		SourceURL:   rec.SourceURL,
		UTMSource:   rec.UTMSource,
		UTMMedium:   rec.UTMMedium,
		UTMCampaign: rec.UTMCampaign,
	})
}

// Track stores a hit reported by a client. Failures are logged and returned;
// callers on the public endpoint ignore them.
func (s *TrackingService) Track(ctx context.Context, hit domain.TrackingHit) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := observability.WithContextLogger(s.logger, ctx)

	now := s.now().UTC()
	hit.ReceivedAt = now
	if hit.CapturedAt.IsZero() {
		hit.CapturedAt = now
	}

	if err := hit.Validate(); err != nil {
		logger.Info("tracking hit without affiliate id skipped",
			zap.String("sourceUrl", hit.SourceURL),
		)
		return fmt.Errorf("%w: affiliateId is required", err)
	}

	if err := s.hits.Create(ctx, &hit); err != nil {
		logger.Warn("failed to store tracking hit",
			zap.String("affiliateId", hit.AffiliateID),
			zap.Error(err),
		)
		return err
	}

	logger.Info("tracking hit stored",
		zap.String("trackingId", hit.ID),
		zap.String("affiliateId", hit.AffiliateID),
		zap.String("utmSource", hit.UTMSource),
	)
	return nil
}

// CountSince reports how many hits arrived at or after since.
func (s *TrackingService) CountSince(ctx context.Context, since time.Time) (int64, error) {
	return s.hits.CountSince(ctx, since)
}
