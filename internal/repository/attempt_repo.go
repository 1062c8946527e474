package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/attribution-relay/internal/domain"
	"gorm.io/gorm"
)

const defaultListLimit = 100

type AttemptRepository interface {
	Record(ctx context.Context, attempt domain.ConversionAttempt) error
	ListRecent(ctx context.Context, limit int) ([]domain.ConversionAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Record(ctx context.Context, attempt domain.ConversionAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.ReceivedAt.IsZero() {
		attempt.ReceivedAt = time.Now().UTC()
	}

	if err := r.db.WithContext(ctx).Create(attemptModelFromDomain(&attempt)).Error; err != nil {
		return fmt.Errorf("failed to persist conversion attempt: %w", err)
	}
	return nil
}

// ListRecent returns attempts newest first.
func (r *GormAttemptRepo) ListRecent(ctx context.Context, limit int) ([]domain.ConversionAttempt, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	var models []ConversionAttemptModel
	err := r.db.WithContext(ctx).
		Order("received_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.ConversionAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}
