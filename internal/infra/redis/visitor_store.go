package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/attribution-relay/internal/attribution"
	"github.com/kursadbilgin/attribution-relay/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const visitorKeyPrefix = "visitor:"

var _ attribution.Store = (*VisitorStore)(nil)

// VisitorStore is the server-side counterpart of browser local storage,
// keyed by the client's visitor id.
type VisitorStore struct {
	client goredis.UniversalClient
	key    string
}

func NewVisitorStore(client goredis.UniversalClient, visitorID string) (*VisitorStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return nil, fmt.Errorf("%w: visitor id is required", domain.ErrValidation)
	}
	return &VisitorStore{
		client: client,
		key:    visitorKeyPrefix + visitorID + ":" + attribution.CookieRecordName,
	}, nil
}

func (s *VisitorStore) Name() string { return attribution.StoreNameVisitor }

func (s *VisitorStore) Load(ctx context.Context) (*domain.AttributionRecord, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read visitor attribution: %w", err)
	}
	return attribution.UnmarshalRecord(data)
}

func (s *VisitorStore) Save(ctx context.Context, rec domain.AttributionRecord, ttl time.Duration) error {
	data, err := attribution.MarshalRecord(rec)
	if err != nil {
		return fmt.Errorf("failed to encode visitor attribution: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write visitor attribution: %w", err)
	}
	return nil
}

func (s *VisitorStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear visitor attribution: %w", err)
	}
	return nil
}
