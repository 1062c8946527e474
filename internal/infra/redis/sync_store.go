package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/attribution-relay/internal/attribution"
	"github.com/kursadbilgin/attribution-relay/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	syncEmailKeyPrefix   = "sync:email:"
	syncVisitorKeyPrefix = "sync:visitor:"
)

var _ attribution.IdentityLookup = (*SyncStore)(nil)

// SyncStore keeps email/visitor to affiliate mappings for cross-domain recovery.
type SyncStore struct {
	client goredis.UniversalClient
}

func NewSyncStore(client goredis.UniversalClient) (*SyncStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &SyncStore{client: client}, nil
}

// Put stores entry under every key it carries. A zero ttl keeps it forever.
func (s *SyncStore) Put(ctx context.Context, entry domain.TrackingSync, ttl time.Duration) error {
	entry.Normalize()
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("%w: email or visitorId, and rfsn are required", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode sync entry: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if entry.Email != "" {
			pipe.Set(ctx, syncEmailKeyPrefix+entry.Email, data, ttl)
		}
		if entry.VisitorID != "" {
			pipe.Set(ctx, syncVisitorKeyPrefix+entry.VisitorID, data, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store sync entry: %w", err)
	}
	return nil
}

// Get prefers the email mapping over the visitor mapping.
func (s *SyncStore) Get(ctx context.Context, email, visitorID string) (*domain.TrackingSync, error) {
	keys := make([]string, 0, 2)
	if normalized := domain.NormalizeEmail(email); normalized != "" {
		keys = append(keys, syncEmailKeyPrefix+normalized)
	}
	if visitorID = strings.TrimSpace(visitorID); visitorID != "" {
		keys = append(keys, syncVisitorKeyPrefix+visitorID)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: email or visitorId is required", domain.ErrValidation)
	}

	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read sync entry: %w", err)
		}

		var entry domain.TrackingSync
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode sync entry: %w", err)
		}
		return &entry, nil
	}

	return nil, domain.ErrNotFound
}

func (s *SyncStore) LookupAffiliate(ctx context.Context, email string) (string, error) {
	if domain.NormalizeEmail(email) == "" {
		return "", domain.ErrNotFound
	}
	entry, err := s.Get(ctx, email, "")
	if err != nil {
		return "", err
	}
	return entry.AffiliateID, nil
}
