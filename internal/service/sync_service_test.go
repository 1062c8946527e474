package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/attribution-relay/internal/domain"
)

type fakeSyncRepo struct {
	putFn func(ctx context.Context, entry domain.TrackingSync, ttl time.Duration) error
	getFn func(ctx context.Context, email, visitorID string) (*domain.TrackingSync, error)
}

func (f *fakeSyncRepo) Put(ctx context.Context, entry domain.TrackingSync, ttl time.Duration) error {
	if f.putFn == nil {
		return nil
	}
	return f.putFn(ctx, entry, ttl)
}

func (f *fakeSyncRepo) Get(ctx context.Context, email, visitorID string) (*domain.TrackingSync, error) {
	if f.getFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.getFn(ctx, email, visitorID)
}

func TestSyncServicePutNormalizesAndUsesRetention(t *testing.T) {
	t.Parallel()

	var (
		stored domain.TrackingSync
		gotTTL time.Duration
	)
	repo := &fakeSyncRepo{
		putFn: func(_ context.Context, entry domain.TrackingSync, ttl time.Duration) error {
			stored = entry
			gotTTL = ttl
			return nil
		},
	}

	svc, err := NewSyncService(repo, 48*time.Hour, nil)
	if err != nil {
		t.Fatalf("NewSyncService() error = %v", err)
	}
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	entry, err := svc.Put(context.Background(), domain.TrackingSync{
		AffiliateID: " aff-9 ",
		Email:       " Person@Example.COM ",
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if stored.Email != "person@example.com" || stored.AffiliateID != "aff-9" {
		t.Fatalf("unexpected stored entry: %+v", stored)
	}
	if stored.Source != "unknown" {
		t.Fatalf("source = %q, want unknown", stored.Source)
	}
	if !entry.SyncedAt.Equal(now) {
		t.Fatalf("synced at = %v, want %v", entry.SyncedAt, now)
	}
	if gotTTL != 48*time.Hour {
		t.Fatalf("ttl = %v, want 48h", gotTTL)
	}
}

func TestSyncServicePutValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		entry domain.TrackingSync
	}{
		{name: "no key", entry: domain.TrackingSync{AffiliateID: "a"}},
		{name: "no affiliate", entry: domain.TrackingSync{Email: "a@b.c"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			called := false
			repo := &fakeSyncRepo{putFn: func(context.Context, domain.TrackingSync, time.Duration) error {
				called = true
				return nil
			}}
			svc, _ := NewSyncService(repo, 0, nil)

			if _, err := svc.Put(context.Background(), tc.entry); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Put() error = %v, want ErrValidation", err)
			}
			if called {
				t.Fatal("store should not be called for invalid entries")
			}
		})
	}
}

func TestSyncServiceGet(t *testing.T) {
	t.Parallel()

	repo := &fakeSyncRepo{
		getFn: func(_ context.Context, email, visitorID string) (*domain.TrackingSync, error) {
			if email == "known@example.com" {
				return &domain.TrackingSync{AffiliateID: "aff", Email: email}, nil
			}
			return nil, domain.ErrNotFound
		},
	}
	svc, _ := NewSyncService(repo, 0, nil)

	entry, err := svc.Get(context.Background(), "KNOWN@example.com", "")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entry.AffiliateID != "aff" {
		t.Fatalf("affiliate = %q, want aff", entry.AffiliateID)
	}

	if _, err := svc.Get(context.Background(), "other@example.com", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if _, err := svc.Get(context.Background(), " ", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Get() error = %v, want ErrValidation", err)
	}
}
