package attribution

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/attribution-relay/internal/domain"
	"github.com/kursadbilgin/attribution-relay/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultVendorTimeout = 10 * time.Second

	ParamAffiliateID      = "rfsn"
	paramAffiliateIDUpper = "RFSN"
)

// Source names where a resolved record came from.
type Source string

const (
	SourceNone   Source = ""
	SourceURL    Source = "url"
	SourceLookup Source = "lookup"
)

// Resolution is the outcome of Resolve. Record is nil when nothing matched.
type Resolution struct {
	Record *domain.AttributionRecord
	Source Source
}

func (r Resolution) Found() bool {
	return r.Record.Valid()
}

// BackupSink receives a copy of every newly captured record.
type BackupSink interface {
	Backup(ctx context.Context, rec domain.AttributionRecord) error
}

// IdentityLookup recovers an affiliate id for a known email. Implementations
// return domain.ErrNotFound when they hold nothing for the email.
type IdentityLookup interface {
	LookupAffiliate(ctx context.Context, email string) (string, error)
}

// Attribution is the capture/persist/resolve/propagate surface handed to
// form and checkout code.
type Attribution interface {
	Capture(nav Navigation) *domain.AttributionRecord
	Persist(ctx context.Context, rec *domain.AttributionRecord)
	Resolve(ctx context.Context, nav Navigation, identity *domain.UserIdentity) Resolution
	Propagate(ctx context.Context, rec *domain.AttributionRecord, conversion Conversion) PropagationResult
}

// Resolver holds the collaborators shared by every session. Sessions bind the
// stores of a single client context.
type Resolver struct {
	backup     BackupSink
	analytics  Analytics
	commission Commission
	lookups    []IdentityLookup
	retention  time.Duration
	timeout    time.Duration
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time

	inflight sync.WaitGroup
}

func NewResolver(
	backup BackupSink,
	analytics Analytics,
	commission Commission,
	lookups []IdentityLookup,
	retention time.Duration,
	timeout time.Duration,
	logger *zap.Logger,
) *Resolver {
	if retention <= 0 {
		retention = domain.DefaultRetention
	}
	if timeout <= 0 {
		timeout = defaultVendorTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resolver{
		backup:     backup,
		analytics:  analytics,
		commission: commission,
		lookups:    lookups,
		retention:  retention,
		timeout:    timeout,
		logger:     logger,
		now:        time.Now,
	}
}

func (r *Resolver) SetMetrics(metrics *observability.Metrics) {
	r.metrics = metrics
}

func (r *Resolver) Retention() time.Duration {
	return r.retention
}

// Wait blocks until background backups and propagations have finished.
func (r *Resolver) Wait() {
	r.inflight.Wait()
}

func (r *Resolver) NewSession(stores ...Store) *Session {
	active := make([]Store, 0, len(stores))
	for _, store := range stores {
		if store != nil {
			active = append(active, store)
		}
	}
	return &Session{resolver: r, stores: active}
}

// Capture reads the affiliate id from the current URL, falling back to the
// parent page when embedded. An unreadable parent yields nil.
func (r *Resolver) Capture(nav Navigation) *domain.AttributionRecord {
	if nav == nil {
		return nil
	}
	if rec := r.captureFrom(nav.CurrentURL()); rec != nil {
		return rec
	}
	if !nav.Embedded() {
		return nil
	}

	parent, err := nav.ParentURL()
	if err != nil {
		r.logger.Debug("parent location unavailable for capture", zap.Error(err))
		return nil
	}
	return r.captureFrom(parent)
}

func (r *Resolver) captureFrom(u *url.URL) *domain.AttributionRecord {
	if u == nil {
		return nil
	}

	query := u.Query()
	affiliateID := strings.TrimSpace(query.Get(ParamAffiliateID))
	if affiliateID == "" {
		affiliateID = strings.TrimSpace(query.Get(paramAffiliateIDUpper))
	}
	if affiliateID == "" {
		return nil
	}

	return &domain.AttributionRecord{
		AffiliateID: affiliateID,
		CapturedAt:  r.now().UTC(),
		SourceURL:   u.String(),
		UTMSource:   strings.TrimSpace(query.Get("utm_source")),
		UTMMedium:   strings.TrimSpace(query.Get("utm_medium")),
		UTMCampaign: strings.TrimSpace(query.Get("utm_campaign")),
	}
}

func (r *Resolver) backupAsync(rec domain.AttributionRecord) {
	if r.backup == nil {
		return
	}

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.backup.Backup(ctx, rec); err != nil {
			r.logger.Warn("attribution backup failed",
				zap.String("affiliateId", rec.AffiliateID),
				zap.Error(err),
			)
			r.metrics.IncBackupWrite("error")
			return
		}
		r.metrics.IncBackupWrite("success")
	}()
}

// Session is the Attribution bound to one client context's stores.
type Session struct {
	resolver *Resolver
	stores   []Store
}

var _ Attribution = (*Session)(nil)

func (s *Session) Capture(nav Navigation) *domain.AttributionRecord {
	return s.resolver.Capture(nav)
}

// Persist writes rec to every store and schedules the backup. Store failures
// are logged and skipped.
func (s *Session) Persist(ctx context.Context, rec *domain.AttributionRecord) {
	if !rec.Valid() {
		return
	}
	s.save(ctx, *rec)
	s.resolver.backupAsync(*rec)
}

// CaptureAndPersist captures from nav and persists the result. Re-capturing
// the affiliate already stored keeps the stored record and skips the backup.
func (s *Session) CaptureAndPersist(ctx context.Context, nav Navigation) *domain.AttributionRecord {
	captured := s.Capture(nav)
	if captured == nil {
		return nil
	}

	if existing, ok := s.loadStored(ctx); ok && existing.Record.AffiliateID == captured.AffiliateID {
		rec := *existing.Record
		if rec.CapturedAt.IsZero() {
			rec.CapturedAt = captured.CapturedAt
		}
		if rec.SourceURL == "" {
			rec.SourceURL = captured.SourceURL
		}
		s.save(ctx, rec)
		return &rec
	}

	s.Persist(ctx, captured)
	return captured
}

// Resolve applies URL, stored, then identity-lookup precedence.
func (s *Session) Resolve(ctx context.Context, nav Navigation, identity *domain.UserIdentity) Resolution {
	resolution := s.resolve(ctx, nav, identity)
	s.resolver.metrics.IncAttributionResolved(string(resolution.Source))
	return resolution
}

func (s *Session) resolve(ctx context.Context, nav Navigation, identity *domain.UserIdentity) Resolution {
	if rec := s.Capture(nav); rec != nil {
		rec.UserIdentity = identity
		return Resolution{Record: rec, Source: SourceURL}
	}

	if stored, ok := s.loadStored(ctx); ok {
		if stored.Record.UserIdentity == nil {
			stored.Record.UserIdentity = identity
		}
		return stored
	}

	if !identity.HasEmail() {
		return Resolution{}
	}

	email := strings.ToLower(strings.TrimSpace(identity.Email))
	for _, lookup := range s.resolver.lookups {
		if lookup == nil {
			continue
		}

		lookupCtx, cancel := context.WithTimeout(ctx, s.resolver.timeout)
		affiliateID, err := lookup.LookupAffiliate(lookupCtx, email)
		cancel()
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				s.resolver.logger.Warn("identity lookup failed", zap.Error(err))
			}
			continue
		}

		affiliateID = strings.TrimSpace(affiliateID)
		if affiliateID == "" {
			continue
		}

		rec := domain.AttributionRecord{
			AffiliateID:  affiliateID,
			CapturedAt:   s.resolver.now().UTC(),
			UserIdentity: identity,
		}
		s.save(ctx, rec)
		return Resolution{Record: &rec, Source: SourceLookup}
	}

	return Resolution{}
}

// Clear removes the record from every store.
func (s *Session) Clear(ctx context.Context) error {
	var errs []error
	for _, store := range s.stores {
		if err := store.Clear(ctx); err != nil {
			s.resolver.logger.Warn("failed to clear attribution store",
				zap.String("store", store.Name()),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) Propagate(ctx context.Context, rec *domain.AttributionRecord, conversion Conversion) PropagationResult {
	return s.resolver.Propagate(ctx, rec, conversion)
}

// PropagateAsync runs Propagate detached from the caller's cancellation.
func (s *Session) PropagateAsync(ctx context.Context, rec *domain.AttributionRecord, conversion Conversion) {
	s.resolver.PropagateAsync(ctx, rec, conversion)
}

func (s *Session) save(ctx context.Context, rec domain.AttributionRecord) {
	for _, store := range s.stores {
		if err := store.Save(ctx, rec, s.resolver.retention); err != nil {
			s.resolver.logger.Warn("failed to persist attribution",
				zap.String("store", store.Name()),
				zap.String("affiliateId", rec.AffiliateID),
				zap.Error(err),
			)
		}
	}
}

func (s *Session) loadStored(ctx context.Context) (Resolution, bool) {
	now := s.resolver.now()
	for _, store := range s.stores {
		rec, err := store.Load(ctx)
		if err != nil {
			s.resolver.logger.Warn("failed to load attribution",
				zap.String("store", store.Name()),
				zap.Error(err),
			)
			continue
		}
		if !rec.Valid() || rec.Expired(now, s.resolver.retention) {
			continue
		}
		return Resolution{Record: rec, Source: Source(store.Name())}, true
	}
	return Resolution{}, false
}
