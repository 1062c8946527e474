package attribution

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/attribution-relay/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type memoryStore struct {
	mu      sync.Mutex
	name    string
	rec     *domain.AttributionRecord
	saveErr error
	loadErr error
	saves   int
}

func (s *memoryStore) Name() string { return s.name }

func (s *memoryStore) Load(_ context.Context) (*domain.AttributionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.rec == nil {
		return nil, nil
	}
	copied := *s.rec
	return &copied, nil
}

func (s *memoryStore) Save(_ context.Context, rec domain.AttributionRecord, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.rec = &rec
	return nil
}

func (s *memoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = nil
	return nil
}

type fakeJar struct {
	mu      sync.Mutex
	cookies map[string]string
}

func newFakeJar() *fakeJar {
	return &fakeJar{cookies: map[string]string{}}
}

func (j *fakeJar) Cookie(name string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cookies[name]
}

func (j *fakeJar) SetCookie(name, value string, maxAge time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if maxAge < 0 {
		delete(j.cookies, name)
		return
	}
	j.cookies[name] = value
}

type fakeBackup struct {
	calls atomic.Int32
	err   error
}

func (b *fakeBackup) Backup(_ context.Context, _ domain.AttributionRecord) error {
	b.calls.Add(1)
	return b.err
}

type fakeLookup struct {
	fn    func(ctx context.Context, email string) (string, error)
	calls atomic.Int32
}

func (l *fakeLookup) LookupAffiliate(ctx context.Context, email string) (string, error) {
	l.calls.Add(1)
	return l.fn(ctx, email)
}

type fakeAnalytics struct {
	identifyFn func(userID, anonymousID string, traits map[string]any) error
	trackFn    func(userID, anonymousID, event string, properties map[string]any) error
}

func (a *fakeAnalytics) Identify(_ context.Context, userID, anonymousID string, traits map[string]any) error {
	if a.identifyFn == nil {
		return nil
	}
	return a.identifyFn(userID, anonymousID, traits)
}

func (a *fakeAnalytics) Track(_ context.Context, userID, anonymousID, event string, properties map[string]any) error {
	if a.trackFn == nil {
		return nil
	}
	return a.trackFn(userID, anonymousID, event, properties)
}

type fakeCommission struct {
	fn    func(affiliateID string, order domain.Order) (string, error)
	calls atomic.Int32
}

func (c *fakeCommission) CreateConversion(_ context.Context, affiliateID string, order domain.Order) (string, error) {
	c.calls.Add(1)
	return c.fn(affiliateID, order)
}

func newTestResolver(backup BackupSink, analytics Analytics, commission Commission, lookups ...IdentityLookup) *Resolver {
	r := NewResolver(backup, analytics, commission, lookups, 0, time.Second, zap.NewNop())
	r.now = func() time.Time { return fixedNow }
	return r
}

func nav(raw string) PageNavigation {
	return NewPageNavigation(raw, "", false)
}

func TestResolvePrefersURLOverStores(t *testing.T) {
	t.Parallel()

	cookie := &memoryStore{name: StoreNameCookie, rec: &domain.AttributionRecord{AffiliateID: "COOKIE", CapturedAt: fixedNow}}
	local := &memoryStore{name: StoreNameVisitor, rec: &domain.AttributionRecord{AffiliateID: "LOCAL", CapturedAt: fixedNow}}
	session := newTestResolver(nil, nil, nil).NewSession(cookie, local)

	got := session.Resolve(context.Background(), nav("https://shop.example.com/?rfsn=URL"), nil)
	if got.Record.AffiliateID != "URL" || got.Source != SourceURL {
		t.Fatalf("Resolve() = %+v from %q, want URL from url", got.Record, got.Source)
	}

	got = session.Resolve(context.Background(), nav("https://shop.example.com/"), nil)
	if got.Record.AffiliateID != "COOKIE" || got.Source != Source(StoreNameCookie) {
		t.Fatalf("Resolve() = %+v from %q, want COOKIE from cookie", got.Record, got.Source)
	}

	cookie.rec = nil
	got = session.Resolve(context.Background(), nav("https://shop.example.com/"), nil)
	if got.Record.AffiliateID != "LOCAL" || got.Source != Source(StoreNameVisitor) {
		t.Fatalf("Resolve() = %+v from %q, want LOCAL from local_storage", got.Record, got.Source)
	}
}

func TestPersistedAttributionSurvivesNavigation(t *testing.T) {
	t.Parallel()

	jar := newFakeJar()
	local := &memoryStore{name: StoreNameVisitor}
	resolver := newTestResolver(nil, nil, nil)

	landing := resolver.NewSession(NewCookieStore(jar), local)
	if rec := landing.CaptureAndPersist(context.Background(), nav("https://shop.example.com/landing?rfsn=ABC123")); rec == nil {
		t.Fatal("CaptureAndPersist() returned nil")
	}

	next := resolver.NewSession(NewCookieStore(jar), local)
	got := next.Resolve(context.Background(), nav("https://shop.example.com/pricing"), nil)
	if !got.Found() || got.Record.AffiliateID != "ABC123" {
		t.Fatalf("Resolve() = %+v, want ABC123", got.Record)
	}
	if got.Source != Source(StoreNameCookie) {
		t.Fatalf("Resolve() source = %q, want cookie", got.Source)
	}
	if got.Record.CapturedAt != fixedNow {
		t.Fatalf("CapturedAt = %v, want %v", got.Record.CapturedAt, fixedNow)
	}
}

func TestPersistDegradesWhenAStoreFails(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.WarnLevel)
	jar := newFakeJar()
	broken := &memoryStore{name: StoreNameVisitor, saveErr: errors.New("storage disabled")}

	resolver := NewResolver(nil, nil, nil, nil, 0, time.Second, zap.New(core))
	session := resolver.NewSession(broken, NewCookieStore(jar))

	session.Persist(context.Background(), &domain.AttributionRecord{AffiliateID: "AFF-7", CapturedAt: fixedNow})

	if jar.Cookie(CookieRecordName) == "" {
		t.Fatal("attribution cookie was not written")
	}
	if jar.Cookie(CookieAffiliateID) != "AFF-7" {
		t.Fatalf("rfsn cookie = %q, want AFF-7", jar.Cookie(CookieAffiliateID))
	}
	if recorded.FilterMessage("failed to persist attribution").Len() != 1 {
		t.Fatal("expected store failure to be logged once")
	}
}

func TestCaptureAndPersistIsIdempotent(t *testing.T) {
	t.Parallel()

	backup := &fakeBackup{}
	local := &memoryStore{name: StoreNameVisitor}
	resolver := newTestResolver(backup, nil, nil)
	session := resolver.NewSession(local)

	first := session.CaptureAndPersist(context.Background(), nav("https://shop.example.com/?rfsn=ABC123"))
	resolver.now = func() time.Time { return fixedNow.Add(time.Minute) }
	second := session.CaptureAndPersist(context.Background(), nav("https://shop.example.com/?rfsn=ABC123"))
	resolver.Wait()

	if first.AffiliateID != "ABC123" || second.AffiliateID != "ABC123" {
		t.Fatalf("captures = %q, %q, want ABC123 twice", first.AffiliateID, second.AffiliateID)
	}
	if !second.CapturedAt.Equal(first.CapturedAt) {
		t.Fatalf("second CapturedAt = %v, want first capture time %v", second.CapturedAt, first.CapturedAt)
	}
	if got := backup.calls.Load(); got != 1 {
		t.Fatalf("backup calls = %d, want 1", got)
	}

	stored, _ := local.Load(context.Background())
	if stored.AffiliateID != "ABC123" || !stored.CapturedAt.Equal(fixedNow) {
		t.Fatalf("stored record = %+v", stored)
	}
}

func TestCaptureAndPersistOverwritesWithNewAffiliate(t *testing.T) {
	t.Parallel()

	backup := &fakeBackup{}
	local := &memoryStore{name: StoreNameVisitor, rec: &domain.AttributionRecord{AffiliateID: "OLD", CapturedAt: fixedNow.Add(-time.Hour)}}
	resolver := newTestResolver(backup, nil, nil)

	rec := resolver.NewSession(local).CaptureAndPersist(context.Background(), nav("https://shop.example.com/?rfsn=NEW"))
	resolver.Wait()

	if rec.AffiliateID != "NEW" {
		t.Fatalf("CaptureAndPersist() = %q, want NEW", rec.AffiliateID)
	}
	stored, _ := local.Load(context.Background())
	if stored.AffiliateID != "NEW" || !stored.CapturedAt.Equal(fixedNow) {
		t.Fatalf("stored record = %+v, want last-touch NEW", stored)
	}
	if got := backup.calls.Load(); got != 1 {
		t.Fatalf("backup calls = %d, want 1", got)
	}
}

func TestCapture(t *testing.T) {
	t.Parallel()

	resolver := newTestResolver(nil, nil, nil)
	parent, _ := url.Parse("https://forms.example.com/page?rfsn=PARENT&utm_source=news")
	foreignParent, _ := url.Parse("https://host.example.com/page?rfsn=FOREIGN")

	tests := []struct {
		name       string
		nav        Navigation
		wantID     string
		wantSource string
		wantUTM    string
	}{
		{name: "current url", nav: nav("https://a.example.com/?rfsn=CUR&utm_source=mail&utm_medium=email"), wantID: "CUR", wantUTM: "mail"},
		{name: "upper case alias", nav: nav("https://a.example.com/?RFSN=UP"), wantID: "UP"},
		{name: "embedded reads parent", nav: PageNavigation{Current: mustURL("https://forms.example.com/f"), Parent: parent}, wantID: "PARENT", wantUTM: "news"},
		{name: "cross origin parent degrades", nav: PageNavigation{Current: mustURL("https://forms.example.com/f"), InFrame: true}},
		{name: "reported cross origin parent ignored", nav: PageNavigation{Current: mustURL("https://forms.example.com/f"), Parent: foreignParent, InFrame: true}},
		{name: "top level without parameter", nav: nav("https://a.example.com/")},
		{name: "blank parameter", nav: nav("https://a.example.com/?rfsn=%20")},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := resolver.Capture(tt.nav)
			if tt.wantID == "" {
				if got != nil {
					t.Fatalf("Capture() = %+v, want nil", got)
				}
				return
			}
			if got == nil || got.AffiliateID != tt.wantID {
				t.Fatalf("Capture() = %+v, want %q", got, tt.wantID)
			}
			if got.UTMSource != tt.wantUTM {
				t.Fatalf("UTMSource = %q, want %q", got.UTMSource, tt.wantUTM)
			}
			if got.CapturedAt != fixedNow {
				t.Fatalf("CapturedAt = %v, want %v", got.CapturedAt, fixedNow)
			}
		})
	}
}

func TestResolveSkipsExpiredRecords(t *testing.T) {
	t.Parallel()

	stale := &memoryStore{name: StoreNameCookie, rec: &domain.AttributionRecord{AffiliateID: "STALE", CapturedAt: fixedNow.Add(-31 * 24 * time.Hour)}}
	fresh := &memoryStore{name: StoreNameVisitor, rec: &domain.AttributionRecord{AffiliateID: "FRESH", CapturedAt: fixedNow.Add(-24 * time.Hour)}}

	got := newTestResolver(nil, nil, nil).NewSession(stale, fresh).Resolve(context.Background(), nav("https://a.example.com/"), nil)
	if got.Record.AffiliateID != "FRESH" {
		t.Fatalf("Resolve() = %+v, want FRESH", got.Record)
	}
}

func TestResolveFallsBackToIdentityLookup(t *testing.T) {
	t.Parallel()

	miss := &fakeLookup{fn: func(context.Context, string) (string, error) { return "", domain.ErrNotFound }}
	broken := &fakeLookup{fn: func(context.Context, string) (string, error) { return "", errors.New("crm down") }}
	hit := &fakeLookup{fn: func(_ context.Context, email string) (string, error) {
		if email != "ada@example.com" {
			t.Errorf("lookup email = %q, want normalized ada@example.com", email)
		}
		return "CRM-1", nil
	}}
	local := &memoryStore{name: StoreNameVisitor}
	session := newTestResolver(nil, nil, nil, miss, broken, hit).NewSession(local)

	got := session.Resolve(context.Background(), nav("https://a.example.com/"), &domain.UserIdentity{Email: " Ada@Example.com "})
	if got.Record.AffiliateID != "CRM-1" || got.Source != SourceLookup {
		t.Fatalf("Resolve() = %+v from %q, want CRM-1 from lookup", got.Record, got.Source)
	}
	if local.saves != 1 {
		t.Fatalf("local saves = %d, want 1", local.saves)
	}
}

func TestResolveSkipsLookupWithoutEmail(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{fn: func(context.Context, string) (string, error) { return "X", nil }}
	session := newTestResolver(nil, nil, nil, lookup).NewSession()

	got := session.Resolve(context.Background(), nav("https://a.example.com/"), &domain.UserIdentity{FirstName: "Ada"})
	if got.Found() {
		t.Fatalf("Resolve() = %+v, want not found", got.Record)
	}
	if lookup.calls.Load() != 0 {
		t.Fatal("lookup should not be called without an email")
	}
}

func TestResolveIgnoresStoreLoadErrors(t *testing.T) {
	t.Parallel()

	broken := &memoryStore{name: StoreNameCookie, loadErr: errors.New("malformed")}
	local := &memoryStore{name: StoreNameVisitor, rec: &domain.AttributionRecord{AffiliateID: "LOCAL"}}

	got := newTestResolver(nil, nil, nil).NewSession(broken, local).Resolve(context.Background(), nav("https://a.example.com/"), nil)
	if got.Record.AffiliateID != "LOCAL" {
		t.Fatalf("Resolve() = %+v, want LOCAL", got.Record)
	}
}

func TestSessionClear(t *testing.T) {
	t.Parallel()

	jar := newFakeJar()
	local := &memoryStore{name: StoreNameVisitor}
	session := newTestResolver(nil, nil, nil).NewSession(NewCookieStore(jar), local)
	session.Persist(context.Background(), &domain.AttributionRecord{AffiliateID: "AFF"})

	if err := session.Clear(context.Background()); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if got := session.Resolve(context.Background(), nav("https://a.example.com/"), nil); got.Found() {
		t.Fatalf("Resolve() after Clear = %+v, want nothing", got.Record)
	}
}

func TestBackupFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	backup := &fakeBackup{err: errors.New("backup endpoint down")}
	resolver := newTestResolver(backup, nil, nil)
	resolver.NewSession().Persist(context.Background(), &domain.AttributionRecord{AffiliateID: "AFF"})
	resolver.Wait()

	if backup.calls.Load() != 1 {
		t.Fatalf("backup calls = %d, want 1", backup.calls.Load())
	}
}

func mustURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}
