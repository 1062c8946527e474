package attribution

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kursadbilgin/attribution-relay/internal/domain"
)

const (
	CookieRecordName   = "rfsn_data"
	CookieLegacyJSON   = "refersion_tracking"
	CookieAffiliateID  = "rfsn"
	StoreNameCookie    = "cookie"
	StoreNameVisitor   = "local_storage"
	defaultCookieClear = -1 * time.Second
)

// Store persists attribution for one client context. Load returns nil, nil
// when nothing is stored.
type Store interface {
	Name() string
	Load(ctx context.Context) (*domain.AttributionRecord, error)
	Save(ctx context.Context, rec domain.AttributionRecord, ttl time.Duration) error
	Clear(ctx context.Context) error
}

// CookieJar reads and writes first-party cookies for the current request.
type CookieJar interface {
	Cookie(name string) string
	SetCookie(name, value string, maxAge time.Duration)
}

// CookieStore keeps the record in a JSON cookie and still reads the
// legacy JSON and plain-identifier cookies.
type CookieStore struct {
	jar CookieJar
}

func NewCookieStore(jar CookieJar) *CookieStore {
	return &CookieStore{jar: jar}
}

func (s *CookieStore) Name() string { return StoreNameCookie }

func (s *CookieStore) Load(_ context.Context) (*domain.AttributionRecord, error) {
	if s == nil || s.jar == nil {
		return nil, errors.New("cookie jar is not initialized")
	}

	var decodeErr error
	for _, name := range []string{CookieRecordName, CookieLegacyJSON} {
		raw := s.jar.Cookie(name)
		if raw == "" {
			continue
		}
		rec, err := decodeCookieRecord(raw)
		if err == nil {
			return rec, nil
		}
		decodeErr = fmt.Errorf("cookie %s: %w", name, err)
	}

	if id := strings.TrimSpace(unescapeCookie(s.jar.Cookie(CookieAffiliateID))); id != "" {
		return &domain.AttributionRecord{AffiliateID: id}, nil
	}

	return nil, decodeErr
}

func (s *CookieStore) Save(_ context.Context, rec domain.AttributionRecord, ttl time.Duration) error {
	if s == nil || s.jar == nil {
		return errors.New("cookie jar is not initialized")
	}

	data, err := MarshalRecord(rec)
	if err != nil {
		return fmt.Errorf("failed to encode attribution cookie: %w", err)
	}
	s.jar.SetCookie(CookieRecordName, url.QueryEscape(string(data)), ttl)
	s.jar.SetCookie(CookieAffiliateID, url.QueryEscape(rec.AffiliateID), ttl)
	return nil
}

func (s *CookieStore) Clear(_ context.Context) error {
	if s == nil || s.jar == nil {
		return errors.New("cookie jar is not initialized")
	}
	for _, name := range []string{CookieRecordName, CookieLegacyJSON, CookieAffiliateID} {
		s.jar.SetCookie(name, "", defaultCookieClear)
	}
	return nil
}

func decodeCookieRecord(raw string) (*domain.AttributionRecord, error) {
	return UnmarshalRecord([]byte(unescapeCookie(raw)))
}

func unescapeCookie(raw string) string {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}
