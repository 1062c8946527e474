package handler

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/attribution-relay/internal/attribution"
)

const (
	headerVisitorID = "X-Visitor-ID"
	cookieSameSite  = "Lax"
)

// VisitorStoreFactory builds the server-side store for one visitor id. It
// returns nil when the store cannot be built.
type VisitorStoreFactory func(visitorID string) attribution.Store

// fiberCookieJar adapts the request/response cookies of one fiber request.
type fiberCookieJar struct {
	c      *fiber.Ctx
	domain string
}

func newCookieJar(c *fiber.Ctx, domain string) *fiberCookieJar {
	return &fiberCookieJar{c: c, domain: strings.TrimSpace(domain)}
}

func (j *fiberCookieJar) Cookie(name string) string {
	return j.c.Cookies(name)
}

// SetCookie writes a first-party cookie; a negative maxAge expires it.
func (j *fiberCookieJar) SetCookie(name, value string, maxAge time.Duration) {
	cookie := &fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   j.domain,
		Secure:   j.c.Protocol() == "https",
		SameSite: cookieSameSite,
	}
	if maxAge < 0 {
		cookie.Value = ""
		cookie.Expires = time.Now().Add(-24 * time.Hour)
	} else {
		cookie.MaxAge = int(maxAge / time.Second)
		cookie.Expires = time.Now().Add(maxAge)
	}
	j.c.Cookie(cookie)
}

// sessionFactory binds a resolver session to the stores of one request.
type sessionFactory struct {
	resolver     *attribution.Resolver
	visitors     VisitorStoreFactory
	cookieDomain string
}

func (f sessionFactory) session(c *fiber.Ctx, visitorID string) *attribution.Session {
	stores := []attribution.Store{attribution.NewCookieStore(newCookieJar(c, f.cookieDomain))}

	if visitorID = strings.TrimSpace(visitorID); visitorID == "" {
		visitorID = strings.TrimSpace(c.Get(headerVisitorID))
	}
	if visitorID != "" && f.visitors != nil {
		if store := f.visitors(visitorID); store != nil {
			stores = append(stores, store)
		}
	}
	return f.resolver.NewSession(stores...)
}

// navigation describes the page a client-side action came from. The Referer
// header stands in when the client does not report its page.
func navigation(c *fiber.Ctx, pageURI, parentURI string, inFrame bool) attribution.PageNavigation {
	if strings.TrimSpace(pageURI) == "" {
		pageURI = c.Get(fiber.HeaderReferer)
	}
	return attribution.NewPageNavigation(strings.TrimSpace(pageURI), strings.TrimSpace(parentURI), inFrame)
}
