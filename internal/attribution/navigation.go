package attribution

import (
	"errors"
	"net/url"
	"strings"
)

// ErrCrossOrigin means the embedding page exists but its location is not readable.
var ErrCrossOrigin = errors.New("parent location is not readable")

// Navigation exposes the page context a capture reads from.
type Navigation interface {
	CurrentURL() *url.URL
	Embedded() bool
	ParentURL() (*url.URL, error)
}

// PageNavigation is a Navigation assembled from URLs reported by the client.
type PageNavigation struct {
	Current *url.URL
	Parent  *url.URL
	InFrame bool
}

func (n PageNavigation) CurrentURL() *url.URL { return n.Current }

func (n PageNavigation) Embedded() bool { return n.InFrame || n.Parent != nil }

// ParentURL is readable only when the parent shares the current page's origin.
func (n PageNavigation) ParentURL() (*url.URL, error) {
	if n.Parent == nil || !sameOrigin(n.Current, n.Parent) {
		return nil, ErrCrossOrigin
	}
	return n.Parent, nil
}

// NewPageNavigation parses raw client-reported URLs. Unparseable values are
// treated as absent.
func NewPageNavigation(current, parent string, inFrame bool) PageNavigation {
	return PageNavigation{
		Current: parseAbsoluteURL(current),
		Parent:  parseAbsoluteURL(parent),
		InFrame: inFrame,
	}
}

func parseAbsoluteURL(raw string) *url.URL {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil
	}
	return u
}

func sameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Hostname(), b.Hostname()) &&
		effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		return "80"
	case "https":
		return "443"
	}
	return ""
}
