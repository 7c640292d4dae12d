// Package urlnorm turns raw URLs into comparable crawl targets.
package urlnorm

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned when no host can be extracted from a URL.
var ErrInvalidURL = errors.New("invalid url")

const wwwPrefix = "www."

// Target is an immutable, normalized view of a URL.
type Target struct {
	// URL is the input as given (trimmed).
	URL string
	// Key identifies the page; www and non-www hosts share a key.
	Key string
	// SiteRoot is scheme://host/ without a leading www.
	SiteRoot string
	// SiteRootWWW is SiteRoot with the www. prefix.
	SiteRootWWW string
}

// Normalize parses raw and derives its key and site roots. When the host
// cannot be extracted it still returns a usable Target that treats the raw
// string as its own site root, together with ErrInvalidURL.
func Normalize(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.Hostname() == "" {
		return Target{URL: raw, Key: raw, SiteRoot: raw, SiteRootWWW: raw},
			fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	bare := strings.TrimPrefix(strings.ToLower(u.Hostname()), wwwPrefix)
	port := u.Port()
	if port == defaultPortForScheme(scheme) {
		port = ""
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	key := scheme + "://" + withPort(bare, port) + path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}

	return Target{
		URL:         raw,
		Key:         key,
		SiteRoot:    scheme + "://" + withPort(bare, port) + "/",
		SiteRootWWW: scheme + "://" + withPort(wwwPrefix+bare, port) + "/",
	}, nil
}

// Key returns the normalized key of raw, or raw itself when it cannot be parsed.
func Key(raw string) string {
	t, _ := Normalize(raw)
	return t.Key
}

// Resolve resolves href against base. Absolute hrefs are returned unchanged.
func Resolve(base, href string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, fmt.Errorf("parse link: %w", err)
	}
	if ref.IsAbs() {
		return ref, nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base: %w", err)
	}
	return b.ResolveReference(ref), nil
}

func withPort(host, port string) string {
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port == "" {
		return host
	}
	return host + ":" + port
}

func defaultPortForScheme(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}
