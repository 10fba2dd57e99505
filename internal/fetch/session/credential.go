// Package session implements the authenticated-session JSON fetch strategy.
// It drives a headless browser context seeded with the principal's stored
// session cookies and performs an in-page request against the network's
// internal search endpoint, which returns structured JSON instead of markup.
package session

import (
	"net/url"
	"strings"
)

// csrfCookieName is the cookie whose value doubles as the anti-forgery token
// expected by the internal search endpoint.
const csrfCookieName = "JSESSIONID"

// Cookie is one name/value pair parsed from a stored credential string.
type Cookie struct {
	Name  string
	Value string
}

// ParseCookies splits a raw "k=v; k2=v2" credential string into cookies.
// Malformed fragments are skipped.
func ParseCookies(credential string) []Cookie {
	parts := strings.Split(credential, ";")
	cookies := make([]Cookie, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok || name == "" {
			continue
		}
		cookies = append(cookies, Cookie{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return cookies
}

// CSRFToken derives the anti-forgery token from the credential's session
// cookie. The upstream stores the token quoted ("ajax:123..."); the quotes
// are stripped. Returns "" when no token can be derived.
func CSRFToken(credential string) string {
	for _, c := range ParseCookies(credential) {
		if c.Name == csrfCookieName {
			return strings.Trim(c.Value, `"`)
		}
	}
	return ""
}

// SearchParams extracts the two structured parameters the JSON endpoint
// requires from a network-search URL: the search keywords and the
// session/tracking identifier. ok is false when either is absent.
func SearchParams(target string) (keywords, sid string, ok bool) {
	u, err := url.Parse(target)
	if err != nil {
		return "", "", false
	}
	q := u.Query()
	keywords = q.Get("keywords")
	sid = q.Get("sid")
	return keywords, sid, keywords != "" && sid != ""
}
