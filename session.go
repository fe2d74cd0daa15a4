package bridge

import (
	"encoding/json"
	"strings"
)

// UpstreamSession is the authenticated forum session held on behalf of a
// local user: the cookie jar and CSRF token the forum handed out at login,
// plus the profile data authorization decisions are derived from. It is
// written once at login, its cookies may be rotated during proxying, and it
// dies with the local session.
type UpstreamSession struct {
	UID       int64           `json:"uid"`
	Username  string          `json:"username"`
	CSRFToken string          `json:"csrf_token"`
	Cookies   []string        `json:"cookies"`
	Profile   json.RawMessage `json:"profile,omitempty"`
	IsAdmin   bool            `json:"is_admin"`
}

// Usable reports whether the session carries enough state to authenticate a
// forwarded request in session mode.
func (s *UpstreamSession) Usable() bool {
	return s != nil && s.CSRFToken != "" && len(s.Cookies) > 0
}

// CookieHeader renders the stored Set-Cookie values as a Cookie request
// header value.
func (s *UpstreamSession) CookieHeader() string {
	return cookieHeader(s.Cookies)
}

func cookieHeader(setCookies []string) string {
	pairs := make([]string, 0, len(setCookies))

	for _, sc := range setCookies {
		if pair := cookiePair(sc); pair != "" {
			pairs = append(pairs, pair)
		}
	}

	return strings.Join(pairs, "; ")
}

// cookiePair extracts the leading name=value pair from a raw Set-Cookie
// value, dropping attributes like Path and HttpOnly.
func cookiePair(setCookie string) string {
	pair, _, _ := strings.Cut(setCookie, ";")

	pair = strings.TrimSpace(pair)
	if !strings.Contains(pair, "=") {
		return ""
	}

	return pair
}

func cookieName(setCookie string) string {
	name, _, ok := strings.Cut(cookiePair(setCookie), "=")
	if !ok {
		return ""
	}

	return name
}

// mergeCookies overlays incoming Set-Cookie values onto an existing jar:
// cookies with a matching name are replaced in place, new names are
// appended. Order of first receipt is preserved so rotation never reorders
// the jar.
func mergeCookies(existing, incoming []string) []string {
	merged := make([]string, len(existing))
	copy(merged, existing)

	for _, in := range incoming {
		name := cookieName(in)
		if name == "" {
			continue
		}

		replaced := false

		for i, have := range merged {
			if cookieName(have) == name {
				merged[i] = in
				replaced = true

				break
			}
		}

		if !replaced {
			merged = append(merged, in)
		}
	}

	return merged
}
