package bridge

import (
	"net/http"
	"testing"
)

func TestMergeCookies(t *testing.T) {
	existing := []string{
		"express.sid=old; Path=/; HttpOnly",
		"csrf=1; Path=/",
	}

	merged := mergeCookies(existing, []string{
		"express.sid=new; Path=/; HttpOnly",
		"extra=x; Path=/",
	})

	if len(merged) != 3 {
		t.Fatalf("merged = %v; want 3 cookies", merged)
	}

	// Same-name cookies are replaced in place, order preserved.
	if cookiePair(merged[0]) != "express.sid=new" {
		t.Errorf("merged[0] = %q; want the rotated sid first", merged[0])
	}

	if cookiePair(merged[1]) != "csrf=1" {
		t.Errorf("merged[1] = %q; want the untouched cookie in place", merged[1])
	}

	if cookiePair(merged[2]) != "extra=x" {
		t.Errorf("merged[2] = %q; want the new cookie appended", merged[2])
	}
}

func TestCookieHeader(t *testing.T) {
	sess := &UpstreamSession{
		Cookies: []string{
			"express.sid=abc; Path=/; HttpOnly; Secure",
			"lang=en; Path=/",
			"malformed",
		},
	}

	if got := sess.CookieHeader(); got != "express.sid=abc; lang=en" {
		t.Errorf("CookieHeader = %q; want attributes and malformed values dropped", got)
	}
}

func TestUpstreamSession_Usable(t *testing.T) {
	tests := []struct {
		name string
		sess *UpstreamSession
		want bool
	}{
		{"nil", nil, false},
		{"empty", &UpstreamSession{}, false},
		{"no cookies", &UpstreamSession{CSRFToken: "abc"}, false},
		{"no token", &UpstreamSession{Cookies: []string{"sid=1"}}, false},
		{"complete", &UpstreamSession{CSRFToken: "abc", Cookies: []string{"sid=1"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sess.Usable(); got != tt.want {
				t.Errorf("Usable() = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want int
	}{
		{KindAuthFailure, http.StatusUnauthorized},
		{KindSessionMissing, http.StatusUnauthorized},
		{KindUnauthenticated, http.StatusUnauthorized},
		{KindUpstreamProtocol, http.StatusBadGateway},
		{KindTransientNetwork, http.StatusServiceUnavailable},
		{KindTransientStore, http.StatusServiceUnavailable},
		{KindConfiguration, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		err := E(tt.kind, nil)
		if got := HTTPStatus(err); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d; want %d", tt.kind, got, tt.want)
		}
	}
}
