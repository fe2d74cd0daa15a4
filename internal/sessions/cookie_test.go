package sessions

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	bridge "github.com/hglenn2k/azf2s-bridge"
)

func newTestCookieManager() *CookieManager {
	return NewCookieManager(bridge.SessionConfig{
		SigningKey: "test-signing-key",
		CookieName: "bridge_sid",
		TTL:        time.Hour,
	})
}

func issueCookie(t *testing.T, cm *CookieManager, sessionID string) *http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	if err := cm.Issue(rec, sessionID); err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("issued %d cookies; want 1", len(cookies))
	}

	return cookies[0]
}

func TestCookieManager_RoundTrip(t *testing.T) {
	cm := newTestCookieManager()

	cookie := issueCookie(t, cm, "sess-123")

	if !cookie.HttpOnly {
		t.Error("cookie is not HttpOnly")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(cookie)

	got, err := cm.Read(req)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}

	if got != "sess-123" {
		t.Errorf("session id = %q; want %q", got, "sess-123")
	}
}

func TestCookieManager_MissingCookie(t *testing.T) {
	cm := newTestCookieManager()

	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, err := cm.Read(req)
	if bridge.KindOf(err) != bridge.KindUnauthenticated {
		t.Errorf("error kind = %q; want %q", bridge.KindOf(err), bridge.KindUnauthenticated)
	}
}

func TestCookieManager_TamperedCookieRejected(t *testing.T) {
	cm := newTestCookieManager()

	cookie := issueCookie(t, cm, "sess-123")
	cookie.Value += "x"

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)

	_, err := cm.Read(req)
	if bridge.KindOf(err) != bridge.KindUnauthenticated {
		t.Errorf("error kind = %q; want %q", bridge.KindOf(err), bridge.KindUnauthenticated)
	}
}

func TestCookieManager_ForeignKeyRejected(t *testing.T) {
	cm := newTestCookieManager()

	other := NewCookieManager(bridge.SessionConfig{
		SigningKey: "some-other-key",
		CookieName: "bridge_sid",
		TTL:        time.Hour,
	})

	cookie := issueCookie(t, other, "sess-123")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)

	if _, err := cm.Read(req); err == nil {
		t.Error("Read accepted a cookie signed with a different key")
	}
}

func TestCookieManager_ExpiredCookieRejected(t *testing.T) {
	cm := newTestCookieManager()

	base := time.Now()
	cm.now = func() time.Time { return base }

	cookie := issueCookie(t, cm, "sess-123")

	cm.now = func() time.Time { return base.Add(2 * time.Hour) }

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)

	_, err := cm.Read(req)
	if bridge.KindOf(err) != bridge.KindUnauthenticated {
		t.Errorf("error kind = %q; want %q after expiry", bridge.KindOf(err), bridge.KindUnauthenticated)
	}
}

func TestCookieManager_ClearExpiresCookie(t *testing.T) {
	cm := newTestCookieManager()

	rec := httptest.NewRecorder()
	cm.Clear(rec)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("Clear set %d cookies; want 1", len(cookies))
	}

	if cookies[0].MaxAge >= 0 || cookies[0].Value != "" {
		t.Errorf("cleared cookie = %+v; want an expired empty cookie", cookies[0])
	}
}
