package sessions

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	bridge "github.com/hglenn2k/azf2s-bridge"
)

// CookieManager signs and verifies the browser-facing session cookie. The
// cookie carries only the session ID; all session state stays server-side.
type CookieManager struct {
	signingKey []byte
	cookieName string
	ttl        time.Duration
	secure     bool

	now func() time.Time
}

type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

func NewCookieManager(cfg bridge.SessionConfig) *CookieManager {
	return &CookieManager{
		signingKey: []byte(cfg.SigningKey),
		cookieName: cfg.CookieName,
		ttl:        cfg.TTL,
		secure:     cfg.Secure,
		now:        time.Now,
	}
}

// Issue sets the signed session cookie for the given session ID.
func (cm *CookieManager) Issue(w http.ResponseWriter, sessionID string) error {
	now := cm.now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cm.ttl)),
		},
	})

	signed, err := token.SignedString(cm.signingKey)
	if err != nil {
		return fmt.Errorf("cannot sign session cookie: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cm.cookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(cm.ttl.Seconds()),
		HttpOnly: true,
		Secure:   cm.secure,
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// Read extracts and verifies the session ID from the request cookie. Any
// missing, malformed, or expired cookie surfaces as unauthenticated.
func (cm *CookieManager) Read(r *http.Request) (string, error) {
	cookie, err := r.Cookie(cm.cookieName)
	if err != nil {
		return "", bridge.E(bridge.KindUnauthenticated, fmt.Errorf("no session cookie"))
	}

	var claims sessionClaims

	_, err = jwt.ParseWithClaims(cookie.Value, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}

		return cm.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(cm.now))
	if err != nil {
		return "", bridge.E(bridge.KindUnauthenticated, fmt.Errorf("invalid session cookie: %w", err))
	}

	if claims.SessionID == "" {
		return "", bridge.E(bridge.KindUnauthenticated, fmt.Errorf("session cookie carries no session id"))
	}

	return claims.SessionID, nil
}

// Clear expires the session cookie.
func (cm *CookieManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cm.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cm.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
