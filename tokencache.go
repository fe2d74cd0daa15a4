package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hglenn2k/azf2s-bridge/internal/retry"
)

// maxTokenBodySize bounds the config endpoint response read.
const maxTokenBodySize = 1 << 20

// UpstreamToken is the forum's anti-forgery token together with the cookies
// of the session it belongs to. An expired token must never be sent
// upstream.
type UpstreamToken struct {
	Value      string
	Cookies    []string
	AcquiredAt time.Time
}

// Valid reports whether the token is still within its TTL.
func (t *UpstreamToken) Valid(ttl time.Duration, now time.Time) bool {
	return t != nil && t.Value != "" && now.Sub(t.AcquiredAt) < ttl
}

// TokenCache acquires and caches the forum's CSRF token. One instance is
// shared across all in-flight requests; concurrent refreshes are allowed to
// race since each fetch is idempotent against the upstream, and the cached
// value is replaced atomically under the mutex.
type TokenCache struct {
	baseURL string
	ttl     time.Duration
	policy  retry.Policy
	client  *http.Client
	log     *zap.Logger

	mu     sync.Mutex
	cached *UpstreamToken

	now func() time.Time
}

func NewTokenCache(cfg UpstreamConfig, policy retry.Policy, log *zap.Logger) *TokenCache {
	return &TokenCache{
		baseURL: cfg.BaseURL,
		ttl:     cfg.TokenTTL,
		policy:  policy,
		client:  &http.Client{Timeout: cfg.Timeout},
		log:     log,
		now:     time.Now,
	}
}

// Token returns a valid CSRF token, fetching a fresh one from the forum's
// config endpoint when the cache is empty or expired. When the caller
// already holds session cookies they are attached to the fetch and kept as
// the token's cookies, so a refresh never silently starts a new anonymous
// session. Transient fetch failures are retried per the network policy.
func (tc *TokenCache) Token(ctx context.Context, existingCookies []string) (*UpstreamToken, error) {
	tc.mu.Lock()
	if tc.cached.Valid(tc.ttl, tc.now()) {
		token := *tc.cached
		tc.mu.Unlock()

		return &token, nil
	}
	tc.mu.Unlock()

	token, err := retry.DoValue(ctx, tc.policy, IsTransient, func(ctx context.Context) (*UpstreamToken, error) {
		return tc.fetch(ctx, existingCookies)
	})
	if err != nil {
		return nil, err
	}

	tc.mu.Lock()
	tc.cached = token
	tc.mu.Unlock()

	tc.log.Debug("csrf token refreshed", zap.Time("acquired_at", token.AcquiredAt))

	return token, nil
}

// Invalidate clears the cache, forcing the next Token call to fetch fresh
// state. Called once per detected upstream 401/403.
func (tc *TokenCache) Invalidate() {
	tc.mu.Lock()
	tc.cached = nil
	tc.mu.Unlock()
}

func (tc *TokenCache) fetch(ctx context.Context, existingCookies []string) (*UpstreamToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tc.baseURL+"/api/config", nil)
	if err != nil {
		return nil, E(KindUpstreamProtocol, err)
	}

	if len(existingCookies) > 0 {
		req.Header.Set("Cookie", cookieHeader(existingCookies))
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return nil, E(KindTransientNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, E(KindTransientNetwork, fmt.Errorf("config endpoint returned %d", resp.StatusCode))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, E(KindUpstreamProtocol, fmt.Errorf("config endpoint returned %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBodySize))
	if err != nil {
		return nil, E(KindTransientNetwork, err)
	}

	var payload struct {
		CSRFToken string `json:"csrf_token"`
	}

	if err = json.Unmarshal(body, &payload); err != nil {
		return nil, E(KindUpstreamProtocol, fmt.Errorf("cannot parse config response: %w", err))
	}

	if payload.CSRFToken == "" {
		return nil, E(KindUpstreamProtocol, fmt.Errorf("config response carries no csrf token"))
	}

	cookies := existingCookies
	if len(cookies) == 0 {
		cookies = resp.Header.Values("Set-Cookie")
	}

	return &UpstreamToken{
		Value:      payload.CSRFToken,
		Cookies:    cookies,
		AcquiredAt: tc.now(),
	}, nil
}
