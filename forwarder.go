package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hglenn2k/azf2s-bridge/internal/metric"
	"github.com/hglenn2k/azf2s-bridge/internal/retry"
)

// maxRelayBodySize bounds how much of an upstream response body is read
// back into memory before relaying.
const maxRelayBodySize = 16 << 20

// ProxyRequest is the request-scoped description of an inbound call to be
// replayed against the forum. Never persisted.
type ProxyRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// ProxyResponse relays the forum's answer verbatim. RotatedCookies carries
// any Set-Cookie values the forum issued during the call; the caller must
// persist them into the stored session so later forwards stay synchronized.
type ProxyResponse struct {
	Status         int
	Header         http.Header
	Body           []byte
	RotatedCookies []string
}

// Forwarder translates inbound requests into authenticated calls against
// the single forum origin and relays status, headers, and body back. On a
// 401/403 from the forum it forces one token refresh and retries the call
// exactly once.
type Forwarder struct {
	baseURL  string
	authMode string
	apiToken string
	tokens   *TokenCache
	policy   retry.Policy
	client   *http.Client
	log      *zap.Logger
	metrics  metric.Metrics
}

func NewForwarder(cfg UpstreamConfig, tokens *TokenCache, policy retry.Policy, log *zap.Logger, metrics metric.Metrics) *Forwarder {
	return &Forwarder{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		authMode: cfg.Auth,
		apiToken: cfg.APIToken,
		tokens:   tokens,
		policy:   policy,
		client:   &http.Client{Timeout: cfg.Timeout},
		log:      log,
		metrics:  metrics,
	}
}

// Forward issues the authenticated upstream call for preq. In session mode
// the stored session must carry cookies and a CSRF token; forwarding
// without credentials would silently confuse upstream authorization, so an
// unusable session fails fast with a session-missing error before any
// upstream traffic. Transport failures are retried per the network policy;
// an upstream 401/403 triggers a single forced token refresh and one more
// attempt, after which the response is surfaced unchanged.
func (f *Forwarder) Forward(ctx context.Context, preq *ProxyRequest, sess *UpstreamSession) (*ProxyResponse, error) {
	if f.authMode == AuthSession && !sess.Usable() {
		return nil, E(KindSessionMissing, fmt.Errorf("no usable forum session"))
	}

	if f.authMode == AuthBearer && sess == nil {
		return nil, E(KindSessionMissing, fmt.Errorf("no forum session to derive uid from"))
	}

	start := time.Now()
	f.metrics.IncForwardsTotal(preq.Method)
	defer f.metrics.UpdateForwardDuration(preq.Method, start)

	resp, err := f.attempt(ctx, preq, sess)
	if err != nil {
		return nil, err
	}

	if f.authMode == AuthSession && isUpstreamAuthError(resp.Status) {
		f.log.Info("upstream rejected credentials, forcing token refresh",
			zap.String("method", preq.Method),
			zap.String("path", preq.Path),
			zap.Int("status", resp.Status),
		)

		f.tokens.Invalidate()
		f.metrics.IncTokenRefreshes()

		fresh, err := f.tokens.Token(ctx, sess.Cookies)
		if err != nil {
			return nil, err
		}

		sess.CSRFToken = fresh.Value

		resp, err = f.attempt(ctx, preq, sess)
		if err != nil {
			return nil, err
		}
	}

	if len(resp.RotatedCookies) > 0 && sess != nil {
		sess.Cookies = mergeCookies(sess.Cookies, resp.RotatedCookies)
	}

	return resp, nil
}

// attempt performs one logical upstream call, with transport-level retries.
func (f *Forwarder) attempt(ctx context.Context, preq *ProxyRequest, sess *UpstreamSession) (*ProxyResponse, error) {
	return retry.DoValue(ctx, f.policy, IsTransient, func(ctx context.Context) (*ProxyResponse, error) {
		return f.call(ctx, preq, sess)
	})
}

func (f *Forwarder) call(ctx context.Context, preq *ProxyRequest, sess *UpstreamSession) (*ProxyResponse, error) {
	req, err := f.newRequest(ctx, preq, sess)
	if err != nil {
		return nil, err
	}

	hresp, err := f.client.Do(req)
	if err != nil {
		return nil, E(KindTransientNetwork, err)
	}
	defer hresp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(hresp.Body, maxRelayBodySize+1))
	if err != nil {
		return nil, E(KindTransientNetwork, err)
	}

	// Relaying a truncated body with the original status would hand the
	// client silently corrupted data.
	if len(body) > maxRelayBodySize {
		return nil, E(KindUpstreamProtocol, fmt.Errorf("upstream response body exceeds %d bytes", maxRelayBodySize))
	}

	return &ProxyResponse{
		Status:         hresp.StatusCode,
		Header:         hresp.Header.Clone(),
		Body:           body,
		RotatedCookies: hresp.Header.Values("Set-Cookie"),
	}, nil
}

func (f *Forwarder) newRequest(ctx context.Context, preq *ProxyRequest, sess *UpstreamSession) (*http.Request, error) {
	var body io.Reader
	if len(preq.Body) > 0 && acceptsBody(preq.Method) {
		body = bytes.NewReader(preq.Body)
	}

	target := f.baseURL + "/" + strings.TrimLeft(preq.Path, "/")

	req, err := http.NewRequestWithContext(ctx, preq.Method, target, body)
	if err != nil {
		return nil, E(KindUpstreamProtocol, err)
	}

	f.resolveQuery(req, preq, sess)
	f.resolveHeaders(req, preq, sess)

	return req, nil
}

func (f *Forwarder) resolveQuery(target *http.Request, preq *ProxyRequest, sess *UpstreamSession) {
	q := target.URL.Query()

	for key, values := range preq.Query {
		for _, v := range values {
			q.Add(key, v)
		}
	}

	// The forum's write API resolves the acting user from _uid when a
	// shared bearer token authenticates the call.
	if f.authMode == AuthBearer && sess.UID > 0 {
		q.Set("_uid", strconv.FormatInt(sess.UID, 10))
	}

	target.URL.RawQuery = q.Encode()
}

func (f *Forwarder) resolveHeaders(target *http.Request, preq *ProxyRequest, sess *UpstreamSession) {
	if ct := preq.Header.Get("Content-Type"); ct != "" {
		target.Header.Set("Content-Type", ct)
	}

	if accept := preq.Header.Get("Accept"); accept != "" {
		target.Header.Set("Accept", accept)
	}

	switch f.authMode {
	case AuthBearer:
		target.Header.Set("Authorization", "Bearer "+f.apiToken)
	default:
		target.Header.Set("Cookie", sess.CookieHeader())
		target.Header.Set("X-CSRF-Token", sess.CSRFToken)
	}
}

func acceptsBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func isUpstreamAuthError(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
