package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"

	"go.uber.org/zap"

	"github.com/hglenn2k/azf2s-bridge/internal/retry"
)

// adminGroup is the forum group whose members get administrative rights in
// the local application.
const adminGroup = "administrators"

const maxLoginBodySize = 4 << 20

// Bridge establishes forum sessions on behalf of locally authenticated
// users: it runs the token handshake, posts credentials, and pulls the
// user's forum profile into an UpstreamSession for the local session store.
type Bridge struct {
	baseURL string
	tokens  *TokenCache
	policy  retry.Policy
	client  *http.Client
	log     *zap.Logger
}

func NewBridge(cfg UpstreamConfig, tokens *TokenCache, policy retry.Policy, log *zap.Logger) *Bridge {
	return &Bridge{
		baseURL: cfg.BaseURL,
		tokens:  tokens,
		policy:  policy,
		client:  &http.Client{Timeout: cfg.Timeout},
		log:     log,
	}
}

type loginResponse struct {
	Status struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
	User json.RawMessage `json:"user"`
}

// loginResult pairs the decoded login response with the Set-Cookie values
// the forum issued alongside it.
type loginResult struct {
	loginResponse
	cookies []string
}

type forumProfile struct {
	UID             int64    `json:"uid"`
	Username        string   `json:"username"`
	GroupTitleArray []string `json:"groupTitleArray"`
}

// Login performs the forum login handshake and returns a fully populated
// UpstreamSession. Wrong credentials yield an auth failure and are never
// retried; transport failures on each step are retried per the network
// policy. The caller owns attaching the result to the local session.
func (b *Bridge) Login(ctx context.Context, username, password string) (*UpstreamSession, error) {
	token, err := b.tokens.Token(ctx, nil)
	if err != nil {
		return nil, err
	}

	login, err := retry.DoValue(ctx, b.policy, IsTransient, func(ctx context.Context) (*loginResult, error) {
		return b.postCredentials(ctx, token, username, password)
	})
	if err != nil {
		return nil, err
	}

	cookies := mergeCookies(token.Cookies, login.cookies)

	profileRaw, err := b.fetchProfile(ctx, cookies, username)
	if err != nil {
		// The login response sometimes embeds a minimal user payload; use
		// it rather than failing the whole login on a profile hiccup.
		if len(login.User) == 0 {
			b.log.Warn("profile fetch failed with no embedded user payload", zap.String("username", username), zap.Error(err))
			return nil, err
		}

		b.log.Warn("profile fetch failed, falling back to login payload", zap.String("username", username), zap.Error(err))
		profileRaw = login.User
	}

	var profile forumProfile
	if err = json.Unmarshal(profileRaw, &profile); err != nil {
		return nil, E(KindUpstreamProtocol, fmt.Errorf("cannot parse forum profile: %w", err))
	}

	if profile.Username == "" {
		profile.Username = username
	}

	return &UpstreamSession{
		UID:       profile.UID,
		Username:  profile.Username,
		CSRFToken: token.Value,
		Cookies:   cookies,
		Profile:   profileRaw,
		IsAdmin:   slices.Contains(profile.GroupTitleArray, adminGroup),
	}, nil
}

func (b *Bridge) postCredentials(ctx context.Context, token *UpstreamToken, username, password string) (*loginResult, error) {
	payload, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/v3/utilities/login", bytes.NewReader(payload))
	if err != nil {
		return nil, E(KindUpstreamProtocol, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", token.Value)

	if len(token.Cookies) > 0 {
		req.Header.Set("Cookie", cookieHeader(token.Cookies))
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, E(KindTransientNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLoginBodySize))
	if err != nil {
		return nil, E(KindTransientNetwork, err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, E(KindTransientNetwork, fmt.Errorf("login endpoint returned %d", resp.StatusCode))
	case resp.StatusCode >= http.StatusMultipleChoices:
		return nil, E(KindAuthFailure, fmt.Errorf("login endpoint returned %d", resp.StatusCode))
	}

	result := &loginResult{cookies: resp.Header.Values("Set-Cookie")}

	if err = json.Unmarshal(body, &result.loginResponse); err != nil {
		return nil, E(KindUpstreamProtocol, fmt.Errorf("cannot parse login response: %w", err))
	}

	if result.Status.Code != "ok" {
		return nil, E(KindAuthFailure, fmt.Errorf("forum rejected login: %s", result.Status.Code))
	}

	return result, nil
}

// fetchProfile retrieves the forum user record with the authenticated
// cookies. Profile data is mandatory downstream: IsAdmin is derived from
// its group membership.
func (b *Bridge) fetchProfile(ctx context.Context, cookies []string, username string) (json.RawMessage, error) {
	return retry.DoValue(ctx, b.policy, IsTransient, func(ctx context.Context) (json.RawMessage, error) {
		target := b.baseURL + "/api/user/username/" + url.PathEscape(username)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, E(KindUpstreamProtocol, err)
		}

		req.Header.Set("Cookie", cookieHeader(cookies))

		resp, err := b.client.Do(req)
		if err != nil {
			return nil, E(KindTransientNetwork, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, E(KindTransientNetwork, fmt.Errorf("profile endpoint returned %d", resp.StatusCode))
		}

		if resp.StatusCode != http.StatusOK {
			return nil, E(KindUpstreamProtocol, fmt.Errorf("profile endpoint returned %d", resp.StatusCode))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxLoginBodySize))
		if err != nil {
			return nil, E(KindTransientNetwork, err)
		}

		return json.RawMessage(body), nil
	})
}
