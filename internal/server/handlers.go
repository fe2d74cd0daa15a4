package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	bridge "github.com/hglenn2k/azf2s-bridge"
	"github.com/hglenn2k/azf2s-bridge/internal/metric"
)

// maxInboundBodySize bounds request bodies accepted for forwarding.
const maxInboundBodySize = 16 << 20

type handlers struct {
	deps Deps
	log  *zap.Logger
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionSummary struct {
	Username string `json:"username"`
	UID      int64  `json:"uid"`
	IsAdmin  bool   `json:"is_admin"`
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxInboundBodySize)).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		bridge.WriteError(w, bridge.ClientErrInvalidCredentials, http.StatusBadRequest)
		return
	}

	forum, err := h.deps.Bridge.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.deps.Metrics.IncLogins(false)
		h.writeError(w, r, err)

		return
	}

	h.deps.Metrics.IncLogins(true)

	record, err := h.deps.Sessions.Create(r.Context(), forum.Username, forum)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err = h.deps.Cookies.Issue(w, record.ID); err != nil {
		h.log.Error("cannot issue session cookie", zap.Error(err))
		bridge.WriteError(w, bridge.ClientErrInternal, http.StatusInternalServerError)

		return
	}

	bridge.WriteData(w, http.StatusOK, sessionSummary{
		Username: forum.Username,
		UID:      forum.UID,
		IsAdmin:  forum.IsAdmin,
	})
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	// Logout is best-effort: the cookie is cleared even when the record is
	// already gone.
	if sid, err := h.deps.Cookies.Read(r); err == nil {
		if err = h.deps.Sessions.Destroy(r.Context(), sid); err != nil {
			h.log.Warn("cannot destroy session record", zap.Error(err))
		}
	}

	h.deps.Cookies.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) session(w http.ResponseWriter, r *http.Request) {
	record := sessionFrom(r.Context())

	summary := sessionSummary{Username: record.Username}
	if record.Forum != nil {
		summary.UID = record.Forum.UID
		summary.IsAdmin = record.Forum.IsAdmin
	}

	bridge.WriteData(w, http.StatusOK, summary)
}

// proxy forwards any method/path under the forum mount 1:1 to the upstream
// origin and relays the result verbatim.
func (h *handlers) proxy(w http.ResponseWriter, r *http.Request) {
	record := sessionFrom(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboundBodySize))
	if err != nil {
		bridge.WriteError(w, bridge.ClientErrInternal, http.StatusInternalServerError)
		return
	}

	preq := &bridge.ProxyRequest{
		Method: r.Method,
		Path:   strings.TrimPrefix(r.URL.Path, ForumMount),
		Query:  r.URL.Query(),
		Header: r.Header,
		Body:   body,
	}

	resp, err := h.deps.Forward.Forward(r.Context(), preq, record.Forum)
	if err != nil {
		h.writeForwardError(w, r, err)
		return
	}

	if len(resp.RotatedCookies) > 0 {
		// Forum cookie rotation must not be lost between requests.
		if err = h.deps.Sessions.SaveForum(r.Context(), record.ID, record.Forum); err != nil {
			h.log.Warn("cannot persist rotated forum cookies",
				zap.String("request_id", requestIDFrom(r.Context())),
				zap.Error(err),
			)
		}
	}

	relay(w, resp)
}

// relay copies the upstream status, headers, and body to the client.
func relay(w http.ResponseWriter, resp *bridge.ProxyResponse) {
	for name, values := range resp.Header {
		if skipRelayHeader(name) {
			continue
		}

		for _, v := range values {
			w.Header().Add(name, v)
		}
	}

	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func skipRelayHeader(name string) bool {
	switch http.CanonicalHeaderKey(name) {
	case "Connection", "Keep-Alive", "Transfer-Encoding", "Content-Length":
		return true
	default:
		return false
	}
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	state := h.deps.Store.State()
	alive := h.deps.Store.Ping(r.Context())

	status := http.StatusOK
	if !alive {
		status = http.StatusServiceUnavailable
	}

	payload := map[string]any{
		"store": map[string]any{
			"initialized": state.Initialized,
			"connected":   state.Connected,
			"alive":       alive,
		},
	}

	if state.LastError != nil {
		payload["store"].(map[string]any)["last_error"] = state.LastError.Message
	}

	bridge.WriteData(w, status, payload)
}

// writeForwardError is writeError plus the forward-failure metric; only the
// proxy path counts against it.
func (h *handlers) writeForwardError(w http.ResponseWriter, r *http.Request, err error) {
	h.deps.Metrics.IncFailedForwards(failReason(bridge.ClientCode(err)))
	h.writeError(w, r, err)
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := bridge.HTTPStatus(err)
	code := bridge.ClientCode(err)

	h.log.Info("request failed",
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("code", code.String()),
		zap.Int("status", status),
		zap.Error(err),
	)

	bridge.WriteError(w, code, status)
}

func failReason(code bridge.ClientError) metric.FailReason {
	switch code {
	case bridge.ClientErrUnauthenticated:
		return metric.FailReasonUnauthenticated
	case bridge.ClientErrSessionMissing:
		return metric.FailReasonSessionMissing
	case bridge.ClientErrInvalidCredentials:
		return metric.FailReasonAuthFailure
	case bridge.ClientErrUpstreamMalformed, bridge.ClientErrUpstreamUnavailable:
		return metric.FailReasonUpstreamError
	case bridge.ClientErrStoreUnavailable:
		return metric.FailReasonStoreError
	default:
		return metric.FailReasonInternal
	}
}
