package bridge

import (
	"errors"
	"net/http"
)

// Error is the typed failure carried through the bridge. Kind drives both
// retryability decisions and HTTP status mapping; Err holds the original
// cause for logs and is never shown to clients.
type Error struct {
	Kind ErrorKind
	Err  error
}

// Error returns the error kind. The kind is a stable machine-readable code,
// not the underlying cause.
func (e *Error) Error() string {
	return string(e.Kind)
}

// Unwrap returns the original error.
func (e *Error) Unwrap() error {
	return e.Err
}

type ErrorKind string

const (
	// KindConfiguration marks missing or invalid connection/auth parameters.
	// Fatal at startup, never retried.
	KindConfiguration ErrorKind = "configuration"
	// KindAuthFailure marks rejected credentials upstream. Never retried.
	KindAuthFailure ErrorKind = "auth_failure"
	// KindUpstreamProtocol marks a reachable upstream whose response
	// violates the expected shape, such as a missing CSRF token.
	KindUpstreamProtocol ErrorKind = "upstream_protocol"
	// KindTransientNetwork marks timeouts and connection resets against the
	// upstream. Retried per the network policy.
	KindTransientNetwork ErrorKind = "transient_network"
	// KindTransientStore marks a dropped connection or timeout against the
	// persistent store. Retried per the store policy.
	KindTransientStore ErrorKind = "transient_store"
	// KindSessionMissing marks a local session without a usable upstream
	// session. Recoverable only by logging in again.
	KindSessionMissing ErrorKind = "session_missing"
	// KindUnauthenticated marks a request without a local principal.
	KindUnauthenticated ErrorKind = "unauthenticated"
)

// E wraps err with a kind. If the cause chain already carries a *Error that
// kind wins, but err stays the cause so wrapping context added between the
// two is not lost.
func E(kind ErrorKind, err error) *Error {
	var be *Error
	if errors.As(err, &be) {
		return &Error{Kind: be.Kind, Err: err}
	}

	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the kind from err, or an empty kind for untyped errors.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}

	return ""
}

// IsTransient reports whether err is retryable by policy.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindTransientNetwork, KindTransientStore:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error to the status code the local HTTP surface should
// answer with. Untyped errors map to 500.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuthFailure, KindSessionMissing, KindUnauthenticated:
		return http.StatusUnauthorized
	case KindUpstreamProtocol:
		return http.StatusBadGateway
	case KindTransientNetwork, KindTransientStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
