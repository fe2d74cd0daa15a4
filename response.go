package bridge

import (
	"encoding/json"
	"net/http"
)

// ClientResponse is the envelope for JSON answers the bridge itself
// produces. Proxied forum responses are relayed verbatim and do not use it.
type ClientResponse struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []ClientError   `json:"errors,omitempty"`
}

type ClientError string

func (err ClientError) String() string {
	return string(err)
}

const (
	ClientErrUnauthenticated     ClientError = "UNAUTHENTICATED"
	ClientErrSessionMissing      ClientError = "SESSION_MISSING"
	ClientErrInvalidCredentials  ClientError = "INVALID_CREDENTIALS"
	ClientErrUpstreamMalformed   ClientError = "UPSTREAM_MALFORMED"
	ClientErrUpstreamUnavailable ClientError = "UPSTREAM_UNAVAILABLE"
	ClientErrStoreUnavailable    ClientError = "STORE_UNAVAILABLE"
	ClientErrInternal            ClientError = "INTERNAL"
)

// ClientCode maps a typed bridge error to the code shown to clients.
func ClientCode(err error) ClientError {
	switch KindOf(err) {
	case KindUnauthenticated:
		return ClientErrUnauthenticated
	case KindSessionMissing:
		return ClientErrSessionMissing
	case KindAuthFailure:
		return ClientErrInvalidCredentials
	case KindUpstreamProtocol:
		return ClientErrUpstreamMalformed
	case KindTransientNetwork:
		return ClientErrUpstreamUnavailable
	case KindTransientStore:
		return ClientErrStoreUnavailable
	default:
		return ClientErrInternal
	}
}

func WriteError(w http.ResponseWriter, code ClientError, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := ClientResponse{
		Data:   nil,
		Errors: []ClientError{code},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		// Fallback on error
		http.Error(w, http.StatusText(status), status)
	}
}

// WriteData writes a success envelope.
func WriteData(w http.ResponseWriter, status int, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		WriteError(w, ClientErrInternal, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ClientResponse{Data: raw})
}
