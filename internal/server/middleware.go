package server

import (
	"context"
	"crypto/rand"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hglenn2k/azf2s-bridge/internal/sessions"
)

type contextKey int

const (
	sessionKey contextKey = iota
	requestIDKey
)

// sessionFrom returns the session record the requireSession middleware
// attached to the request context.
func sessionFrom(ctx context.Context) *sessions.Record {
	record, _ := ctx.Value(sessionKey).(*sessions.Record)
	return record
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			entropy := ulid.Monotonic(rand.Reader, math.MaxInt64)
			id = strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String())
		}

		w.Header().Set("X-Request-ID", id)

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// traceRequests opens a server span per request. The global tracer provider
// is a no-op unless tracing is configured, so the middleware is always on.
func traceRequests(next http.Handler) http.Handler {
	tracer := otel.Tracer("azf2s-bridge/server")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			oteltrace.WithSpanKind(oteltrace.SpanKindServer),
			oteltrace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			),
		)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.response.status_code", rec.status))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			log.Debug("request handled",
				zap.String("request_id", requestIDFrom(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// requireSession resolves the signed cookie to a live session record and
// attaches it to the context. Requests without a valid local session never
// reach the forum.
func (h *handlers) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid, err := h.deps.Cookies.Read(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		record, err := h.deps.Sessions.Fetch(r.Context(), sid)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		// Sliding expiry: any authenticated request extends the session.
		if err = h.deps.Sessions.Touch(r.Context(), sid); err != nil {
			h.log.Debug("cannot slide session expiry", zap.String("session_id", sid), zap.Error(err))
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, record)))
	})
}
