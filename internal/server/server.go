// Package server exposes the bridge over HTTP: login/logout/session routes,
// the forum proxy mount, and operational endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	bridge "github.com/hglenn2k/azf2s-bridge"
	"github.com/hglenn2k/azf2s-bridge/internal/metric"
	"github.com/hglenn2k/azf2s-bridge/internal/sessions"
	"github.com/hglenn2k/azf2s-bridge/internal/store"
)

// ForumMount is the path prefix under which every method/path is forwarded
// 1:1 to the forum origin.
const ForumMount = "/forum"

// Authenticator establishes forum sessions from local credentials.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*bridge.UpstreamSession, error)
}

// Forwarder replays an inbound request against the forum with the stored
// session's credentials.
type Forwarder interface {
	Forward(ctx context.Context, preq *bridge.ProxyRequest, sess *bridge.UpstreamSession) (*bridge.ProxyResponse, error)
}

// SessionStore is the slice of the session store the handlers need.
type SessionStore interface {
	Create(ctx context.Context, username string, forum *bridge.UpstreamSession) (*sessions.Record, error)
	Fetch(ctx context.Context, id string) (*sessions.Record, error)
	SaveForum(ctx context.Context, id string, forum *bridge.UpstreamSession) error
	Touch(ctx context.Context, id string) error
	Destroy(ctx context.Context, id string) error
}

// Health reports store connectivity for the health endpoint.
type Health interface {
	Ping(ctx context.Context) bool
	State() store.State
}

type Deps struct {
	Bridge   Authenticator
	Forward  Forwarder
	Sessions SessionStore
	Cookies  *sessions.CookieManager
	Store    Health
	Metrics  metric.Metrics
}

type Server struct {
	http *http.Server
	log  *zap.Logger
}

func New(cfg bridge.Config, deps Deps, log *zap.Logger) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metric.NewNop()
	}

	h := &handlers{
		deps: deps,
		log:  log.Named("http"),
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(traceRequests)
	r.Use(requestLogger(h.log))

	r.Post("/api/auth/login", h.login)
	r.Post("/api/auth/logout", h.logout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireSession)

		r.Get("/api/auth/session", h.session)
		r.Handle(ForumMount+"/*", http.HandlerFunc(h.proxy))
	})

	r.Get("/healthz", h.healthz)

	if cfg.Metrics.Enabled {
		switch cfg.Metrics.Provider {
		// The otel provider exports through the prometheus registry too, so
		// both serve the same scrape endpoint.
		case "prometheus", "otel":
			r.Handle("/metrics", promhttp.Handler())
		default:
			log.Warn("unknown metrics provider, endpoint disabled", zap.String("provider", cfg.Metrics.Provider))
		}
	}

	return &Server{
		log: log,
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      r,
			ReadTimeout:  cfg.Server.Timeout,
			WriteTimeout: cfg.Server.Timeout,
		},
	}
}

// Handler exposes the routing tree, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
