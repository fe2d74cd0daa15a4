// Package store owns the lifecycle of the persistent-store connection:
// lazy initialization, connect-with-retry, health checks, graceful
// disconnect, and a single reconnect cycle when a live operation detects a
// dropped connection. Documents live in named collections as JSON values
// under a configurable key prefix.
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	bridge "github.com/hglenn2k/azf2s-bridge"
	"github.com/hglenn2k/azf2s-bridge/internal/metric"
	"github.com/hglenn2k/azf2s-bridge/internal/retry"
)

// Client is the slice of the redis client the manager and collections use.
// *redis.Client satisfies it; tests substitute fakes.
type Client interface {
	redis.Cmdable
	Close() error
}

// LastError is the most recent failure observed by the manager, kept as a
// side channel in every state.
type LastError struct {
	Message string
	Kind    bridge.ErrorKind
	At      time.Time
}

// State is a snapshot of the connection lifecycle for health endpoints.
type State struct {
	Initialized bool
	Connected   bool
	LastError   *LastError
}

// Manager holds the single logical store connection for the process.
// Concurrent callers may observe a stale disconnected flag and race into
// Connect; the handshake runs under the mutex so they share one client and
// one connection attempt outcome.
type Manager struct {
	cfg           bridge.StoreConfig
	connectPolicy retry.Policy
	opPolicy      retry.Policy
	log           *zap.Logger
	metrics       metric.Metrics

	dial func(cfg bridge.StoreConfig) Client

	mu          sync.Mutex
	client      Client
	initialized bool
	connected   bool
	lastErr     *LastError
}

type Option func(*Manager)

// WithDialer replaces the redis client constructor, primarily for tests.
func WithDialer(dial func(cfg bridge.StoreConfig) Client) Option {
	return func(m *Manager) {
		m.dial = dial
	}
}

func New(cfg bridge.StoreConfig, connectPolicy, opPolicy retry.Policy, log *zap.Logger, metrics metric.Metrics, opts ...Option) *Manager {
	m := &Manager{
		cfg:           cfg,
		connectPolicy: connectPolicy,
		opPolicy:      opPolicy,
		log:           log,
		metrics:       metrics,
		dial: func(cfg bridge.StoreConfig) Client {
			return redis.NewClient(&redis.Options{
				Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
				Username:     cfg.Username,
				Password:     cfg.Password,
				DB:           cfg.DB,
				DialTimeout:  cfg.DialTimeout,
				ReadTimeout:  cfg.OpTimeout,
				WriteTimeout: cfg.OpTimeout,
			})
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Initialize constructs the client object from configuration without
// connecting. Returns false and records the failure when required
// parameters are absent.
func (m *Manager) Initialize() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.initializeLocked()
}

func (m *Manager) initializeLocked() bool {
	if m.initialized {
		return true
	}

	if m.cfg.Host == "" || m.cfg.Port == 0 {
		m.recordErrorLocked(bridge.E(bridge.KindConfiguration, fmt.Errorf("store host/port not configured")))
		m.log.Error("store initialization failed", zap.String("reason", "host/port not configured"))

		return false
	}

	m.client = m.dial(m.cfg)
	m.initialized = true

	return true
}

// Connect establishes the connection, lazily initializing first. Idempotent:
// an already connected manager returns its client immediately. The
// handshake is attempted per the connect policy, which carries a higher
// attempt ceiling than ordinary operations since connection establishment
// is costlier to retry. Authentication failures abort immediately.
func (m *Manager) Connect(ctx context.Context) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return m.client, nil
	}

	if !m.initializeLocked() {
		return nil, bridge.E(bridge.KindConfiguration, fmt.Errorf("store is not configured"))
	}

	err := retry.Do(ctx, m.connectPolicy, retryableStoreErr, func(ctx context.Context) error {
		return classify(m.client.Ping(ctx).Err())
	})
	if err != nil {
		m.recordErrorLocked(err)

		if bridge.KindOf(err) == bridge.KindConfiguration {
			return nil, err
		}

		return nil, bridge.E(bridge.KindTransientStore,
			fmt.Errorf("cannot connect to store at %s:%d after %d attempts: %w", m.cfg.Host, m.cfg.Port, m.connectPolicy.MaxAttempts, err))
	}

	m.connected = true
	m.log.Info("store connected", zap.String("host", m.cfg.Host), zap.Int("port", m.cfg.Port))

	return m.client, nil
}

// Collection resolves a named collection and verifies liveness with a
// lightweight round-trip. A dropped connection resets the connected flag
// and triggers exactly one reconnect-and-retry before giving up;
// authentication failures surface immediately as configuration problems.
func (m *Manager) Collection(ctx context.Context, name string) (*Collection, error) {
	client, err := m.Connect(ctx)
	if err != nil {
		return nil, err
	}

	if err = classify(client.Ping(ctx).Err()); err != nil {
		if bridge.KindOf(err) == bridge.KindConfiguration {
			return nil, err
		}

		m.markDisconnected(err)
		m.metrics.IncStoreReconnects()
		m.log.Warn("store connection dropped, reconnecting", zap.String("collection", name), zap.Error(err))

		if client, err = m.Connect(ctx); err != nil {
			return nil, err
		}
	}

	return &Collection{
		name:      name,
		prefix:    m.cfg.KeyPrefix,
		client:    client,
		policy:    m.opPolicy,
		opTimeout: m.cfg.OpTimeout,
	}, nil
}

// Ping is a best-effort liveness check. Failures degrade to false.
func (m *Manager) Ping(ctx context.Context) bool {
	m.mu.Lock()
	client, connected := m.client, m.connected
	m.mu.Unlock()

	if !connected || client == nil {
		return false
	}

	return client.Ping(ctx).Err() == nil
}

// Disconnect closes the connection gracefully. Idempotent.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected || m.client == nil {
		return nil
	}

	m.connected = false

	if err := m.client.Close(); err != nil {
		return fmt.Errorf("cannot close store client: %w", err)
	}

	m.log.Info("store disconnected")

	return nil
}

// State returns a lifecycle snapshot.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := State{
		Initialized: m.initialized,
		Connected:   m.connected,
	}

	if m.lastErr != nil {
		lastErr := *m.lastErr
		state.LastError = &lastErr
	}

	return state
}

func (m *Manager) markDisconnected(err error) {
	m.mu.Lock()
	m.connected = false
	m.recordErrorLocked(err)
	m.mu.Unlock()
}

func (m *Manager) recordErrorLocked(err error) {
	m.lastErr = &LastError{
		Message: err.Error(),
		Kind:    bridge.KindOf(err),
		At:      time.Now(),
	}
}

// classify turns a redis error into a typed bridge error. go-redis exposes
// no structured auth errors, so the matching on server auth responses is
// confined here.
func classify(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToUpper(err.Error())
	if strings.Contains(msg, "WRONGPASS") || strings.Contains(msg, "NOAUTH") || strings.Contains(msg, "NOPERM") {
		return bridge.E(bridge.KindConfiguration, fmt.Errorf("store authentication failed: %w", err))
	}

	return bridge.E(bridge.KindTransientStore, err)
}

func retryableStoreErr(err error) bool {
	return bridge.KindOf(err) == bridge.KindTransientStore
}
