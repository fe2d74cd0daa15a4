package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	bridge "github.com/hglenn2k/azf2s-bridge"
	"github.com/hglenn2k/azf2s-bridge/internal/metric"
	"github.com/hglenn2k/azf2s-bridge/internal/retry"
	"github.com/hglenn2k/azf2s-bridge/internal/store"
)

// memoryClient is an in-memory store.Client covering the commands the
// session store issues.
type memoryClient struct {
	redis.Cmdable

	mu   sync.Mutex
	data map[string]string
}

func newMemoryClient() *memoryClient {
	return &memoryClient{data: make(map[string]string)}
}

func (m *memoryClient) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("PONG")

	return cmd
}

func (m *memoryClient) Close() error { return nil }

func (m *memoryClient) Set(ctx context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}

	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")

	return cmd
}

func (m *memoryClient) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd := redis.NewStringCmd(ctx)

	value, ok := m.data[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}

	cmd.SetVal(value)

	return cmd
}

func (m *memoryClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64

	for _, key := range keys {
		if _, ok := m.data[key]; ok {
			delete(m.data, key)
			removed++
		}
	}

	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(removed)

	return cmd
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	policy := retry.Policy{MaxAttempts: 1, InitialDelay: time.Millisecond, BackoffFactor: 1, MaxDelay: time.Millisecond}

	manager := store.New(
		bridge.StoreConfig{Host: "localhost", Port: 6379, KeyPrefix: "azf2s", OpTimeout: time.Second},
		policy,
		policy,
		zap.NewNop(),
		metric.NewNop(),
		store.WithDialer(func(_ bridge.StoreConfig) store.Client { return newMemoryClient() }),
	)

	return NewStore(manager, time.Hour, zap.NewNop())
}

func testForumSession() *bridge.UpstreamSession {
	return &bridge.UpstreamSession{
		UID:       7,
		Username:  "alice",
		CSRFToken: "abc",
		Cookies:   []string{"express.sid=auth7; Path=/; HttpOnly"},
	}
}

func TestStore_CreateAndFetch(t *testing.T) {
	s := newTestStore(t)

	record, err := s.Create(t.Context(), "alice", testForumSession())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if record.ID == "" {
		t.Fatal("created record has no id")
	}

	got, err := s.Fetch(t.Context(), record.ID)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	if got.Username != "alice" {
		t.Errorf("username = %q; want %q", got.Username, "alice")
	}

	if got.Forum == nil || got.Forum.UID != 7 || got.Forum.CSRFToken != "abc" {
		t.Errorf("forum session = %+v; want the one stored at create", got.Forum)
	}
}

func TestStore_FetchUnknownSession(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Fetch(t.Context(), "nope")

	if bridge.KindOf(err) != bridge.KindSessionMissing {
		t.Errorf("error kind = %q; want %q", bridge.KindOf(err), bridge.KindSessionMissing)
	}
}

func TestStore_ExpiredSessionRemoved(t *testing.T) {
	s := newTestStore(t)

	base := time.Now()
	s.now = func() time.Time { return base }

	record, err := s.Create(t.Context(), "alice", testForumSession())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	s.now = func() time.Time { return base.Add(2 * time.Hour) }

	_, err = s.Fetch(t.Context(), record.ID)
	if bridge.KindOf(err) != bridge.KindSessionMissing {
		t.Fatalf("error kind = %q; want %q for an expired session", bridge.KindOf(err), bridge.KindSessionMissing)
	}

	// The expired record is deleted, so a later fetch misses the same way
	// even if the clock moved back.
	s.now = func() time.Time { return base }

	_, err = s.Fetch(t.Context(), record.ID)
	if bridge.KindOf(err) != bridge.KindSessionMissing {
		t.Errorf("error kind = %q; want the expired record gone from the store", bridge.KindOf(err))
	}
}

func TestStore_SaveForumRewritesSession(t *testing.T) {
	s := newTestStore(t)

	record, err := s.Create(t.Context(), "alice", testForumSession())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	rotated := testForumSession()
	rotated.CSRFToken = "xyz"
	rotated.Cookies = []string{"express.sid=rotated; Path=/; HttpOnly"}

	if err = s.SaveForum(t.Context(), record.ID, rotated); err != nil {
		t.Fatalf("SaveForum error: %v", err)
	}

	got, err := s.Fetch(t.Context(), record.ID)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	if got.Forum.CSRFToken != "xyz" {
		t.Errorf("forum token = %q; want the rewritten %q", got.Forum.CSRFToken, "xyz")
	}

	if got.Forum.CookieHeader() != "express.sid=rotated" {
		t.Errorf("forum cookies = %q; want the rotated cookie", got.Forum.CookieHeader())
	}
}

func TestStore_TouchSlidesExpiry(t *testing.T) {
	s := newTestStore(t)

	base := time.Now()
	s.now = func() time.Time { return base }

	record, err := s.Create(t.Context(), "alice", testForumSession())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	s.now = func() time.Time { return base.Add(30 * time.Minute) }

	if err = s.Touch(t.Context(), record.ID); err != nil {
		t.Fatalf("Touch error: %v", err)
	}

	got, err := s.Fetch(t.Context(), record.ID)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	if want := base.Add(30*time.Minute + time.Hour); !got.ExpiresAt.Equal(want) {
		t.Errorf("expires at %v; want %v", got.ExpiresAt, want)
	}
}

func TestStore_Destroy(t *testing.T) {
	s := newTestStore(t)

	record, err := s.Create(t.Context(), "alice", testForumSession())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if err = s.Destroy(t.Context(), record.ID); err != nil {
		t.Fatalf("Destroy error: %v", err)
	}

	_, err = s.Fetch(t.Context(), record.ID)
	if bridge.KindOf(err) != bridge.KindSessionMissing {
		t.Errorf("error kind = %q; want %q after destroy", bridge.KindOf(err), bridge.KindSessionMissing)
	}
}
