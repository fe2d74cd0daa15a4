// Package sessions persists local session records in the store and binds
// browsers to them with a signed cookie. Each record carries the user's
// forum session under one field; rotating forum cookies are written back
// through SaveForum so concurrent forwards read fresh state.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	bridge "github.com/hglenn2k/azf2s-bridge"
	"github.com/hglenn2k/azf2s-bridge/internal/store"
)

const collectionName = "sessions"

// Record is one local session document.
type Record struct {
	ID        string                  `json:"id"`
	Username  string                  `json:"username"`
	Forum     *bridge.UpstreamSession `json:"forum,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
	ExpiresAt time.Time               `json:"expires_at"`
}

func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store reads and writes session records through the connection manager.
type Store struct {
	manager *store.Manager
	ttl     time.Duration
	log     *zap.Logger

	now func() time.Time
}

func NewStore(manager *store.Manager, ttl time.Duration, log *zap.Logger) *Store {
	return &Store{
		manager: manager,
		ttl:     ttl,
		log:     log,
		now:     time.Now,
	}
}

func (s *Store) collection(ctx context.Context) (*store.Collection, error) {
	return s.manager.Collection(ctx, collectionName)
}

// Create persists a fresh session record for username, carrying the forum
// session established at login.
func (s *Store) Create(ctx context.Context, username string, forum *bridge.UpstreamSession) (*Record, error) {
	col, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	record := &Record{
		ID:        uuid.NewString(),
		Username:  username,
		Forum:     forum,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	if err = col.Insert(ctx, record.ID, record, s.ttl); err != nil {
		return nil, err
	}

	return record, nil
}

// Fetch loads a session record. Unknown and expired sessions both surface
// as session-missing, prompting re-login.
func (s *Store) Fetch(ctx context.Context, id string) (*Record, error) {
	col, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}

	var record Record

	if err = col.Get(ctx, id, &record); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, bridge.E(bridge.KindSessionMissing, fmt.Errorf("session %s not found", id))
		}

		return nil, err
	}

	if record.Expired(s.now()) {
		if err = col.Delete(ctx, id); err != nil {
			s.log.Warn("cannot delete expired session", zap.String("session_id", id), zap.Error(err))
		}

		return nil, bridge.E(bridge.KindSessionMissing, fmt.Errorf("session %s expired", id))
	}

	return &record, nil
}

// SaveForum rewrites the forum session inside an existing record, keeping
// the record's remaining lifetime. Used to persist rotated forum cookies
// after a forward.
func (s *Store) SaveForum(ctx context.Context, id string, forum *bridge.UpstreamSession) error {
	record, err := s.Fetch(ctx, id)
	if err != nil {
		return err
	}

	record.Forum = forum

	col, err := s.collection(ctx)
	if err != nil {
		return err
	}

	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return bridge.E(bridge.KindSessionMissing, fmt.Errorf("session %s expired", id))
	}

	return col.Insert(ctx, id, record, ttl)
}

// Touch slides the record's expiry forward by the configured TTL.
func (s *Store) Touch(ctx context.Context, id string) error {
	record, err := s.Fetch(ctx, id)
	if err != nil {
		return err
	}

	record.ExpiresAt = s.now().Add(s.ttl)

	col, err := s.collection(ctx)
	if err != nil {
		return err
	}

	return col.Insert(ctx, id, record, s.ttl)
}

// Destroy removes the record; the forum session dies with it.
func (s *Store) Destroy(ctx context.Context, id string) error {
	col, err := s.collection(ctx)
	if err != nil {
		return err
	}

	return col.Delete(ctx, id)
}
