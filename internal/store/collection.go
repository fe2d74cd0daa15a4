package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hglenn2k/azf2s-bridge/internal/retry"
)

// ErrNotFound marks a lookup for a document that does not exist. Not a
// transient failure; never retried.
var ErrNotFound = errors.New("document not found")

// Collection is a named set of JSON documents stored under
// "<prefix>:<collection>:<id>". All operations run with a per-call timeout
// and are retried per the store policy; retried operations are idempotent
// by construction (SET/GET/DEL semantics).
type Collection struct {
	name      string
	prefix    string
	client    Client
	policy    retry.Policy
	opTimeout time.Duration
}

func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) key(id string) string {
	return c.prefix + ":" + c.name + ":" + id
}

// Insert stores doc under id. A zero ttl keeps the document until deleted.
func (c *Collection) Insert(ctx context.Context, id string, doc any, ttl time.Duration) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("cannot marshal document %q: %w", id, err)
	}

	return c.do(ctx, func(ctx context.Context) error {
		return c.client.Set(ctx, c.key(id), data, ttl).Err()
	})
}

// Get unmarshals the document under id into out.
func (c *Collection) Get(ctx context.Context, id string, out any) error {
	var data string

	err := c.do(ctx, func(ctx context.Context) error {
		var opErr error
		data, opErr = c.client.Get(ctx, c.key(id)).Result()

		return opErr
	})
	if err != nil {
		return err
	}

	if err = json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("cannot unmarshal document %q: %w", id, err)
	}

	return nil
}

// Expire resets the document's ttl, for sliding expiries.
func (c *Collection) Expire(ctx context.Context, id string, ttl time.Duration) error {
	return c.do(ctx, func(ctx context.Context) error {
		ok, opErr := c.client.Expire(ctx, c.key(id), ttl).Result()
		if opErr != nil {
			return opErr
		}

		if !ok {
			return redis.Nil
		}

		return nil
	})
}

func (c *Collection) Delete(ctx context.Context, id string) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.client.Del(ctx, c.key(id)).Err()
	})
}

// IDs lists the ids of every document in the collection via SCAN.
func (c *Collection) IDs(ctx context.Context) ([]string, error) {
	pattern := c.key("*")
	stripLen := len(c.key(""))

	var ids []string

	err := c.do(ctx, func(ctx context.Context) error {
		ids = ids[:0]

		iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			ids = append(ids, iter.Val()[stripLen:])
		}

		return iter.Err()
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

func (c *Collection) Count(ctx context.Context) (int, error) {
	ids, err := c.IDs(ctx)
	if err != nil {
		return 0, err
	}

	return len(ids), nil
}

// do wraps one operation with the per-call timeout, retry policy, and error
// classification.
func (c *Collection) do(ctx context.Context, op func(ctx context.Context) error) error {
	return retry.Do(ctx, c.policy, retryableStoreErr, func(ctx context.Context) error {
		opCtx := ctx
		if c.opTimeout > 0 {
			var cancel context.CancelFunc
			opCtx, cancel = context.WithTimeout(ctx, c.opTimeout)
			defer cancel()
		}

		err := op(opCtx)
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}

		return classify(err)
	})
}
