package ephemeral

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable reports that the ephemeral store cannot be reached. Callers
// treat it as the signal to degrade to the durable store.
var ErrUnavailable = errors.New("ephemeral store unavailable")

// Store is the ephemeral state store contract. Implementations must provide
// per-key expiry, an atomic create-if-absent write, client-side pipelines,
// and pattern pub/sub.
//
// Pipelines batch writes from the client's point of view; they are not
// transactional with respect to other clients. The only cross-client atomic
// primitive is SetStringNX, which lock acquisition relies on.
type Store interface {
	GetString(ctx context.Context, key string) (string, bool, error)
	SetString(ctx context.Context, key, value string, ttl time.Duration) error

	// SetStringNX writes only if the key is absent. Returns false when the
	// key already existed.
	SetStringNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	HashSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error

	SetAdd(ctx context.Context, key, member string) error
	SetRemove(ctx context.Context, key, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)

	// Scan iterates keys matching a glob pattern. Implementations must use
	// cursor-based iteration, never a blocking full keyspace walk.
	Scan(ctx context.Context, pattern string) ([]string, error)

	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	// Pipeline starts a batch of writes executed together on Exec.
	Pipeline() Pipeline

	Publish(ctx context.Context, channel string, payload []byte) error

	// PatternSubscribe routes every message on channels matching pattern to
	// handler until the subscription is closed. Handler runs on the
	// subscription's delivery goroutine.
	PatternSubscribe(ctx context.Context, pattern string, handler func(channel string, payload []byte)) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// Pipeline accumulates writes and executes them as one batch.
type Pipeline interface {
	SetString(key, value string, ttl time.Duration)
	HashSet(key string, fields map[string]string, ttl time.Duration)
	SetAdd(key, member string)
	SetRemove(key, member string)
	Delete(keys ...string)
	Expire(key string, ttl time.Duration)
	Exec(ctx context.Context) error
}

// Subscription is an active pattern subscription.
type Subscription interface {
	Close() error
}
