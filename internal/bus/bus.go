// Package bus is the shared pub/sub and ephemeral key-value fabric (C3)
// that presence, typing, and cross-node session fanout are built on. It
// follows the teacher's Redis usage in internal/websocket/handler.go and
// internal/jwt/jwt_varriables.go, generalized behind an interface so a
// single-node deployment can run without Redis at all, per spec.md §4.3.
package bus

import (
	"context"
	"time"
)

// Message is a single delivery on a subscribed topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscription is a live topic subscription. Callers must Close it when
// done to release the underlying connection or goroutine.
type Subscription interface {
	Channel() <-chan Message
	Close() error
}

// Bus is the shared fabric the rest of the system depends on. All
// methods are safe for concurrent use.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)

	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error

	AddToSet(ctx context.Context, key, member string) error
	RemoveFromSet(ctx context.Context, key, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)

	// Increment atomically bumps key by one, setting its expiry to ttl
	// the first time the key is created within a window, and returns the
	// post-increment count. It backs the fixed-window rate limiter (C8).
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Ping probes connectivity, backing the /health/detailed and /ready
	// dependency checks (C8).
	Ping(ctx context.Context) error

	Close() error
}
