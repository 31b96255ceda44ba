package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("cache: key not found")
	ErrClosed   = errors.New("cache: bus closed")
)

// Store represents a simple TTL-based key/value abstraction that can be
// backed by memory, Redis, PostgreSQL, or any other KV store. A zero ttl keeps
// the value until it is deleted.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Event describes a change to a key, published so other instances sharing
// the same Store can react to writes they did not perform.
type Event struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted,omitempty"`
	Origin  string `json:"origin"`
}

// Bus fans change events out to every subscriber, including subscribers in
// other processes when the implementation is backed by a shared server.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns a channel of events that is closed when ctx is done.
	Subscribe(ctx context.Context) (<-chan Event, error)
}
