// Package cache implements the read-through, write-invalidate projection of
// the registry. The store stays authoritative: every cache failure degrades
// to an uncached read and is logged, never returned to the caller of a
// mutation.
package cache

import (
	"context"
	"time"
)

// Backend is a key/value store holding serialized query results.
type Backend interface {
	// Name identifies the backend in logs and the admin status view.
	Name() string
	Ping(ctx context.Context) error
	// Get reports ok=false on a miss.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeletePrefix removes every key starting with prefix and returns them.
	DeletePrefix(ctx context.Context, prefix string) ([]string, error)
	Close() error
}
