// Package kv holds the remote key-value backends shared by the response cache
// and the collection rate limiter. Every operation touches a single key and is
// atomic in the backing service.
package kv

import (
	"context"
	"errors"
	"time"
)

// Store is a minimal get/set/incr/expire key-value service.
type Store interface {
	// Get returns found=false with a nil error for a missing key.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// ExpireNX sets a TTL only when the key exists and has none. set reports
	// whether it did.
	ExpireNX(ctx context.Context, key string, ttl time.Duration) (set bool, err error)
	Ping(ctx context.Context) error
	Close() error
}

// ErrUnavailable marks transport-level failures of a backend.
var ErrUnavailable = errors.New("kv backend unavailable")
