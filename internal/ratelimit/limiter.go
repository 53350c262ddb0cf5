// Package ratelimit implements the fixed-window limiter guarding /collect.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/Rajchodisetti/market-gateway/internal/observ"
)

type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Count      int64
	RetryAfter time.Duration
	Backend    string // "remote" or "memory"
}

type Limiter struct {
	remote   Store // optional
	fallback *MemoryStore
	max      int
	window   time.Duration
}

// NewLimiter uses remote when non-nil and falls back to the in-process store
// whenever the remote store errors.
func NewLimiter(remote Store, fallback *MemoryStore, max int, window time.Duration) *Limiter {
	if fallback == nil {
		fallback = NewMemoryStore()
	}
	return &Limiter{remote: remote, fallback: fallback, max: max, window: window}
}

// Allow counts one request for identity. Denied calls still count.
func (l *Limiter) Allow(ctx context.Context, identity string) Decision {
	counter, backend := l.increment(ctx, identity)

	remaining := l.max - int(counter.Count)
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   counter.Count <= int64(l.max),
		Limit:     l.max,
		Remaining: remaining,
		Count:     counter.Count,
		Backend:   backend,
	}
	if !d.Allowed {
		d.RetryAfter = l.window
	}

	observ.IncCounter("ratelimit_decisions_total", map[string]string{
		"allowed": strconv.FormatBool(d.Allowed),
		"backend": backend,
	})
	return d
}

func (l *Limiter) increment(ctx context.Context, identity string) (Counter, string) {
	if l.remote != nil {
		c, err := l.remote.Increment(ctx, identity, l.window)
		if err == nil {
			return c, "remote"
		}
		observ.Log("ratelimit_remote_error", map[string]any{
			"identity": identity,
			"error":    err.Error(),
		})
	}
	// The in-process store cannot fail.
	c, _ := l.fallback.Increment(ctx, identity, l.window)
	return c, "memory"
}
