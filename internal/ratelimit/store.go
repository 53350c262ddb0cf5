package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Rajchodisetti/market-gateway/internal/kv"
	"github.com/Rajchodisetti/market-gateway/internal/observ"
)

// Counter is the state of one identity's window after an increment.
// ResetAt is zero when the store cannot tell.
type Counter struct {
	Count   int64
	ResetAt time.Time
}

// Store increments the fixed-window counter of an identity.
type Store interface {
	Increment(ctx context.Context, identity string, window time.Duration) (Counter, error)
}

// RemoteStore keeps counters in the shared KV service so every instance sees
// the same window. INCR is atomic; the TTL is set by whoever opens the window,
// and any later hit that finds the key without a TTL sets it.
type RemoteStore struct {
	kv     kv.Store
	prefix string
	now    func() time.Time
}

func NewRemoteStore(backend kv.Store, prefix string) *RemoteStore {
	return &RemoteStore{kv: backend, prefix: prefix, now: time.Now}
}

func (s *RemoteStore) Increment(ctx context.Context, identity string, window time.Duration) (Counter, error) {
	key := s.prefix + identity
	n, err := s.kv.Incr(ctx, key)
	if err != nil {
		return Counter{}, fmt.Errorf("incr %s: %w", key, err)
	}
	c := Counter{Count: n}
	if n == 1 {
		if err := s.kv.Expire(ctx, key, window); err != nil {
			return Counter{}, fmt.Errorf("expire %s: %w", key, err)
		}
		c.ResetAt = s.now().Add(window)
		return c, nil
	}

	// A window whose opening EXPIRE failed would otherwise never close.
	set, err := s.kv.ExpireNX(ctx, key, window)
	if err != nil {
		observ.Log("ratelimit_expire_repair_error", map[string]any{"key": key, "error": err.Error()})
		return c, nil
	}
	if set {
		observ.Log("ratelimit_expire_repaired", map[string]any{"key": key, "count": n})
		c.ResetAt = s.now().Add(window)
	}
	return c, nil
}

// MemoryStore is the per-process fallback. Counters are not shared between
// instances.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*Counter
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: map[string]*Counter{}, now: time.Now}
}

// WithClock overrides time.Now, for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Increment(_ context.Context, identity string, window time.Duration) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[identity]
	if !ok || !now.Before(c.ResetAt) {
		c = &Counter{Count: 0, ResetAt: now.Add(window)}
		s.counters[identity] = c
		s.sweep(now)
	}
	c.Count++
	return *c, nil
}

// sweep drops expired windows once the map grows.
func (s *MemoryStore) sweep(now time.Time) {
	if len(s.counters) < 4096 {
		return
	}
	for id, c := range s.counters {
		if !now.Before(c.ResetAt) {
			delete(s.counters, id)
		}
	}
}
