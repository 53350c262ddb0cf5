package kv

import (
	"context"
	"fmt"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps keys in process. It is not shared between instances.
type MemoryStore struct {
	// mu serialises incr/expire, which read and rewrite an item
	mu    sync.Mutex
	cache *cache.Cache
}

func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &MemoryStore{cache: cache.New(cache.NoExpiration, cleanupInterval)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	obj, found := s.cache.Get(key)
	if !found {
		return "", false, nil
	}
	switch v := obj.(type) {
	case string:
		return v, true, nil
	case int64:
		return fmt.Sprintf("%d", v), true, nil
	default:
		return "", false, fmt.Errorf("memory kv get %s: unexpected type %T", key, obj)
	}
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.cache.Set(key, value, expiration(ttl))
	return nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, exp, found := s.cache.GetWithExpiration(key)
	if !found {
		s.cache.Set(key, int64(1), cache.NoExpiration)
		return 1, nil
	}
	n, ok := obj.(int64)
	if !ok {
		return 0, fmt.Errorf("memory kv incr %s: value is not an integer", key)
	}
	n++
	s.cache.Set(key, n, remaining(exp))
	return n, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, found := s.cache.Get(key)
	if !found {
		return nil
	}
	s.cache.Set(key, obj, expiration(ttl))
	return nil
}

func (s *MemoryStore) ExpireNX(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, exp, found := s.cache.GetWithExpiration(key)
	if !found || !exp.IsZero() {
		return false, nil
	}
	s.cache.Set(key, obj, expiration(ttl))
	return true, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	s.cache.Flush()
	return nil
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return cache.NoExpiration
	}
	return ttl
}

// remaining converts an absolute expiry back to a duration for re-setting
func remaining(exp time.Time) time.Duration {
	if exp.IsZero() {
		return cache.NoExpiration
	}
	d := time.Until(exp)
	if d <= 0 {
		return time.Nanosecond
	}
	return d
}
