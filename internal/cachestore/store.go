// Package cachestore stores origin payloads in the remote KV service wrapped in
// a timestamped envelope, so readers can tell how old an entry is. It never
// fails a request: any backend or decoding problem reads as "not cached".
package cachestore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Rajchodisetti/market-gateway/internal/kv"
	"github.com/Rajchodisetti/market-gateway/internal/observ"
)

// Entry is the stored envelope. Timestamp is unix milliseconds.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Age of the entry at now, truncated to whole seconds and never negative.
func (e Entry) Age(now time.Time) time.Duration {
	age := now.Sub(time.UnixMilli(e.Timestamp))
	if age < 0 {
		return 0
	}
	return age.Truncate(time.Second)
}

type Store struct {
	backend kv.Store // nil disables caching
	name    string
	now     func() time.Time
}

type Option func(*Store)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithName labels metrics and logs with the backend name.
func WithName(name string) Option {
	return func(s *Store) { s.name = name }
}

func New(backend kv.Store, opts ...Option) *Store {
	s := &Store{backend: backend, name: "kv", now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether a backend is configured.
func (s *Store) Enabled() bool { return s != nil && s.backend != nil }

// Get decodes the payload stored under key into dst and returns its age.
// ok is false when the key is absent, the backend is unreachable, or the
// stored value does not decode into dst.
func (s *Store) Get(ctx context.Context, key string, dst any) (age time.Duration, ok bool) {
	if !s.Enabled() {
		return 0, false
	}

	raw, found, err := s.backend.Get(ctx, key)
	if err != nil {
		s.markBackend(false)
		observ.Log("cache_read_error", map[string]any{"key": key, "backend": s.name, "error": err.Error()})
		return 0, false
	}
	s.markBackend(true)
	if !found {
		return 0, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || len(entry.Data) == 0 || entry.Timestamp <= 0 {
		observ.Log("cache_read_error", map[string]any{"key": key, "backend": s.name, "error": "malformed envelope"})
		return 0, false
	}
	if err := json.Unmarshal(entry.Data, dst); err != nil {
		observ.Log("cache_read_error", map[string]any{"key": key, "backend": s.name, "error": err.Error()})
		return 0, false
	}
	return entry.Age(s.now()), true
}

// Set writes payload under key with the given TTL. Failures are logged and
// swallowed.
func (s *Store) Set(ctx context.Context, key string, payload any, ttl time.Duration) {
	if !s.Enabled() {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		observ.Log("cache_write_error", map[string]any{"key": key, "error": err.Error()})
		return
	}
	envelope, err := json.Marshal(Entry{Data: data, Timestamp: s.now().UnixMilli()})
	if err != nil {
		observ.Log("cache_write_error", map[string]any{"key": key, "error": err.Error()})
		return
	}

	if err := s.backend.Set(ctx, key, string(envelope), ttl); err != nil {
		s.markBackend(false)
		observ.Log("cache_write_error", map[string]any{"key": key, "backend": s.name, "error": err.Error()})
		return
	}
	s.markBackend(true)
	observ.IncCounter("cache_writes_total", map[string]string{"backend": s.name})
}

func (s *Store) markBackend(up bool) {
	v := 0.0
	if up {
		v = 1
	}
	observ.SetGauge("cache_backend_up", v, map[string]string{"backend": s.name})
}
