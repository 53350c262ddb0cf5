package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/market-gateway/internal/kv"
)

type countingKV struct {
	kv.Store
	incrErr     error
	failExpires int // the next n Expire calls fail
	expires     int
	repairs     int
	lastTTL     time.Duration
}

func (c *countingKV) Incr(ctx context.Context, key string) (int64, error) {
	if c.incrErr != nil {
		return 0, c.incrErr
	}
	return c.Store.Incr(ctx, key)
}

func (c *countingKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	c.expires++
	if c.failExpires > 0 {
		c.failExpires--
		return kv.ErrUnavailable
	}
	c.lastTTL = ttl
	return c.Store.Expire(ctx, key, ttl)
}

func (c *countingKV) ExpireNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	set, err := c.Store.ExpireNX(ctx, key, ttl)
	if set {
		c.repairs++
	}
	return set, err
}

func TestLimiterBoundary(t *testing.T) {
	l := NewLimiter(nil, NewMemoryStore(), 10, time.Minute)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		d := l.Allow(ctx, "1.2.3.4:abcdef")
		require.True(t, d.Allowed, "call %d", i)
		assert.Equal(t, 10-i, d.Remaining)
	}

	d := l.Allow(ctx, "1.2.3.4:abcdef")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, int64(11), d.Count)
	assert.Equal(t, time.Minute, d.RetryAfter)
	assert.Equal(t, "memory", d.Backend)

	other := l.Allow(ctx, "5.6.7.8:abcdef")
	assert.True(t, other.Allowed, "identities are isolated")
	assert.Equal(t, 9, other.Remaining)
}

func TestMemoryStoreWindowReset(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	c, _ := store.Increment(ctx, "id", time.Minute)
	assert.Equal(t, int64(1), c.Count)
	assert.Equal(t, now.Add(time.Minute), c.ResetAt)
	c, _ = store.Increment(ctx, "id", time.Minute)
	assert.Equal(t, int64(2), c.Count)

	now = now.Add(time.Minute)
	c, _ = store.Increment(ctx, "id", time.Minute)
	assert.Equal(t, int64(1), c.Count, "a new window starts at resetAt")
}

func TestRemoteStoreOpensWindowOnFirstHit(t *testing.T) {
	backend := &countingKV{Store: kv.NewMemoryStore(time.Minute)}
	store := NewRemoteStore(backend, "rl:collect:")
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		c, err := store.Increment(ctx, "1.2.3.4:no-key", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, c.Count)
	}
	assert.Equal(t, 1, backend.expires)
	assert.Zero(t, backend.repairs, "later hits keep the window's TTL")
	assert.Equal(t, time.Minute, backend.lastTTL)

	v, found, err := backend.Get(ctx, "rl:collect:1.2.3.4:no-key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "3", v)
}

func TestLimiterRecoversFromFailedWindowExpiry(t *testing.T) {
	backend := &countingKV{Store: kv.NewMemoryStore(time.Minute), failExpires: 1}
	window := 50 * time.Millisecond
	l := NewLimiter(NewRemoteStore(backend, "rl:collect:"), NewMemoryStore(), 3, window)
	ctx := context.Background()

	first := l.Allow(ctx, "id")
	assert.True(t, first.Allowed)
	assert.Equal(t, "memory", first.Backend, "the failed EXPIRE falls back for this call")

	second := l.Allow(ctx, "id")
	assert.Equal(t, "remote", second.Backend)
	assert.Equal(t, int64(2), second.Count)
	assert.Equal(t, 1, backend.repairs, "the next hit gives the key its TTL")

	l.Allow(ctx, "id")
	assert.False(t, l.Allow(ctx, "id").Allowed)

	time.Sleep(4 * window)
	d := l.Allow(ctx, "id")
	assert.True(t, d.Allowed, "the window closes after a failed expiry")
	assert.Equal(t, int64(1), d.Count)
	assert.Equal(t, "remote", d.Backend)
}

func TestRemoteStoreRepairsKeyWithoutTTLOnRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	backend := kv.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer backend.Close()
	require.NoError(t, mr.Set("rl:collect:id", "5"))

	store := NewRemoteStore(backend, "rl:collect:")
	c, err := store.Increment(context.Background(), "id", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(6), c.Count)
	assert.Equal(t, time.Minute, mr.TTL("rl:collect:id"))
	assert.False(t, c.ResetAt.IsZero())

	mr.FastForward(time.Minute)
	c, err = store.Increment(context.Background(), "id", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Count)
}

func TestLimiterFallsBackOnRemoteError(t *testing.T) {
	backend := &countingKV{Store: kv.NewMemoryStore(time.Minute), incrErr: kv.ErrUnavailable}
	l := NewLimiter(NewRemoteStore(backend, "rl:collect:"), NewMemoryStore(), 2, time.Minute)
	ctx := context.Background()

	d := l.Allow(ctx, "id")
	assert.True(t, d.Allowed)
	assert.Equal(t, "memory", d.Backend)
	l.Allow(ctx, "id")
	assert.False(t, l.Allow(ctx, "id").Allowed, "fallback still enforces the limit")

	backend.incrErr = nil
	d = l.Allow(ctx, "id")
	assert.Equal(t, "remote", d.Backend)
	assert.True(t, d.Allowed)
}

func TestIdentity(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:    "forwarded for with internal key",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1", "X-Internal-Key": "key-0123456789"},
			want:    "203.0.113.7:456789",
		},
		{
			name:    "cloudflare ip and apikey",
			headers: map[string]string{"CF-Connecting-IP": "198.51.100.2", "apikey": "anon-abcdef"},
			want:    "198.51.100.2:abcdef",
		},
		{
			name:    "internal token",
			headers: map[string]string{"X-Internal-Token": "tok-XYZ987"},
			remote:  "192.0.2.10:5555",
			want:    "192.0.2.10:XYZ987",
		},
		{
			name:    "bearer",
			headers: map[string]string{"Authorization": "Bearer aaa.bbb.cccddd"},
			remote:  "192.0.2.10:5555",
			want:    "192.0.2.10:cccddd",
		},
		{
			name:   "no credential",
			remote: "192.0.2.10:5555",
			want:   "192.0.2.10:no-key",
		},
		{
			name:    "short credential",
			headers: map[string]string{"apikey": "abc"},
			remote:  "192.0.2.10:5555",
			want:    "192.0.2.10:abc",
		},
		{
			name: "no address",
			want: "unknown-ip:no-key",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/collect", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, Identity(r))
		})
	}
}
