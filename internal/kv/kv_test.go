package kv

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/market-gateway/internal/config"
)

// fakeRest emulates the subset of the REST protocol the gateway uses.
type fakeRest struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]int
	token   string
	failAll bool
}

func newFakeRest(token string) *fakeRest {
	return &fakeRest{values: map[string]string{}, ttls: map[string]int{}, token: token}
}

func (f *fakeRest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failAll {
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+f.token {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.EscapedPath(), "/"), "/")
	for i := range parts {
		parts[i], _ = url.PathUnescape(parts[i])
	}
	reply := map[string]any{}
	switch parts[0] {
	case "get":
		if v, ok := f.values[parts[1]]; ok {
			reply["result"] = v
		} else {
			reply["result"] = nil
		}
	case "set":
		body, _ := io.ReadAll(r.Body)
		f.values[parts[1]] = string(body)
		if ex := r.URL.Query().Get("EX"); ex != "" {
			f.ttls[parts[1]], _ = strconv.Atoi(ex)
		}
		reply["result"] = "OK"
	case "incr":
		n, _ := strconv.ParseInt(f.values[parts[1]], 10, 64)
		n++
		f.values[parts[1]] = strconv.FormatInt(n, 10)
		reply["result"] = n
	case "expire":
		if _, exists := f.values[parts[1]]; !exists {
			reply["result"] = 0
			break
		}
		if len(parts) > 3 && parts[3] == "NX" && f.ttls[parts[1]] > 0 {
			reply["result"] = 0
			break
		}
		f.ttls[parts[1]], _ = strconv.Atoi(parts[2])
		reply["result"] = 1
	case "ping":
		reply["result"] = "PONG"
	default:
		reply["error"] = "ERR unknown command"
	}
	_ = json.NewEncoder(w).Encode(reply)
}

func TestRestStoreRoundTrip(t *testing.T) {
	fake := newFakeRest("secret-token")
	srv := httptest.NewServer(fake)
	defer srv.Close()

	store, err := NewRestStore(srv.URL+"/", "secret-token", time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	_, found, err := store.Get(ctx, "quotes:PETR4,VALE3")
	require.NoError(t, err)
	assert.False(t, found)

	payload := `{"data":[1,2],"timestamp":1700000000000}`
	require.NoError(t, store.Set(ctx, "quotes:PETR4,VALE3", payload, 5*time.Minute))
	assert.Equal(t, 300, fake.ttls["quotes:PETR4,VALE3"])

	v, found, err := store.Get(ctx, "quotes:PETR4,VALE3")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, payload, v)

	n, err := store.Incr(ctx, "rl:collect:1.2.3.4:abcdef")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = store.Incr(ctx, "rl:collect:1.2.3.4:abcdef")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	set, err := store.ExpireNX(ctx, "rl:collect:1.2.3.4:abcdef", 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, set, "counter without a TTL gets one")
	assert.Equal(t, 120, fake.ttls["rl:collect:1.2.3.4:abcdef"])

	require.NoError(t, store.Expire(ctx, "rl:collect:1.2.3.4:abcdef", time.Minute))
	assert.Equal(t, 60, fake.ttls["rl:collect:1.2.3.4:abcdef"])

	set, err = store.ExpireNX(ctx, "rl:collect:1.2.3.4:abcdef", 2*time.Minute)
	require.NoError(t, err)
	assert.False(t, set, "an existing TTL is kept")
	assert.Equal(t, 60, fake.ttls["rl:collect:1.2.3.4:abcdef"])

	assert.NoError(t, store.Ping(ctx))
}

func TestRestStoreErrors(t *testing.T) {
	fake := newFakeRest("secret-token")
	srv := httptest.NewServer(fake)
	defer srv.Close()
	ctx := context.Background()

	wrongToken, err := NewRestStore(srv.URL, "other", time.Second)
	require.NoError(t, err)
	_, _, err = wrongToken.Get(ctx, "k")
	assert.Error(t, err)

	fake.failAll = true
	store, err := NewRestStore(srv.URL, "secret-token", time.Second)
	require.NoError(t, err)
	_, err = store.Incr(ctx, "k")
	assert.True(t, errors.Is(err, ErrUnavailable))

	srv.Close()
	_, _, err = store.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestNewRestStoreRequiresCredentials(t *testing.T) {
	_, err := NewRestStore("", "tok", time.Second)
	assert.Error(t, err)
	_, err = NewRestStore("http://localhost", "", time.Second)
	assert.Error(t, err)
}

func TestMemoryStoreIncrExpire(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := store.Incr(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}

	require.NoError(t, store.Expire(ctx, "counter", 20*time.Millisecond))
	v, found, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "3", v)

	time.Sleep(40 * time.Millisecond)
	_, found, err = store.Get(ctx, "counter")
	require.NoError(t, err)
	assert.False(t, found)

	n, err := store.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryStoreExpireNX(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	set, err := store.ExpireNX(ctx, "missing", time.Minute)
	require.NoError(t, err)
	assert.False(t, set)

	_, err = store.Incr(ctx, "counter")
	require.NoError(t, err)
	set, err = store.ExpireNX(ctx, "counter", 20*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, set)

	set, err = store.ExpireNX(ctx, "counter", time.Hour)
	require.NoError(t, err)
	assert.False(t, set, "the first TTL stays")

	time.Sleep(40 * time.Millisecond)
	_, found, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStoreSetTTL(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", 20*time.Millisecond))
	v, found, _ := store.Get(ctx, "k")
	assert.True(t, found)
	assert.Equal(t, "v", v)

	time.Sleep(40 * time.Millisecond)
	_, found, _ = store.Get(ctx, "k")
	assert.False(t, found)

	_, err := store.Incr(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "s", "text", 0))
	_, err = store.Incr(ctx, "s")
	assert.Error(t, err)
}

func TestOpenSelectsBackend(t *testing.T) {
	env := map[string]string{}
	getenv := func(k string) string { return env[k] }

	cfg := config.Default().Cache

	cfg.Backend = "none"
	store, err := Open(cfg, getenv)
	require.NoError(t, err)
	assert.Nil(t, store)

	cfg.Backend = "rest"
	store, err = Open(cfg, getenv)
	require.NoError(t, err)
	assert.Nil(t, store, "rest without credentials degrades to no cache")

	env["UPSTASH_REDIS_REST_URL"] = "https://kv.example.local"
	env["UPSTASH_REDIS_REST_TOKEN"] = "token-123456789"
	store, err = Open(cfg, getenv)
	require.NoError(t, err)
	assert.IsType(t, &RestStore{}, store)

	cfg.Backend = "memory"
	store, err = Open(cfg, getenv)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	cfg.Backend = "redis"
	store, err = Open(cfg, getenv)
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, store)
	_ = store.Close()

	cfg.Backend = "etcd"
	_, err = Open(cfg, getenv)
	assert.Error(t, err)
}
