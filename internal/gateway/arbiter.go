package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rajchodisetti/market-gateway/internal/cachestore"
	"github.com/Rajchodisetti/market-gateway/internal/config"
	"github.com/Rajchodisetti/market-gateway/internal/observ"
)

type CacheState string

const (
	CacheHit   CacheState = "HIT"
	CacheMiss  CacheState = "MISS"
	CacheStale CacheState = "STALE"
)

// ErrNoData means the origin failed and nothing was cached.
var ErrNoData = errors.New("no data available")

// Outcome is what the arbiter decided to serve. OriginErr is set for STALE.
type Outcome[T any] struct {
	Value     T
	State     CacheState
	Age       time.Duration
	OriginErr error
}

// Arbiter decides between the cached payload and a fresh origin fetch.
type Arbiter struct {
	cache   *cachestore.Store
	timeout time.Duration
}

func NewArbiter(cache *cachestore.Store, originTimeout time.Duration) *Arbiter {
	return &Arbiter{cache: cache, timeout: originTimeout}
}

// Resolve serves key under policy: a hot entry is returned as is, otherwise
// the origin is asked. A successful fetch is written back; a failed one falls
// back to whatever entry exists.
func Resolve[T any](ctx context.Context, a *Arbiter, endpoint, key string, policy config.Policy, fetch func(context.Context) (T, error)) (Outcome[T], error) {
	var cached T
	age, found := a.cache.Get(ctx, key, &cached)
	if found && age < policy.Hot() {
		count(endpoint, CacheHit)
		return Outcome[T]{Value: cached, State: CacheHit, Age: age}, nil
	}

	fctx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	fresh, err := fetch(fctx)
	if err == nil {
		a.cache.Set(ctx, key, fresh, policy.TTL())
		if found {
			observ.Log("cache_refreshed", map[string]any{
				"endpoint":    endpoint,
				"key":         key,
				"old_age_sec": int64(age / time.Second),
			})
		}
		count(endpoint, CacheMiss)
		return Outcome[T]{Value: fresh, State: CacheMiss}, nil
	}

	if found {
		observ.Log("cache_stale_served", map[string]any{
			"endpoint": endpoint,
			"key":      key,
			"age_sec":  int64(age / time.Second),
			"error":    err.Error(),
		})
		count(endpoint, CacheStale)
		return Outcome[T]{Value: cached, State: CacheStale, Age: age, OriginErr: err}, nil
	}

	observ.Log("origin_unavailable", map[string]any{
		"endpoint": endpoint,
		"key":      key,
		"error":    err.Error(),
	})
	return Outcome[T]{}, fmt.Errorf("%w: %w", ErrNoData, err)
}

func count(endpoint string, state CacheState) {
	observ.IncCounter("gateway_responses_total", map[string]string{
		"endpoint": endpoint,
		"cache":    string(state),
	})
}
