package kv

import (
	"fmt"
	"strings"
	"time"

	"github.com/Rajchodisetti/market-gateway/internal/config"
	"github.com/Rajchodisetti/market-gateway/internal/observ"
)

// Open builds the backend named in the config. A nil Store with a nil error
// means caching is disabled ("none", or a REST backend without credentials).
func Open(cfg config.Cache, getenv func(string) string) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond

	switch backend {
	case "none", "":
		observ.Log("kv_backend_selected", map[string]any{"backend": "none"})
		return nil, nil

	case "memory":
		observ.Log("kv_backend_selected", map[string]any{"backend": "memory"})
		return NewMemoryStore(time.Minute), nil

	case "redis":
		observ.Log("kv_backend_selected", map[string]any{
			"backend": "redis",
			"addr":    cfg.RedisAddr,
			"db":      cfg.RedisDB,
		})
		return NewRedisStore(cfg.RedisAddr, getenv(cfg.RedisPasswordEnv), cfg.RedisDB, timeout), nil

	case "rest":
		url := strings.TrimSpace(getenv(cfg.RestURLEnv))
		token := strings.TrimSpace(getenv(cfg.RestTokenEnv))
		if url == "" || token == "" {
			observ.Log("kv_backend_fallback", map[string]any{
				"requested": "rest",
				"fallback":  "none",
				"reason":    "missing url or token",
				"url_env":   cfg.RestURLEnv,
			})
			return nil, nil
		}
		store, err := NewRestStore(url, token, timeout)
		if err != nil {
			return nil, err
		}
		observ.Log("kv_backend_selected", map[string]any{
			"backend":      "rest",
			"url":          url,
			"token_masked": observ.Mask(token),
		})
		return store, nil

	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
