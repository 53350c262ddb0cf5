package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/Rajchodisetti/market-gateway/internal/adapters"
	"github.com/Rajchodisetti/market-gateway/internal/auth"
	"github.com/Rajchodisetti/market-gateway/internal/cachestore"
	"github.com/Rajchodisetti/market-gateway/internal/config"
	"github.com/Rajchodisetti/market-gateway/internal/gateway"
	"github.com/Rajchodisetti/market-gateway/internal/kv"
	"github.com/Rajchodisetti/market-gateway/internal/market"
	"github.com/Rajchodisetti/market-gateway/internal/observ"
	"github.com/Rajchodisetti/market-gateway/internal/ratelimit"
	"github.com/Rajchodisetti/market-gateway/internal/storage"
)

var version = "dev"

func main() {
	var cfgPath string
	var addr string
	flag.StringVar(&cfgPath, "config", "config/gateway.yaml", "config path (defaults are used when missing)")
	flag.StringVar(&addr, "addr", "", "listen address (overrides config)")
	flag.Parse()

	cfg := loadConfig(cfgPath)
	cfg.ApplyEnv(os.Getenv)
	if addr != "" {
		cfg.Server.Addr = addr
	}
	observ.SetVersion(version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := kv.Open(cfg.Cache, os.Getenv)
	if err != nil {
		log.Fatalf("open cache backend: %v", err)
	}
	if backend != nil {
		defer backend.Close()
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := backend.Ping(pctx); err != nil {
			// Reads keep working against the origin; the cache reports itself down.
			observ.Log("kv_ping_failed", map[string]any{"backend": cfg.Cache.Backend, "error": err.Error()})
		}
		cancel()
	}
	cache := cachestore.New(backend, cachestore.WithName(cfg.Cache.Backend))

	providers, err := adapters.NewProviders(cfg.Origin, os.Getenv)
	if err != nil {
		log.Fatalf("origin providers: %v", err)
	}

	calendar, err := market.NewCalendar(cfg.Market)
	if err != nil {
		log.Fatalf("market calendar: %v", err)
	}

	authCfg := auth.ConfigFrom(cfg.Auth, os.Getenv)
	observ.Log("collect_auth_configured", map[string]any{
		"internal_token": authCfg.InternalToken != "",
		"jwt_secret":     authCfg.JWTSecret != "",
		"claim":          authCfg.ClaimName + "=" + authCfg.ClaimValue,
	})
	validator := auth.NewValidator(authCfg)

	var remote ratelimit.Store
	if backend != nil {
		remote = ratelimit.NewRemoteStore(backend, cfg.RateLimit.KeyPrefix)
	}
	limiter := ratelimit.NewLimiter(remote, ratelimit.NewMemoryStore(), cfg.RateLimit.MaxRequests, cfg.RateLimit.Window())

	var sink gateway.SnapshotSink
	if dsn := os.Getenv(cfg.Storage.PostgresDSNEnv); dsn != "" {
		pg, err := storage.Open(ctx, dsn)
		if err != nil {
			log.Fatalf("open snapshot store: %v", err)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("snapshot schema: %v", err)
		}
		sink = pg
		observ.Log("snapshot_store_enabled", map[string]any{"driver": "postgres"})
	}

	collector := gateway.NewCollector(gateway.CollectorConfig{
		Watchlist:    cfg.Collector.Watchlist,
		Pacing:       time.Duration(cfg.Collector.PacingMs) * time.Millisecond,
		BatchTimeout: time.Duration(cfg.Collector.TimeoutMs) * time.Millisecond,
		FetchTimeout: cfg.Origin.RequestTimeout(),
		QuotePolicy:  cfg.Freshness.Quotes,
	}, providers.Quotes, providers.Macro, cache, sink)

	srv := gateway.NewServer(gateway.Deps{
		Cache:           cache,
		Providers:       providers,
		Calendar:        calendar,
		Validator:       validator,
		Limiter:         limiter,
		Collector:       collector,
		Freshness:       cfg.Freshness,
		OverviewSymbols: cfg.Origin.OverviewSymbols,
		OriginTimeout:   cfg.Origin.RequestTimeout(),
		BasePath:        cfg.Server.BasePath,
		AllowedOrigin:   cfg.Server.AllowedOrigin,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
	}

	observ.Log("startup", map[string]any{
		"version":       version,
		"addr":          cfg.Server.Addr,
		"base_path":     cfg.Server.BasePath,
		"origin":        cfg.Origin.Adapter,
		"cache_backend": cfg.Cache.Backend,
		"cache_enabled": cache.Enabled(),
		"watchlist":     len(cfg.Collector.Watchlist),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	case <-ctx.Done():
		observ.Log("shutdown", map[string]any{"reason": "signal"})
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(sctx); err != nil {
			observ.Log("shutdown_error", map[string]any{"error": err.Error()})
		}
	}
}

func loadConfig(path string) config.Root {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		observ.Log("config_defaults", map[string]any{"path": path, "reason": "file not found"})
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	return cfg
}
