// Package gateway serves cached Brazilian market data over HTTP and runs the
// privileged bulk collector.
package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Rajchodisetti/market-gateway/internal/adapters"
	"github.com/Rajchodisetti/market-gateway/internal/auth"
	"github.com/Rajchodisetti/market-gateway/internal/cachestore"
	"github.com/Rajchodisetti/market-gateway/internal/config"
	"github.com/Rajchodisetti/market-gateway/internal/market"
	"github.com/Rajchodisetti/market-gateway/internal/observ"
	"github.com/Rajchodisetti/market-gateway/internal/ratelimit"
)

const headerRequestID = "X-Request-Id"

const corsAllowHeaders = "authorization, x-client-info, apikey, content-type, x-internal-token"

// Deps are the collaborators a Server needs. Now defaults to time.Now.
type Deps struct {
	Cache           *cachestore.Store
	Providers       adapters.Providers
	Calendar        *market.Calendar
	Validator       *auth.Validator
	Limiter         *ratelimit.Limiter
	Collector       *Collector
	Freshness       config.Freshness
	OverviewSymbols []string
	OriginTimeout   time.Duration
	BasePath        string
	AllowedOrigin   string
	Now             func() time.Time
}

type Server struct {
	providers       adapters.Providers
	arbiter         *Arbiter
	calendar        *market.Calendar
	validator       *auth.Validator
	limiter         *ratelimit.Limiter
	collector       *Collector
	freshness       config.Freshness
	overviewSymbols []string
	basePath        string
	allowedOrigin   string
	now             func() time.Time
}

func NewServer(d Deps) *Server {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	origin := d.AllowedOrigin
	if origin == "" {
		origin = "*"
	}
	return &Server{
		providers:       d.Providers,
		arbiter:         NewArbiter(d.Cache, d.OriginTimeout),
		calendar:        d.Calendar,
		validator:       d.Validator,
		limiter:         d.Limiter,
		collector:       d.Collector,
		freshness:       d.Freshness,
		overviewSymbols: d.OverviewSymbols,
		basePath:        strings.TrimRight(d.BasePath, "/"),
		allowedOrigin:   origin,
		now:             now,
	}
}

// Routes builds the router. Gateway endpoints live under the base path;
// /health, /healthz and /metrics stay at the root.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.cors)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)

	r.NotFound(handleNotFound)
	r.MethodNotAllowed(handleMethodNotAllowed)

	r.Method(http.MethodGet, "/health", observ.HealthHandler())
	r.Method(http.MethodGet, "/healthz", observ.Health())
	r.Method(http.MethodGet, "/metrics", observ.Handler())

	p := s.basePath
	r.Get(p+"/market-overview", s.handleOverview)
	r.Get(p+"/quote", s.handleQuote)
	r.Get(p+"/historical", s.handleHistorical)
	r.Get(p+"/status", s.handleStatus)
	r.HandleFunc(p+"/collect", s.handleCollect)
	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}

// cors decorates every response and answers preflight requests itself.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		observ.RecordDuration("http_request_duration", time.Since(start), map[string]string{"route": route})
		observ.IncCounter("http_requests_total", map[string]string{
			"route":  route,
			"method": r.Method,
			"status": statusClass(status),
		})
		observ.Log("http_request", map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  w.Header().Get(headerRequestID),
			"cache":       w.Header().Get("X-Cache"),
		})
	})
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
