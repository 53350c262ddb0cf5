package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Rajchodisetti/market-gateway/internal/adapters"
	"github.com/Rajchodisetti/market-gateway/internal/cachestore"
	"github.com/Rajchodisetti/market-gateway/internal/market"
	"github.com/Rajchodisetti/market-gateway/internal/observ"
	"github.com/Rajchodisetti/market-gateway/internal/ratelimit"
)

// IndexSnapshot is one index line of the overview.
type IndexSnapshot struct {
	Name          string    `json:"name"`
	Value         float64   `json:"value"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type CurrencySnapshot struct {
	Buy       float64   `json:"buy"`
	Sell      float64   `json:"sell"`
	Change    float64   `json:"change"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type MarketOverview struct {
	Ibov         IndexSnapshot    `json:"ibov"`
	Ifix         IndexSnapshot    `json:"ifix"`
	SP500Proxy   IndexSnapshot    `json:"sp500Proxy"`
	USDBRL       CurrencySnapshot `json:"usdBrl"`
	Selic        float64          `json:"selic"`
	CDI          float64          `json:"cdi"`
	UpdatedAt    time.Time        `json:"updatedAt"`
	MarketStatus market.Status    `json:"marketStatus"`
}

type overviewResponse struct {
	MarketOverview
	cacheMeta
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	out, err := Resolve(r.Context(), s.arbiter, "market-overview", cachestore.OverviewKey, s.freshness.Overview, s.fetchOverview)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch market data")
		return
	}
	meta := newCacheMeta(w, out)
	writeJSON(w, http.StatusOK, overviewResponse{MarketOverview: out.Value, cacheMeta: meta})
}

// fetchOverview asks for the index quotes and the macro snapshot in parallel.
// A macro provider without credentials contributes zeros.
func (s *Server) fetchOverview(ctx context.Context) (MarketOverview, error) {
	var (
		quotes []adapters.Quote
		macro  *adapters.MacroSnapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q, err := s.providers.Quotes.FetchQuotes(gctx, s.overviewSymbols)
		quotes = q
		return err
	})
	g.Go(func() error {
		m, err := s.providers.Macro.FetchMacro(gctx)
		if errors.Is(err, adapters.ErrNotConfigured) {
			return nil
		}
		macro = m
		return err
	})
	if err := g.Wait(); err != nil {
		return MarketOverview{}, err
	}

	now := s.now().UTC()
	bySymbol := make(map[string]adapters.Quote, len(quotes))
	for _, q := range quotes {
		bySymbol[strings.ToUpper(q.Symbol)] = q
	}
	index := func(symbol, name string) IndexSnapshot {
		q := bySymbol[symbol]
		return IndexSnapshot{
			Name:          name,
			Value:         q.Price,
			Change:        q.Change,
			ChangePercent: q.ChangePercent,
			UpdatedAt:     now,
		}
	}

	o := MarketOverview{
		UpdatedAt:    now,
		MarketStatus: s.calendar.Status(now),
		USDBRL:       CurrencySnapshot{UpdatedAt: now},
	}
	syms := s.overviewSymbols
	if len(syms) > 0 {
		o.Ibov = index(syms[0], "IBOV")
	}
	if len(syms) > 1 {
		o.Ifix = index(syms[1], "IFIX")
	}
	if len(syms) > 2 {
		o.SP500Proxy = index(syms[2], syms[2])
	}
	if macro != nil {
		if macro.USDBRL != nil {
			o.USDBRL.Buy = macro.USDBRL.Buy
			o.USDBRL.Sell = macro.USDBRL.Sell
			o.USDBRL.Change = macro.USDBRL.Variation
		}
		o.Selic = macro.Selic
		o.CDI = macro.CDI
	}
	return o, nil
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbols := cachestore.NormalizeSymbols(strings.Split(r.URL.Query().Get("symbols"), ","))
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "No symbols provided")
		return
	}

	out, err := Resolve(r.Context(), s.arbiter, "quote", cachestore.QuotesKey(symbols), s.freshness.Quotes,
		func(ctx context.Context) ([]adapters.Quote, error) {
			return s.providers.Quotes.FetchQuotes(ctx, symbols)
		})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch quotes")
		return
	}
	meta := newCacheMeta(w, out)
	writeJSON(w, http.StatusOK, dataResponse[[]adapters.Quote]{Data: out.Value, cacheMeta: meta})
}

func (s *Server) handleHistorical(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := strings.ToUpper(strings.TrimSpace(q.Get("symbol")))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "No symbol provided")
		return
	}
	rng := q.Get("range")
	if rng == "" {
		rng = "1mo"
	}
	if !adapters.ValidRange(rng) {
		writeError(w, http.StatusBadRequest, "Invalid range")
		return
	}

	out, err := Resolve(r.Context(), s.arbiter, "historical", cachestore.HistoricalKey(symbol, rng), s.freshness.Historical,
		func(ctx context.Context) ([]adapters.Candle, error) {
			return s.providers.History.FetchHistory(ctx, symbol, rng)
		})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch historical data")
		return
	}
	meta := newCacheMeta(w, out)
	writeJSON(w, http.StatusOK, dataResponse[[]adapters.Candle]{Data: out.Value, cacheMeta: meta})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.calendar.Status(s.now()))
}

// handleCollect runs the gate sequence: method, authorization, rate limit,
// then the collector.
func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	decision := s.validator.Validate(r)
	if !decision.OK {
		observ.IncCounter("collect_auth_total", map[string]string{"result": "denied", "reason": decision.Reason})
		observ.Log("collect_auth_denied", map[string]any{
			"reason":     decision.Reason,
			"status":     decision.Status,
			"request_id": w.Header().Get(headerRequestID),
		})
		if decision.Status == http.StatusForbidden {
			writeError(w, http.StatusForbidden, "Forbidden")
		} else {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
		}
		return
	}
	observ.IncCounter("collect_auth_total", map[string]string{"result": "allowed", "type": decision.AuthType})

	identity := ratelimit.Identity(r)
	limit := s.limiter.Allow(r.Context(), identity)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limit.Remaining))
	if !limit.Allowed {
		retryAfter := int(limit.RetryAfter / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		observ.Log("collect_rate_limited", map[string]any{
			"identity": identity,
			"count":    limit.Count,
			"backend":  limit.Backend,
		})
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":      "Too many requests",
			"retryAfter": retryAfter,
		})
		return
	}

	observ.Log("collect_started", map[string]any{
		"auth_type": decision.AuthType,
		"subject":   decision.Subject,
		"identity":  identity,
	})
	// The batch outlives a disconnecting caller; the collector's own timeout
	// bounds it.
	summary := s.collector.Run(context.WithoutCancel(r.Context()))
	status := http.StatusOK
	if !summary.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, summary)
}

var availableEndpoints = []string{"market-overview", "quote", "historical", "status", "collect"}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error":              "Invalid endpoint",
		"availableEndpoints": availableEndpoints,
	})
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}
