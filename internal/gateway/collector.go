package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rajchodisetti/market-gateway/internal/adapters"
	"github.com/Rajchodisetti/market-gateway/internal/cachestore"
	"github.com/Rajchodisetti/market-gateway/internal/config"
	"github.com/Rajchodisetti/market-gateway/internal/observ"
)

// SnapshotSink persists a collected batch.
type SnapshotSink interface {
	Persist(ctx context.Context, collectedAt time.Time, quotes []adapters.Quote, macro *adapters.MacroSnapshot) error
}

// CollectSummary is the /collect response body.
type CollectSummary struct {
	Success         bool                    `json:"success"`
	Quotes          []adapters.Quote        `json:"quotes"`
	Macro           *adapters.MacroSnapshot `json:"macro"`
	QuotesCount     int                     `json:"quotesCount"`
	FailedSymbols   []string                `json:"failedSymbols"`
	ExecutionTimeMs int64                   `json:"executionTimeMs"`
	CollectedAt     time.Time               `json:"collectedAt"`
	Persisted       bool                    `json:"persisted"`
	Error           string                  `json:"error,omitempty"`
}

type CollectorConfig struct {
	Watchlist    []string
	Pacing       time.Duration
	BatchTimeout time.Duration
	FetchTimeout time.Duration
	QuotePolicy  config.Policy
}

// Collector fetches the watchlist one symbol at a time, pacing the calls so
// the origin's free tier is not tripped.
type Collector struct {
	cfg    CollectorConfig
	quotes adapters.QuoteFetcher
	macro  adapters.MacroFetcher
	cache  *cachestore.Store
	sink   SnapshotSink // optional
	sleep  func(context.Context, time.Duration) error
	now    func() time.Time
}

func NewCollector(cfg CollectorConfig, quotes adapters.QuoteFetcher, macro adapters.MacroFetcher, cache *cachestore.Store, sink SnapshotSink) *Collector {
	return &Collector{
		cfg:    cfg,
		quotes: quotes,
		macro:  macro,
		cache:  cache,
		sink:   sink,
		sleep:  sleepCtx,
		now:    time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run collects one batch. Individual symbol or macro failures never fail the
// batch; only a panic or a cancelled context does.
func (c *Collector) Run(ctx context.Context) (summary CollectSummary) {
	start := time.Now()
	collectedAt := c.now().UTC()
	summary = CollectSummary{
		Quotes:        []adapters.Quote{},
		FailedSymbols: []string{},
		CollectedAt:   collectedAt,
	}

	if c.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.BatchTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			summary.Success = false
			summary.Error = fmt.Sprintf("collector panic: %v", r)
			observ.Log("collect_panic", map[string]any{"panic": fmt.Sprint(r)})
		}
		summary.QuotesCount = len(summary.Quotes)
		summary.ExecutionTimeMs = time.Since(start).Milliseconds()

		result := "success"
		if !summary.Success {
			result = "failure"
		}
		observ.IncCounter("collect_runs_total", map[string]string{"result": result})
		observ.RecordDuration("collect_duration", time.Since(start), nil)
		observ.Log("collect_finished", map[string]any{
			"success":        summary.Success,
			"quotes":         summary.QuotesCount,
			"failed_symbols": summary.FailedSymbols,
			"persisted":      summary.Persisted,
			"duration_ms":    summary.ExecutionTimeMs,
		})
	}()

	for i, symbol := range c.cfg.Watchlist {
		if i > 0 {
			if err := c.sleep(ctx, c.cfg.Pacing); err != nil {
				summary.Error = fmt.Sprintf("collection cancelled: %v", err)
				return summary
			}
		}

		q, err := c.fetchOne(ctx, symbol)
		if err != nil {
			if ctx.Err() != nil {
				summary.Error = fmt.Sprintf("collection cancelled: %v", ctx.Err())
				return summary
			}
			summary.FailedSymbols = append(summary.FailedSymbols, symbol)
			observ.IncCounter("collect_symbol_errors_total", map[string]string{"kind": string(adapters.KindOf(err))})
			observ.Log("collect_symbol_error", map[string]any{"symbol": symbol, "error": err.Error()})
			continue
		}
		summary.Quotes = append(summary.Quotes, q)
		c.cache.Set(ctx, cachestore.QuotesKey([]string{q.Symbol}), []adapters.Quote{q}, c.cfg.QuotePolicy.TTL())
	}

	summary.Macro = c.fetchMacro(ctx)

	if c.sink != nil {
		if err := c.sink.Persist(ctx, collectedAt, summary.Quotes, summary.Macro); err != nil {
			observ.Log("collect_persist_error", map[string]any{"error": err.Error()})
		} else {
			summary.Persisted = true
		}
	}

	summary.Success = true
	return summary
}

func (c *Collector) fetchOne(ctx context.Context, symbol string) (adapters.Quote, error) {
	fctx, cancel := c.fetchContext(ctx)
	defer cancel()

	quotes, err := c.quotes.FetchQuotes(fctx, []string{symbol})
	if err != nil {
		return adapters.Quote{}, err
	}
	if len(quotes) == 0 {
		return adapters.Quote{}, adapters.NewBadResponseError("collector", symbol, "no quote returned", nil)
	}
	return quotes[0], nil
}

func (c *Collector) fetchMacro(ctx context.Context) *adapters.MacroSnapshot {
	if c.macro == nil {
		return nil
	}
	fctx, cancel := c.fetchContext(ctx)
	defer cancel()

	macro, err := c.macro.FetchMacro(fctx)
	switch {
	case errors.Is(err, adapters.ErrNotConfigured):
		observ.Log("collect_macro_skipped", map[string]any{"reason": err.Error()})
		return nil
	case err != nil:
		observ.Log("collect_macro_error", map[string]any{"error": err.Error()})
		return nil
	}
	return macro
}

func (c *Collector) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.FetchTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.FetchTimeout)
	}
	return context.WithCancel(ctx)
}
