package adapters

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Rajchodisetti/market-gateway/internal/config"
	"github.com/Rajchodisetti/market-gateway/internal/observ"
)

func TestProviderHealthTransitions(t *testing.T) {
	observ.Reset()
	now := time.Date(2026, 10, 16, 13, 0, 0, 0, time.UTC)
	ph := NewProviderHealth("brapi")
	ph.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		ph.RecordSuccess(10 * time.Millisecond)
	}
	assert.Equal(t, ProviderStatusHealthy, ph.Status())

	ph.RecordError(NewNetworkError("brapi", "PETR4", "timeout", nil))
	assert.Equal(t, ProviderStatusDegraded, ph.Status())

	for i := 0; i < 4; i++ {
		ph.RecordError(errors.New("boom"))
	}
	assert.Equal(t, ProviderStatusFailed, ph.Status())

	ph.RecordSuccess(10 * time.Millisecond)
	assert.Equal(t, ProviderStatusFailed, ph.Status(), "no recovery inside the window")

	now = now.Add(3 * time.Minute)
	ph.RecordSuccess(10 * time.Millisecond)
	assert.Equal(t, ProviderStatusHealthy, ph.Status())

	assert.Equal(t, int64(5), observ.CounterTotal("origin_errors_by_kind"))
	snap := ph.Snapshot()
	assert.Equal(t, int64(5), snap["error_count"])
}

func TestDailyBudgetResets(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	b := NewDailyBudget(2, func() time.Time { return now })

	assert.True(t, b.Take())
	assert.True(t, b.Take())
	assert.False(t, b.Take())

	now = now.Add(25 * time.Hour)
	assert.True(t, b.Take())
	used, limit, _ := b.Usage()
	assert.Equal(t, 1, used)
	assert.Equal(t, 2, limit)
}

func TestNewProvidersSelectsAdapter(t *testing.T) {
	getenv := func(string) string { return "" }
	cfg := config.Default().Origin

	cfg.Adapter = "mock"
	p, err := NewProviders(cfg, getenv)
	assert.NoError(t, err)
	assert.IsType(t, &MockProvider{}, p.Quotes)

	cfg.Adapter = "brapi"
	p, err = NewProviders(cfg, getenv)
	assert.NoError(t, err)
	assert.IsType(t, &BrapiClient{}, p.Quotes)
	assert.IsType(t, &BrapiClient{}, p.History)
	assert.IsType(t, &HGBrasilClient{}, p.Macro)

	cfg.Adapter = "polygon"
	p, err = NewProviders(cfg, getenv)
	assert.NoError(t, err)
	assert.IsType(t, &MockProvider{}, p.Macro)
}
