package adapters

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

const mockProvider = "mock"

// MockProvider serves deterministic B3 data for development and tests. It
// implements QuoteFetcher, HistoryFetcher and MacroFetcher.
type MockProvider struct {
	mu           sync.Mutex
	quotes       map[string]Quote
	failing      map[string]bool
	failAll      bool
	macroFail    bool
	macroUnset   bool
	latency      time.Duration
	now          func() time.Time
	quoteCalls   int
	historyCalls int
	macroCalls   int
}

func NewMockProvider() *MockProvider {
	m := &MockProvider{
		quotes:  map[string]Quote{},
		failing: map[string]bool{},
		now:     time.Now,
	}
	for _, q := range []Quote{
		{Symbol: "^BVSP", Name: "Ibovespa", Price: 128450.32, Change: 612.4, ChangePercent: 0.48, Volume: 0},
		{Symbol: "IFIX11", Name: "IFIX", Price: 3321.75, Change: -4.1, ChangePercent: -0.12, Volume: 0},
		{Symbol: "IVVB11", Name: "ISHARES S&P500", Price: 342.1, Change: 1.85, ChangePercent: 0.54, Volume: 410233},
		{Symbol: "PETR4", Name: "PETROBRAS PN", Price: 37.42, Change: 0.31, ChangePercent: 0.84, Volume: 48211300},
		{Symbol: "VALE3", Name: "VALE ON", Price: 61.05, Change: -0.77, ChangePercent: -1.25, Volume: 22108450},
		{Symbol: "ITUB4", Name: "ITAUUNIBANCO PN", Price: 34.9, Change: 0.12, ChangePercent: 0.35, Volume: 18003200},
	} {
		m.quotes[q.Symbol] = q
	}
	return m
}

// Fail makes every fetch involving symbol return a provider error.
func (m *MockProvider) Fail(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[strings.ToUpper(symbol)] = true
}

// SetDown makes every quote and history fetch fail.
func (m *MockProvider) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = down
}

// SetMacro controls the macro fetch: unconfigured returns ErrNotConfigured,
// failing returns a provider error.
func (m *MockProvider) SetMacro(configured, failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.macroUnset = !configured
	m.macroFail = failing
}

func (m *MockProvider) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

func (m *MockProvider) AddQuote(q Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[strings.ToUpper(q.Symbol)] = q
}

// Calls returns how many quote, history and macro fetches were made.
func (m *MockProvider) Calls() (quotes, history, macro int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quoteCalls, m.historyCalls, m.macroCalls
}

func (m *MockProvider) wait(ctx context.Context) error {
	m.mu.Lock()
	d := m.latency
	m.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (m *MockProvider) FetchQuotes(ctx context.Context, symbols []string) ([]Quote, error) {
	m.mu.Lock()
	m.quoteCalls++
	m.mu.Unlock()

	if err := m.wait(ctx); err != nil {
		return nil, NewNetworkError(mockProvider, strings.Join(symbols, ","), "request cancelled", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	out := make([]Quote, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if m.failAll || m.failing[s] {
			return nil, NewProviderError(mockProvider, s, "simulated failure", nil)
		}
		q, ok := m.quotes[s]
		if !ok {
			q = syntheticQuote(s)
		}
		q.UpdatedAt = now
		out = append(out, q)
	}
	return out, nil
}

func (m *MockProvider) FetchHistory(ctx context.Context, symbol, rng string) ([]Candle, error) {
	m.mu.Lock()
	m.historyCalls++
	m.mu.Unlock()

	if err := m.wait(ctx); err != nil {
		return nil, NewNetworkError(mockProvider, symbol, "request cancelled", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if m.failAll || m.failing[symbol] {
		return nil, NewProviderError(mockProvider, symbol, "simulated failure", nil)
	}

	days := rangeDays(rng)
	base := syntheticQuote(symbol).Price
	if q, ok := m.quotes[symbol]; ok {
		base = q.Price
	}
	end := m.now().UTC().Truncate(24 * time.Hour)
	candles := make([]Candle, 0, days)
	for i := days - 1; i >= 0; i-- {
		drift := float64((i*7)%11-5) / 100
		open := base * (1 + drift)
		closePx := open * 1.004
		candles = append(candles, Candle{
			Date:   end.AddDate(0, 0, -i).Format("2006-01-02"),
			Open:   round2(open),
			High:   round2(closePx * 1.006),
			Low:    round2(open * 0.994),
			Close:  round2(closePx),
			Volume: int64(1_000_000 + i*2500),
		})
	}
	return candles, nil
}

func (m *MockProvider) FetchMacro(ctx context.Context) (*MacroSnapshot, error) {
	m.mu.Lock()
	m.macroCalls++
	unset, failing := m.macroUnset, m.macroFail
	m.mu.Unlock()

	if unset {
		return nil, NewNotConfiguredError(mockProvider, "api key not configured")
	}
	if err := m.wait(ctx); err != nil {
		return nil, NewNetworkError(mockProvider, "", "request cancelled", err)
	}
	if failing {
		return nil, NewProviderError(mockProvider, "", "simulated failure", nil)
	}
	return &MacroSnapshot{
		USDBRL: &Currency{Buy: 5.42, Sell: 5.43, Variation: -0.21},
		Selic:  14.9,
		CDI:    14.9,
	}, nil
}

// syntheticQuote derives a stable quote from the symbol name.
func syntheticQuote(symbol string) Quote {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	n := h.Sum32()
	price := 5 + float64(n%9500)/100
	changePct := float64(int(n%400)-200) / 100
	return Quote{
		Symbol:        symbol,
		Name:          fmt.Sprintf("%s MOCK", symbol),
		Price:         round2(price),
		Change:        round2(price * changePct / 100),
		ChangePercent: changePct,
		Volume:        int64(100_000 + n%5_000_000),
	}
}

func rangeDays(rng string) int {
	switch rng {
	case "1d":
		return 1
	case "5d":
		return 5
	case "3mo":
		return 63
	case "6mo":
		return 126
	case "1y":
		return 252
	case "2y":
		return 504
	case "5y":
		return 1260
	default:
		return 21
	}
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
