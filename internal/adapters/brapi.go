package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const brapiProvider = "brapi"

// maxBodyBytes bounds how much of an origin response is read.
const maxBodyBytes = 4 << 20

// BrapiConfig holds configuration for the BRAPI client
type BrapiConfig struct {
	BaseURL           string
	Token             string // optional, public tier when empty
	RequestsPerSecond float64
	DailyCap          int
	Timeout           time.Duration
	MaxRetries        int
	BackoffBase       time.Duration
}

// BrapiClient fetches B3 quotes and daily candles from brapi.dev. It serves
// both QuoteFetcher and HistoryFetcher.
type BrapiClient struct {
	cfg         BrapiConfig
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	budget      *DailyBudget
	health      *ProviderHealth
	now         func() time.Time
}

func NewBrapiClient(cfg BrapiConfig) (*BrapiClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("brapi base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 250 * time.Millisecond
	}

	return &BrapiClient{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		budget:      NewDailyBudget(cfg.DailyCap, nil),
		health:      NewProviderHealth(brapiProvider),
		now:         time.Now,
	}, nil
}

func (c *BrapiClient) Health() *ProviderHealth { return c.health }

// BudgetStatus returns current daily budget usage
func (c *BrapiClient) BudgetStatus() (used, total int, resetAt time.Time) {
	return c.budget.Usage()
}

type brapiResponse struct {
	Results []brapiResult `json:"results"`
	Error   bool          `json:"error"`
	Message string        `json:"message"`
}

type brapiResult struct {
	Symbol                     string        `json:"symbol"`
	ShortName                  string        `json:"shortName"`
	LongName                   string        `json:"longName"`
	RegularMarketPrice         float64       `json:"regularMarketPrice"`
	RegularMarketChange        float64       `json:"regularMarketChange"`
	RegularMarketChangePercent float64       `json:"regularMarketChangePercent"`
	RegularMarketVolume        float64       `json:"regularMarketVolume"`
	HistoricalDataPrice        []brapiCandle `json:"historicalDataPrice"`
}

type brapiCandle struct {
	Date   int64   `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// FetchQuotes requests all symbols in a single call.
func (c *BrapiClient) FetchQuotes(ctx context.Context, symbols []string) ([]Quote, error) {
	if len(symbols) == 0 {
		return nil, NewBadResponseError(brapiProvider, "", "no symbols requested", nil)
	}
	label := strings.Join(symbols, ",")

	start := time.Now()
	resp, err := c.get(ctx, label, escapeSymbols(symbols), nil)
	if err == nil {
		err = validateResults(resp, label)
	}
	c.health.Observe(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	updatedAt := c.now().UTC()
	quotes := make([]Quote, 0, len(resp.Results))
	for _, r := range resp.Results {
		name := r.ShortName
		if name == "" {
			name = r.LongName
		}
		if name == "" {
			name = r.Symbol
		}
		quotes = append(quotes, Quote{
			Symbol:        r.Symbol,
			Name:          name,
			Price:         r.RegularMarketPrice,
			Change:        r.RegularMarketChange,
			ChangePercent: r.RegularMarketChangePercent,
			Volume:        int64(r.RegularMarketVolume),
			UpdatedAt:     updatedAt,
		})
	}
	return quotes, nil
}

// FetchHistory returns daily candles; a result without price history yields an
// empty slice.
func (c *BrapiClient) FetchHistory(ctx context.Context, symbol, rng string) ([]Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, NewBadResponseError(brapiProvider, "", "empty symbol", nil)
	}

	start := time.Now()
	resp, err := c.get(ctx, symbol, url.PathEscape(symbol), url.Values{
		"range":    {rng},
		"interval": {"1d"},
	})
	if err == nil {
		err = validateResults(resp, symbol)
	}
	c.health.Observe(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	if len(resp.Results) == 0 {
		return []Candle{}, nil
	}
	history := resp.Results[0].HistoricalDataPrice
	candles := make([]Candle, 0, len(history))
	for _, h := range history {
		candles = append(candles, Candle{
			Date:   time.Unix(h.Date, 0).UTC().Format("2006-01-02"),
			Open:   h.Open,
			High:   h.High,
			Low:    h.Low,
			Close:  h.Close,
			Volume: int64(h.Volume),
		})
	}
	return candles, nil
}

// validateResults rejects payloads flagged as errors and results without a
// symbol.
func validateResults(resp *brapiResponse, label string) error {
	if resp.Error {
		msg := resp.Message
		if msg == "" {
			msg = "provider reported an error"
		}
		return NewProviderError(brapiProvider, label, msg, nil)
	}
	for _, r := range resp.Results {
		if strings.TrimSpace(r.Symbol) == "" {
			return NewBadResponseError(brapiProvider, label, "result without symbol", nil)
		}
	}
	return nil
}

func escapeSymbols(symbols []string) string {
	escaped := make([]string, len(symbols))
	for i, s := range symbols {
		escaped[i] = url.PathEscape(s)
	}
	return strings.Join(escaped, ",")
}

// get performs one logical request with budget, pacing and retries.
func (c *BrapiClient) get(ctx context.Context, label, path string, params url.Values) (*brapiResponse, error) {
	if !c.budget.Take() {
		return nil, NewRateLimitError(brapiProvider, label, "daily request budget exceeded")
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, NewNetworkError(brapiProvider, label, "rate limit wait cancelled", err)
	}

	if params == nil {
		params = url.Values{}
	}
	if c.cfg.Token != "" {
		params.Set("token", c.cfg.Token)
	}
	requestURL := c.cfg.BaseURL + "/" + path
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.BackoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, NewNetworkError(brapiProvider, label, "retry cancelled", ctx.Err())
			case <-time.After(backoff):
			}
		}

		resp, retry, err := c.do(ctx, label, requestURL)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, lastErr
}

func (c *BrapiClient) do(ctx context.Context, label, requestURL string) (*brapiResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, false, NewNetworkError(brapiProvider, label, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, NewNetworkError(brapiProvider, label, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, true, NewNetworkError(brapiProvider, label, "failed to read body", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, NewRateLimitError(brapiProvider, label, "API rate limit exceeded")
	case resp.StatusCode >= 500:
		return nil, true, NewProviderError(brapiProvider, label, fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, false, NewProviderError(brapiProvider, label, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(body, 200)), nil)
	}

	var parsed brapiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, NewBadResponseError(brapiProvider, label, "failed to parse response", err)
	}
	return &parsed, false, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
