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
)

const hgProvider = "hgbrasil"

type HGBrasilConfig struct {
	BaseURL string
	Key     string
	Timeout time.Duration
}

// HGBrasilClient fetches USD/BRL and the Selic/CDI rates.
type HGBrasilClient struct {
	cfg        HGBrasilConfig
	httpClient *http.Client
	health     *ProviderHealth
}

func NewHGBrasilClient(cfg HGBrasilConfig) *HGBrasilClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HGBrasilClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		health:     NewProviderHealth(hgProvider),
	}
}

func (c *HGBrasilClient) Health() *ProviderHealth { return c.health }

type hgResponse struct {
	Results *struct {
		Currencies struct {
			USD *Currency `json:"USD"`
		} `json:"currencies"`
		Taxes []struct {
			Selic float64 `json:"selic"`
			CDI   float64 `json:"cdi"`
		} `json:"taxes"`
	} `json:"results"`
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// FetchMacro returns ErrNotConfigured without a network call when no key is
// set.
func (c *HGBrasilClient) FetchMacro(ctx context.Context) (*MacroSnapshot, error) {
	if strings.TrimSpace(c.cfg.Key) == "" {
		return nil, NewNotConfiguredError(hgProvider, "api key not configured")
	}

	start := time.Now()
	snap, err := c.fetch(ctx)
	c.health.Observe(time.Since(start), err)
	return snap, err
}

func (c *HGBrasilClient) fetch(ctx context.Context) (*MacroSnapshot, error) {
	requestURL := strings.TrimRight(c.cfg.BaseURL, "/") + "?" + url.Values{"key": {c.cfg.Key}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, NewNetworkError(hgProvider, "", "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewNetworkError(hgProvider, "", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, NewRateLimitError(hgProvider, "", "API rate limit exceeded")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewProviderError(hgProvider, "", fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
	}

	var parsed hgResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&parsed); err != nil {
		return nil, NewBadResponseError(hgProvider, "", "failed to parse response", err)
	}
	if parsed.Error {
		return nil, NewProviderError(hgProvider, "", parsed.Message, nil)
	}
	if parsed.Results == nil {
		return nil, NewBadResponseError(hgProvider, "", "missing results", nil)
	}

	snap := &MacroSnapshot{USDBRL: parsed.Results.Currencies.USD}
	if len(parsed.Results.Taxes) > 0 {
		snap.Selic = parsed.Results.Taxes[0].Selic
		snap.CDI = parsed.Results.Taxes[0].CDI
	}
	return snap, nil
}
