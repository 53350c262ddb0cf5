package adapters

import (
	"fmt"
	"strings"
	"time"

	"github.com/Rajchodisetti/market-gateway/internal/config"
	"github.com/Rajchodisetti/market-gateway/internal/observ"
)

// NewProviders builds the origin fetchers named by cfg.Adapter. Secrets are
// resolved through getenv. Unknown adapters fall back to mock.
func NewProviders(cfg config.Origin, getenv func(string) string) (Providers, error) {
	adapter := strings.ToLower(strings.TrimSpace(cfg.Adapter))

	switch adapter {
	case "mock":
		observ.Log("origin_adapter_created", map[string]any{
			"type":   "mock",
			"reason": "deterministic data",
		})
		m := NewMockProvider()
		return Providers{Quotes: m, History: m, Macro: m}, nil

	case "brapi":
		return newBrapiProviders(cfg, getenv)

	default:
		observ.Log("origin_adapter_fallback", map[string]any{
			"requested_adapter": adapter,
			"fallback_to":       "mock",
			"reason":            "unknown adapter type",
		})
		m := NewMockProvider()
		return Providers{Quotes: m, History: m, Macro: m}, nil
	}
}

func newBrapiProviders(cfg config.Origin, getenv func(string) string) (Providers, error) {
	token := strings.TrimSpace(getenv(cfg.Brapi.TokenEnv))
	brapi, err := NewBrapiClient(BrapiConfig{
		BaseURL:           cfg.Brapi.BaseURL,
		Token:             token,
		RequestsPerSecond: cfg.Brapi.RequestsPerSecond,
		DailyCap:          cfg.Brapi.DailyCap,
		Timeout:           time.Duration(cfg.Brapi.TimeoutMs) * time.Millisecond,
		MaxRetries:        cfg.Brapi.MaxRetries,
		BackoffBase:       time.Duration(cfg.Brapi.BackoffBaseMs) * time.Millisecond,
	})
	if err != nil {
		return Providers{}, fmt.Errorf("brapi client: %w", err)
	}

	key := strings.TrimSpace(getenv(cfg.HGBrasil.KeyEnv))
	hg := NewHGBrasilClient(HGBrasilConfig{
		BaseURL: cfg.HGBrasil.BaseURL,
		Key:     key,
		Timeout: time.Duration(cfg.HGBrasil.TimeoutMs) * time.Millisecond,
	})

	fields := map[string]any{
		"type":          "brapi",
		"rate_limit_ps": cfg.Brapi.RequestsPerSecond,
		"daily_cap":     cfg.Brapi.DailyCap,
		"macro":         "hgbrasil",
	}
	if token == "" {
		fields["token"] = "none (public tier)"
	} else {
		fields["token_masked"] = observ.Mask(token)
	}
	if key == "" {
		fields["macro_key"] = "missing"
	}
	observ.Log("origin_adapter_created", fields)

	return Providers{Quotes: brapi, History: brapi, Macro: hg}, nil
}
