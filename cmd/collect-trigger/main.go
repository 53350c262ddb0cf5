// collect-trigger asks a running gateway to collect one batch. It is meant to
// be run from cron.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Rajchodisetti/market-gateway/internal/auth"
	"github.com/Rajchodisetti/market-gateway/internal/gateway"
	"github.com/Rajchodisetti/market-gateway/internal/observ"
)

func main() {
	var gatewayURL string
	var tokenEnv string
	var timeout time.Duration
	flag.StringVar(&gatewayURL, "url", "http://localhost:8080", "gateway base URL including base path")
	flag.StringVar(&tokenEnv, "token-env", "MARKET_DATA_INTERNAL_TOKEN", "env var holding the internal token")
	flag.DurationVar(&timeout, "timeout", 90*time.Second, "request timeout")
	flag.Parse()

	token := strings.TrimSpace(os.Getenv(tokenEnv))
	if token == "" {
		log.Fatalf("%s is not set", tokenEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	summary, status, err := trigger(ctx, strings.TrimRight(gatewayURL, "/")+"/collect", token)
	if err != nil {
		log.Fatalf("collect: %v", err)
	}
	observ.Log("collect_triggered", map[string]any{
		"status":         status,
		"success":        summary.Success,
		"quotes":         summary.QuotesCount,
		"failed_symbols": summary.FailedSymbols,
		"persisted":      summary.Persisted,
		"duration_ms":    summary.ExecutionTimeMs,
		"error":          summary.Error,
	})
	if status/100 != 2 || !summary.Success {
		os.Exit(1)
	}
}

func trigger(ctx context.Context, endpoint, token string) (gateway.CollectSummary, int, error) {
	var summary gateway.CollectSummary
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return summary, 0, err
	}
	req.Header.Set(auth.HeaderInternalToken, token)
	req.Header.Set("X-Request-Id", uuid.New().String())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return summary, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return summary, resp.StatusCode, err
	}
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusInternalServerError {
		return summary, resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, &summary); err != nil {
		return summary, resp.StatusCode, fmt.Errorf("decode summary: %w", err)
	}
	return summary, resp.StatusCode, nil
}
