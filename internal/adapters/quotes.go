package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// QuoteFetcher returns current quotes for a set of symbols in one origin call.
type QuoteFetcher interface {
	FetchQuotes(ctx context.Context, symbols []string) ([]Quote, error)
}

// HistoryFetcher returns daily candles for one symbol over a range such as "1mo".
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, symbol, rng string) ([]Candle, error)
}

// MacroFetcher returns the currency and interest rate snapshot. It returns an
// error matching ErrNotConfigured when the provider has no credentials.
type MacroFetcher interface {
	FetchMacro(ctx context.Context) (*MacroSnapshot, error)
}

// Providers bundles the origin fetchers the gateway talks to.
type Providers struct {
	Quotes  QuoteFetcher
	History HistoryFetcher
	Macro   MacroFetcher
}

// Quote is the normalized per-symbol record served by /quote and /collect.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Volume        int64     `json:"volume"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Candle is one daily bar. Date is YYYY-MM-DD in UTC.
type Candle struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

type Currency struct {
	Buy       float64 `json:"buy"`
	Sell      float64 `json:"sell"`
	Variation float64 `json:"variation"`
}

// MacroSnapshot carries USD/BRL and the Brazilian reference rates.
type MacroSnapshot struct {
	USDBRL *Currency `json:"usdBrl"`
	Selic  float64   `json:"selic"`
	CDI    float64   `json:"cdi"`
}

// Ranges accepted by the historical endpoint.
var validRanges = map[string]bool{
	"1d": true, "5d": true, "1mo": true, "3mo": true,
	"6mo": true, "1y": true, "2y": true, "5y": true,
}

func ValidRange(rng string) bool { return validRanges[rng] }

// ErrorKind classifies origin failures for logs and metrics.
type ErrorKind string

const (
	KindNetwork       ErrorKind = "network"
	KindRateLimit     ErrorKind = "rate_limit"
	KindProvider      ErrorKind = "provider_error"
	KindBadResponse   ErrorKind = "bad_response"
	KindNotConfigured ErrorKind = "not_configured"
)

// ErrNotConfigured is matched by errors.Is for any FetchError of kind
// not_configured.
var ErrNotConfigured = errors.New("provider not configured")

// FetchError is returned by every origin fetcher.
type FetchError struct {
	Kind     ErrorKind
	Provider string
	Symbol   string
	Message  string
	Cause    error
}

func (e *FetchError) Error() string {
	subject := e.Provider
	if e.Symbol != "" {
		subject += " " + e.Symbol
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Kind, subject, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Kind, subject, e.Message)
}

func (e *FetchError) Unwrap() error { return e.Cause }

func (e *FetchError) Is(target error) bool {
	return target == ErrNotConfigured && e.Kind == KindNotConfigured
}

// KindOf extracts the kind of a FetchError, or "unknown".
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return "unknown"
}

// Common error constructors
func NewNetworkError(provider, symbol, message string, cause error) *FetchError {
	return &FetchError{Kind: KindNetwork, Provider: provider, Symbol: symbol, Message: message, Cause: cause}
}

func NewRateLimitError(provider, symbol, message string) *FetchError {
	return &FetchError{Kind: KindRateLimit, Provider: provider, Symbol: symbol, Message: message}
}

func NewProviderError(provider, symbol, message string, cause error) *FetchError {
	return &FetchError{Kind: KindProvider, Provider: provider, Symbol: symbol, Message: message, Cause: cause}
}

func NewBadResponseError(provider, symbol, message string, cause error) *FetchError {
	return &FetchError{Kind: KindBadResponse, Provider: provider, Symbol: symbol, Message: message, Cause: cause}
}

func NewNotConfiguredError(provider, message string) *FetchError {
	return &FetchError{Kind: KindNotConfigured, Provider: provider, Message: message}
}
