package adapters

import (
	"sync"
	"time"

	"github.com/Rajchodisetti/market-gateway/internal/observ"
)

// ProviderStatus represents the health state of an origin provider
type ProviderStatus string

const (
	ProviderStatusHealthy  ProviderStatus = "healthy"
	ProviderStatusDegraded ProviderStatus = "degraded"
	ProviderStatusFailed   ProviderStatus = "failed"
)

// ProviderHealth tracks origin reliability and feeds the provider_status gauge
// read by /health.
type ProviderHealth struct {
	mu                sync.RWMutex
	name              string
	status            ProviderStatus
	lastSuccessful    time.Time
	lastError         time.Time
	errorCount        int64
	successCount      int64
	consecutiveErrors int
	latencyEWMA       time.Duration
	now               func() time.Time

	degradedErrorRate    float64
	failedErrorRate      float64
	maxConsecutiveErrors int
	recoveryWindow       time.Duration
}

func NewProviderHealth(name string) *ProviderHealth {
	ph := &ProviderHealth{
		name:                 name,
		status:               ProviderStatusHealthy,
		now:                  time.Now,
		degradedErrorRate:    0.05,
		failedErrorRate:      0.25,
		maxConsecutiveErrors: 5,
		recoveryWindow:       2 * time.Minute,
	}
	observ.SetGauge("provider_status", 1, map[string]string{"provider": name})
	return ph
}

func (ph *ProviderHealth) Name() string { return ph.name }

// Observe records the outcome of one origin call.
func (ph *ProviderHealth) Observe(latency time.Duration, err error) {
	observ.RecordDuration("origin_fetch_latency", latency, map[string]string{"provider": ph.name})
	if err != nil {
		ph.RecordError(err)
		return
	}
	ph.RecordSuccess(latency)
}

// RecordSuccess records a successful origin call
func (ph *ProviderHealth) RecordSuccess(latency time.Duration) {
	ph.mu.Lock()
	defer ph.mu.Unlock()

	ph.lastSuccessful = ph.now()
	ph.successCount++
	ph.consecutiveErrors = 0
	if ph.latencyEWMA == 0 {
		ph.latencyEWMA = latency
	} else {
		ph.latencyEWMA = time.Duration(float64(ph.latencyEWMA)*0.9 + float64(latency)*0.1)
	}

	if ph.status != ProviderStatusHealthy && ph.shouldRecover() {
		ph.transition(ProviderStatusHealthy)
	}

	observ.IncCounter("origin_fetch_total", map[string]string{"provider": ph.name, "result": "success"})
	ph.publish()
}

// RecordError records a failed origin call
func (ph *ProviderHealth) RecordError(err error) {
	ph.mu.Lock()
	defer ph.mu.Unlock()

	ph.lastError = ph.now()
	ph.errorCount++
	ph.consecutiveErrors++

	next := ph.status
	total := ph.successCount + ph.errorCount
	errorRate := float64(ph.errorCount) / float64(total)
	switch {
	case ph.consecutiveErrors >= ph.maxConsecutiveErrors:
		next = ProviderStatusFailed
	case errorRate >= ph.failedErrorRate && total >= 10:
		next = ProviderStatusFailed
	case errorRate >= ph.degradedErrorRate:
		if next == ProviderStatusHealthy {
			next = ProviderStatusDegraded
		}
	}
	if next != ph.status {
		ph.transition(next)
	}

	kind := string(KindOf(err))
	observ.IncCounter("origin_fetch_total", map[string]string{"provider": ph.name, "result": "error"})
	observ.IncCounter("origin_errors_by_kind", map[string]string{"kind": kind})
	observ.Log("origin_fetch_failed", map[string]any{
		"provider":           ph.name,
		"kind":               kind,
		"consecutive_errors": ph.consecutiveErrors,
		"error":              err.Error(),
	})
	ph.publish()
}

func (ph *ProviderHealth) Status() ProviderStatus {
	ph.mu.RLock()
	defer ph.mu.RUnlock()
	return ph.status
}

// Snapshot returns the counters behind the current status.
func (ph *ProviderHealth) Snapshot() map[string]any {
	ph.mu.RLock()
	defer ph.mu.RUnlock()

	total := ph.successCount + ph.errorCount
	errorRate := 0.0
	if total > 0 {
		errorRate = float64(ph.errorCount) / float64(total)
	}
	return map[string]any{
		"status":             string(ph.status),
		"error_rate":         errorRate,
		"consecutive_errors": ph.consecutiveErrors,
		"last_successful":    ph.lastSuccessful,
		"last_error":         ph.lastError,
		"latency_ewma_ms":    ph.latencyEWMA.Milliseconds(),
		"success_count":      ph.successCount,
		"error_count":        ph.errorCount,
	}
}

// A provider recovers after a success once no error has been seen for the
// recovery window.
func (ph *ProviderHealth) shouldRecover() bool {
	if ph.lastError.IsZero() {
		return true
	}
	return ph.now().Sub(ph.lastError) >= ph.recoveryWindow
}

func (ph *ProviderHealth) transition(to ProviderStatus) {
	from := ph.status
	ph.status = to
	observ.IncCounter("provider_status_change_total", map[string]string{
		"provider": ph.name,
		"from":     string(from),
		"to":       string(to),
	})
	observ.Log("provider_status_changed", map[string]any{
		"provider":           ph.name,
		"from":               string(from),
		"to":                 string(to),
		"consecutive_errors": ph.consecutiveErrors,
	})
}

func (ph *ProviderHealth) publish() {
	v := 1.0
	switch ph.status {
	case ProviderStatusDegraded:
		v = 0.5
	case ProviderStatusFailed:
		v = 0
	}
	observ.SetGauge("provider_status", v, map[string]string{"provider": ph.name})
}

// DailyBudget caps the number of origin requests per rolling day.
type DailyBudget struct {
	mu      sync.Mutex
	limit   int
	used    int
	resetAt time.Time
	now     func() time.Time
}

func NewDailyBudget(limit int, now func() time.Time) *DailyBudget {
	if now == nil {
		now = time.Now
	}
	return &DailyBudget{limit: limit, resetAt: now().Add(24 * time.Hour), now: now}
}

// Take consumes one request from the budget, reporting false when exhausted.
// A non-positive limit disables the cap.
func (b *DailyBudget) Take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if !now.Before(b.resetAt) {
		b.used = 0
		b.resetAt = now.Add(24 * time.Hour)
	}
	if b.limit > 0 && b.used >= b.limit {
		observ.IncCounter("rate_budget_exhausted_total", map[string]string{"window": "daily"})
		return false
	}
	b.used++
	if b.limit > 0 {
		observ.SetGauge("rate_budget_remaining", float64(b.limit-b.used), nil)
	}
	return true
}

// Usage returns requests used, the cap, and when the counter resets.
func (b *DailyBudget) Usage() (used, limit int, resetAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used, b.limit, b.resetAt
}
