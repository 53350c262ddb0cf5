package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64   // name -> labelsKey -> count
	gauges   map[string]map[string]float64 // name -> labelsKey -> value
	hist     map[string]map[string][]float64
}

// maxSamples bounds each histogram series
const maxSamples = 2048

var reg = newRegistry()

func newRegistry() *registry {
	return &registry{
		counters: map[string]map[string]int64{},
		gauges:   map[string]map[string]float64{},
		hist:     map[string]map[string][]float64{},
	}
}

// Reset drops every recorded series. Used by tests.
func Reset() {
	fresh := newRegistry()
	reg.mu.Lock()
	reg.counters, reg.gauges, reg.hist = fresh.counters, fresh.gauges, fresh.hist
	reg.mu.Unlock()
}

// canonicalize label map so key order is stable
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1.0)
}

func IncCounterBy(name string, labels map[string]string, value float64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	m[canonLabels(labels)] += int64(value)
}

// CounterTotal sums a counter across all label sets.
func CounterTotal(name string) int64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return sumCounter(name)
}

func sumCounter(name string) int64 {
	var total int64
	for _, v := range reg.counters[name] {
		total += v
	}
	return total
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		m = map[string]float64{}
		reg.gauges[name] = m
	}
	m[canonLabels(labels)] = value
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.hist[name]
	if !ok {
		m = map[string][]float64{}
		reg.hist[name] = m
	}
	k := canonLabels(labels)
	s := append(m[k], value)
	if len(s) > maxSamples {
		s = s[len(s)-maxSamples:]
	}
	m[k] = s
}

// RecordDuration records a duration metric
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Milliseconds()), labels)
}

// Basic JSON dump for quick checks (not Prometheus format on purpose)
func Handler() http.Handler {
	type dump struct {
		Counters map[string]map[string]int64     `json:"counters"`
		Gauges   map[string]map[string]float64   `json:"gauges"`
		Hist     map[string]map[string][]float64 `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dump{Counters: reg.counters, Gauges: reg.gauges, Hist: reg.hist})
	})
}

// HealthStatus represents overall gateway health
type HealthStatus struct {
	Status    string         `json:"status"`    // "healthy", "degraded", "failed"
	Timestamp string         `json:"timestamp"` // ISO 8601
	Uptime    string         `json:"uptime"`
	Version   string         `json:"version"`
	Metrics   HealthMetrics  `json:"metrics"`
	Details   map[string]any `json:"details"`
}

// HealthMetrics holds the gateway's key serving metrics
type HealthMetrics struct {
	// Cache
	CacheHits    int64   `json:"cache_hits"`
	CacheMisses  int64   `json:"cache_misses"`
	CacheStale   int64   `json:"cache_stale"`
	CacheHitRate float64 `json:"cache_hit_rate"`

	// Origin
	OriginRequests    int64   `json:"origin_requests"`
	OriginFailures    int64   `json:"origin_failures"`
	OriginSuccessRate float64 `json:"origin_success_rate"`
	OriginLatencyP95  int64   `json:"origin_latency_p95_ms"`

	// Collection endpoint
	CollectRuns       int64 `json:"collect_runs"`
	RateLimitRejected int64 `json:"rate_limit_rejected"`
	AuthDenied        int64 `json:"auth_denied"`
}

var (
	startTime = time.Now()
	version   = "dev" // Set via build flags
)

// SetVersion sets the version string for health reports
func SetVersion(v string) {
	version = v
}

// HealthHandler reports serving health derived from the registry
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		health := HealthStatus{
			Status:    overallStatus(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(startTime).String(),
			Version:   version,
			Metrics:   healthMetrics(),
			Details:   healthDetails(),
		}
		reg.mu.Unlock()

		statusCode := http.StatusOK
		switch health.Status {
		case "degraded":
			statusCode = http.StatusPartialContent
		case "failed":
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(health)
	})
}

func healthMetrics() HealthMetrics {
	m := HealthMetrics{
		CacheHits:         sumLabel("gateway_responses_total", "cache", "HIT"),
		CacheMisses:       sumLabel("gateway_responses_total", "cache", "MISS"),
		CacheStale:        sumLabel("gateway_responses_total", "cache", "STALE"),
		OriginRequests:    sumCounter("origin_fetch_total"),
		OriginFailures:    sumLabel("origin_fetch_total", "result", "error"),
		CollectRuns:       sumCounter("collect_runs_total"),
		RateLimitRejected: sumLabel("ratelimit_decisions_total", "allowed", "false"),
		AuthDenied:        sumLabel("collect_auth_total", "result", "denied"),
	}
	if served := m.CacheHits + m.CacheMisses + m.CacheStale; served > 0 {
		m.CacheHitRate = float64(m.CacheHits) / float64(served)
	}
	if m.OriginRequests > 0 {
		m.OriginSuccessRate = float64(m.OriginRequests-m.OriginFailures) / float64(m.OriginRequests)
	}
	m.OriginLatencyP95 = int64(p95("origin_fetch_latency_ms"))
	return m
}

// sumLabel sums the series of a counter whose labels include key=value.
func sumLabel(name, key, value string) int64 {
	needle := key + "=" + value
	var total int64
	for labels, v := range reg.counters[name] {
		for _, part := range strings.Split(labels, ",") {
			if part == needle {
				total += v
				break
			}
		}
	}
	return total
}

func p95(name string) float64 {
	var all []float64
	for _, samples := range reg.hist[name] {
		all = append(all, samples...)
	}
	if len(all) == 0 {
		return 0
	}
	sort.Float64s(all)
	idx := int(float64(len(all)) * 0.95)
	if idx >= len(all) {
		idx = len(all) - 1
	}
	return all[idx]
}

func overallStatus() string {
	// 0 = failed, 0.5 = degraded, 1 = healthy
	failed, degraded := false, false
	for _, v := range reg.gauges["provider_status"] {
		switch {
		case v == 0:
			failed = true
		case v < 1:
			degraded = true
		}
	}
	if failed {
		return "failed"
	}

	requests := sumCounter("origin_fetch_total")
	errors := sumLabel("origin_fetch_total", "result", "error")
	if requests > 20 && float64(errors)/float64(requests) > 0.5 {
		return "failed"
	}
	if degraded {
		return "degraded"
	}
	for _, v := range reg.gauges["cache_backend_up"] {
		if v == 0 {
			return "degraded"
		}
	}
	return "healthy"
}

func healthDetails() map[string]any {
	details := map[string]any{}

	providers := map[string]float64{}
	for labels, v := range reg.gauges["provider_status"] {
		providers[labelValue(labels, "provider")] = v
	}
	details["providers"] = providers

	backends := map[string]bool{}
	for labels, v := range reg.gauges["cache_backend_up"] {
		backends[labelValue(labels, "backend")] = v == 1
	}
	details["cache_backend"] = backends

	if errs, ok := reg.counters["origin_errors_by_kind"]; ok {
		type errorCount struct {
			Kind  string `json:"kind"`
			Count int64  `json:"count"`
		}
		var list []errorCount
		for labels, n := range errs {
			list = append(list, errorCount{Kind: labelValue(labels, "kind"), Count: n})
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Count != list[j].Count {
				return list[i].Count > list[j].Count
			}
			return list[i].Kind < list[j].Kind
		})
		if len(list) > 5 {
			list = list[:5]
		}
		details["top_errors"] = list
	}
	return details
}

// labelValue reads one label back out of a canonical label string, falling
// back to the whole string when the key is absent.
func labelValue(canon, key string) string {
	for _, pair := range strings.Split(canon, ",") {
		if v, ok := strings.CutPrefix(pair, key+"="); ok {
			return v
		}
	}
	return canon
}

// Simple liveness handler
func Health() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
