package observ

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonLabelsStableOrder(t *testing.T) {
	a := canonLabels(map[string]string{"b": "2", "a": "1"})
	b := canonLabels(map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, "a=1,b=2", a)
	assert.Equal(t, a, b)
	assert.Empty(t, canonLabels(nil))
}

func TestHealthHandlerSummarisesCache(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	IncCounter("gateway_responses_total", map[string]string{"endpoint": "quote", "cache": "HIT"})
	IncCounter("gateway_responses_total", map[string]string{"endpoint": "quote", "cache": "HIT"})
	IncCounter("gateway_responses_total", map[string]string{"endpoint": "quote", "cache": "MISS"})
	IncCounter("gateway_responses_total", map[string]string{"endpoint": "historical", "cache": "STALE"})
	IncCounter("origin_fetch_total", map[string]string{"provider": "brapi", "result": "success"})
	IncCounter("origin_fetch_total", map[string]string{"provider": "brapi", "result": "error"})
	SetGauge("provider_status", 1, map[string]string{"provider": "brapi"})

	rec := httptest.NewRecorder()
	HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, int64(2), health.Metrics.CacheHits)
	assert.Equal(t, int64(1), health.Metrics.CacheStale)
	assert.InDelta(t, 0.5, health.Metrics.CacheHitRate, 1e-9)
	assert.InDelta(t, 0.5, health.Metrics.OriginSuccessRate, 1e-9)
}

func TestHealthHandlerFailedProvider(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	SetGauge("provider_status", 0, map[string]string{"provider": "brapi"})

	rec := httptest.NewRecorder()
	HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthDetailsUseLabelValues(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	IncCounter("origin_errors_by_kind", map[string]string{"kind": "network"})
	IncCounter("origin_errors_by_kind", map[string]string{"kind": "network"})
	IncCounter("origin_errors_by_kind", map[string]string{"kind": "rate_limit"})
	SetGauge("provider_status", 1, map[string]string{"provider": "brapi"})
	SetGauge("cache_backend_up", 1, map[string]string{"backend": "redis"})

	rec := httptest.NewRecorder()
	HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body struct {
		Details struct {
			Providers    map[string]float64 `json:"providers"`
			CacheBackend map[string]bool    `json:"cache_backend"`
			TopErrors    []struct {
				Kind  string `json:"kind"`
				Count int64  `json:"count"`
			} `json:"top_errors"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Details.TopErrors, 2)
	assert.Equal(t, "network", body.Details.TopErrors[0].Kind)
	assert.Equal(t, int64(2), body.Details.TopErrors[0].Count)
	assert.Equal(t, "rate_limit", body.Details.TopErrors[1].Kind)
	assert.Equal(t, map[string]float64{"brapi": 1}, body.Details.Providers)
	assert.Equal(t, map[string]bool{"redis": true}, body.Details.CacheBackend)
}

func TestLabelValue(t *testing.T) {
	assert.Equal(t, "network", labelValue("kind=network", "kind"))
	assert.Equal(t, "2", labelValue("a=1,b=2", "b"))
	assert.Equal(t, "a=1", labelValue("a=1", "kind"))
}

func TestLogWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	t.Cleanup(func() { SetOutput(prev) })

	Log("cache_read_error", map[string]any{"key": "quotes:PETR4"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "cache_read_error", line["event"])
	assert.Equal(t, "quotes:PETR4", line["key"])
	assert.NotEmpty(t, line["ts"])
}

func TestMask(t *testing.T) {
	assert.Equal(t, "***", Mask("short"))
	assert.Equal(t, "abcd***wxyz", Mask("abcdefghijklmnopqrstuvwxyz"))
}
