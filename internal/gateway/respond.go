package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Rajchodisetti/market-gateway/internal/observ"
)

const staleMessage = "Using cached data due to API error"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observ.Log("response_encode_error", map[string]any{"error": err.Error()})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// cacheMeta is merged into every read response body.
type cacheMeta struct {
	Cached   bool   `json:"cached"`
	CacheAge *int64 `json:"cacheAge,omitempty"`
	Error    string `json:"error,omitempty"`
}

func newCacheMeta[T any](w http.ResponseWriter, o Outcome[T]) cacheMeta {
	secs := int64(o.Age / time.Second)
	w.Header().Set("X-Cache", string(o.State))
	w.Header().Set("X-Cache-Age", strconv.FormatInt(secs, 10))

	switch o.State {
	case CacheHit:
		return cacheMeta{Cached: true, CacheAge: &secs}
	case CacheStale:
		return cacheMeta{Cached: true, CacheAge: &secs, Error: staleMessage}
	default:
		return cacheMeta{}
	}
}

type dataResponse[T any] struct {
	Data T `json:"data"`
	cacheMeta
}
