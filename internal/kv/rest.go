package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RestStore talks to a Redis-compatible REST endpoint (Upstash protocol):
// one HTTP request per command, bearer auth, {"result": ...} replies.
type RestStore struct {
	baseURL string
	token   string
	client  *http.Client
}

type restReply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func NewRestStore(baseURL, token string, timeout time.Duration) (*RestStore, error) {
	if baseURL == "" || token == "" {
		return nil, fmt.Errorf("rest kv: url and token are required")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RestStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (s *RestStore) Get(ctx context.Context, key string) (string, bool, error) {
	reply, err := s.do(ctx, http.MethodGet, "/get/"+url.PathEscape(key), nil)
	if err != nil {
		return "", false, err
	}
	if len(reply.Result) == 0 || string(reply.Result) == "null" {
		return "", false, nil
	}
	var v string
	if err := json.Unmarshal(reply.Result, &v); err != nil {
		return "", false, fmt.Errorf("rest kv get %s: non-string result: %w", key, err)
	}
	return v, true, nil
}

func (s *RestStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	path := "/set/" + url.PathEscape(key)
	if secs := int64(ttl / time.Second); secs > 0 {
		path += "?EX=" + strconv.FormatInt(secs, 10)
	}
	_, err := s.do(ctx, http.MethodPost, path, strings.NewReader(value))
	return err
}

func (s *RestStore) Incr(ctx context.Context, key string) (int64, error) {
	reply, err := s.do(ctx, http.MethodGet, "/incr/"+url.PathEscape(key), nil)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := json.Unmarshal(reply.Result, &n); err != nil {
		return 0, fmt.Errorf("rest kv incr %s: non-integer result: %w", key, err)
	}
	return n, nil
}

func (s *RestStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := s.do(ctx, http.MethodGet, expirePath(key, ttl), nil)
	return err
}

func (s *RestStore) ExpireNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	reply, err := s.do(ctx, http.MethodGet, expirePath(key, ttl)+"/NX", nil)
	if err != nil {
		return false, err
	}
	var n int64
	if err := json.Unmarshal(reply.Result, &n); err != nil {
		return false, fmt.Errorf("rest kv expire nx %s: non-integer result: %w", key, err)
	}
	return n == 1, nil
}

func expirePath(key string, ttl time.Duration) string {
	secs := int64(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return "/expire/" + url.PathEscape(key) + "/" + strconv.FormatInt(secs, 10)
}

func (s *RestStore) Ping(ctx context.Context) error {
	_, err := s.do(ctx, http.MethodGet, "/ping", nil)
	return err
}

// Close is a no-op; the HTTP client keeps no dedicated connections.
func (s *RestStore) Close() error { return nil }

func (s *RestStore) do(ctx context.Context, method, path string, body io.Reader) (restReply, error) {
	var reply restReply

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return reply, fmt.Errorf("rest kv: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return reply, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return reply, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		if resp.StatusCode != http.StatusOK {
			return reply, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
		}
		return reply, fmt.Errorf("rest kv: parse reply: %w", err)
	}
	if reply.Error != "" {
		return reply, fmt.Errorf("rest kv: %s", reply.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return reply, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	}
	return reply, nil
}
