package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr           string `yaml:"addr"`
	BasePath       string `yaml:"base_path"`
	AllowedOrigin  string `yaml:"allowed_origin"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
}

type Cache struct {
	Backend          string `yaml:"backend"` // rest | redis | memory | none
	RestURLEnv       string `yaml:"rest_url_env"`
	RestTokenEnv     string `yaml:"rest_token_env"`
	RedisAddr        string `yaml:"redis_addr"`
	RedisPasswordEnv string `yaml:"redis_password_env"`
	RedisDB          int    `yaml:"redis_db"`
	TimeoutMs        int    `yaml:"timeout_ms"`
}

// Policy is the freshness policy of one read endpoint.
type Policy struct {
	HotSeconds int `yaml:"hot_seconds"`
	TTLSeconds int `yaml:"ttl_seconds"`
}

func (p Policy) Hot() time.Duration { return time.Duration(p.HotSeconds) * time.Second }
func (p Policy) TTL() time.Duration { return time.Duration(p.TTLSeconds) * time.Second }

type Freshness struct {
	Overview   Policy `yaml:"overview"`
	Quotes     Policy `yaml:"quotes"`
	Historical Policy `yaml:"historical"`
}

type Brapi struct {
	BaseURL           string  `yaml:"base_url"`
	TokenEnv          string  `yaml:"token_env"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	DailyCap          int     `yaml:"daily_cap"`
	TimeoutMs         int     `yaml:"timeout_ms"`
	MaxRetries        int     `yaml:"max_retries"`
	BackoffBaseMs     int     `yaml:"backoff_base_ms"`
}

type HGBrasil struct {
	BaseURL   string `yaml:"base_url"`
	KeyEnv    string `yaml:"key_env"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type Origin struct {
	Adapter          string   `yaml:"adapter"` // brapi | mock
	RequestTimeoutMs int      `yaml:"request_timeout_ms"`
	OverviewSymbols  []string `yaml:"overview_symbols"`
	Brapi            Brapi    `yaml:"brapi"`
	HGBrasil         HGBrasil `yaml:"hgbrasil"`
}

func (o Origin) RequestTimeout() time.Duration {
	return time.Duration(o.RequestTimeoutMs) * time.Millisecond
}

type Auth struct {
	InternalTokenEnv string   `yaml:"internal_token_env"`
	JWTSecretEnvs    []string `yaml:"jwt_secret_envs"` // first non-empty wins
	ClaimName        string   `yaml:"claim_name"`
	ClaimValue       string   `yaml:"claim_value"`
	Issuer           string   `yaml:"issuer"`
	Audience         string   `yaml:"audience"`
	LeewaySeconds    int      `yaml:"leeway_seconds"`
}

type RateLimit struct {
	MaxRequests   int    `yaml:"max_requests"`
	WindowSeconds int    `yaml:"window_seconds"`
	KeyPrefix     string `yaml:"key_prefix"`
}

func (r RateLimit) Window() time.Duration { return time.Duration(r.WindowSeconds) * time.Second }

type Collector struct {
	Watchlist []string `yaml:"watchlist"`
	PacingMs  int      `yaml:"pacing_ms"`
	TimeoutMs int      `yaml:"timeout_ms"`
}

type Market struct {
	Timezone string   `yaml:"timezone"`
	Open     string   `yaml:"open"`  // HH:MM local
	Close    string   `yaml:"close"` // HH:MM local
	Holidays []string `yaml:"holidays"`
}

type Storage struct {
	PostgresDSNEnv string `yaml:"postgres_dsn_env"`
}

type Root struct {
	Server    Server    `yaml:"server"`
	Cache     Cache     `yaml:"cache"`
	Freshness Freshness `yaml:"freshness"`
	Origin    Origin    `yaml:"origin"`
	Auth      Auth      `yaml:"auth"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Collector Collector `yaml:"collector"`
	Market    Market    `yaml:"market"`
	Storage   Storage   `yaml:"storage"`
}

// DefaultWatchlist is sized for the BRAPI free plan.
var DefaultWatchlist = []string{
	"PETR4", "VALE3", "ITUB4", "BBDC4", "WEGE3", "MGLU3",
	"ABEV3", "B3SA3", "RENT3", "LREN3", "SUZB3", "JBSS3",
	"GGBR4", "CSNA3", "USIM5", "CIEL3", "BBAS3", "SANB11",
	"ITSA4", "TAEE11",
}

// DefaultHolidays is the B3 trading calendar for 2026.
var DefaultHolidays = []string{
	"2026-01-01",
	"2026-02-16", "2026-02-17",
	"2026-04-03",
	"2026-04-21",
	"2026-05-01",
	"2026-06-04",
	"2026-09-07",
	"2026-10-12",
	"2026-11-02",
	"2026-11-20",
	"2026-12-25",
	"2026-12-31",
}

// Default returns a config with every default applied.
func Default() Root {
	var c Root
	applyDefaults(&c)
	return c
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	return c, nil
}

func applyDefaults(c *Root) {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	c.Server.BasePath = "/" + strings.Trim(c.Server.BasePath, "/")
	if c.Server.AllowedOrigin == "" {
		c.Server.AllowedOrigin = "*"
	}
	if c.Server.ReadTimeoutMs == 0 {
		c.Server.ReadTimeoutMs = 10000
	}
	if c.Server.WriteTimeoutMs == 0 {
		c.Server.WriteTimeoutMs = 60000
	}

	// Cache defaults
	if c.Cache.Backend == "" {
		c.Cache.Backend = "rest"
	}
	if c.Cache.RestURLEnv == "" {
		c.Cache.RestURLEnv = "UPSTASH_REDIS_REST_URL"
	}
	if c.Cache.RestTokenEnv == "" {
		c.Cache.RestTokenEnv = "UPSTASH_REDIS_REST_TOKEN"
	}
	if c.Cache.RedisAddr == "" {
		c.Cache.RedisAddr = "localhost:6379"
	}
	if c.Cache.RedisPasswordEnv == "" {
		c.Cache.RedisPasswordEnv = "REDIS_PASSWORD"
	}
	if c.Cache.TimeoutMs == 0 {
		c.Cache.TimeoutMs = 2000
	}

	// Freshness defaults
	setPolicy(&c.Freshness.Overview, 60, 300)
	setPolicy(&c.Freshness.Quotes, 60, 300)
	setPolicy(&c.Freshness.Historical, 300, 3600)

	// Origin defaults
	if c.Origin.Adapter == "" {
		c.Origin.Adapter = "brapi"
	}
	if c.Origin.RequestTimeoutMs == 0 {
		c.Origin.RequestTimeoutMs = 8000
	}
	if len(c.Origin.OverviewSymbols) == 0 {
		c.Origin.OverviewSymbols = []string{"^BVSP", "IFIX11", "IVVB11"}
	}
	if c.Origin.Brapi.BaseURL == "" {
		c.Origin.Brapi.BaseURL = "https://brapi.dev/api/quote"
	}
	if c.Origin.Brapi.TokenEnv == "" {
		c.Origin.Brapi.TokenEnv = "BRAPI_TOKEN"
	}
	if c.Origin.Brapi.RequestsPerSecond <= 0 {
		c.Origin.Brapi.RequestsPerSecond = 5
	}
	if c.Origin.Brapi.DailyCap <= 0 {
		c.Origin.Brapi.DailyCap = 500
	}
	if c.Origin.Brapi.TimeoutMs == 0 {
		c.Origin.Brapi.TimeoutMs = 10000
	}
	if c.Origin.Brapi.MaxRetries == 0 {
		c.Origin.Brapi.MaxRetries = 2
	}
	if c.Origin.Brapi.BackoffBaseMs == 0 {
		c.Origin.Brapi.BackoffBaseMs = 250
	}
	if c.Origin.HGBrasil.BaseURL == "" {
		c.Origin.HGBrasil.BaseURL = "https://api.hgbrasil.com/finance"
	}
	if c.Origin.HGBrasil.KeyEnv == "" {
		c.Origin.HGBrasil.KeyEnv = "HG_BRASIL_KEY"
	}
	if c.Origin.HGBrasil.TimeoutMs == 0 {
		c.Origin.HGBrasil.TimeoutMs = 10000
	}

	// Auth defaults
	if c.Auth.InternalTokenEnv == "" {
		c.Auth.InternalTokenEnv = "MARKET_DATA_INTERNAL_TOKEN"
	}
	if len(c.Auth.JWTSecretEnvs) == 0 {
		c.Auth.JWTSecretEnvs = []string{"JWT_SECRET", "SUPABASE_JWT_SECRET"}
	}
	if c.Auth.ClaimName == "" {
		c.Auth.ClaimName = "role"
	}
	if c.Auth.ClaimValue == "" {
		c.Auth.ClaimValue = "service_role"
	}
	if c.Auth.LeewaySeconds == 0 {
		c.Auth.LeewaySeconds = 30
	}

	// Rate limit defaults
	if c.RateLimit.MaxRequests <= 0 {
		c.RateLimit.MaxRequests = 10
	}
	if c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit.WindowSeconds = 60
	}
	if c.RateLimit.KeyPrefix == "" {
		c.RateLimit.KeyPrefix = "rl:collect:"
	}

	// Collector defaults
	if len(c.Collector.Watchlist) == 0 {
		c.Collector.Watchlist = append([]string(nil), DefaultWatchlist...)
	}
	if c.Collector.PacingMs == 0 {
		c.Collector.PacingMs = 200
	}
	if c.Collector.TimeoutMs == 0 {
		c.Collector.TimeoutMs = 45000
	}

	// Market defaults
	if c.Market.Timezone == "" {
		c.Market.Timezone = "America/Sao_Paulo"
	}
	if c.Market.Open == "" {
		c.Market.Open = "10:00"
	}
	if c.Market.Close == "" {
		c.Market.Close = "17:00"
	}
	if len(c.Market.Holidays) == 0 {
		c.Market.Holidays = append([]string(nil), DefaultHolidays...)
	}

	if c.Storage.PostgresDSNEnv == "" {
		c.Storage.PostgresDSNEnv = "MARKET_DATA_PG_DSN"
	}
}

func setPolicy(p *Policy, hot, ttl int) {
	if p.HotSeconds <= 0 {
		p.HotSeconds = hot
	}
	if p.TTLSeconds <= 0 {
		p.TTLSeconds = ttl
	}
}

// ApplyEnv folds the environment overrides the deployment scripts rely on into
// the auth section. Secrets themselves stay in the environment.
func (c *Root) ApplyEnv(getenv func(string) string) {
	if v := getenv("MARKET_DATA_COLLECT_CLAIM"); v != "" {
		c.Auth.ClaimName = v
	}
	if v := getenv("MARKET_DATA_COLLECT_CLAIM_VALUE"); v != "" {
		c.Auth.ClaimValue = v
	}
	if v := getenv("MARKET_DATA_JWT_ISS"); v != "" {
		c.Auth.Issuer = v
	}
	if v := getenv("MARKET_DATA_JWT_AUD"); v != "" {
		c.Auth.Audience = v
	}
	if v := getenv("QUOTES"); v != "" {
		c.Origin.Adapter = strings.ToLower(strings.TrimSpace(v))
	}
}

// Secret returns the first non-empty value among the named variables.
func Secret(getenv func(string) string, names ...string) string {
	for _, n := range names {
		if n == "" {
			continue
		}
		if v := strings.TrimSpace(getenv(n)); v != "" {
			return v
		}
	}
	return ""
}
