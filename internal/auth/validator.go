// Package auth decides whether a request may trigger the bulk collector. A
// request authenticates either with the shared internal token or with an
// HS256 bearer token carrying the required claim.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Rajchodisetti/market-gateway/internal/config"
)

const (
	TypeInternalToken = "internal-token"
	TypeJWT           = "jwt"

	HeaderInternalToken = "X-Internal-Token"
)

// Denial reasons. They are logged, never returned to the client.
const (
	ReasonInternalTokenNotConfigured = "internal_token_not_configured"
	ReasonInvalidInternalToken       = "invalid_internal_token"
	ReasonMissingCredentials         = "missing_credentials"
	ReasonJWTSecretNotConfigured     = "jwt_secret_not_configured"
	ReasonInvalidJWTPayload          = "invalid_jwt_payload"
	ReasonInvalidJWTAlg              = "invalid_jwt_alg"
	ReasonInvalidJWTSignature        = "invalid_jwt_signature"
	ReasonJWTExpired                 = "jwt_expired"
	ReasonJWTNotActiveYet            = "jwt_not_active_yet"
	ReasonInvalidJWTIssuer           = "invalid_jwt_issuer"
	ReasonInvalidJWTAudience         = "invalid_jwt_audience"
	ReasonMissingRequiredClaim       = "missing_required_claim"
)

type Config struct {
	InternalToken string
	JWTSecret     string
	ClaimName     string
	ClaimValue    string
	Issuer        string // optional
	Audience      string // optional
	Leeway        time.Duration
}

// ConfigFrom resolves the auth section against the environment.
func ConfigFrom(cfg config.Auth, getenv func(string) string) Config {
	return Config{
		InternalToken: config.Secret(getenv, cfg.InternalTokenEnv),
		JWTSecret:     config.Secret(getenv, cfg.JWTSecretEnvs...),
		ClaimName:     cfg.ClaimName,
		ClaimValue:    cfg.ClaimValue,
		Issuer:        cfg.Issuer,
		Audience:      cfg.Audience,
		Leeway:        time.Duration(cfg.LeewaySeconds) * time.Second,
	}
}

// Decision is the outcome of Validate. Status is 401 or 403 when !OK.
type Decision struct {
	OK       bool
	AuthType string
	Subject  string
	Reason   string
	Status   int
}

func deny(status int, reason string) Decision {
	return Decision{Status: status, Reason: reason}
}

type Validator struct {
	cfg Config
	now func() time.Time
}

func NewValidator(cfg Config) *Validator {
	if cfg.ClaimName == "" {
		cfg.ClaimName = "role"
	}
	if cfg.ClaimValue == "" {
		cfg.ClaimValue = "service_role"
	}
	return &Validator{cfg: cfg, now: time.Now}
}

// WithClock overrides the time source used for exp/nbf checks.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Validate checks the internal token first. A non-empty X-Internal-Token
// header commits the request to that path even if a bearer token is present.
func (v *Validator) Validate(r *http.Request) Decision {
	if supplied := r.Header.Get(HeaderInternalToken); supplied != "" {
		return v.validateInternal(supplied)
	}
	return v.validateBearer(r.Header.Get("Authorization"))
}

func (v *Validator) validateInternal(supplied string) Decision {
	if v.cfg.InternalToken == "" {
		return deny(http.StatusForbidden, ReasonInternalTokenNotConfigured)
	}
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(v.cfg.InternalToken)) != 1 {
		return deny(http.StatusForbidden, ReasonInvalidInternalToken)
	}
	return Decision{OK: true, AuthType: TypeInternalToken, Subject: "internal", Status: http.StatusOK}
}

func (v *Validator) validateBearer(authHeader string) Decision {
	token := ""
	if strings.HasPrefix(authHeader, "Bearer ") {
		token = strings.TrimSpace(authHeader[len("Bearer "):])
	}
	if token == "" {
		return deny(http.StatusUnauthorized, ReasonMissingCredentials)
	}
	if v.cfg.JWTSecret == "" {
		return deny(http.StatusForbidden, ReasonJWTSecretNotConfigured)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return deny(http.StatusUnauthorized, ReasonInvalidJWTPayload)
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := decodeSegment(parts[0], &header); err != nil {
		return deny(http.StatusUnauthorized, ReasonInvalidJWTPayload)
	}
	var claims map[string]any
	if err := decodeSegment(parts[1], &claims); err != nil || claims == nil {
		return deny(http.StatusUnauthorized, ReasonInvalidJWTPayload)
	}

	if header.Alg != "HS256" {
		return deny(http.StatusUnauthorized, ReasonInvalidJWTAlg)
	}
	if !hmac.Equal([]byte(Sign(parts[0]+"."+parts[1], v.cfg.JWTSecret)), []byte(parts[2])) {
		return deny(http.StatusUnauthorized, ReasonInvalidJWTSignature)
	}

	now := v.now()
	if exp, ok := claims["exp"].(float64); ok && exp < float64(now.Unix()) {
		return deny(http.StatusUnauthorized, ReasonJWTExpired)
	}
	if nbf, ok := claims["nbf"].(float64); ok && nbf > float64(now.Add(v.cfg.Leeway).Unix()) {
		return deny(http.StatusUnauthorized, ReasonJWTNotActiveYet)
	}
	if v.cfg.Issuer != "" && claimString(claims["iss"]) != v.cfg.Issuer {
		return deny(http.StatusUnauthorized, ReasonInvalidJWTIssuer)
	}
	if v.cfg.Audience != "" && !hasAudience(claims["aud"], v.cfg.Audience) {
		return deny(http.StatusUnauthorized, ReasonInvalidJWTAudience)
	}
	if claimString(claims[v.cfg.ClaimName]) != v.cfg.ClaimValue {
		return deny(http.StatusForbidden, ReasonMissingRequiredClaim)
	}

	subject := claimString(claims["sub"])
	if subject == "" {
		subject = claimString(claims["role"])
	}
	if subject == "" {
		subject = "jwt"
	}
	return Decision{OK: true, AuthType: TypeJWT, Subject: subject, Status: http.StatusOK}
}

// Sign returns the base64url HMAC-SHA256 signature of signingInput.
func Sign(signingInput, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func decodeSegment(seg string, dst any) error {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(seg, "="))
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func claimString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if !t {
			return ""
		}
		return "true"
	case float64:
		if t == 0 {
			return ""
		}
		return fmt.Sprint(t)
	default:
		return fmt.Sprint(t)
	}
}

func hasAudience(aud any, want string) bool {
	switch t := aud.(type) {
	case string:
		return t == want
	case []any:
		for _, a := range t {
			if s, ok := a.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}
