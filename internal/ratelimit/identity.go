package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// Identity keys a caller as "<client ip>:<last 6 chars of credential>".
func Identity(r *http.Request) string {
	return clientIP(r) + ":" + credentialSuffix(r)
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown-ip"
}

func credentialSuffix(r *http.Request) string {
	cred := ""
	for _, h := range []string{"X-Internal-Key", "apikey", "X-Internal-Token"} {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			cred = v
			break
		}
	}
	if cred == "" {
		if a := r.Header.Get("Authorization"); strings.HasPrefix(a, "Bearer ") {
			cred = strings.TrimSpace(a[len("Bearer "):])
		}
	}
	if cred == "" {
		return "no-key"
	}
	if len(cred) > 6 {
		return cred[len(cred)-6:]
	}
	return cred
}
