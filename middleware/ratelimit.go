// Package middleware applies rate limiting to HTTP handlers and exposes the
// standard client-facing headers. The gateway-level concerns (routing, TLS,
// balancing) stay outside; this layer only translates limiter responses into
// status codes and headers.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ratefence/ratefence/limiter"
)

// KeyFunc extracts the client identifier from a request.
type KeyFunc func(*http.Request) string

// RateLimiter wraps HTTP handlers with a single-dimension rate limit check.
type RateLimiter struct {
	service *limiter.Service
	scope   string
	keyFunc KeyFunc
}

// Config for the middleware.
type Config struct {
	Service *limiter.Service
	// Scope is the limit dimension requests are checked under (default "ip").
	Scope string
	// KeyFunc extracts the identifier (default: client IP, proxy-aware).
	KeyFunc KeyFunc
}

// NewRateLimiter creates the middleware.
func NewRateLimiter(config Config) *RateLimiter {
	if config.Scope == "" {
		config.Scope = "ip"
	}
	if config.KeyFunc == nil {
		config.KeyFunc = ClientIP
	}
	return &RateLimiter{
		service: config.Service,
		scope:   config.Scope,
		keyFunc: config.KeyFunc,
	}
}

// ClientIP extracts the caller address, honoring X-Forwarded-For.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// Middleware wraps next with the rate limit check. It always sets
// X-RateLimit-Limit and X-RateLimit-Remaining, adds X-RateLimit-Reset,
// marks fallback-path responses with X-RateLimit-Degraded, and answers
// denials with 429 and Retry-After.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := limiter.Request{
			Identifier: rl.keyFunc(r),
			Resource:   r.URL.Path,
			Scope:      rl.scope,
			Tokens:     1,
		}

		resp, err := rl.service.Check(r.Context(), req, false)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", resp.TokensCapacity))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%.0f", resp.TokensRemaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resp.ResetAt.Unix()))
		if resp.Degraded {
			w.Header().Set("X-RateLimit-Degraded", resp.DegradedReason)
		}

		if !resp.Allowed {
			retryAfterSec := int64(resp.RetryAfter.Seconds())
			if retryAfterSec < 1 {
				retryAfterSec = 1
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSec))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error":             "rate_limit_exceeded",
				"message":           "Too many requests. Please try again later.",
				"retryAfterSeconds": retryAfterSec,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
