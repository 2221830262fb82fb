// Package ratefence provides distributed token-bucket rate limiting over a
// shared store, with per-key quotas, hierarchical checks, and graceful
// degradation when the store is unavailable.
//
// Most applications only need the limiter service and the HTTP middleware:
//
//	provider, _ := config.NewStaticProvider(nil)
//	svc := limiter.NewService(st, provider)
//	handler := middleware.NewRateLimiter(middleware.Config{Service: svc}).Middleware(mux)
package ratefence

import (
	"github.com/ratefence/ratefence/limiter"
	"github.com/ratefence/ratefence/middleware"
)

// Re-exported request-path types for convenience.
type (
	Request     = limiter.Request
	Response    = limiter.Response
	Descriptor  = limiter.Descriptor
	Service     = limiter.Service
	Config      = middleware.Config
	RateLimiter = middleware.RateLimiter
	KeyFunc     = middleware.KeyFunc
)

// NewRateLimiter creates the HTTP middleware.
var NewRateLimiter = middleware.NewRateLimiter
