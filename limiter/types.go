package limiter

import (
	"fmt"
	"time"

	"github.com/ratefence/ratefence/core"
)

// Request identifies one rate limit check.
type Request struct {
	// Identifier is who is being limited ("user_123", "10.1.2.3", ...).
	Identifier string
	// Resource is what is being accessed ("/api/login", "search", ...).
	Resource string
	// Scope is the limit dimension ("user", "ip", "global", ...).
	Scope string
	// Tokens is the cost of the call, 1 for plain request counting.
	Tokens int64
}

func (r Request) validate() error {
	if r.Identifier == "" {
		return fmt.Errorf("%w: identifier is required", ErrInvalidRequest)
	}
	if r.Resource == "" {
		return fmt.Errorf("%w: resource is required", ErrInvalidRequest)
	}
	if r.Scope == "" {
		return fmt.Errorf("%w: scope is required", ErrInvalidRequest)
	}
	if r.Tokens <= 0 {
		return fmt.Errorf("%w: tokens must be positive, got %d", ErrInvalidRequest, r.Tokens)
	}
	if r.Tokens > core.MaxTokensPerRequest {
		return fmt.Errorf("%w: tokens %d exceeds per-call maximum %d", ErrInvalidRequest, r.Tokens, core.MaxTokensPerRequest)
	}
	return nil
}

// Degraded reasons carried by fallback responses.
const (
	ReasonCircuitOpen = "circuit_open"
	ReasonStoreError  = "store_error"
	ReasonClockSkew   = "clock_skew"
	ReasonConfigError = "config_error"
)

// Response is the outcome of one rate limit check. Every check returns a
// well-formed Response; store unavailability is reported through the Degraded
// fields, never as an error the caller has to branch on.
type Response struct {
	Allowed         bool
	TokensRemaining float64
	TokensCapacity  int64
	// RetryAfter is how long to wait before retrying. Zero when allowed.
	RetryAfter time.Duration
	// ResetAt is the projected time the bucket is back at full capacity.
	ResetAt time.Time
	// Degraded marks a response produced without reaching the
	// authoritative store; DegradedReason says why.
	Degraded       bool
	DegradedReason string
}

// Descriptor names one dimension of a hierarchical check.
type Descriptor struct {
	Scope    string
	Resource string
}

// LimitResult pairs a descriptor with its individual response.
type LimitResult struct {
	Descriptor Descriptor
	Response   Response
}

// HierarchicalResponse is the all-or-nothing outcome across several limits.
type HierarchicalResponse struct {
	Allowed bool
	// Results holds the per-descriptor responses gathered before the check
	// concluded (probe results on denial, commit results on success).
	Results []LimitResult
	// Blocking identifies the descriptor that denied the check, nil when
	// allowed.
	Blocking *Descriptor
	// MostRestrictive is the consumed limit with the lowest
	// remaining-to-capacity ratio, for client-facing headers. Nil unless
	// the check was allowed.
	MostRestrictive *Descriptor
	// MostRestrictiveRatio is that limit's remaining/capacity.
	MostRestrictiveRatio float64
}

// FallbackPolicy picks the behavior when the authoritative store cannot be
// reached.
type FallbackPolicy int

const (
	// FailOpen allows requests during store outages, favoring availability.
	FailOpen FallbackPolicy = iota
	// FailClosed denies requests during store outages, favoring protection.
	FailClosed
)

func (p FallbackPolicy) String() string {
	if p == FailClosed {
		return "fail-closed"
	}
	return "fail-open"
}
