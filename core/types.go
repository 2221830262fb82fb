package core

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultMinRefillInterval bounds floating-point drift from many
	// sub-interval refills on the same bucket.
	DefaultMinRefillInterval = 10 * time.Millisecond

	// SafetyMultiplier caps refill rate relative to capacity. A rate that
	// out-runs capacity a hundredfold per second is a misconfigured policy,
	// not a fast one.
	SafetyMultiplier = 100

	// MaxBackwardSkew is the tolerated backward clock jump between the
	// stored refill timestamp and the caller's now.
	MaxBackwardSkew = 60 * time.Second

	// MaxElapsed clamps a single refill interval so one stale or leaped
	// clock cannot grant unbounded free tokens.
	MaxElapsed = 3600 * time.Second

	// TTLFloor is the minimum expiry for persisted bucket state.
	TTLFloor = 5 * time.Minute

	// ZeroRateTTL is the fixed expiry for buckets that never refill. The
	// key expiring is what eventually resets such a bucket to capacity.
	ZeroRateTTL = time.Hour

	// MaxTokensPerRequest rejects abusive single calls before they reach
	// the store.
	MaxTokensPerRequest = 1000
)

// BucketConfig is the immutable policy for one bucket. Validate before use.
type BucketConfig struct {
	Capacity          int64         // maximum tokens (burst size)
	RefillRate        float64       // tokens added per second, 0 means no refill
	MinRefillInterval time.Duration // refills closer together than this are skipped
}

// Validate checks the policy at construction time. Invalid policies are
// rejected outright, never clamped.
func (c BucketConfig) Validate() error {
	if c.Capacity <= 0 {
		return ErrInvalidCapacity
	}
	if c.RefillRate < 0 {
		return ErrInvalidRefillRate
	}
	if c.RefillRate > float64(c.Capacity)*SafetyMultiplier {
		return fmt.Errorf("%w: rate %.2f exceeds capacity %d x %d", ErrRefillRateTooHigh, c.RefillRate, c.Capacity, SafetyMultiplier)
	}
	if c.MinRefillInterval < 0 {
		return ErrInvalidMinRefillInterval
	}
	return nil
}

// WithDefaults fills in the zero-value refill interval.
func (c BucketConfig) WithDefaults() BucketConfig {
	if c.MinRefillInterval == 0 {
		c.MinRefillInterval = DefaultMinRefillInterval
	}
	return c
}

// Hash returns a stable digest of the policy fields. A bucket whose stored
// hash differs from the caller's was written under different rate semantics
// and is reset to full capacity on next access.
func (c BucketConfig) Hash() string {
	c = c.WithDefaults()
	s := fmt.Sprintf("%d|%.9g|%d", c.Capacity, c.RefillRate, c.MinRefillInterval.Milliseconds())
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}

// StateTTL computes the expiry for persisted bucket state: at least twice the
// time to refill back to capacity, floored so briefly-idle buckets don't lose
// in-flight rate history, fixed for zero-rate buckets.
func (c BucketConfig) StateTTL(tokens float64) time.Duration {
	if c.RefillRate <= 0 {
		return ZeroRateTTL
	}
	ttl := time.Duration(2 * (float64(c.Capacity) - tokens) / c.RefillRate * float64(time.Second))
	if ttl < TTLFloor {
		ttl = TTLFloor
	}
	return ttl
}

// BucketState is the mutable bucket state as persisted in the shared store.
type BucketState struct {
	Tokens     float64   // current tokens, 0 <= Tokens <= capacity
	LastRefill time.Time // last time tokens were refilled
	ConfigHash string    // digest of the policy the state was written under
}

// CheckResult is the outcome of one refill-and-consume pass.
type CheckResult struct {
	Allowed    bool
	Remaining  float64       // tokens left after the decision
	Capacity   int64         // bucket capacity, echoed for headers
	RetryAfter time.Duration // 0 when allowed
	ResetAt    time.Time     // projected time back at full capacity
}
