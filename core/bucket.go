package core

import (
	"math"
	"time"
)

// TokenBucket implements the refill-and-consume pass for one bucket policy.
// It is pure: callers own the state and its persistence. The in-memory store
// runs it under a per-key lock; the Redis store runs the same sequence inside
// a Lua script so the two backends agree on every edge case.
type TokenBucket struct {
	config BucketConfig
	hash   string
}

// NewTokenBucket creates a token bucket for a validated configuration.
func NewTokenBucket(config BucketConfig) (*TokenBucket, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config = config.WithDefaults()
	return &TokenBucket{config: config, hash: config.Hash()}, nil
}

// Config returns the policy the bucket was built from.
func (tb *TokenBucket) Config() BucketConfig { return tb.config }

// Hash returns the stable digest of the policy.
func (tb *TokenBucket) Hash() string { return tb.hash }

// Check performs one read-refill-decide pass against the given state and
// returns the updated state alongside the decision. A nil state means the
// bucket does not exist yet and is initialized to full capacity.
//
// When dryRun is set the decision is evaluated but no tokens are subtracted;
// the time-driven refill still applies and is returned in the new state.
//
// Check returns ErrClockSkew, leaving the state unchanged, when now is more
// than MaxBackwardSkew behind the stored refill timestamp.
func (tb *TokenBucket) Check(state *BucketState, now time.Time, requested int64, dryRun bool) (*BucketState, CheckResult, error) {
	cfg := tb.config
	capacity := float64(cfg.Capacity)

	tokens := capacity
	lastRefill := now
	if state != nil {
		tokens = state.Tokens
		lastRefill = state.LastRefill

		// A differing hash means the policy changed since the state was
		// written; mixing old fractional tokens with new rate semantics
		// is worse than starting over full.
		if state.ConfigHash != "" && state.ConfigHash != tb.hash {
			tokens = capacity
			lastRefill = now
		}
	}

	elapsed := now.Sub(lastRefill)
	if elapsed < -MaxBackwardSkew {
		return state, CheckResult{}, ErrClockSkew
	}
	if elapsed > MaxElapsed {
		elapsed = MaxElapsed
	}
	if elapsed >= cfg.MinRefillInterval && elapsed > 0 {
		tokens = math.Min(capacity, tokens+elapsed.Seconds()*cfg.RefillRate)
		lastRefill = now
	}

	allowed := tokens >= float64(requested)
	if allowed && !dryRun {
		tokens -= float64(requested)
	}

	newState := &BucketState{
		Tokens:     tokens,
		LastRefill: lastRefill,
		ConfigHash: tb.hash,
	}

	result := CheckResult{
		Allowed:   allowed,
		Remaining: tokens,
		Capacity:  cfg.Capacity,
		ResetAt:   tb.resetAt(now, tokens),
	}
	if !allowed {
		result.RetryAfter = tb.retryAfter(tokens, requested)
	}
	return newState, result, nil
}

// retryAfter is the whole-second wait until enough tokens have refilled to
// satisfy the denied request. Zero-rate buckets only reset when their stored
// state expires, so the TTL is the honest answer.
func (tb *TokenBucket) retryAfter(tokens float64, requested int64) time.Duration {
	if tb.config.RefillRate <= 0 {
		return ZeroRateTTL
	}
	secs := math.Ceil((float64(requested) - tokens) / tb.config.RefillRate)
	return time.Duration(secs) * time.Second
}

// resetAt projects the time the bucket is back at full capacity.
func (tb *TokenBucket) resetAt(now time.Time, tokens float64) time.Time {
	if tb.config.RefillRate <= 0 {
		return now.Add(ZeroRateTTL)
	}
	missing := float64(tb.config.Capacity) - tokens
	if missing <= 0 {
		return now
	}
	return now.Add(time.Duration(missing / tb.config.RefillRate * float64(time.Second)))
}
