// Package limiter implements distributed token-bucket rate limiting on top of
// a shared atomic bucket store.
//
// # Overview
//
// Many stateless service instances share one bucket store (Redis in
// production, an in-process map in tests). Each check performs exactly one
// atomic refill-and-consume round trip against the store, so the fleet can
// never over-consume a bucket no matter how many instances run.
//
// The Service handles one limit dimension per call:
//
//	svc := limiter.NewService(st, provider)
//	resp, err := svc.Check(ctx, limiter.Request{
//	    Identifier: "user_123",
//	    Resource:   "/api/login",
//	    Scope:      "user",
//	    Tokens:     1,
//	}, false)
//
// The HierarchicalChecker composes several dimensions (per-user, per-source,
// global) into one all-or-nothing decision: every limit is probed with a dry
// run, and tokens are consumed only once all probes pass.
//
// # Degradation
//
// A per-process circuit breaker guards the store. When the store is
// unreachable the Service returns a well-formed Response with Degraded set
// and a machine-readable reason, following the configured fail-open or
// fail-closed policy. Backward clock skew beyond tolerance always fails
// closed, regardless of policy, and does not count against the breaker.
//
// # Errors
//
// Only malformed requests return errors (ErrInvalidRequest). Everything the
// store can do wrong is absorbed into the degraded response path so callers
// keep a single control flow.
package limiter
