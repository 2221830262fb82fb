package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ratefence/ratefence/breaker"
	"github.com/ratefence/ratefence/config"
	"github.com/ratefence/ratefence/core"
	"github.com/ratefence/ratefence/metrics"
	"github.com/ratefence/ratefence/store"
)

// Service orchestrates a single-limit check: resolve the policy, consult the
// circuit breaker, run the atomic store pass, and fall back per policy when
// the store cannot be reached. It never caches consuming decisions locally;
// every consuming decision is resolved against the shared store.
type Service struct {
	store    store.Store
	configs  config.Provider
	breaker  *breaker.Breaker
	policy   FallbackPolicy
	clock    clockwork.Clock
	logger   *zap.Logger
	recorder metrics.Recorder
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *breaker.Breaker) ServiceOption {
	return func(s *Service) { s.breaker = b }
}

// WithFallbackPolicy sets the store-outage behavior (default FailOpen).
func WithFallbackPolicy(policy FallbackPolicy) ServiceOption {
	return func(s *Service) { s.policy = policy }
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder metrics.Recorder) ServiceOption {
	return func(s *Service) { s.recorder = recorder }
}

// WithClock injects the clock, primarily for tests.
func WithClock(clock clockwork.Clock) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// NewService wires a rate limiter service around a store and a config
// provider.
func NewService(st store.Store, configs config.Provider, opts ...ServiceOption) *Service {
	s := &Service{
		store:    st,
		configs:  configs,
		policy:   FailOpen,
		clock:    clockwork.NewRealClock(),
		logger:   zap.NewNop(),
		recorder: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.breaker == nil {
		s.breaker = breaker.New(breaker.Config{
			Clock:         s.clock,
			OnStateChange: s.onBreakerChange,
		})
	}
	return s
}

func (s *Service) onBreakerChange(from, to breaker.State) {
	s.logger.Info("store circuit breaker state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	s.recorder.RecordBreakerState(float64(to))
}

// Check runs one rate limit decision. With dryRun set it evaluates
// availability without consuming tokens.
//
// Only malformed requests produce an error. Store trouble is absorbed into a
// degraded Response so callers keep their normal flow.
func (s *Service) Check(ctx context.Context, req Request, dryRun bool) (Response, error) {
	if err := req.validate(); err != nil {
		return Response{}, err
	}

	cfg, err := s.configs.GetConfig(req.Scope, req.Resource)
	if err != nil {
		// Unable to resolve a policy. Failing open with the global
		// default is the conservative availability choice here; the
		// misconfiguration is surfaced through logs and metrics.
		s.logger.Warn("config resolution failed",
			zap.String("scope", req.Scope),
			zap.String("resource", req.Resource),
			zap.Error(err),
		)
		s.recorder.RecordDegraded(ReasonConfigError)
		return s.degradedResponse(config.GlobalDefault, FailOpen, ReasonConfigError), nil
	}

	if !s.breaker.Allow() {
		s.recorder.RecordDegraded(ReasonCircuitOpen)
		return s.degradedResponse(cfg, s.policy, ReasonCircuitOpen), nil
	}

	key := store.Key(req.Scope, req.Identifier, req.Resource)
	start := s.clock.Now()
	result, err := s.store.RefillAndConsume(ctx, key, cfg, req.Tokens, s.clock.Now(), dryRun)
	s.recorder.RecordStoreLatency(s.clock.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, core.ErrClockSkew) {
			// A backward clock jump is a correctness hazard, not a
			// store-health signal: always fail closed and leave the
			// breaker alone.
			s.logger.Error("clock skew detected, failing closed",
				zap.String("key", key),
				zap.Error(err),
			)
			s.recorder.RecordDegraded(ReasonClockSkew)
			return s.degradedResponse(cfg, FailClosed, ReasonClockSkew), nil
		}

		s.breaker.RecordFailure()
		s.logger.Warn("bucket store call failed",
			zap.String("key", key),
			zap.Stringer("fallback", s.policy),
			zap.Error(err),
		)
		s.recorder.RecordDegraded(ReasonStoreError)
		return s.degradedResponse(cfg, s.policy, ReasonStoreError), nil
	}

	s.breaker.RecordSuccess()

	outcome := "allowed"
	if !result.Allowed {
		outcome = "denied"
	}
	s.recorder.RecordCheck(req.Scope, req.Resource, outcome)

	return Response{
		Allowed:         result.Allowed,
		TokensRemaining: result.Remaining,
		TokensCapacity:  result.Capacity,
		RetryAfter:      result.RetryAfter,
		ResetAt:         result.ResetAt,
	}, nil
}

// degradedResponse builds the fallback response for an unreachable or
// unusable authoritative path.
func (s *Service) degradedResponse(cfg core.BucketConfig, policy FallbackPolicy, reason string) Response {
	now := s.clock.Now()
	resp := Response{
		TokensCapacity: cfg.Capacity,
		ResetAt:        now,
		Degraded:       true,
		DegradedReason: reason,
	}
	if policy == FailOpen {
		resp.Allowed = true
		resp.TokensRemaining = float64(cfg.Capacity)
	} else {
		resp.RetryAfter = time.Second
		resp.ResetAt = now.Add(time.Second)
	}
	return resp
}
