package limiter

import (
	"context"

	"go.uber.org/zap"

	"github.com/ratefence/ratefence/metrics"
)

// HierarchicalChecker composes several named limits (per-user, per-source,
// global, ...) into one all-or-nothing decision: every limit is probed with a
// dry run first, and tokens are consumed only after all probes pass. A denial
// therefore never leaves sibling buckets partially consumed.
type HierarchicalChecker struct {
	service  *Service
	logger   *zap.Logger
	recorder metrics.Recorder
}

// CheckerOption configures a HierarchicalChecker.
type CheckerOption func(*HierarchicalChecker)

// WithCheckerLogger sets the structured logger.
func WithCheckerLogger(logger *zap.Logger) CheckerOption {
	return func(c *HierarchicalChecker) { c.logger = logger }
}

// WithCheckerRecorder sets the metrics recorder.
func WithCheckerRecorder(recorder metrics.Recorder) CheckerOption {
	return func(c *HierarchicalChecker) { c.recorder = recorder }
}

// NewHierarchicalChecker wraps a Service.
func NewHierarchicalChecker(service *Service, opts ...CheckerOption) *HierarchicalChecker {
	c := &HierarchicalChecker{
		service:  service,
		logger:   zap.NewNop(),
		recorder: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckAll evaluates the request against every descriptor. The request's
// Scope and Resource are overridden per descriptor; Identifier and Tokens
// apply to all of them.
//
// Between probe and commit other consumers may drain a bucket, so a commit
// can be denied even though its probe passed. That race is surfaced as a
// denial plus a dedicated counter and an error log; tokens already committed
// to earlier descriptors in the same call are not rolled back (the buckets
// self-heal within the next refill window).
func (c *HierarchicalChecker) CheckAll(ctx context.Context, req Request, descriptors []Descriptor) (HierarchicalResponse, error) {
	if len(descriptors) == 0 {
		return HierarchicalResponse{}, ErrNoDescriptors
	}

	// Phase 1: probe every limit without consuming.
	probes := make([]LimitResult, 0, len(descriptors))
	for _, d := range descriptors {
		resp, err := c.service.Check(ctx, c.forDescriptor(req, d), true)
		if err != nil {
			return HierarchicalResponse{}, err
		}
		probes = append(probes, LimitResult{Descriptor: d, Response: resp})
		if !resp.Allowed {
			blocking := d
			return HierarchicalResponse{
				Allowed:  false,
				Results:  probes,
				Blocking: &blocking,
			}, nil
		}
	}

	// Phase 2: all probes passed, consume everywhere.
	commits := make([]LimitResult, 0, len(descriptors))
	for _, d := range descriptors {
		resp, err := c.service.Check(ctx, c.forDescriptor(req, d), false)
		if err != nil {
			return HierarchicalResponse{}, err
		}
		commits = append(commits, LimitResult{Descriptor: d, Response: resp})
		if !resp.Allowed {
			// The bucket was drained between probe and commit by a
			// concurrent consumer.
			c.recorder.RecordHierarchicalRace()
			c.logger.Error("hierarchical commit denied after passing probe",
				zap.String("scope", d.Scope),
				zap.String("resource", d.Resource),
				zap.String("identifier", req.Identifier),
				zap.Int64("tokens", req.Tokens),
			)
			blocking := d
			return HierarchicalResponse{
				Allowed:  false,
				Results:  commits,
				Blocking: &blocking,
			}, nil
		}
	}

	resp := HierarchicalResponse{
		Allowed: true,
		Results: commits,
	}
	resp.MostRestrictive, resp.MostRestrictiveRatio = mostRestrictive(commits)
	return resp, nil
}

func (c *HierarchicalChecker) forDescriptor(req Request, d Descriptor) Request {
	req.Scope = d.Scope
	if d.Resource != "" {
		req.Resource = d.Resource
	}
	return req
}

// mostRestrictive picks the consumed limit with the lowest
// remaining-to-capacity ratio.
func mostRestrictive(results []LimitResult) (*Descriptor, float64) {
	best := -1
	ratio := 0.0
	for i, r := range results {
		if r.Response.TokensCapacity <= 0 {
			continue
		}
		rr := r.Response.TokensRemaining / float64(r.Response.TokensCapacity)
		if best == -1 || rr < ratio {
			best = i
			ratio = rr
		}
	}
	if best == -1 {
		return nil, 0
	}
	d := results[best].Descriptor
	return &d, ratio
}
