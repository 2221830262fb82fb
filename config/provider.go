// Package config resolves (scope, resource) pairs to bucket policies. A
// resolution walks three tiers: exact (scope, resource) match, scope-level
// default, then the hardcoded global default. Reloads swap an immutable
// snapshot, so in-flight requests never observe a half-updated view.
package config

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ratefence/ratefence/core"
)

// GlobalDefault applies when neither an exact entry nor a scope default
// matches. Deliberately permissive: unconfigured resources should not be
// throttled hard by accident.
var GlobalDefault = core.BucketConfig{Capacity: 100, RefillRate: 10}

// Provider resolves the bucket policy for one limit dimension.
type Provider interface {
	GetConfig(scope, resource string) (core.BucketConfig, error)
}

// Entry is one declarative limit from the configuration source. An empty
// Resource makes the entry the default for its whole scope.
type Entry struct {
	Name                string  `yaml:"name"`
	Scope               string  `yaml:"scope"`
	Resource            string  `yaml:"resource,omitempty"`
	Capacity            int64   `yaml:"capacity"`
	RefillRate          float64 `yaml:"refill_rate"`
	MinRefillIntervalMs int64   `yaml:"min_refill_interval_ms,omitempty"`
}

func (e Entry) bucketConfig() core.BucketConfig {
	return core.BucketConfig{
		Capacity:          e.Capacity,
		RefillRate:        e.RefillRate,
		MinRefillInterval: time.Duration(e.MinRefillIntervalMs) * time.Millisecond,
	}.WithDefaults()
}

// Source loads the declarative limit list. File parsing, remote fetches and
// the like live behind this seam.
type Source interface {
	Load(ctx context.Context) ([]Entry, error)
}

// snapshot is an immutable resolved view of one successful load.
type snapshot struct {
	exact         map[string]core.BucketConfig // "scope\x00resource"
	scopeDefaults map[string]core.BucketConfig
}

func buildSnapshot(entries []Entry) (*snapshot, error) {
	snap := &snapshot{
		exact:         make(map[string]core.BucketConfig),
		scopeDefaults: make(map[string]core.BucketConfig),
	}
	for _, e := range entries {
		if e.Scope == "" {
			return nil, fmt.Errorf("entry %q: scope is required", e.Name)
		}
		cfg := e.bucketConfig()
		if err := cfg.Validate(); err != nil {
			// Invalid policies fail the whole load; clamping a bad
			// policy silently would hide the misconfiguration.
			return nil, fmt.Errorf("entry %q: %w", e.Name, err)
		}
		if e.Resource == "" {
			snap.scopeDefaults[e.Scope] = cfg
		} else {
			snap.exact[exactKey(e.Scope, e.Resource)] = cfg
		}
	}
	return snap, nil
}

func exactKey(scope, resource string) string {
	return scope + "\x00" + resource
}

// DynamicProvider serves snapshots from a Source and refreshes them in the
// background. A failed reload keeps the previous snapshot.
type DynamicProvider struct {
	source   Source
	interval time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger

	snap atomic.Pointer[snapshot]
}

// ProviderOption configures a DynamicProvider.
type ProviderOption func(*DynamicProvider)

// WithReloadInterval sets the background refresh cadence (default 30s).
func WithReloadInterval(interval time.Duration) ProviderOption {
	return func(p *DynamicProvider) { p.interval = interval }
}

// WithClock injects the clock used by the refresh loop.
func WithClock(clock clockwork.Clock) ProviderOption {
	return func(p *DynamicProvider) { p.clock = clock }
}

// WithLogger sets the logger for reload outcomes.
func WithLogger(logger *zap.Logger) ProviderOption {
	return func(p *DynamicProvider) { p.logger = logger }
}

// NewDynamicProvider performs an initial synchronous load so the provider
// never serves an empty snapshot by surprise.
func NewDynamicProvider(ctx context.Context, source Source, opts ...ProviderOption) (*DynamicProvider, error) {
	p := &DynamicProvider{
		source:   source,
		interval: 30 * time.Second,
		clock:    clockwork.NewRealClock(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.Reload(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// GetConfig resolves scope and resource through the three tiers.
func (p *DynamicProvider) GetConfig(scope, resource string) (core.BucketConfig, error) {
	snap := p.snap.Load()
	if cfg, ok := snap.exact[exactKey(scope, resource)]; ok {
		return cfg, nil
	}
	if cfg, ok := snap.scopeDefaults[scope]; ok {
		return cfg, nil
	}
	return GlobalDefault.WithDefaults(), nil
}

// Reload fetches and swaps in a fresh snapshot. On any failure the previous
// snapshot stays in place.
func (p *DynamicProvider) Reload(ctx context.Context) error {
	entries, err := p.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	snap, err := buildSnapshot(entries)
	if err != nil {
		return err
	}
	p.snap.Store(snap)
	return nil
}

// Start launches the periodic refresh loop. It returns when ctx is canceled.
func (p *DynamicProvider) Start(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := p.Reload(ctx); err != nil {
				p.logger.Warn("config reload failed, keeping previous snapshot", zap.Error(err))
			}
		}
	}
}

// StaticProvider serves one fixed validated snapshot. Handy for tests and
// embedders that manage configuration themselves.
type StaticProvider struct {
	snap *snapshot
}

// NewStaticProvider builds a provider from a literal entry list.
func NewStaticProvider(entries []Entry) (*StaticProvider, error) {
	snap, err := buildSnapshot(entries)
	if err != nil {
		return nil, err
	}
	return &StaticProvider{snap: snap}, nil
}

// GetConfig resolves through the same three tiers as DynamicProvider.
func (p *StaticProvider) GetConfig(scope, resource string) (core.BucketConfig, error) {
	if cfg, ok := p.snap.exact[exactKey(scope, resource)]; ok {
		return cfg, nil
	}
	if cfg, ok := p.snap.scopeDefaults[scope]; ok {
		return cfg, nil
	}
	return GlobalDefault.WithDefaults(), nil
}
