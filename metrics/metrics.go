// Package metrics reports limiter behavior. The limiter records through the
// Recorder interface so the hot path never checks for nil; callers pick the
// Prometheus recorder, the no-op recorder, or their own.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives limiter events.
type Recorder interface {
	// RecordCheck counts one decision. result is "allowed" or "denied".
	RecordCheck(scope, resource, result string)

	// RecordDegraded counts a fallback response by machine-readable reason.
	RecordDegraded(reason string)

	// RecordStoreLatency observes one store round trip in seconds.
	RecordStoreLatency(seconds float64)

	// RecordBreakerState reports the breaker state as a gauge
	// (0 closed, 1 open, 2 half-open).
	RecordBreakerState(state float64)

	// RecordHierarchicalRace counts a commit-phase denial after a passing
	// probe. Frequent races indicate heavy cross-instance contention and
	// deserve attention, hence a dedicated counter.
	RecordHierarchicalRace()
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordCheck(scope, resource, result string) {}
func (Nop) RecordDegraded(reason string)               {}
func (Nop) RecordStoreLatency(seconds float64)         {}
func (Nop) RecordBreakerState(state float64)           {}
func (Nop) RecordHierarchicalRace()                    {}

// Prometheus implements Recorder on prometheus collectors.
type Prometheus struct {
	checks       *prometheus.CounterVec
	degraded     *prometheus.CounterVec
	storeLatency prometheus.Histogram
	breakerState prometheus.Gauge
	races        prometheus.Counter
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus creates and registers the limiter collectors. Pass a custom
// Registerer to avoid default-registry collisions in tests.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratefence",
			Name:      "checks_total",
			Help:      "Rate limit decisions by scope, resource and result.",
		}, []string{"scope", "resource", "result"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratefence",
			Name:      "degraded_total",
			Help:      "Fallback responses by reason.",
		}, []string{"reason"}),
		storeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ratefence",
			Name:      "store_seconds",
			Help:      "Bucket store round-trip latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ratefence",
			Name:      "breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}),
		races: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ratefence",
			Name:      "hierarchical_races_total",
			Help:      "Commit-phase denials after a passing probe.",
		}),
	}
	reg.MustRegister(p.checks, p.degraded, p.storeLatency, p.breakerState, p.races)
	return p
}

func (p *Prometheus) RecordCheck(scope, resource, result string) {
	p.checks.WithLabelValues(scope, resource, result).Inc()
}

func (p *Prometheus) RecordDegraded(reason string) {
	p.degraded.WithLabelValues(reason).Inc()
}

func (p *Prometheus) RecordStoreLatency(seconds float64) {
	p.storeLatency.Observe(seconds)
}

func (p *Prometheus) RecordBreakerState(state float64) {
	p.breakerState.Set(state)
}

func (p *Prometheus) RecordHierarchicalRace() {
	p.races.Inc()
}
