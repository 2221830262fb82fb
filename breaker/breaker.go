// Package breaker implements the per-process circuit breaker guarding the
// bucket store. The failure signal (store reachability) is local, so there is
// no cross-instance coordination: brief disagreement between instances about
// store health is acceptable and self-correcting, and it avoids a circular
// dependency on the store itself.
package breaker

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State of the breaker.
type State int

const (
	// Closed lets all calls through. The normal state.
	Closed State = iota
	// Open fast-fails all calls without touching the store.
	Open
	// HalfOpen lets a small number of probe calls through after the
	// backoff timeout has elapsed.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	// DefaultFailureThreshold is the consecutive failures that open the breaker.
	DefaultFailureThreshold = 5
	// DefaultSuccessThreshold is the consecutive half-open successes that close it.
	DefaultSuccessThreshold = 2
	// DefaultInitialBackoff is the first open-state timeout.
	DefaultInitialBackoff = time.Second
	// DefaultMaxBackoff caps the exponential backoff.
	DefaultMaxBackoff = time.Minute
	// DefaultHalfOpenProbes is how many concurrent probes half-open admits.
	DefaultHalfOpenProbes = 2
)

// Config tunes the breaker. Zero values take the defaults above.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	HalfOpenProbes   int
	Clock            clockwork.Clock

	// OnStateChange, if set, is invoked (under the breaker lock) whenever
	// the state transitions. Used for logging and metrics.
	OnStateChange func(from, to State)
}

// Breaker is a consecutive-failure circuit breaker with capped exponential
// backoff. All methods are safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	config Config
	clock  clockwork.Clock

	state       State
	failures    int
	successes   int
	probes      int
	backoff     time.Duration
	reopenAfter time.Time
}

// New creates a breaker in the Closed state.
func New(config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultFailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultSuccessThreshold
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = DefaultInitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = DefaultMaxBackoff
	}
	if config.HalfOpenProbes <= 0 {
		config.HalfOpenProbes = DefaultHalfOpenProbes
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	return &Breaker{
		config:  config,
		clock:   config.Clock,
		state:   Closed,
		backoff: config.InitialBackoff,
	}
}

// Allow reports whether a call may proceed to the store. In the open state it
// returns false until the backoff timeout elapses, then transitions to
// half-open and admits a bounded number of probes.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.clock.Now().Before(b.reopenAfter) {
			return false
		}
		b.transition(HalfOpen)
		b.successes = 0
		b.probes = 1
		return true
	case HalfOpen:
		if b.probes >= b.config.HalfOpenProbes {
			return false
		}
		b.probes++
		return true
	default:
		return true
	}
}

// RecordSuccess notes a successful store call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transition(Closed)
			b.failures = 0
			b.backoff = b.config.InitialBackoff
		}
	}
}

// RecordFailure notes a failed store call. Consecutive failures in the closed
// state open the breaker; any failure in half-open reopens it with a larger
// backoff.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.open()
		}
	case HalfOpen:
		b.backoff = b.nextBackoff()
		b.open()
	}
}

// State returns the current state, accounting for an elapsed open timeout.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// open moves to Open and schedules the next half-open window.
func (b *Breaker) open() {
	b.transition(Open)
	b.reopenAfter = b.clock.Now().Add(b.backoff)
	b.failures = 0
	b.successes = 0
}

func (b *Breaker) nextBackoff() time.Duration {
	next := b.backoff * 2
	if next > b.config.MaxBackoff {
		next = b.config.MaxBackoff
	}
	return next
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(from, to)
	}
}
