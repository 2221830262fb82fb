package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ratefence/ratefence/core"
)

// MemoryStore keeps bucket state in a process-local map. It enforces the same
// semantics as the Redis store (the two share core.TokenBucket as the single
// description of the algorithm) but cannot coordinate across instances; use it
// for tests and single-instance deployments only.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]*memEntry
}

type memEntry struct {
	mu        sync.Mutex
	state     *core.BucketState
	expiresAt time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*memEntry)}
}

// RefillAndConsume runs the refill-and-consume pass under the key's lock.
func (s *MemoryStore) RefillAndConsume(ctx context.Context, key string, config core.BucketConfig, tokens int64, now time.Time, dryRun bool) (core.CheckResult, error) {
	if err := ctx.Err(); err != nil {
		return core.CheckResult{}, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}

	bucket, err := core.NewTokenBucket(config)
	if err != nil {
		return core.CheckResult{}, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}

	entry := s.entry(key)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	state := entry.state
	if state != nil && now.After(entry.expiresAt) {
		// The Redis store would have expired this key already.
		state = nil
	}

	newState, result, err := bucket.Check(state, now, tokens, dryRun)
	if err != nil {
		return core.CheckResult{}, err
	}
	entry.state = newState
	entry.expiresAt = now.Add(config.StateTTL(newState.Tokens))
	return result, nil
}

// entry returns the entry for key, creating it if needed.
func (s *MemoryStore) entry(key string) *memEntry {
	s.mu.RLock()
	entry, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return entry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check: another goroutine might have created it.
	if entry, ok = s.buckets[key]; ok {
		return entry
	}
	entry = &memEntry{}
	s.buckets[key] = entry
	return entry
}

// Cleanup removes expired buckets and reports how many were dropped.
func (s *MemoryStore) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.buckets {
		entry.mu.Lock()
		expired := entry.state != nil && now.After(entry.expiresAt)
		entry.mu.Unlock()
		if expired {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

// Count returns the number of live buckets.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}

// StartBackgroundCleanup periodically drops expired buckets. Call the
// returned function to stop the goroutine.
func (s *MemoryStore) StartBackgroundCleanup(interval time.Duration) func() {
	if interval <= 0 {
		return func() {}
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				s.Cleanup(time.Now())
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}
