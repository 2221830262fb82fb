package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ratefence/ratefence/core"
)

// Store executes the atomic refill-and-consume pass for one bucket key.
// Implementations must make the read-refill-decide-write sequence indivisible
// with respect to concurrent callers on the same key: the Redis store runs it
// as a single Lua script, the memory store under a per-key lock.
//
// The only mutable shared state in the system lives behind this interface.
type Store interface {
	// RefillAndConsume refills the bucket at key according to config, then
	// consumes tokens if available (or only evaluates availability when
	// dryRun is set). It returns core.ErrClockSkew when now is too far
	// behind the stored refill timestamp; any other failure wraps
	// ErrStoreFailed.
	RefillAndConsume(ctx context.Context, key string, config core.BucketConfig, tokens int64, now time.Time, dryRun bool) (core.CheckResult, error)
}

// ErrStoreFailed marks connectivity, timeout, and script failures. Callers
// feed these into circuit-breaker accounting; clock-skew errors are
// deliberately not wrapped in it.
var ErrStoreFailed = errors.New("bucket store operation failed")

// Key builds the canonical bucket key for one limit dimension.
func Key(scope, identifier, resource string) string {
	return fmt.Sprintf("%s:%s:%s", scope, identifier, resource)
}
