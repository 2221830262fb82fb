package store

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ratefence/ratefence/core"
)

//go:embed token_bucket.lua
var tokenBucketScript string

const (
	defaultKeyPrefix   = "ratefence"
	defaultCallTimeout = 500 * time.Millisecond
)

// RedisStore executes the bucket script against a shared Redis. The script
// runs the whole read-refill-decide-write sequence server-side, so concurrent
// callers on the same key are serialized by Redis itself and there is no
// read-then-write race window.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	sha     string
}

var _ Store = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the key namespace (default "ratefence").
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithCallTimeout bounds every store round trip (default 500ms). A timeout is
// indistinguishable from any other store failure to callers.
func WithCallTimeout(timeout time.Duration) RedisOption {
	return func(s *RedisStore) { s.timeout = timeout }
}

// NewRedisStore verifies connectivity and preloads the bucket script.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	s := &RedisStore{
		client:  client,
		prefix:  defaultKeyPrefix,
		timeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: ping: %v", ErrStoreFailed, err)
	}
	sha, err := client.ScriptLoad(ctx, tokenBucketScript).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: script load: %v", ErrStoreFailed, err)
	}
	s.sha = sha
	return s, nil
}

// RefillAndConsume runs the bucket script for one key.
func (s *RedisStore) RefillAndConsume(ctx context.Context, key string, config core.BucketConfig, tokens int64, now time.Time, dryRun bool) (core.CheckResult, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	config = config.WithDefaults()
	dry := "0"
	if dryRun {
		dry = "1"
	}
	args := []any{
		tokens,
		config.Capacity,
		config.RefillRate,
		float64(now.UnixMicro()) / 1e6,
		config.MinRefillInterval.Seconds(),
		config.Hash(),
		dry,
		core.MaxBackwardSkew.Seconds(),
		core.MaxElapsed.Seconds(),
		core.TTLFloor.Seconds(),
		core.ZeroRateTTL.Seconds(),
	}
	keys := []string{s.prefix + ":" + key}

	res, err := s.client.EvalSha(ctx, s.sha, keys, args...).Slice()
	if isNoScript(err) {
		// Redis restarted and lost its script cache; reload and retry once.
		if s.sha, err = s.client.ScriptLoad(ctx, tokenBucketScript).Result(); err == nil {
			res, err = s.client.EvalSha(ctx, s.sha, keys, args...).Slice()
		}
	}
	if err != nil {
		if isClockSkew(err) {
			return core.CheckResult{}, fmt.Errorf("%w: %v", core.ErrClockSkew, err)
		}
		return core.CheckResult{}, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	if len(res) != 4 {
		return core.CheckResult{}, fmt.Errorf("%w: unexpected script reply of %d values", ErrStoreFailed, len(res))
	}

	result := core.CheckResult{
		Allowed:    toInt64(res[0]) == 1,
		Remaining:  toFloat64(res[1]),
		Capacity:   config.Capacity,
		RetryAfter: time.Duration(toInt64(res[2])) * time.Second,
		ResetAt:    time.UnixMicro(int64(toFloat64(res[3]) * 1e6)),
	}
	return result, nil
}

func isNoScript(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOSCRIPT")
}

func isClockSkew(err error) bool {
	return err != nil && strings.Contains(err.Error(), "CLOCK_SKEW")
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	case string:
		i, _ := strconv.ParseInt(t, 10, 64)
		return i
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}
