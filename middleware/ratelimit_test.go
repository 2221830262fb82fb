package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ratefence/ratefence/config"
	"github.com/ratefence/ratefence/core"
	"github.com/ratefence/ratefence/limiter"
	"github.com/ratefence/ratefence/store"
)

func testService(t *testing.T, capacity int64, rate float64) *limiter.Service {
	t.Helper()
	provider, err := config.NewStaticProvider([]config.Entry{
		{Name: "ip-default", Scope: "ip", Capacity: capacity, RefillRate: rate},
	})
	if err != nil {
		t.Fatal(err)
	}
	return limiter.NewService(store.NewMemoryStore(), provider,
		limiter.WithClock(clockwork.NewFakeClock()))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareAllowsAndSetsHeaders(t *testing.T) {
	rl := NewRateLimiter(Config{Service: testService(t, 5, 0)})
	handler := rl.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Errorf("X-RateLimit-Limit = %q, want 5", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("X-RateLimit-Remaining = %q, want 4", got)
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("X-RateLimit-Reset must be set")
	}
	if rec.Header().Get("X-RateLimit-Degraded") != "" {
		t.Error("healthy path must not set the degraded marker")
	}
}

func TestMiddlewareDeniesWithRetryAfter(t *testing.T) {
	rl := NewRateLimiter(Config{Service: testService(t, 1, 0)})
	handler := rl.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if i == 0 {
			if rec.Code != http.StatusOK {
				t.Fatalf("first request status = %d, want 200", rec.Code)
			}
			continue
		}
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("second request status = %d, want 429", rec.Code)
		}
		if rec.Header().Get("Retry-After") == "" {
			t.Error("denial must carry Retry-After")
		}
	}
}

func TestMiddlewareSeparatesClients(t *testing.T) {
	rl := NewRateLimiter(Config{Service: testService(t, 1, 0)})
	handler := rl.Middleware(okHandler())

	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
		req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("client %s status = %d, want its own bucket", addr, rec.Code)
		}
	}
}

func TestMiddlewareHonorsForwardedFor(t *testing.T) {
	rl := NewRateLimiter(Config{Service: testService(t, 1, 0)})
	handler := rl.Middleware(okHandler())

	// Two requests with different proxy hops but the same originating
	// client must share one bucket.
	for i, hops := range []string{"203.0.113.9, 10.0.0.1", "203.0.113.9, 10.0.0.2"} {
		req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
		req.RemoteAddr = "10.0.0.250:99"
		req.Header.Set("X-Forwarded-For", hops)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		want := http.StatusOK
		if i == 1 {
			want = http.StatusTooManyRequests
		}
		if rec.Code != want {
			t.Errorf("request %d status = %d, want %d", i, rec.Code, want)
		}
	}
}

// brokenStore always fails, driving the middleware down the degraded path.
type brokenStore struct{}

func (brokenStore) RefillAndConsume(ctx context.Context, key string, cfg core.BucketConfig, tokens int64, now time.Time, dryRun bool) (core.CheckResult, error) {
	return core.CheckResult{}, store.ErrStoreFailed
}

func TestMiddlewareMarksDegradedResponses(t *testing.T) {
	provider, err := config.NewStaticProvider(nil)
	if err != nil {
		t.Fatal(err)
	}
	svc := limiter.NewService(brokenStore{}, provider)
	rl := NewRateLimiter(Config{Service: svc})
	handler := rl.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("fail-open degraded request status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Degraded"); got != limiter.ReasonStoreError {
		t.Errorf("X-RateLimit-Degraded = %q, want %q", got, limiter.ReasonStoreError)
	}
}
