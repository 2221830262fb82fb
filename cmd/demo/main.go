package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ratefence/ratefence/cmd/demo/handlers"
	"github.com/ratefence/ratefence/config"
	"github.com/ratefence/ratefence/limiter"
	"github.com/ratefence/ratefence/middleware"
	"github.com/ratefence/ratefence/store"
)

func main() {
	port := flag.String("port", "8080", "Port to run the server on")
	configFile := flag.String("config", "cmd/demo/config.yaml", "Path to limit configuration file")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()
	provider, err := config.NewDynamicProvider(ctx, config.NewFileSource(*configFile),
		config.WithLogger(logger))
	if err != nil {
		logger.Fatal("config load failed", zap.String("file", *configFile), zap.Error(err))
	}
	go provider.Start(ctx)

	memStore := store.NewMemoryStore()
	defer memStore.StartBackgroundCleanup(time.Minute)()

	svc := limiter.NewService(memStore, provider, limiter.WithLogger(logger))
	rl := middleware.NewRateLimiter(middleware.Config{Service: svc})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.Health)
	mux.Handle("/api/search", rl.Middleware(http.HandlerFunc(handlers.Search)))
	mux.Handle("/api/create", rl.Middleware(http.HandlerFunc(handlers.Create)))
	mux.Handle("/api/login", rl.Middleware(http.HandlerFunc(handlers.Login)))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, `ratefence demo server

Available endpoints:
  GET  /health       - Health check (no rate limit)
  GET  /api/search   - Search endpoint (100 burst, ~100 req/min)
  POST /api/create   - Create resource (20 burst, ~20 req/min)
  POST /api/login    - Login endpoint (5 burst, ~5 req/min)

Rate limit headers:
  X-RateLimit-Limit     - Bucket capacity
  X-RateLimit-Remaining - Tokens left
  X-RateLimit-Reset     - Unix timestamp when the bucket refills
  Retry-After           - Seconds to wait (when rate limited)

Edit %s while the server runs: limits reload without a restart.
`, *configFile)
	})

	addr := ":" + *port
	logger.Info("demo server listening", zap.String("addr", addr), zap.String("config", *configFile))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
