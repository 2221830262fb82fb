package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ratefence/ratefence/api"
	"github.com/ratefence/ratefence/config"
	"github.com/ratefence/ratefence/limiter"
	"github.com/ratefence/ratefence/metrics"
	"github.com/ratefence/ratefence/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	port := getEnv("PORT", "8080")
	redisAddr := getEnv("REDIS_ADDR", "")
	configFile := getEnv("CONFIG_FILE", "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage backend: Redis when an address is given, otherwise a
	// per-process fallback that cannot coordinate across replicas.
	var st store.Store
	if redisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: getEnv("REDIS_PASSWORD", ""),
		})
		redisStore, err := store.NewRedisStore(client)
		if err != nil {
			logger.Fatal("redis connection failed", zap.String("addr", redisAddr), zap.Error(err))
		}
		logger.Info("connected to redis", zap.String("addr", redisAddr))
		st = redisStore
	} else {
		logger.Warn("using in-memory storage, limits are per-process only")
		memStore := store.NewMemoryStore()
		defer memStore.StartBackgroundCleanup(time.Minute)()
		st = memStore
	}

	// Limit configuration: a YAML file with periodic reload, or the global
	// default for everything when no file is given.
	var provider config.Provider
	if configFile != "" {
		dynamic, err := config.NewDynamicProvider(ctx, config.NewFileSource(configFile),
			config.WithLogger(logger))
		if err != nil {
			logger.Fatal("config load failed", zap.String("file", configFile), zap.Error(err))
		}
		go dynamic.Start(ctx)
		provider = dynamic
	} else {
		static, err := config.NewStaticProvider(nil)
		if err != nil {
			logger.Fatal("config init failed", zap.Error(err))
		}
		provider = static
	}

	policy := limiter.FailOpen
	if getEnv("FALLBACK_POLICY", "open") == "closed" {
		policy = limiter.FailClosed
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	recorder := metrics.NewPrometheus(registry)

	service := limiter.NewService(st, provider,
		limiter.WithFallbackPolicy(policy),
		limiter.WithLogger(logger),
		limiter.WithRecorder(recorder),
	)
	checker := limiter.NewHierarchicalChecker(service,
		limiter.WithCheckerLogger(logger),
		limiter.WithCheckerRecorder(recorder),
	)
	handler := api.NewHandler(service, checker, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/check", handler.Check)
	mux.HandleFunc("/v1/check/multi", handler.CheckMulti)
	mux.HandleFunc("/healthz", handler.Health)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", server.Addr), zap.String("fallback", policy.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
