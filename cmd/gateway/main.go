package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tiergate/internal/cache"
	"tiergate/internal/catalog"
	"tiergate/internal/httpserver"
	"tiergate/internal/idgen"
	"tiergate/internal/metrics"
	"tiergate/internal/responses"
	"tiergate/internal/upstream"
	"tiergate/pkg/logging/logging"
)

type Config struct {
	Host             string
	Port             string
	UpstreamBaseURL  string
	ProbeKey         string
	ProbeConcurrency int
	ProbeRate        float64
	RefreshInterval  time.Duration
	CacheBackend     string // "memory" or "redis"
	RedisAddr        string
	VersionID        string
	MaxBodyBytes     int64
}

func LoadConfig() (Config, error) {
	cfg := Config{
		Host:            getenv("HOST", "0.0.0.0"),
		Port:            getenv("PORT", "3000"),
		UpstreamBaseURL: getenv("UPSTREAM_BASE_URL", upstream.DefaultBaseURL),
		ProbeKey:        os.Getenv("OPENROUTER_API_KEY"),
		CacheBackend:    getenv("CACHE_BACKEND", "memory"),
		RedisAddr:       getenv("REDIS_ADDR", "127.0.0.1:6379"),
		VersionID:       getenv("GATEWAY_VERSION", "v1"),
	}

	if _, err := strconv.ParseUint(cfg.Port, 10, 16); err != nil {
		return Config{}, fmt.Errorf("PORT must be a valid number: %w", err)
	}

	var err error
	if cfg.ProbeConcurrency, err = getenvInt("HEALTH_CHECK_CONCURRENCY", 5); err != nil {
		return Config{}, err
	}
	if cfg.ProbeRate, err = getenvFloat("PROBE_RATE", 10); err != nil {
		return Config{}, err
	}
	secs, err := getenvInt("REFRESH_INTERVAL_SECS", 3600)
	if err != nil {
		return Config{}, err
	}
	cfg.RefreshInterval = time.Duration(secs) * time.Second

	maxBody, err := getenvInt("MAX_BODY_BYTES", 10*1024*1024)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxBodyBytes = int64(maxBody)

	switch cfg.CacheBackend {
	case "memory", "redis":
	default:
		return Config{}, fmt.Errorf("CACHE_BACKEND must be memory or redis, got %q", cfg.CacheBackend)
	}
	return cfg, nil
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("gateway exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	logger.Info("loaded config",
		zap.String("addr", net.JoinHostPort(cfg.Host, cfg.Port)),
		zap.String("upstream_base_url", cfg.UpstreamBaseURL),
		zap.Bool("probe_key_set", cfg.ProbeKey != ""),
		zap.Int("probe_concurrency", cfg.ProbeConcurrency),
		zap.Float64("probe_rate", cfg.ProbeRate),
		zap.Duration("refresh_interval", cfg.RefreshInterval),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.String("version_id", cfg.VersionID),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.CacheBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		defer redisClient.Close()

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.RedisAddr),
		)
	}

	// ----- Snapshot store -----
	store := cache.NewStore(cache.Config{
		Backend: cfg.CacheBackend,
		Prefix:  "tiergate",
	}, redisClient)
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	// ----- Upstream client -----
	client, err := upstream.NewClient(upstream.Config{
		BaseURL: cfg.UpstreamBaseURL,
	}, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	// ----- Model directory -----
	dir, err := catalog.New(catalog.Config{
		ProbeKey:        cfg.ProbeKey,
		Concurrency:     cfg.ProbeConcurrency,
		ProbeRate:       cfg.ProbeRate,
		RefreshInterval: cfg.RefreshInterval,
		VersionID:       cfg.VersionID,
	}, client, store, logger)
	if err != nil {
		return err
	}

	if dir.Restore(ctx) {
		// Serve the restored snapshot while the full refresh runs.
		go func() {
			_ = dir.FullRefresh(ctx)
			dir.Run(ctx)
		}()
	} else {
		if err := dir.FullRefresh(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		go dir.Run(ctx)
	}

	// ----- Translator -----
	translator := responses.NewTranslator(idgen.New(1, time.Now), time.Now, logger)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, httpserver.Deps{
		Directory:  dir,
		Upstream:   client,
		Translator: translator,
	}, httpserver.Options{
		MaxBodyBytes: cfg.MaxBodyBytes,
	})

	// ----- HTTP server -----
	// No WriteTimeout: streamed responses last as long as the upstream stream.
	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting gateway", zap.String("addr", srv.Addr))

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ----- Graceful shutdown -----
	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

// getenv returns the value of the environment variable key or def if not set.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("%s must be a positive number, got %q", key, v)
	}
	return f, nil
}
