// Command promptd runs the prompt optimization service: an HTTP API that
// matches free-text requirements to prompt engineering frameworks and
// generates framework-compliant prompts, with per-user daily quotas.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/promptforge/promptforge"
	"github.com/promptforge/promptforge/catalog"
	"github.com/promptforge/promptforge/httpapi"
	"github.com/promptforge/promptforge/matcher"
	"github.com/promptforge/promptforge/meter"
	"github.com/promptforge/promptforge/provider/gemini"
	"github.com/promptforge/promptforge/provider/openaicompat"
	"github.com/promptforge/promptforge/quota"
	quotapg "github.com/promptforge/promptforge/quota/postgres"
	quotaredis "github.com/promptforge/promptforge/quota/redis"
	"github.com/promptforge/promptforge/version"
)

func main() {
	if err := run(); err != nil {
		slog.Error("promptd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is fine; real deployments set the environment
	// directly.
	_ = godotenv.Load()

	configPath := flag.String("config", envOr("PROMPTD_CONFIG", "config.yaml"), "path to the YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := promptforge.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	logger.Info("config loaded",
		"environment", cfg.Environment,
		"provider", cfg.Provider.Name,
		"quota_backend", cfg.Quota.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := buildProvider(cfg, logger)
	if err != nil {
		return err
	}

	store, err := buildQuotaStore(ctx, cfg)
	if err != nil {
		return err
	}

	ledger := quota.New(store,
		quota.WithLimits(quota.Limits{Free: cfg.Quota.FreeDailyLimit, Pro: cfg.Quota.ProDailyLimit}),
		quota.WithBypass(cfg.QuotaBypass()),
		quota.WithMaxRequestRetries(cfg.Quota.MaxRequestRetries),
		quota.WithLogger(logger),
	)

	cat, err := catalog.Load(cfg.Catalog.Dir, catalog.WithLogger(logger))
	if err != nil {
		return err
	}

	versions, err := buildVersionStore(ctx, cfg)
	if err != nil {
		return err
	}

	svc, err := promptforge.New(provider,
		promptforge.WithLedger(ledger),
		promptforge.WithCatalog(cat),
		promptforge.WithMatcher(matcher.New(provider, cat, cfg.Provider.Model, matcher.WithLogger(logger))),
		promptforge.WithVersionStore(versions),
		promptforge.WithMeter(meter.NewLogMeter(logger)),
		promptforge.WithModel(cfg.Provider.Model),
		promptforge.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer svc.Close()

	go svc.RunSweeper(ctx)

	handler := httpapi.NewHandler(svc, httpapi.WithLogger(logger))
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.CORS(cfg.CORSAllowOrigins, handler.Routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildProvider(cfg promptforge.Config, logger *slog.Logger) (promptforge.Provider, error) {
	var inner promptforge.Provider
	switch cfg.Provider.Name {
	case "deepseek":
		inner = openaicompat.NewDeepSeek(cfg.Provider.APIKey)
	case "openai-compat":
		if cfg.Provider.BaseURL == "" {
			return nil, fmt.Errorf("provider base_url is required for openai-compat")
		}
		inner = openaicompat.New("openai-compat", cfg.Provider.BaseURL, cfg.Provider.APIKey)
	case "gemini":
		inner = gemini.New(cfg.Provider.APIKey)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}

	policy := promptforge.RetryPolicy{
		MaxAttempts: cfg.Provider.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Provider.RetryBaseDelay),
		Jitter:      true,
	}
	opts := []promptforge.RetryOption{promptforge.WithRetryLogger(logger)}
	if rps := cfg.Provider.RequestsPerSecond; rps > 0 {
		opts = append(opts, promptforge.WithRateLimiter(rate.NewLimiter(rate.Limit(rps), 1)))
	}
	return promptforge.WithRetry(inner, policy, opts...), nil
}

func buildQuotaStore(ctx context.Context, cfg promptforge.Config) (promptforge.RecordStore, error) {
	switch cfg.Quota.Backend {
	case "memory":
		return quota.NewMemoryStore(), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Quota.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("quota postgres: %w", err)
		}
		store := quotapg.New(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Quota.RedisAddr,
			Password: cfg.Quota.RedisPassword,
			DB:       cfg.Quota.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("quota redis: %w", err)
		}
		return quotaredis.New(client), nil
	default:
		return nil, fmt.Errorf("unknown quota backend %q", cfg.Quota.Backend)
	}
}

func buildVersionStore(ctx context.Context, cfg promptforge.Config) (promptforge.VersionStore, error) {
	switch cfg.Versions.Backend {
	case "memory":
		return version.NewMemoryStore(), nil
	case "postgres":
		dsn := cfg.Versions.PostgresDSN
		if dsn == "" {
			dsn = cfg.Quota.PostgresDSN
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("versions postgres: %w", err)
		}
		store := version.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown versions backend %q", cfg.Versions.Backend)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
