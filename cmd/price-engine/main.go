package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/aggregator"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/config"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", os.Getenv("PRICE_ENGINE_CONFIG"), "TOML or YAML config file. Env: PRICE_ENGINE_CONFIG")
	flag.Parse()

	cfg, err := loadConfig(*configPath, os.LookupEnv)
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Price engine stopped")
	}
}

// loadConfig reads path when given, then overlays the environment.
func loadConfig(path string, lookup func(string) (string, bool)) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Default(), err
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	var rdb *redis.Client
	if cfg.Cache.Backend == config.BackendRedis {
		opts, err := cfg.Redis.Options()
		if err != nil {
			return err
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	}

	agg, err := aggregator.NewFromConfig(cfg, rdb, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           newServer(agg, cfg.Server.RequestTimeout.Std(), logger).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go sweepLoop(ctx, agg, cfg.Server.SweepInterval.Std(), logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("user_agent", cfg.Server.UserAgent).
			Msg("Starting price engine")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	return errors.Join(srv.Shutdown(shutdownCtx), agg.Close(shutdownCtx))
}

// sweepLoop drops expired cache entries every interval until ctx ends.
func sweepLoop(ctx context.Context, agg *aggregator.Aggregator, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := agg.Sweep(ctx); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("Cache sweep failed")
			}
		}
	}
}
