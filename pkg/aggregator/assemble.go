package aggregator

import (
	"errors"
	"fmt"
	"io"

	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/cache"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/client"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/config"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/gate"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/logging"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/platform"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/ratelimit"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/source"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/waterfall"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ScrapeGateName labels the scrape gate's metrics.
const ScrapeGateName = "scrape"

// NewFromConfig assembles the engine described by cfg. rdb may be nil
// unless cfg selects the Redis cache backend; when given, rate limit state
// is shared through it too. API providers without a key are not
// registered, so their platforms skip the API tier.
func NewFromConfig(cfg config.Config, rdb *redis.Client, logger zerolog.Logger) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	platforms, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	var store ratelimit.Store = ratelimit.NewMemoryStore()
	if rdb != nil {
		store = ratelimit.NewRedisStore(rdb)
	}
	tracker := ratelimit.NewTracker(store, logger.With().Str("component", logging.ComponentRateLimit).Logger())

	apiClient, err := client.New(client.Config{
		UserAgent: cfg.Server.UserAgent,
		Timeout:   cfg.API.Timeout.Std(),
		Tracker:   tracker,
	})
	if err != nil {
		return nil, fmt.Errorf("api client: %w", err)
	}

	var providers []source.Provider
	if cfg.API.RainforestKey != "" {
		providers = append(providers, source.NewRainforestProvider(apiClient, cfg.API.RainforestKey, cfg.API.RainforestURL))
	}
	if cfg.API.DataYugeKey != "" {
		providers = append(providers, source.NewDataYugeProvider(apiClient, cfg.API.DataYugeKey, cfg.API.DataYugeURL))
	}
	api := source.NewAPIResolver(cfg.API.Timeout.Std(), providers...)

	loader, closers, err := newLoader(cfg, platforms, tracker, logger)
	if err != nil {
		return nil, err
	}

	scraper := source.NewScrapeResolver(loader, gate.New(ScrapeGateName, cfg.Engine.MaxConcurrent), source.ScrapeConfig{
		UserAgents: cfg.Scrape.UserAgents,
		ThinkMin:   cfg.Scrape.ThinkMin.Std(),
		ThinkMax:   cfg.Scrape.ThinkMax.Std(),
	})
	estimator := source.NewEstimator(cfg.Engine.EstimateConfidence, nil)
	wf := waterfall.New([]source.Resolver{api, scraper}, estimator, logger)

	cacheCfg := cache.Config{
		FreshTTL:       cfg.Cache.FreshTTL.Std(),
		StaleTTL:       cfg.Cache.StaleTTL.Std(),
		RefreshTimeout: cfg.Cache.RefreshTimeout.Std(),
	}
	var backend cache.Backend = cache.NewMemoryBackend()
	if cfg.Cache.Backend == config.BackendRedis {
		if rdb == nil {
			return nil, errors.New("redis cache backend requires a redis client")
		}
		backend = cache.NewRedisBackend(rdb, cacheCfg.StaleTTL)
	}
	cm, err := cache.New(cacheCfg, backend, logger)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Strs("platforms", platform.Names(platforms)).
		Strs("api_providers", api.Providers()).
		Str("loader", cfg.Scrape.Loader).
		Str("cache", backend.Name()).
		Int("max_concurrent", cfg.Engine.MaxConcurrent).
		Int("batch_size", cfg.Engine.BatchSize).
		Msg("Price engine assembled")

	return New(Deps{
		Platforms: platforms,
		Resolver:  wf,
		Cache:     cm,
		Closers:   closers,
		Logger:    logger,
	}, Config{BatchSize: cfg.Engine.BatchSize, ResolveTimeout: cfg.Cache.RefreshTimeout.Std()})
}

func newLoader(cfg config.Config, platforms []platform.Platform, tracker *ratelimit.Tracker, logger zerolog.Logger) (source.PageLoader, []io.Closer, error) {
	if cfg.Scrape.Loader == config.LoaderBrowser {
		b := source.NewBrowserLoader(source.BrowserConfig{
			ExecPath: cfg.Scrape.BrowserPath,
			Headful:  cfg.Scrape.Headful,
		}, logger.With().Str("component", logging.ComponentBrowser).Logger())
		return b, []io.Closer{b}, nil
	}

	// Page loads are bounded per platform; the client timeout only needs
	// to cover the slowest one.
	timeout := cfg.API.Timeout.Std()
	for _, p := range platforms {
		timeout = max(timeout, p.PageTimeout)
	}
	pageClient, err := client.New(client.Config{
		UserAgent: cfg.Server.UserAgent,
		Timeout:   timeout,
		Tracker:   tracker,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("page client: %w", err)
	}
	return source.NewHTTPLoader(pageClient, nil), nil, nil
}
