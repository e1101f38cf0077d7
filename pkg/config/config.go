// Package config loads the price engine configuration from a TOML or YAML
// file and the environment. Every field has a default, so an empty file, or
// no file at all, yields a working engine for the built-in platforms.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/logging"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/platform"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/quote"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/retry"
)

// ErrUnknownFormat is returned by Load for files that are neither TOML nor
// YAML.
var ErrUnknownFormat = errors.New("unknown config format")

// Cache backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Page loaders.
const (
	LoaderHTTP    = "http"
	LoaderBrowser = "browser"
)

// Duration is a time.Duration written as "30m" or "1.5s" in config files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig configures cmd/price-engine.
type ServerConfig struct {
	Port            string   `toml:"port" yaml:"port"`
	UserAgent       string   `toml:"user_agent" yaml:"user_agent"`
	RequestTimeout  Duration `toml:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
	SweepInterval   Duration `toml:"sweep_interval" yaml:"sweep_interval"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Pretty bool   `toml:"pretty" yaml:"pretty"`
}

// RedisConfig locates the shared Redis.
type RedisConfig struct {
	// URL is either host:port or a redis:// URL.
	URL string `toml:"url" yaml:"url"`
}

// Options converts URL to client options.
func (r RedisConfig) Options() (*redis.Options, error) {
	if strings.Contains(r.URL, "://") {
		opts, err := redis.ParseURL(r.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: r.URL}, nil
}

// CacheConfig configures pkg/cache.
type CacheConfig struct {
	Backend        string   `toml:"backend" yaml:"backend"`
	FreshTTL       Duration `toml:"fresh_ttl" yaml:"fresh_ttl"`
	StaleTTL       Duration `toml:"stale_ttl" yaml:"stale_ttl"`
	RefreshTimeout Duration `toml:"refresh_timeout" yaml:"refresh_timeout"`
}

// EngineConfig tunes the aggregator and waterfall.
type EngineConfig struct {
	BatchSize          int     `toml:"batch_size" yaml:"batch_size"`
	MaxConcurrent      int     `toml:"max_concurrent" yaml:"max_concurrent"`
	MinConfidence      float64 `toml:"min_confidence" yaml:"min_confidence"`
	EstimateConfidence float64 `toml:"estimate_confidence" yaml:"estimate_confidence"`
}

// ScrapeConfig configures the scraped tier.
type ScrapeConfig struct {
	Loader      string   `toml:"loader" yaml:"loader"`
	ThinkMin    Duration `toml:"think_min" yaml:"think_min"`
	ThinkMax    Duration `toml:"think_max" yaml:"think_max"`
	UserAgents  []string `toml:"user_agents" yaml:"user_agents"`
	BrowserPath string   `toml:"browser_path" yaml:"browser_path"`
	Headful     bool     `toml:"headful" yaml:"headful"`
}

// APIConfig configures the structured API tier. A provider without a key
// is not registered.
type APIConfig struct {
	Timeout       Duration `toml:"timeout" yaml:"timeout"`
	RainforestKey string   `toml:"rainforest_key" yaml:"rainforest_key"`
	RainforestURL string   `toml:"rainforest_url" yaml:"rainforest_url"`
	DataYugeKey   string   `toml:"datayuge_key" yaml:"datayuge_key"`
	DataYugeURL   string   `toml:"datayuge_url" yaml:"datayuge_url"`
}

// PlatformConfig overrides a built-in platform by name, or adds a new one
// when the name is unknown. Zero fields keep the built-in value.
type PlatformConfig struct {
	Name           string   `toml:"name" yaml:"name"`
	Disabled       bool     `toml:"disabled" yaml:"disabled"`
	SearchTemplate string   `toml:"search_template" yaml:"search_template"`
	MaxRetries     *int     `toml:"max_retries" yaml:"max_retries"`
	InitialDelay   Duration `toml:"initial_delay" yaml:"initial_delay"`
	MaxDelay       Duration `toml:"max_delay" yaml:"max_delay"`
	Multiplier     float64  `toml:"backoff_multiplier" yaml:"backoff_multiplier"`
	PageTimeout    Duration `toml:"page_timeout" yaml:"page_timeout"`
	PriceSelectors []string `toml:"price_selectors" yaml:"price_selectors"`
	NameSelectors  []string `toml:"name_selectors" yaml:"name_selectors"`
	EstimateMin    float64  `toml:"estimate_min" yaml:"estimate_min"`
	EstimateMax    float64  `toml:"estimate_max" yaml:"estimate_max"`
	API            string   `toml:"api" yaml:"api"`
	StoreCode      string   `toml:"store_code" yaml:"store_code"`
	MinConfidence  float64  `toml:"min_confidence" yaml:"min_confidence"`
}

// Config is the complete engine configuration.
type Config struct {
	Server    ServerConfig     `toml:"server" yaml:"server"`
	Log       LogConfig        `toml:"log" yaml:"log"`
	Redis     RedisConfig      `toml:"redis" yaml:"redis"`
	Cache     CacheConfig      `toml:"cache" yaml:"cache"`
	Engine    EngineConfig     `toml:"engine" yaml:"engine"`
	Scrape    ScrapeConfig     `toml:"scrape" yaml:"scrape"`
	API       APIConfig        `toml:"api" yaml:"api"`
	Platforms []PlatformConfig `toml:"platforms" yaml:"platforms"`
}

// Default returns the zero-configuration setup: in-memory cache, plain HTTP
// page loads, no API keys and the built-in platforms.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			UserAgent:       "price-engine/0.1.0",
			RequestTimeout:  Duration(2 * time.Minute),
			ShutdownTimeout: Duration(15 * time.Second),
			SweepInterval:   Duration(10 * time.Minute),
		},
		Log:   LogConfig{Level: string(logging.LevelInfo)},
		Redis: RedisConfig{URL: "localhost:6379"},
		Cache: CacheConfig{
			Backend:        BackendMemory,
			FreshTTL:       Duration(30 * time.Minute),
			StaleTTL:       Duration(60 * time.Minute),
			RefreshTimeout: Duration(2 * time.Minute),
		},
		Engine: EngineConfig{
			BatchSize:          3,
			MaxConcurrent:      3,
			MinConfidence:      platform.DefaultMinConfidence,
			EstimateConfidence: quote.EstimateConfidence,
		},
		Scrape: ScrapeConfig{
			Loader:   LoaderHTTP,
			ThinkMin: Duration(500 * time.Millisecond),
			ThinkMax: Duration(1500 * time.Millisecond),
		},
		API: APIConfig{
			Timeout: Duration(10 * time.Second),
		},
	}
}

// Load reads path over Default, choosing the decoder by extension
// (.toml, .yaml, .yml), and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("%s: %w", path, ErrUnknownFormat)
	}
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables. lookup is usually os.LookupEnv.
//
//	PORT, USER_AGENT, REDIS_URL, CACHE_BACKEND, SCRAPE_LOADER, LOG_LEVEL,
//	RAINFOREST_API_KEY, DATAYUGE_API_KEY, BATCH_SIZE, MAX_CONCURRENT
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("PORT", &c.Server.Port)
	str("USER_AGENT", &c.Server.UserAgent)
	str("REDIS_URL", &c.Redis.URL)
	str("CACHE_BACKEND", &c.Cache.Backend)
	str("SCRAPE_LOADER", &c.Scrape.Loader)
	str("LOG_LEVEL", &c.Log.Level)
	str("RAINFOREST_API_KEY", &c.API.RainforestKey)
	str("DATAYUGE_API_KEY", &c.API.DataYugeKey)

	if err := num("BATCH_SIZE", &c.Engine.BatchSize); err != nil {
		return err
	}
	return num("MAX_CONCURRENT", &c.Engine.MaxConcurrent)
}

// Validate reports inconsistent settings.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}

	switch c.Cache.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis cache backend requires a redis url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}
	if c.Cache.FreshTTL <= 0 {
		errs = append(errs, errors.New("cache fresh_ttl must be positive"))
	}
	if c.Cache.StaleTTL < c.Cache.FreshTTL {
		errs = append(errs, errors.New("cache stale_ttl must not be shorter than fresh_ttl"))
	}

	if c.Engine.BatchSize <= 0 {
		errs = append(errs, errors.New("engine batch_size must be positive"))
	}
	if c.Engine.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("engine max_concurrent must be positive"))
	}
	if c.Engine.MinConfidence < 0 || c.Engine.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("engine min_confidence must be in [0,1], got %v", c.Engine.MinConfidence))
	}
	if c.Engine.EstimateConfidence < 0 || c.Engine.EstimateConfidence > 1 {
		errs = append(errs, fmt.Errorf("engine estimate_confidence must be in [0,1], got %v", c.Engine.EstimateConfidence))
	}

	switch c.Scrape.Loader {
	case LoaderHTTP, LoaderBrowser:
	default:
		errs = append(errs, fmt.Errorf("unknown scrape loader %q", c.Scrape.Loader))
	}
	if c.Scrape.ThinkMin < 0 || c.Scrape.ThinkMax < c.Scrape.ThinkMin {
		errs = append(errs, errors.New("scrape think_max must be at least think_min"))
	}

	if _, err := c.Catalog(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Catalog applies the platform overrides and the engine-wide confidence
// floor to the built-in platforms.
func (c Config) Catalog() ([]platform.Platform, error) {
	platforms := platform.Defaults()
	seen := make(map[string]bool)

	for _, pc := range c.Platforms {
		key := strings.ToLower(strings.TrimSpace(pc.Name))
		if key == "" {
			return nil, errors.New("platform override without a name")
		}
		if seen[key] {
			return nil, fmt.Errorf("platform %s configured twice", pc.Name)
		}
		seen[key] = true

		idx := -1
		for i, p := range platforms {
			if strings.EqualFold(p.Name, pc.Name) {
				idx = i
				break
			}
		}
		if pc.Disabled {
			if idx >= 0 {
				platforms = append(platforms[:idx], platforms[idx+1:]...)
			}
			continue
		}
		if idx < 0 {
			platforms = append(platforms, platform.Platform{
				Name:        strings.TrimSpace(pc.Name),
				Retry:       platformRetryDefault(),
				PageTimeout: 12 * time.Second,
			})
			idx = len(platforms) - 1
		}
		pc.apply(&platforms[idx])
	}

	for i := range platforms {
		if platforms[i].MinConfidence == 0 {
			platforms[i].MinConfidence = c.Engine.MinConfidence
		}
		if err := platforms[i].Validate(); err != nil {
			return nil, err
		}
	}
	return platforms, nil
}

func platformRetryDefault() retry.Policy {
	return retry.Policy{
		MaxRetries:        2,
		InitialDelay:      time.Second,
		MaxDelay:          4 * time.Second,
		BackoffMultiplier: 2,
	}
}

func (pc PlatformConfig) apply(p *platform.Platform) {
	if pc.SearchTemplate != "" {
		p.SearchTemplate = pc.SearchTemplate
	}
	if pc.MaxRetries != nil {
		p.Retry.MaxRetries = *pc.MaxRetries
	}
	if pc.InitialDelay > 0 {
		p.Retry.InitialDelay = pc.InitialDelay.Std()
	}
	if pc.MaxDelay > 0 {
		p.Retry.MaxDelay = pc.MaxDelay.Std()
	}
	if pc.Multiplier > 0 {
		p.Retry.BackoffMultiplier = pc.Multiplier
	}
	if pc.PageTimeout > 0 {
		p.PageTimeout = pc.PageTimeout.Std()
	}
	if len(pc.PriceSelectors) > 0 {
		p.PriceSelectors = pc.PriceSelectors
		p.Split = nil
	}
	if len(pc.NameSelectors) > 0 {
		p.NameSelectors = pc.NameSelectors
	}
	if pc.EstimateMin > 0 || pc.EstimateMax > 0 {
		p.Estimate = &platform.Range{Min: pc.EstimateMin, Max: pc.EstimateMax}
	}
	if pc.API != "" {
		p.API = pc.API
	}
	if pc.StoreCode != "" {
		p.StoreCode = pc.StoreCode
	}
	if pc.MinConfidence > 0 {
		p.MinConfidence = pc.MinConfidence
	}
}
