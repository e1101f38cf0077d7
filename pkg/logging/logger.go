// Package logging configures structured logging for the price engine using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Component names used for the "component" field.
const (
	ComponentAggregator = "aggregator"
	ComponentCache      = "price-cache"
	ComponentWaterfall  = "waterfall"
	ComponentAPI        = "api-resolver"
	ComponentScraper    = "scrape-resolver"
	ComponentEstimator  = "estimator"
	ComponentRetry      = "retry"
	ComponentRateLimit  = "ratelimit"
	ComponentBrowser    = "browser"
	ComponentServer     = "server"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a logger derived from the global logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForItem returns a child logger tagged with the platform and item being resolved.
func ForItem(logger zerolog.Logger, platform, item string) zerolog.Logger {
	return logger.With().Str("platform", platform).Str("item", item).Logger()
}

// Log Level Guidelines:
//
// Debug: cache lookups, tier attempts, selector misses, gate admission
// Info:  accepted quotes, batch progress and completion, server lifecycle
// Warn:  retries, fallbacks to estimation, rate limit cool-offs, refresh failures
// Error: exhausted sources, backend (Redis) failures, browser start failures
//
// Context Fields:
//   - platform:   storefront name (Amazon, Flipkart, ...)
//   - item:       item name as supplied by the caller
//   - source:     tier that produced a quote (api, scraped, estimate)
//   - confidence: accepted quote confidence
//   - attempt:    retry attempt number
//   - backoff:    wait before the next attempt
//   - batch_id:   correlation id for a ResolveBatch call
//   - item_key:   normalized cache key
