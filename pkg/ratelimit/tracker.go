package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Header names understood by the tracker.
const (
	HeaderRetryAfter = "Retry-After"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
)

var (
	rateLimitRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "price_rate_limit_remaining",
		Help: "Remaining request quota reported by a source",
	}, []string{"source"})

	rateLimitBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_rate_limit_blocks_total",
		Help: "Total number of requests skipped because a source is cooling off",
	}, []string{"source"})

	rateLimitHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_rate_limit_hits_total",
		Help: "Total number of 429 responses by source",
	}, []string{"source"})
)

// Tracker records rate limit feedback and gates requests per source.
type Tracker struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a tracker. A nil store keeps state in memory.
func NewTracker(store Store, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Tracker{store: store, logger: logger, now: time.Now}
}

// GetState returns the current state of a source; sources without recorded
// state are reported with an unknown quota.
func (t *Tracker) GetState(ctx context.Context, source string) (*State, error) {
	s, err := t.store.Get(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}
	if s == nil {
		return unknownState(source), nil
	}
	return s, nil
}

// UpdateFromResponse records what a response says about the source's quota.
// A 429 blocks the source until Retry-After (or DefaultCooloff); otherwise
// X-RateLimit-Remaining and X-RateLimit-Reset are recorded when present.
func (t *Tracker) UpdateFromResponse(ctx context.Context, source string, status int, headers http.Header) error {
	now := t.now()

	if status == http.StatusTooManyRequests {
		rateLimitHitsTotal.WithLabelValues(source).Inc()
		wait := parseRetryAfter(headers.Get(HeaderRetryAfter), now)
		if wait <= 0 {
			wait = DefaultCooloff
		}
		return t.Block(ctx, source, wait)
	}

	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}
	remain, err := strconv.Atoi(strings.TrimSpace(remainStr))
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	reset := DefaultCooloff
	if resetStr := headers.Get(HeaderReset); resetStr != "" {
		secs, err := strconv.Atoi(strings.TrimSpace(resetStr))
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderReset, err)
		}
		reset = time.Duration(secs) * time.Second
	}

	state := &State{
		Source:     source,
		Remaining:  remain,
		ResetAt:    now.Add(reset),
		LastUpdate: now,
	}
	if err := t.store.Set(ctx, state, reset); err != nil {
		return err
	}
	rateLimitRemaining.WithLabelValues(source).Set(float64(remain))

	switch {
	case state.Exhausted(now):
		t.logger.Error().
			Str("source", source).
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Source quota exhausted - requests will be skipped")
	case state.Low():
		t.logger.Warn().
			Str("source", source).
			Int("remaining", remain).
			Msg("Source quota low")
	default:
		t.logger.Debug().
			Str("source", source).
			Int("remaining", remain).
			Msg("Source rate limit state updated")
	}
	return nil
}

// Block cools a source off for d.
func (t *Tracker) Block(ctx context.Context, source string, d time.Duration) error {
	now := t.now()
	state := &State{
		Source:     source,
		Remaining:  0,
		ResetAt:    now.Add(d),
		Blocked:    true,
		LastUpdate: now,
	}
	if err := t.store.Set(ctx, state, d); err != nil {
		return err
	}
	rateLimitRemaining.WithLabelValues(source).Set(0)

	t.logger.Warn().
		Str("source", source).
		Dur("cooloff", d).
		Msg("Source rate limited - cooling off")
	return nil
}

// Allow reports whether a request to source may proceed now. When it may
// not, the returned duration is the time until the source resets.
func (t *Tracker) Allow(ctx context.Context, source string) (bool, time.Duration, error) {
	state, err := t.GetState(ctx, source)
	if err != nil {
		return false, 0, err
	}

	now := t.now()
	if state.Exhausted(now) {
		wait := state.TimeUntilReset(now)
		rateLimitBlocksTotal.WithLabelValues(source).Inc()
		t.logger.Debug().
			Str("source", source).
			Dur("wait", wait).
			Msg("Request skipped - source cooling off")
		return false, wait, nil
	}
	return true, 0, nil
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return at.Sub(now)
	}
	return 0
}
