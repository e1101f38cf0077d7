package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/logging"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/quote"
	"github.com/rs/zerolog"
)

var (
	// ErrCacheMiss indicates the key is absent, expired or was corrupt.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored entry is invalid or corrupted.
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrClosed is returned by Put after Close.
	ErrClosed = errors.New("cache closed")
)

// Config holds the cache windows.
type Config struct {
	// FreshTTL is how long an entry is served without revalidation.
	FreshTTL time.Duration

	// StaleTTL is how long an entry may be served at all.
	StaleTTL time.Duration

	// RefreshTimeout bounds one background refresh.
	RefreshTimeout time.Duration
}

// DefaultConfig serves entries fresh for 30 minutes and stale for another
// 30 minutes.
func DefaultConfig() Config {
	return Config{
		FreshTTL:       30 * time.Minute,
		StaleTTL:       60 * time.Minute,
		RefreshTimeout: 2 * time.Minute,
	}
}

// Validate checks that the windows are ordered.
func (c Config) Validate() error {
	if c.FreshTTL <= 0 {
		return fmt.Errorf("fresh ttl must be positive, got %s", c.FreshTTL)
	}
	if c.StaleTTL < c.FreshTTL {
		return fmt.Errorf("stale ttl %s must not be shorter than fresh ttl %s", c.StaleTTL, c.FreshTTL)
	}
	if c.RefreshTimeout <= 0 {
		return fmt.Errorf("refresh timeout must be positive, got %s", c.RefreshTimeout)
	}
	return nil
}

// RefreshFunc recomputes a stale key's set in the background.
type RefreshFunc func(ctx context.Context) (quote.ComparisonSet, error)

// Lookup is a successful Get.
type Lookup struct {
	Set   quote.ComparisonSet
	Stale bool
	Age   time.Duration
}

// Stats are cumulative lookup counters. Counters are updated atomically
// but read independently, so a snapshot taken under load may be skewed by
// a few requests.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	StaleServed   int64 `json:"staleServed"`
	TotalRequests int64 `json:"totalRequests"`
	Size          int   `json:"cacheSize"`
}

// HitRate is fresh hits over all lookups, 0 before the first lookup.
func (s Stats) HitRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.TotalRequests)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager implements stale-while-revalidate on top of a Backend.
type Manager struct {
	cfg     Config
	backend Backend
	logger  zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup

	// refreshCtx parents every background refresh; Close cancels it.
	refreshCtx context.Context
	cancel     context.CancelFunc
	closed     atomic.Bool

	hits, misses, stale, total atomic.Int64
}

// New creates a cache manager.
func New(cfg Config, backend Backend, logger zerolog.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}
	if backend == nil {
		return nil, errors.New("cache backend cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg,
		backend:    backend,
		logger:     logger.With().Str("component", logging.ComponentCache).Str("layer", backend.Name()).Logger(),
		now:        time.Now,
		inflight:   make(map[string]struct{}),
		refreshCtx: ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the cache windows.
func (m *Manager) Config() Config { return m.cfg }

// Get looks key up. Fresh and stale entries are returned; a stale entry
// also starts refresh in the background unless a refresh for key is
// already running or refresh is nil. Expired and corrupt entries are
// deleted and reported as ErrCacheMiss. Other backend failures are
// returned wrapped and count as misses.
func (m *Manager) Get(ctx context.Context, key string, refresh RefreshFunc) (Lookup, error) {
	m.total.Add(1)
	layer := m.backend.Name()

	entry, err := m.backend.Load(ctx, key)
	if err == nil {
		err = entry.validate(key)
	}
	if err != nil {
		m.misses.Add(1)
		CacheMisses.WithLabelValues(layer).Inc()
		switch {
		case errors.Is(err, ErrCacheMiss):
			return Lookup{}, ErrCacheMiss
		case errors.Is(err, ErrInvalidEntry):
			m.logger.Error().Err(err).Str("key", key).Msg("Dropping corrupt cache entry")
			m.evict(ctx, key, evictCorrupt)
			return Lookup{}, ErrCacheMiss
		default:
			m.logger.Error().Err(err).Str("key", key).Msg("Cache backend read failed")
			return Lookup{}, fmt.Errorf("%w: %w", ErrCacheMiss, err)
		}
	}

	now := m.now()
	age := entry.Age(now)

	switch entry.State(now, m.cfg) {
	case Fresh:
		hits := m.hits.Add(1)
		CacheHits.WithLabelValues(layer).Inc()
		m.logger.Debug().
			Str("key", key).
			Dur("age", age).
			Float64("hit_rate", float64(hits)/float64(m.total.Load())).
			Msg("Cache hit")
		return Lookup{Set: entry.Set, Age: age}, nil

	case Stale:
		m.stale.Add(1)
		CacheStaleServed.WithLabelValues(layer).Inc()
		started := m.startRefresh(key, refresh)
		m.logger.Debug().
			Str("key", key).
			Dur("age", age).
			Bool("refresh_started", started).
			Msg("Serving stale prices")
		return Lookup{Set: entry.Set, Stale: true, Age: age}, nil

	default:
		m.misses.Add(1)
		CacheMisses.WithLabelValues(layer).Inc()
		m.evict(ctx, key, evictExpired)
		return Lookup{}, ErrCacheMiss
	}
}

// Put replaces the entry for key, timestamped now. The stored set's
// ItemKey is set to key.
func (m *Manager) Put(ctx context.Context, key string, set quote.ComparisonSet) error {
	if m.closed.Load() {
		return ErrClosed
	}
	set = set.Clone()
	set.ItemKey = key
	entry := Entry{Set: set, ObservedAt: m.now()}
	if err := m.backend.Store(ctx, key, entry); err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	return nil
}

// Refreshing reports whether a background refresh for key is running.
func (m *Manager) Refreshing(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inflight[key]
	return ok
}

// startRefresh runs refresh for key in the background unless one is
// already running. The in-flight marker is cleared on every exit path.
func (m *Manager) startRefresh(key string, refresh RefreshFunc) bool {
	if refresh == nil {
		return false
	}

	m.mu.Lock()
	if _, ok := m.inflight[key]; ok || m.closed.Load() {
		m.mu.Unlock()
		return false
	}
	m.inflight[key] = struct{}{}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.inflight, key)
			m.mu.Unlock()
		}()
		defer func() {
			if v := recover(); v != nil {
				CacheRefreshes.WithLabelValues("panic").Inc()
				m.logger.Error().Str("key", key).Interface("panic", v).Msg("Background refresh panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(m.refreshCtx, m.cfg.RefreshTimeout)
		defer cancel()

		start := m.now()
		set, err := refresh(ctx)
		if err == nil {
			err = m.Put(ctx, key, set)
		}
		if err != nil {
			CacheRefreshes.WithLabelValues("error").Inc()
			m.logger.Warn().Err(err).Str("key", key).Msg("Background refresh failed")
			return
		}
		CacheRefreshes.WithLabelValues("ok").Inc()
		m.logger.Info().
			Str("key", key).
			Dur("elapsed", m.now().Sub(start)).
			Msg("Refreshed stale prices")
	}()
	return true
}

func (m *Manager) evict(ctx context.Context, key, reason string) {
	if err := m.backend.Delete(ctx, key); err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("Cache delete failed")
		return
	}
	CacheEvictions.WithLabelValues(reason).Inc()
}

// Sweep deletes expired and corrupt entries and returns how many were
// removed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	keys, err := m.backend.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("cache sweep: %w", err)
	}

	now := m.now()
	removed := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		entry, err := m.backend.Load(ctx, key)
		if errors.Is(err, ErrCacheMiss) {
			continue
		}
		if err == nil {
			err = entry.validate(key)
		}
		if err == nil && entry.State(now, m.cfg) != Expired {
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidEntry) {
			return removed, fmt.Errorf("cache sweep: %w", err)
		}
		if err := m.backend.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("cache sweep: %w", err)
		}
		CacheEvictions.WithLabelValues(evictSweep).Inc()
		removed++
	}

	CacheEntries.WithLabelValues(m.backend.Name()).Set(float64(len(keys) - removed))
	if removed > 0 {
		m.logger.Info().Int("removed", removed).Int("remaining", len(keys)-removed).Msg("Swept expired prices")
	}
	return removed, nil
}

// Stats returns the lookup counters and the current entry count. Size is
// -1 when the backend cannot be listed.
func (m *Manager) Stats(ctx context.Context) Stats {
	s := Stats{
		Hits:          m.hits.Load(),
		Misses:        m.misses.Load(),
		StaleServed:   m.stale.Load(),
		TotalRequests: m.total.Load(),
		Size:          -1,
	}
	keys, err := m.backend.Keys(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Cannot count cache entries")
		return s
	}
	s.Size = len(keys)
	CacheEntries.WithLabelValues(m.backend.Name()).Set(float64(s.Size))
	return s
}

// Close cancels running refreshes and waits for them to return or for ctx
// to end. No refresh starts after Close.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed.Store(true)
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for cache refreshes: %w", ctx.Err())
	}
}
