// Package aggregator is the engine's entry point. It prices items across
// every configured platform, serves repeat lookups from the cache and
// processes whole bills in bounded batches.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/cache"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/logging"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/platform"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/quote"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultBatchSize is how many items of a batch resolve at once.
const DefaultBatchSize = 3

// DefaultResolveTimeout bounds one shared resolution of a missed item.
const DefaultResolveTimeout = 2 * time.Minute

// ErrInvalidItem is returned for a blank item name or a basket price that
// is not a positive finite number.
var ErrInvalidItem = errors.New("invalid item")

var (
	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_aggregator_items_total",
		Help: "Items priced, by how they were answered",
	}, []string{"outcome"}) // "hit", "stale", "resolved", "shared", "abandoned"

	itemDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "price_aggregator_item_duration_seconds",
		Help:    "Time to price one item across all platforms",
		Buckets: []float64{.01, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "price_aggregator_batches_total",
		Help: "Item batches processed",
	})
)

// PlatformResolver prices one item on one platform and never fails.
// *waterfall.Waterfall implements it.
type PlatformResolver interface {
	Resolve(ctx context.Context, p platform.Platform, req quote.Request) quote.Quote
}

// Deps are the collaborators of an Aggregator.
type Deps struct {
	Platforms []platform.Platform
	Resolver  PlatformResolver
	Cache     *cache.Manager

	// Closers are closed by Close after the cache, e.g. a browser loader.
	Closers []io.Closer

	Logger zerolog.Logger
}

// Config tunes batching.
type Config struct {
	BatchSize int

	// ResolveTimeout bounds the resolution shared by concurrent misses. It
	// runs detached from any one caller, so a caller that gives up does not
	// degrade the answer the others receive.
	ResolveTimeout time.Duration
}

// DefaultConfig returns the default batch size and resolve timeout.
func DefaultConfig() Config {
	return Config{BatchSize: DefaultBatchSize, ResolveTimeout: DefaultResolveTimeout}
}

// BillLine is one line of a bill as supplied by callers.
type BillLine struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// ItemComparison is one priced bill line.
type ItemComparison struct {
	ItemName  string        `json:"itemName"`
	Platforms []quote.Quote `json:"platforms"`
}

// Aggregator prices items across platforms.
type Aggregator struct {
	platforms []platform.Platform
	resolver  PlatformResolver
	cache     *cache.Manager
	closers   []io.Closer
	batchSize int
	timeout   time.Duration
	logger    zerolog.Logger
	flight    singleflight.Group
}

// New creates an aggregator.
func New(deps Deps, cfg Config) (*Aggregator, error) {
	if len(deps.Platforms) == 0 {
		return nil, errors.New("at least one platform is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("platform resolver cannot be nil")
	}
	if deps.Cache == nil {
		return nil, errors.New("cache cannot be nil")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}

	platforms := make([]platform.Platform, len(deps.Platforms))
	copy(platforms, deps.Platforms)

	return &Aggregator{
		platforms: platforms,
		resolver:  deps.Resolver,
		cache:     deps.Cache,
		closers:   deps.Closers,
		batchSize: cfg.BatchSize,
		timeout:   cfg.ResolveTimeout,
		logger:    deps.Logger.With().Str("component", logging.ComponentAggregator).Logger(),
	}, nil
}

// Platforms returns the platforms items are priced on.
func (a *Aggregator) Platforms() []platform.Platform {
	out := make([]platform.Platform, len(a.platforms))
	copy(out, a.platforms)
	return out
}

// BatchSize returns how many items of a batch resolve at once.
func (a *Aggregator) BatchSize() int { return a.batchSize }

func validate(name string, basePrice float64) (quote.Request, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return quote.Request{}, fmt.Errorf("%w: empty name", ErrInvalidItem)
	}
	if math.IsNaN(basePrice) || math.IsInf(basePrice, 0) || basePrice <= 0 {
		return quote.Request{}, fmt.Errorf("%w: %q has price %v", ErrInvalidItem, name, basePrice)
	}
	return quote.Request{ItemName: name, BasePrice: basePrice}, nil
}

// ResolveItem returns the comparison set for an item. A cached set is
// returned at once, even when stale; the cache then refreshes it in the
// background. On a miss every platform is resolved concurrently, and
// concurrent misses for the same item share one resolution. A caller whose
// context ends first gets its context error; the shared resolution carries
// on for the others.
func (a *Aggregator) ResolveItem(ctx context.Context, name string, basePrice float64) (quote.ComparisonSet, error) {
	req, err := validate(name, basePrice)
	if err != nil {
		return quote.ComparisonSet{}, err
	}

	key := quote.ItemKey(req.ItemName, req.BasePrice)
	logger := a.logger.With().Str("item", req.ItemName).Str("key", key).Logger()

	lookup, err := a.cache.Get(ctx, key, a.refresher(req))
	if err == nil {
		if lookup.Stale {
			itemsTotal.WithLabelValues("stale").Inc()
		} else {
			itemsTotal.WithLabelValues("hit").Inc()
		}
		logger.Debug().Bool("stale", lookup.Stale).Dur("age", lookup.Age).Msg("Served from cache")
		return lookup.Set, nil
	}
	logger.Debug().Err(err).Msg("Cache miss")

	ch := a.flight.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()

		set := a.resolveAll(rctx, req)
		if rctx.Err() == nil {
			if err := a.cache.Put(rctx, key, set); err != nil {
				logger.Warn().Err(err).Msg("Cannot cache prices")
			}
		}
		return set, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			itemsTotal.WithLabelValues("shared").Inc()
		} else {
			itemsTotal.WithLabelValues("resolved").Inc()
		}
		return res.Val.(quote.ComparisonSet).Clone(), nil
	case <-ctx.Done():
		itemsTotal.WithLabelValues("abandoned").Inc()
		logger.Debug().Err(ctx.Err()).Msg("Caller gave up before prices were resolved")
		return quote.ComparisonSet{}, ctx.Err()
	}
}

// refresher recomputes req for the cache's background refresh.
func (a *Aggregator) refresher(req quote.Request) cache.RefreshFunc {
	return func(ctx context.Context) (quote.ComparisonSet, error) {
		set := a.resolveAll(ctx, req)
		if err := ctx.Err(); err != nil {
			return quote.ComparisonSet{}, err
		}
		return set, nil
	}
}

// resolveAll prices req on every platform concurrently.
func (a *Aggregator) resolveAll(ctx context.Context, req quote.Request) quote.ComparisonSet {
	start := time.Now()
	quotes := make([]quote.Quote, len(a.platforms))

	var g errgroup.Group
	for i, p := range a.platforms {
		g.Go(func() error {
			quotes[i] = a.resolver.Resolve(ctx, p, req)
			return nil
		})
	}
	_ = g.Wait()

	set := quote.NewComparisonSet(req, quotes, time.Now())
	elapsed := time.Since(start)
	itemDuration.Observe(elapsed.Seconds())
	a.logResult(set, elapsed)
	return set
}

func (a *Aggregator) logResult(set quote.ComparisonSet, elapsed time.Duration) {
	event := a.logger.Info().
		Str("item", set.ItemName).
		Float64("base_price", set.BasePrice).
		Dur("elapsed", elapsed)

	verified := 0
	for _, q := range set.Quotes {
		if q.Verified() {
			verified++
		}
	}
	event = event.Int("verified", verified).Int("platforms", len(set.Quotes))

	if cheapest, ok := set.Cheapest(); ok {
		event = event.
			Str("cheapest", cheapest.Platform).
			Float64("price", cheapest.Price).
			Float64("diff", cheapest.Price-set.BasePrice).
			Str("source", string(cheapest.Source))
	}
	event.Msg("Prices resolved")
}

// ResolveBatch prices items in groups of the batch size: groups run one
// after another and the items of a group run concurrently. All items are
// validated before any is resolved. Results are keyed by item name; when a
// name repeats, the later item wins.
func (a *Aggregator) ResolveBatch(ctx context.Context, items []quote.Request) (map[string]quote.ComparisonSet, error) {
	reqs, sets, err := a.resolveLines(ctx, items)
	if err != nil {
		return nil, err
	}

	results := make(map[string]quote.ComparisonSet, len(reqs))
	for i, req := range reqs {
		results[req.ItemName] = sets[i]
	}
	return results, nil
}

// resolveLines validates and prices items in batches, returning the
// normalized requests and their sets by input position.
func (a *Aggregator) resolveLines(ctx context.Context, items []quote.Request) ([]quote.Request, []quote.ComparisonSet, error) {
	reqs := make([]quote.Request, len(items))
	for i, it := range items {
		req, err := validate(it.ItemName, it.BasePrice)
		if err != nil {
			return nil, nil, fmt.Errorf("item %d: %w", i, err)
		}
		reqs[i] = req
	}

	sets := make([]quote.ComparisonSet, len(reqs))

	for start := 0; start < len(reqs); start += a.batchSize {
		end := min(start+a.batchSize, len(reqs))
		batchID := uuid.NewString()
		logger := a.logger.With().Str("batch_id", batchID).Logger()
		logger.Debug().Int("from", start).Int("to", end).Msg("Batch started")
		began := time.Now()

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				set, err := a.ResolveItem(ctx, reqs[i].ItemName, reqs[i].BasePrice)
				if err != nil {
					return err
				}
				sets[i] = set
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, err
		}

		batchesTotal.Inc()
		logger.Info().
			Int("items", end-start).
			Dur("elapsed", time.Since(began)).
			Msg("Batch complete")
	}

	return reqs, sets, nil
}

// CompareBill prices every line of a bill and returns the results in line
// order. Each line is answered for its own basket price, also when a name
// repeats.
func (a *Aggregator) CompareBill(ctx context.Context, lines []BillLine) ([]ItemComparison, error) {
	reqs := make([]quote.Request, len(lines))
	for i, l := range lines {
		reqs[i] = quote.Request{ItemName: l.Name, BasePrice: l.Price}
	}

	reqs, sets, err := a.resolveLines(ctx, reqs)
	if err != nil {
		return nil, err
	}

	out := make([]ItemComparison, len(lines))
	for i := range lines {
		out[i] = ItemComparison{ItemName: reqs[i].ItemName, Platforms: sets[i].Quotes}
	}
	return out, nil
}

// CacheStats returns the cache counters.
func (a *Aggregator) CacheStats(ctx context.Context) cache.Stats {
	return a.cache.Stats(ctx)
}

// Sweep removes expired cache entries.
func (a *Aggregator) Sweep(ctx context.Context) (int, error) {
	return a.cache.Sweep(ctx)
}

// Close stops background refreshes, then releases the closers.
func (a *Aggregator) Close(ctx context.Context) error {
	errs := []error{a.cache.Close(ctx)}
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
