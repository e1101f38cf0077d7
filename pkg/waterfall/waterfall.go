// Package waterfall resolves one platform's price by trying source tiers in
// order of preference and falling back to a terminal estimate.
//
// A tier's quote is accepted only when it is available, carries a positive
// price and meets the platform's confidence floor. Failures of any kind,
// including panics, move resolution to the next tier; the estimator always
// answers, so Resolve never fails.
package waterfall

import (
	"context"
	"fmt"
	"time"

	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/logging"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/platform"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/quote"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/source"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Outcome labels for price_waterfall_tier_total.
const (
	OutcomeAccepted    = "accepted"
	OutcomeUnavailable = "unavailable"
	OutcomeLowScore    = "low_confidence"
	OutcomePanic       = "panic"
)

var (
	tierTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_waterfall_tier_total",
		Help: "Waterfall tier outcomes by platform",
	}, []string{"tier", "platform", "outcome"})

	resolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "price_waterfall_duration_seconds",
		Help:    "Time to resolve one platform price across all tiers",
		Buckets: []float64{.05, .1, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"platform", "source"})
)

// Estimator is the terminal tier. It must answer without I/O.
type Estimator interface {
	Estimate(p platform.Platform, req quote.Request) quote.Quote
}

// Waterfall runs tiers in order for one platform.
type Waterfall struct {
	tiers     []source.Resolver
	estimator Estimator
	logger    zerolog.Logger
}

// New returns a waterfall over tiers with a terminal estimator.
func New(tiers []source.Resolver, estimator Estimator, logger zerolog.Logger) *Waterfall {
	return &Waterfall{
		tiers:     tiers,
		estimator: estimator,
		logger:    logger.With().Str("component", logging.ComponentWaterfall).Logger(),
	}
}

// Tiers returns the source labels of the configured tiers, in order, ending
// with the estimator.
func (w *Waterfall) Tiers() []quote.Source {
	out := make([]quote.Source, 0, len(w.tiers)+1)
	for _, t := range w.tiers {
		out = append(out, t.Source())
	}
	return append(out, quote.SourceEstimate)
}

// Resolve returns the first acceptable quote for req on p. The returned
// quote always names p and carries its search URL.
func (w *Waterfall) Resolve(ctx context.Context, p platform.Platform, req quote.Request) quote.Quote {
	start := time.Now()
	logger := logging.ForItem(w.logger, p.Name, req.ItemName)
	floor := p.Floor()

	for _, tier := range w.tiers {
		if ctx.Err() != nil {
			break
		}

		res := w.try(ctx, tier, p, req)
		switch r := res.(type) {
		case quote.Found:
			q := r.Quote
			if q.Available && q.Price > 0 && q.Confidence >= floor {
				tierTotal.WithLabelValues(string(tier.Source()), p.Name, OutcomeAccepted).Inc()
				return w.finish(q, p, req, start)
			}
			tierTotal.WithLabelValues(string(tier.Source()), p.Name, OutcomeLowScore).Inc()
			logger.Debug().
				Err(source.ErrLowRelevance).
				Str("source", string(tier.Source())).
				Float64("confidence", q.Confidence).
				Float64("floor", floor).
				Str("product", q.ProductName).
				Msg("Quote rejected")
		case quote.Unavailable:
			tierTotal.WithLabelValues(string(tier.Source()), p.Name, OutcomeUnavailable).Inc()
			logger.Debug().
				Err(r.Reason).
				Str("source", string(tier.Source())).
				Msg("Tier unavailable")
		}
	}

	q := w.estimator.Estimate(p, req)
	tierTotal.WithLabelValues(string(quote.SourceEstimate), p.Name, OutcomeAccepted).Inc()
	logger.Warn().
		Float64("price", q.Price).
		Float64("confidence", q.Confidence).
		Msg("Falling back to estimate")
	return w.finish(q, p, req, start)
}

// try runs one tier, turning a panic or a nil result into Unavailable.
func (w *Waterfall) try(ctx context.Context, tier source.Resolver, p platform.Platform, req quote.Request) (res quote.Result) {
	defer func() {
		if v := recover(); v != nil {
			tierTotal.WithLabelValues(string(tier.Source()), p.Name, OutcomePanic).Inc()
			w.logger.Error().
				Str("platform", p.Name).
				Str("source", string(tier.Source())).
				Interface("panic", v).
				Msg("Tier panicked")
			res = quote.NotFound(p.Name, tier.Source(), fmt.Errorf("%w: panic: %v", source.ErrSourceUnavailable, v))
		}
	}()

	res = tier.Resolve(ctx, p, req)
	if res == nil {
		res = quote.NotFound(p.Name, tier.Source(), source.ErrSourceUnavailable)
	}
	return res
}

func (w *Waterfall) finish(q quote.Quote, p platform.Platform, req quote.Request, start time.Time) quote.Quote {
	q.Platform = p.Name
	q.URL = p.SearchURL(req.ItemName)
	resolveDuration.WithLabelValues(p.Name, string(q.Source)).Observe(time.Since(start).Seconds())
	return q
}
