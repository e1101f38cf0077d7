// Package source implements the three price resolver tiers: structured
// search APIs, scraped storefront pages and statistical estimation.
//
// Resolvers never return errors to their caller. Every network, parsing or
// quota failure is converted to a quote.Unavailable result whose Reason
// matches ErrSourceUnavailable (and, where known, a more specific sentinel).
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/platform"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/quote"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrSourceUnavailable is matched by every tier failure.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrLowRelevance marks a scraped listing that does not match the item.
	ErrLowRelevance = errors.New("listing relevance below floor")

	// ErrNoProvider means no API provider is registered for the platform.
	ErrNoProvider = errors.New("no api provider for platform")

	// ErrRateLimited means the source refused or is cooling off.
	ErrRateLimited = errors.New("source rate limited")

	// ErrNoPrice means a page or response carried no positive price.
	ErrNoPrice = errors.New("no price found")

	// ErrNoMatch means the search returned no listings.
	ErrNoMatch = errors.New("no matching listing")
)

var (
	tierResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_resolver_results_total",
		Help: "Resolver outcomes by tier, platform and result",
	}, []string{"tier", "platform", "result"})

	scrapeRelevance = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "price_scrape_relevance",
		Help:    "Relevance score of scraped listings",
		Buckets: []float64{0, 0.1, 0.2, 0.3, 0.5, 0.7, 0.9, 1},
	}, []string{"platform"})
)

// Resolver is one tier of the price waterfall.
type Resolver interface {
	// Source identifies the tier on produced quotes.
	Source() quote.Source

	// Resolve prices req on platform p. It must not panic on bad input and
	// never returns nil.
	Resolve(ctx context.Context, p platform.Platform, req quote.Request) quote.Result
}

// unavailable builds an Unavailable result whose reason matches both
// ErrSourceUnavailable and cause.
func unavailable(p platform.Platform, src quote.Source, cause error) quote.Result {
	tierResultsTotal.WithLabelValues(string(src), p.Name, "unavailable").Inc()
	reason := cause
	if !errors.Is(cause, ErrSourceUnavailable) {
		reason = fmt.Errorf("%w: %w", ErrSourceUnavailable, cause)
	}
	return quote.NotFound(p.Name, src, reason)
}

func found(q quote.Quote) quote.Result {
	tierResultsTotal.WithLabelValues(string(q.Source), q.Platform, "found").Inc()
	return quote.Found{Quote: q}
}
