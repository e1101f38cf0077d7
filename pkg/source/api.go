package source

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/client"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/logging"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/platform"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/quote"
	"github.com/rs/zerolog"
)

// DefaultAPITimeout bounds one structured API call.
const DefaultAPITimeout = 10 * time.Second

// Provider is a structured product search API.
type Provider interface {
	// Name matches platform.Platform.API.
	Name() string

	// Confidence is attached to every price the provider returns.
	Confidence() float64

	// Search returns the first listing for query on p.
	Search(ctx context.Context, p platform.Platform, query string) (Listing, error)
}

// APIResolver is the first tier: it asks the provider mapped to the
// platform. Platforms without a registered provider are reported
// unavailable without any network call.
type APIResolver struct {
	providers map[string]Provider
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewAPIResolver registers providers by name. Only providers with
// credentials should be passed; unregistered platforms skip the tier.
func NewAPIResolver(timeout time.Duration, providers ...Provider) *APIResolver {
	if timeout <= 0 {
		timeout = DefaultAPITimeout
	}
	r := &APIResolver{
		providers: make(map[string]Provider),
		timeout:   timeout,
		logger:    logging.NewLogger(logging.ComponentAPI),
	}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Source implements Resolver.
func (r *APIResolver) Source() quote.Source { return quote.SourceAPI }

// Providers returns the registered provider names, sorted.
func (r *APIResolver) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Resolve implements Resolver.
func (r *APIResolver) Resolve(ctx context.Context, p platform.Platform, req quote.Request) quote.Result {
	prov, ok := r.providers[p.API]
	if !ok {
		return unavailable(p, quote.SourceAPI, ErrNoProvider)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	logger := logging.ForItem(r.logger, p.Name, req.ItemName)
	start := time.Now()
	listing, err := prov.Search(ctx, p, req.ItemName)
	if err != nil {
		reason := classifyAPIError(err)
		logger.Warn().
			Err(err).
			Str("provider", prov.Name()).
			Dur("elapsed", time.Since(start)).
			Msg("API lookup failed")
		return unavailable(p, quote.SourceAPI, reason)
	}
	if listing.Price <= 0 {
		return unavailable(p, quote.SourceAPI, ErrNoPrice)
	}

	logger.Info().
		Str("provider", prov.Name()).
		Float64("price", listing.Price).
		Str("product", listing.Name).
		Msg("API price found")

	return found(quote.Quote{
		Platform:    p.Name,
		Price:       listing.Price,
		URL:         p.SearchURL(req.ItemName),
		Available:   true,
		Confidence:  prov.Confidence(),
		Source:      quote.SourceAPI,
		ProductName: listing.Name,
	})
}

// classifyAPIError maps transport failures onto the tier taxonomy.
func classifyAPIError(err error) error {
	switch {
	case errors.Is(err, ErrNoMatch), errors.Is(err, ErrNoPrice):
		return err
	case client.Class(err) == client.ErrorClassRateLimit:
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	default:
		return err
	}
}
