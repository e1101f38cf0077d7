package source

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/gate"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/logging"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/platform"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/quote"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/retry"
	"github.com/rs/zerolog"
)

var errNotScrapable = errors.New("platform has no price selectors")

// ScrapeConfig tunes the scraped tier.
type ScrapeConfig struct {
	// UserAgents are rotated per page load; empty uses DefaultUserAgents.
	UserAgents []string

	// ThinkMin and ThinkMax bound the random pause before a page is read.
	ThinkMin time.Duration
	ThinkMax time.Duration

	// Executor runs the retry policy; nil uses a timer-backed executor.
	Executor *retry.Executor

	// Rand returns values in [0,1); nil uses math/rand/v2.
	Rand func() float64
}

// DefaultScrapeConfig pauses 0.5 to 1.5 seconds before reading a page.
func DefaultScrapeConfig() ScrapeConfig {
	return ScrapeConfig{
		UserAgents: DefaultUserAgents,
		ThinkMin:   500 * time.Millisecond,
		ThinkMax:   1500 * time.Millisecond,
	}
}

// ScrapeResolver is the second tier. Each load attempt takes one gate slot
// and the attempts follow the platform's retry policy; the slot is not held
// during backoff. Confidence is the relevance of the listing's name to the
// item, so a price for an unrelated product falls below the floor.
type ScrapeResolver struct {
	loader PageLoader
	gate   *gate.Gate
	cfg    ScrapeConfig
	logger zerolog.Logger
}

// NewScrapeResolver returns a resolver loading pages through loader, at
// most g.Max() at a time.
func NewScrapeResolver(loader PageLoader, g *gate.Gate, cfg ScrapeConfig) *ScrapeResolver {
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	if cfg.ThinkMax < cfg.ThinkMin {
		cfg.ThinkMax = cfg.ThinkMin
	}
	if cfg.Executor == nil {
		cfg.Executor = retry.NewExecutor(nil)
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	return &ScrapeResolver{
		loader: loader,
		gate:   g,
		cfg:    cfg,
		logger: logging.NewLogger(logging.ComponentScraper),
	}
}

// Source implements Resolver.
func (s *ScrapeResolver) Source() quote.Source { return quote.SourceScraped }

// Resolve implements Resolver.
func (s *ScrapeResolver) Resolve(ctx context.Context, p platform.Platform, req quote.Request) quote.Result {
	if !p.Scrapable() {
		return unavailable(p, quote.SourceScraped, errNotScrapable)
	}

	logger := logging.ForItem(s.logger, p.Name, req.ItemName)
	searchURL := p.SearchURL(req.ItemName)
	op := retry.Op{Platform: p.Name, Item: req.ItemName}

	html, err := retry.Value(ctx, s.cfg.Executor, p.Retry, op, func(ctx context.Context) (string, error) {
		return gate.Run(ctx, s.gate, func(ctx context.Context) (string, error) {
			return s.loader.Load(ctx, LoadRequest{
				Platform:  p.Name,
				URL:       searchURL,
				UserAgent: s.userAgent(),
				Timeout:   p.PageTimeout,
				ThinkTime: s.thinkTime(),
			})
		})
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Scrape failed")
		return unavailable(p, quote.SourceScraped, err)
	}

	listing, err := ExtractListing(html, p)
	if err != nil {
		logger.Debug().Err(err).Msg("No price on search page")
		return unavailable(p, quote.SourceScraped, err)
	}

	relevance := Relevance(req.ItemName, listing.Name)
	scrapeRelevance.WithLabelValues(p.Name).Observe(relevance)

	logger.Info().
		Float64("price", listing.Price).
		Str("product", listing.Name).
		Float64("confidence", relevance).
		Msg("Scraped price found")

	return found(quote.Quote{
		Platform:    p.Name,
		Price:       listing.Price,
		URL:         searchURL,
		Available:   true,
		Confidence:  relevance,
		Source:      quote.SourceScraped,
		ProductName: listing.Name,
	})
}

func (s *ScrapeResolver) userAgent() string {
	i := int(s.cfg.Rand() * float64(len(s.cfg.UserAgents)))
	if i >= len(s.cfg.UserAgents) {
		i = len(s.cfg.UserAgents) - 1
	}
	return s.cfg.UserAgents[i]
}

func (s *ScrapeResolver) thinkTime() time.Duration {
	span := s.cfg.ThinkMax - s.cfg.ThinkMin
	return s.cfg.ThinkMin + time.Duration(s.cfg.Rand()*float64(span))
}
