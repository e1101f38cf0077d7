package waterfall

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/LAKSHMINARASIMHATM/price-engine/internal/testutil"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/gate"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/platform"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/quote"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/retry"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/source"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

type stubTier struct {
	src   quote.Source
	calls atomic.Int32
	fn    func(p platform.Platform, req quote.Request) quote.Result
}

func (s *stubTier) Source() quote.Source { return s.src }

func (s *stubTier) Resolve(_ context.Context, p platform.Platform, req quote.Request) quote.Result {
	s.calls.Add(1)
	return s.fn(p, req)
}

func foundTier(src quote.Source, price, confidence float64) *stubTier {
	return &stubTier{src: src, fn: func(p platform.Platform, _ quote.Request) quote.Result {
		return quote.Found{Quote: quote.Quote{
			Platform:   p.Name,
			Price:      price,
			Available:  true,
			Confidence: confidence,
			Source:     src,
		}}
	}}
}

func unavailableTier(src quote.Source) *stubTier {
	return &stubTier{src: src, fn: func(p platform.Platform, _ quote.Request) quote.Result {
		return quote.NotFound(p.Name, src, source.ErrSourceUnavailable)
	}}
}

func amazon(t *testing.T) platform.Platform {
	t.Helper()
	p, ok := platform.Lookup(platform.Defaults(), "Amazon")
	if !ok {
		t.Fatal("Amazon missing from defaults")
	}
	return p
}

var milk = quote.Request{ItemName: "Milk", BasePrice: 60}

func TestResolve_TierOrder(t *testing.T) {
	tests := []struct {
		name       string
		api        *stubTier
		scrape     *stubTier
		wantSource quote.Source
		wantPrice  float64
		wantScrape int32
	}{
		{
			name:       "api accepted skips scraping",
			api:        foundTier(quote.SourceAPI, 52, 0.85),
			scrape:     foundTier(quote.SourceScraped, 55, 1.0),
			wantSource: quote.SourceAPI,
			wantPrice:  52,
			wantScrape: 0,
		},
		{
			name:       "api unavailable falls to scrape",
			api:        unavailableTier(quote.SourceAPI),
			scrape:     foundTier(quote.SourceScraped, 55, 1.0),
			wantSource: quote.SourceScraped,
			wantPrice:  55,
			wantScrape: 1,
		},
		{
			name:       "scrape below floor falls to estimate",
			api:        unavailableTier(quote.SourceAPI),
			scrape:     foundTier(quote.SourceScraped, 999, 0.29),
			wantSource: quote.SourceEstimate,
			wantPrice:  60,
			wantScrape: 1,
		},
		{
			name:       "scrape exactly at floor is accepted",
			api:        unavailableTier(quote.SourceAPI),
			scrape:     foundTier(quote.SourceScraped, 58, platform.DefaultMinConfidence),
			wantSource: quote.SourceScraped,
			wantPrice:  58,
			wantScrape: 1,
		},
		{
			name:       "zero price is not accepted",
			api:        foundTier(quote.SourceAPI, 0, 0.9),
			scrape:     unavailableTier(quote.SourceScraped),
			wantSource: quote.SourceEstimate,
			wantPrice:  60,
			wantScrape: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := New([]source.Resolver{tt.api, tt.scrape}, source.NewEstimator(0, testutil.FixedRand(0.5)), zerolog.Nop())
			p := amazon(t)

			q := w.Resolve(context.Background(), p, milk)

			if q.Source != tt.wantSource || q.Price != tt.wantPrice {
				t.Errorf("quote = %+v, want %s at %v", q, tt.wantSource, tt.wantPrice)
			}
			if q.Platform != "Amazon" || q.URL != p.SearchURL("Milk") {
				t.Errorf("quote must carry platform and search URL, got %q %q", q.Platform, q.URL)
			}
			if got := tt.scrape.calls.Load(); got != tt.wantScrape {
				t.Errorf("scrape calls = %d, want %d", got, tt.wantScrape)
			}
		})
	}
}

func TestResolve_CustomFloor(t *testing.T) {
	p := amazon(t)
	p.MinConfidence = 0.9
	w := New([]source.Resolver{foundTier(quote.SourceAPI, 52, 0.85)}, source.NewEstimator(0, testutil.FixedRand(0.5)), zerolog.Nop())

	if q := w.Resolve(context.Background(), p, milk); q.Source != quote.SourceEstimate {
		t.Errorf("source = %s, want estimate under a 0.9 floor", q.Source)
	}
}

func TestResolve_PanickingTier(t *testing.T) {
	p := amazon(t)
	boom := &stubTier{src: quote.SourceAPI, fn: func(platform.Platform, quote.Request) quote.Result {
		panic("provider exploded")
	}}
	w := New([]source.Resolver{boom, foundTier(quote.SourceScraped, 55, 1.0)}, source.NewEstimator(0, nil), zerolog.Nop())

	before := promtest.ToFloat64(tierTotal.WithLabelValues("api", "Amazon", OutcomePanic))
	q := w.Resolve(context.Background(), p, milk)

	if q.Source != quote.SourceScraped || q.Price != 55 {
		t.Errorf("quote = %+v, want scraped 55 after panic", q)
	}
	if got := promtest.ToFloat64(tierTotal.WithLabelValues("api", "Amazon", OutcomePanic)) - before; got != 1 {
		t.Errorf("panic outcomes = %v, want 1", got)
	}
}

func TestResolve_NilResult(t *testing.T) {
	nilTier := &stubTier{src: quote.SourceAPI, fn: func(platform.Platform, quote.Request) quote.Result { return nil }}
	w := New([]source.Resolver{nilTier}, source.NewEstimator(0, testutil.FixedRand(0.5)), zerolog.Nop())

	if q := w.Resolve(context.Background(), amazon(t), milk); q.Source != quote.SourceEstimate {
		t.Errorf("source = %s, want estimate", q.Source)
	}
}

func TestResolve_CanceledContextSkipsTiers(t *testing.T) {
	api := foundTier(quote.SourceAPI, 52, 0.85)
	w := New([]source.Resolver{api}, source.NewEstimator(0, testutil.FixedRand(0.5)), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := w.Resolve(ctx, amazon(t), milk)
	if q.Source != quote.SourceEstimate || !q.Available {
		t.Errorf("quote = %+v, want an available estimate", q)
	}
	if api.calls.Load() != 0 {
		t.Error("no tier should run on a canceled context")
	}
}

func TestTiers(t *testing.T) {
	w := New([]source.Resolver{unavailableTier(quote.SourceAPI), unavailableTier(quote.SourceScraped)}, source.NewEstimator(0, nil), zerolog.Nop())
	got := w.Tiers()
	want := []quote.Source{quote.SourceAPI, quote.SourceScraped, quote.SourceEstimate}
	if len(got) != len(want) {
		t.Fatalf("Tiers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Tiers()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

// End to end over the real resolvers: no API keys, a storefront page for
// "Milk 1L" at ₹55 yields a scraped quote at full confidence.
func TestResolve_MilkScraped(t *testing.T) {
	p := amazon(t)
	loader := testutil.NewFakeLoader()
	loader.SetPage("Amazon", testutil.SearchPage(p, "Milk 1L", "₹55"))

	w := New([]source.Resolver{
		source.NewAPIResolver(0),
		newScraper(loader),
	}, source.NewEstimator(0, testutil.FixedRand(0.5)), zerolog.Nop())

	q := w.Resolve(context.Background(), p, milk)

	if q.Source != quote.SourceScraped || q.Price != 55 || q.Confidence != 1.0 || !q.Available {
		t.Errorf("quote = %+v, want scraped 55 at confidence 1.0", q)
	}
	if q.URL != "https://www.amazon.in/s?k=Milk" {
		t.Errorf("URL = %q", q.URL)
	}
}

// When every page load fails the estimate is returned at confidence 0.2,
// priced inside the platform's range.
func TestResolve_MilkEstimated(t *testing.T) {
	p := amazon(t)
	loader := testutil.NewFakeLoader()
	loader.FailFirst("Amazon", -1)

	w := New([]source.Resolver{
		source.NewAPIResolver(0),
		newScraper(loader),
	}, source.NewEstimator(0, nil), zerolog.Nop())

	q := w.Resolve(context.Background(), p, milk)

	if q.Source != quote.SourceEstimate || q.Confidence != 0.2 || !q.Available {
		t.Errorf("quote = %+v, want estimate at confidence 0.2", q)
	}
	if q.Price < 60*0.8 || q.Price > 60*1.2 {
		t.Errorf("price %v outside [48, 72]", q.Price)
	}
	if loader.Calls("Amazon") != p.Retry.MaxRetries+1 {
		t.Errorf("loads = %d, want %d", loader.Calls("Amazon"), p.Retry.MaxRetries+1)
	}
}

func newScraper(loader source.PageLoader) *source.ScrapeResolver {
	sleep := &testutil.RecordingSleep{}
	return source.NewScrapeResolver(loader, gate.New("waterfall-test", gate.DefaultMaxConcurrent), source.ScrapeConfig{
		Executor: retry.NewExecutor(sleep.Sleep),
		Rand:     testutil.FixedRand(0),
	})
}

func TestTry_ReasonMatchesUnavailable(t *testing.T) {
	boom := &stubTier{src: quote.SourceScraped, fn: func(platform.Platform, quote.Request) quote.Result {
		panic(errors.New("nil map"))
	}}
	w := New(nil, source.NewEstimator(0, nil), zerolog.Nop())

	res := w.try(context.Background(), boom, amazon(t), milk)
	u, ok := res.(quote.Unavailable)
	if !ok {
		t.Fatalf("try() = %#v, want Unavailable", res)
	}
	if !errors.Is(u.Reason, source.ErrSourceUnavailable) {
		t.Errorf("reason = %v", u.Reason)
	}
}
