package source

import (
	"context"
	"math/rand/v2"

	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/logging"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/platform"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/quote"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// minEstimate is the smallest price an estimate may carry.
var minEstimate = decimal.New(1, -2)

// Estimator is the terminal tier: a pure function of the basket price and
// the platform's historical skew. It performs no I/O and cannot fail.
type Estimator struct {
	confidence float64
	rand       func() float64
	logger     zerolog.Logger
}

// NewEstimator returns an estimator. A confidence <= 0 uses
// quote.EstimateConfidence; a nil rand uses math/rand/v2.
func NewEstimator(confidence float64, rnd func() float64) *Estimator {
	if confidence <= 0 {
		confidence = quote.EstimateConfidence
	}
	if rnd == nil {
		rnd = rand.Float64
	}
	return &Estimator{
		confidence: confidence,
		rand:       rnd,
		logger:     logging.NewLogger(logging.ComponentEstimator),
	}
}

// Estimate draws a multiplier uniformly from the platform's range and
// applies it to the basket price, rounded to two decimals. A platform
// without a range gets the basket price back, unavailable, at confidence 0.
func (e *Estimator) Estimate(p platform.Platform, req quote.Request) quote.Quote {
	q := quote.Quote{
		Platform: p.Name,
		URL:      p.SearchURL(req.ItemName),
		Source:   quote.SourceEstimate,
	}

	if p.Estimate == nil {
		q.Price = req.BasePrice
		tierResultsTotal.WithLabelValues(string(quote.SourceEstimate), p.Name, "unconfigured").Inc()
		return q
	}

	r := e.rand()
	m := p.Estimate.Min + r*(p.Estimate.Max-p.Estimate.Min)
	price := decimal.NewFromFloat(req.BasePrice).Mul(decimal.NewFromFloat(m)).Round(2)
	if price.LessThan(minEstimate) {
		price = minEstimate
	}

	q.Price = price.InexactFloat64()
	q.Available = true
	q.Confidence = e.confidence
	tierResultsTotal.WithLabelValues(string(quote.SourceEstimate), p.Name, "found").Inc()

	logger := logging.ForItem(e.logger, p.Name, req.ItemName)
	logger.Debug().
		Float64("multiplier", m).
		Float64("price", q.Price).
		Msg("Estimated price")
	return q
}

// Source implements Resolver.
func (e *Estimator) Source() quote.Source { return quote.SourceEstimate }

// Resolve implements Resolver so the estimator can also run as an ordinary
// tier; it always returns Found.
func (e *Estimator) Resolve(_ context.Context, p platform.Platform, req quote.Request) quote.Result {
	return quote.Found{Quote: e.Estimate(p, req)}
}
