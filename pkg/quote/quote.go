// Package quote defines the price observations exchanged between the
// resolvers, the waterfall, the cache and callers.
package quote

// Source identifies which resolver tier produced a quote.
type Source string

const (
	// SourceAPI is a structured third-party search API.
	SourceAPI Source = "api"

	// SourceScraped is a price extracted from a storefront search page.
	SourceScraped Source = "scraped"

	// SourceEstimate is a statistical estimate derived from the basket price.
	SourceEstimate Source = "estimate"
)

// EstimateConfidence is the confidence attached to estimated prices.
// Quotes at or below it are presented as "estimated" rather than "verified".
const EstimateConfidence = 0.2

// Request is one item to price against every platform.
type Request struct {
	ItemName  string
	BasePrice float64
}

// Quote is a single platform's price for an item. Quotes are values and must
// not be modified once handed out; the same quote may be shared by several
// callers through the cache.
type Quote struct {
	Platform    string  `json:"platform"`
	Price       float64 `json:"price"`
	URL         string  `json:"url"`
	Available   bool    `json:"available"`
	Confidence  float64 `json:"confidence"`
	Source      Source  `json:"source"`
	ProductName string  `json:"productName,omitempty"`
}

// Verified reports whether the quote is a real observation rather than an
// estimate or an unavailable placeholder.
func (q Quote) Verified() bool {
	return q.Available && q.Confidence > EstimateConfidence
}
