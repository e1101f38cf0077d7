// Package platform describes the storefronts prices are compared across:
// how to build their search links, how to scrape them, which structured API
// covers them, how they skew against the basket price and how patiently
// they are retried.
package platform

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/retry"
)

// DefaultMinConfidence is the floor a tier result must reach to be accepted.
const DefaultMinConfidence = 0.3

// queryPlaceholder is replaced by the escaped item name in SearchTemplate.
const queryPlaceholder = "{query}"

// Range is an estimation multiplier range relative to the basket price.
type Range struct {
	Min float64
	Max float64
}

// Validate reports an empty or inverted range.
func (r Range) Validate() error {
	if r.Min <= 0 || r.Max <= 0 {
		return fmt.Errorf("multipliers must be positive, got [%v, %v]", r.Min, r.Max)
	}
	if r.Min > r.Max {
		return fmt.Errorf("min multiplier %v exceeds max %v", r.Min, r.Max)
	}
	return nil
}

// SplitPrice names a pair of selectors whose texts form one price, e.g. the
// rupees and paise spans of an Amazon listing.
type SplitPrice struct {
	Whole    string
	Fraction string
}

// Platform is one storefront.
type Platform struct {
	Name string

	// SearchTemplate contains {query} where the escaped item name goes.
	SearchTemplate string

	// Retry is the policy for scrape attempts.
	Retry retry.Policy

	// PageTimeout bounds one page load.
	PageTimeout time.Duration

	// Split is tried before PriceSelectors when set.
	Split *SplitPrice

	// PriceSelectors are tried in order; the first positive price wins.
	PriceSelectors []string

	// NameSelectors locate the listing title used for relevance scoring.
	NameSelectors []string

	// Estimate is the skew range; nil disables estimation for the platform.
	Estimate *Range

	// API names the structured provider covering the platform, if any.
	API string

	// StoreCode is the platform's identifier at the API provider.
	StoreCode string

	// MinConfidence is the acceptance floor for API and scraped quotes.
	MinConfidence float64
}

// SearchURL builds the user-facing search link for an item. It never fails:
// it is returned with every quote, including unavailable ones.
func (p Platform) SearchURL(query string) string {
	return strings.ReplaceAll(p.SearchTemplate, queryPlaceholder, EscapeQuery(query))
}

// Scrapable reports whether the platform has anything to extract prices with.
func (p Platform) Scrapable() bool {
	return len(p.PriceSelectors) > 0 || p.Split != nil
}

// Floor returns the confidence floor, defaulting when unset.
func (p Platform) Floor() float64 {
	if p.MinConfidence <= 0 {
		return DefaultMinConfidence
	}
	return p.MinConfidence
}

// Validate reports configuration that would make the platform unusable.
func (p Platform) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("platform name is required")
	}
	if !strings.Contains(p.SearchTemplate, queryPlaceholder) {
		return fmt.Errorf("platform %s: search template must contain %s", p.Name, queryPlaceholder)
	}
	if _, err := url.Parse(p.SearchURL("milk")); err != nil {
		return fmt.Errorf("platform %s: invalid search template: %w", p.Name, err)
	}
	if err := p.Retry.Validate(); err != nil {
		return fmt.Errorf("platform %s: %w", p.Name, err)
	}
	if p.Estimate != nil {
		if err := p.Estimate.Validate(); err != nil {
			return fmt.Errorf("platform %s: %w", p.Name, err)
		}
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return fmt.Errorf("platform %s: min confidence must be in [0,1], got %v", p.Name, p.MinConfidence)
	}
	return nil
}

// EscapeQuery escapes an item name the way browsers encode URI components:
// spaces become %20 rather than +.
func EscapeQuery(q string) string {
	return strings.ReplaceAll(url.QueryEscape(strings.TrimSpace(q)), "+", "%20")
}

// Lookup finds a platform by case-insensitive name.
func Lookup(platforms []Platform, name string) (Platform, bool) {
	for _, p := range platforms {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Platform{}, false
}

// Names returns the platform names in catalog order.
func Names(platforms []Platform) []string {
	names := make([]string, len(platforms))
	for i, p := range platforms {
		names[i] = p.Name
	}
	return names
}
