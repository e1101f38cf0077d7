package quote

import (
	"sort"
	"strings"
	"time"
)

// ComparisonSet is the per-item result stored in the cache and returned to
// callers: at most one quote per platform, ordered by ascending price.
type ComparisonSet struct {
	ItemKey    string    `json:"itemKey"`
	ItemName   string    `json:"itemName"`
	BasePrice  float64   `json:"basePrice"`
	Quotes     []Quote   `json:"quotes"`
	ObservedAt time.Time `json:"observedAt"`
}

// NewComparisonSet builds a set from per-platform quotes. When a platform
// appears more than once the higher-confidence quote is kept.
func NewComparisonSet(req Request, quotes []Quote, observedAt time.Time) ComparisonSet {
	byPlatform := make(map[string]int, len(quotes))
	out := make([]Quote, 0, len(quotes))
	for _, q := range quotes {
		key := strings.ToLower(q.Platform)
		if i, ok := byPlatform[key]; ok {
			if q.Confidence > out[i].Confidence {
				out[i] = q
			}
			continue
		}
		byPlatform[key] = len(out)
		out = append(out, q)
	}

	SortByPrice(out)

	return ComparisonSet{
		ItemKey:    ItemKey(req.ItemName, req.BasePrice),
		ItemName:   req.ItemName,
		BasePrice:  req.BasePrice,
		Quotes:     out,
		ObservedAt: observedAt,
	}
}

// SortByPrice orders quotes by ascending price, breaking ties by platform
// name so the order is deterministic.
func SortByPrice(quotes []Quote) {
	sort.SliceStable(quotes, func(i, j int) bool {
		if quotes[i].Price != quotes[j].Price {
			return quotes[i].Price < quotes[j].Price
		}
		return quotes[i].Platform < quotes[j].Platform
	})
}

// Clone returns a copy that shares no mutable state with s.
func (s ComparisonSet) Clone() ComparisonSet {
	c := s
	if s.Quotes != nil {
		c.Quotes = make([]Quote, len(s.Quotes))
		copy(c.Quotes, s.Quotes)
	}
	return c
}

// Cheapest returns the lowest-priced available quote.
func (s ComparisonSet) Cheapest() (Quote, bool) {
	for _, q := range s.Quotes {
		if q.Available {
			return q, true
		}
	}
	return Quote{}, false
}

// Quote returns the quote for a platform (case-insensitive).
func (s ComparisonSet) Quote(platform string) (Quote, bool) {
	for _, q := range s.Quotes {
		if strings.EqualFold(q.Platform, platform) {
			return q, true
		}
	}
	return Quote{}, false
}
