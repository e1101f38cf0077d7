package quote

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestItemKey(t *testing.T) {
	tests := []struct {
		name  string
		item  string
		price float64
		want  string
	}{
		{name: "simple", item: "Milk", price: 60, want: "price:milk:60.00"},
		{name: "whitespace collapsed", item: "  Milk   1L ", price: 60, want: "price:milk 1l:60.00"},
		{name: "fractional price", item: "Bread", price: 42.5, want: "price:bread:42.50"},
		{name: "rounded to cents", item: "Eggs", price: 99.999, want: "price:eggs:100.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ItemKey(tt.item, tt.price); got != tt.want {
				t.Errorf("ItemKey(%q, %v) = %q, want %q", tt.item, tt.price, got, tt.want)
			}
		})
	}
}

func TestItemKey_PriceSensitive(t *testing.T) {
	single := ItemKey("Rice", 80)
	bulk := ItemKey("Rice", 400)
	if single == bulk {
		t.Errorf("same item at different basket prices must not collide: %q", single)
	}
	if ItemKey("RICE", 80) != single {
		t.Error("item key should be case-insensitive")
	}
}

func TestNewComparisonSet_SortedAndUnique(t *testing.T) {
	observed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	req := Request{ItemName: "Milk", BasePrice: 60}
	quotes := []Quote{
		{Platform: "Flipkart", Price: 58, Confidence: 0.2, Source: SourceEstimate, Available: true},
		{Platform: "Amazon", Price: 55, Confidence: 1.0, Source: SourceScraped, Available: true},
		{Platform: "Blinkit", Price: 58, Confidence: 0.2, Source: SourceEstimate, Available: true},
		{Platform: "amazon", Price: 50, Confidence: 0.2, Source: SourceEstimate, Available: true},
		{Platform: "JioMart", Price: 70, Confidence: 0, Source: SourceEstimate},
	}

	set := NewComparisonSet(req, quotes, observed)

	want := []Quote{
		{Platform: "Amazon", Price: 55, Confidence: 1.0, Source: SourceScraped, Available: true},
		{Platform: "Blinkit", Price: 58, Confidence: 0.2, Source: SourceEstimate, Available: true},
		{Platform: "Flipkart", Price: 58, Confidence: 0.2, Source: SourceEstimate, Available: true},
		{Platform: "JioMart", Price: 70, Confidence: 0, Source: SourceEstimate},
	}
	if diff := cmp.Diff(want, set.Quotes); diff != "" {
		t.Errorf("quotes mismatch (-want +got):\n%s", diff)
	}
	if set.ItemKey != "price:milk:60.00" {
		t.Errorf("ItemKey = %q", set.ItemKey)
	}
	if !set.ObservedAt.Equal(observed) {
		t.Errorf("ObservedAt = %v, want %v", set.ObservedAt, observed)
	}
}

func TestComparisonSet_Clone(t *testing.T) {
	set := NewComparisonSet(Request{ItemName: "Tea", BasePrice: 10}, []Quote{
		{Platform: "Amazon", Price: 9, Available: true, Confidence: 0.85, Source: SourceAPI},
	}, time.Now())

	clone := set.Clone()
	clone.Quotes[0].Price = 1

	if set.Quotes[0].Price != 9 {
		t.Errorf("mutating a clone changed the original: %v", set.Quotes[0].Price)
	}
}

func TestComparisonSet_Lookups(t *testing.T) {
	set := NewComparisonSet(Request{ItemName: "Tea", BasePrice: 10}, []Quote{
		{Platform: "Amazon", Price: 12, Available: true},
		{Platform: "JioMart", Price: 10, Available: false},
		{Platform: "Blinkit", Price: 11, Available: true},
	}, time.Now())

	cheapest, ok := set.Cheapest()
	if !ok || cheapest.Platform != "Blinkit" {
		t.Errorf("Cheapest() = %+v, %v; want Blinkit", cheapest, ok)
	}
	if q, ok := set.Quote("amazon"); !ok || q.Price != 12 {
		t.Errorf("Quote(amazon) = %+v, %v", q, ok)
	}
	if _, ok := set.Quote("Flipkart"); ok {
		t.Error("Quote(Flipkart) should be missing")
	}
}

func TestQuote_Verified(t *testing.T) {
	tests := []struct {
		name string
		q    Quote
		want bool
	}{
		{"api quote", Quote{Available: true, Confidence: 0.85}, true},
		{"estimate", Quote{Available: true, Confidence: EstimateConfidence}, false},
		{"unavailable", Quote{Available: false, Confidence: 0.9}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Verified(); got != tt.want {
				t.Errorf("Verified() = %v, want %v", got, tt.want)
			}
		})
	}
}
