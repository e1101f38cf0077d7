package source

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/platform"
	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

// Listing is the first product found on a search page or API response.
type Listing struct {
	Name  string
	Price float64
}

// priceRe matches the first number in a price label such as "₹1,299.00"
// or "Rs. 49".
var priceRe = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

var nonDigits = regexp.MustCompile(`[^0-9]`)

// ParsePrice extracts a positive price from display text, rounded to paise.
func ParsePrice(text string) (float64, bool) {
	m := priceRe.FindString(text)
	if m == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(m, ",", ""))
	if err != nil || !d.IsPositive() {
		return 0, false
	}
	f, _ := d.Round(2).Float64()
	return f, f > 0
}

// ExtractListing pulls the price and product name out of a rendered search
// page using the platform's selectors.
func ExtractListing(html string, p platform.Platform) (Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Listing{}, fmt.Errorf("parse page: %w", err)
	}

	var price float64
	if p.Split != nil {
		price = splitPrice(doc, *p.Split)
	}
	if price <= 0 {
		for _, sel := range p.PriceSelectors {
			if v, ok := ParsePrice(doc.Find(sel).First().Text()); ok {
				price = v
				break
			}
		}
	}
	if price <= 0 {
		return Listing{}, ErrNoPrice
	}

	var name string
	for _, sel := range p.NameSelectors {
		if name = strings.TrimSpace(doc.Find(sel).First().Text()); name != "" {
			break
		}
	}
	return Listing{Name: name, Price: price}, nil
}

// splitPrice joins a whole-rupee and a paise element into one price.
func splitPrice(doc *goquery.Document, s platform.SplitPrice) float64 {
	whole := nonDigits.ReplaceAllString(doc.Find(s.Whole).First().Text(), "")
	if whole == "" {
		return 0
	}
	frac := nonDigits.ReplaceAllString(doc.Find(s.Fraction).First().Text(), "")
	if frac == "" {
		frac = "00"
	}
	v, ok := ParsePrice(whole + "." + frac)
	if !ok {
		return 0
	}
	return v
}

// Relevance scores how well a found product name matches the query, in
// [0,1]. Both are lower-cased and split on whitespace; a query word longer
// than two characters counts as matched when it contains, or is contained
// in, any found word. The score is matches over all query words. A listing
// without a name scores 0.5.
func Relevance(query, found string) float64 {
	if strings.TrimSpace(found) == "" {
		return 0.5
	}
	queryWords := strings.Fields(strings.ToLower(query))
	if len(queryWords) == 0 {
		return 0
	}
	foundWords := strings.Fields(strings.ToLower(found))

	matches := 0
	for _, w := range queryWords {
		if len(w) <= 2 {
			continue
		}
		for _, fw := range foundWords {
			if strings.Contains(fw, w) || strings.Contains(w, fw) {
				matches++
				break
			}
		}
	}

	score := float64(matches) / float64(len(queryWords))
	if score > 1 {
		return 1
	}
	return score
}

// flexPrice decodes the price shapes third-party APIs return: a number, a
// display string, or an object carrying either as "value" (or "raw").
type flexPrice struct {
	value float64
	ok    bool
}

func (f *flexPrice) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		if n > 0 {
			f.value, f.ok = decimal.NewFromFloat(n).Round(2).InexactFloat64(), true
		}
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		f.value, f.ok = ParsePrice(str)
		return nil
	}

	var obj struct {
		Value *flexPrice `json:"value"`
		Raw   string     `json:"raw"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("unsupported price format: %s", s)
	}
	if obj.Value != nil && obj.Value.ok {
		*f = *obj.Value
		return nil
	}
	f.value, f.ok = ParsePrice(obj.Raw)
	return nil
}
