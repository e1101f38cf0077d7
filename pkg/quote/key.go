package quote

import (
	"strings"

	"github.com/shopspring/decimal"
)

// keyPrefix namespaces item keys, which are also used verbatim as Redis keys.
const keyPrefix = "price"

// ItemKey derives the deterministic cache key for an item. The name is
// lower-cased with whitespace collapsed, and the basket price is fixed to two
// decimals so that the same product bought at different pack sizes does not
// share an entry.
//
// Example:
//
//	ItemKey("  Milk   1L ", 60) == "price:milk 1l:60.00"
func ItemKey(itemName string, basePrice float64) string {
	name := strings.ToLower(strings.Join(strings.Fields(itemName), " "))
	price := decimal.NewFromFloat(basePrice).StringFixed(2)
	return strings.Join([]string{keyPrefix, name, price}, ":")
}
