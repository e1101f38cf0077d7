package platform

import (
	"time"

	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/retry"
)

// Provider names used in Platform.API.
const (
	ProviderRainforest = "rainforest"
	ProviderDataYuge   = "datayuge"
)

// Defaults returns the built-in catalog of Indian grocery and general
// storefronts. Amazon and Flipkart get more retries and a longer cap than
// the quick-commerce sites, whose pages either load fast or not at all.
func Defaults() []Platform {
	return []Platform{
		{
			Name:           "Amazon",
			SearchTemplate: "https://www.amazon.in/s?k={query}",
			Retry:          policy(3, 5*time.Second),
			PageTimeout:    15 * time.Second,
			Split:          &SplitPrice{Whole: ".a-price-whole", Fraction: ".a-price-fraction"},
			PriceSelectors: []string{".a-price-whole", ".a-offscreen", ".apexPriceToPay"},
			NameSelectors:  []string{"h2.a-size-mini", ".a-size-base-plus"},
			Estimate:       &Range{Min: 0.8, Max: 1.2},
			API:            ProviderRainforest,
			StoreCode:      "amazon",
		},
		{
			Name:           "Flipkart",
			SearchTemplate: "https://www.flipkart.com/search?q={query}",
			Retry:          policy(3, 5*time.Second),
			PageTimeout:    12 * time.Second,
			PriceSelectors: []string{"._30jeq3", "._1_WHN1", "._3I9_wc"},
			NameSelectors:  []string{"._4rR01T", ".s1Q9rs"},
			Estimate:       &Range{Min: 0.75, Max: 1.15},
			API:            ProviderDataYuge,
			StoreCode:      "flipkart",
		},
		{
			Name:           "BigBasket",
			SearchTemplate: "https://www.bigbasket.com/ps/?q={query}",
			Retry:          policy(2, 4*time.Second),
			PageTimeout:    12 * time.Second,
			PriceSelectors: []string{".discnt-price", ".price", ".selling-price"},
			NameSelectors:  []string{".prod-name"},
			Estimate:       &Range{Min: 0.85, Max: 1.2},
			API:            ProviderDataYuge,
			StoreCode:      "bigbasket",
		},
		{
			Name:           "JioMart",
			SearchTemplate: "https://www.jiomart.com/search/{query}",
			Retry:          policy(2, 4*time.Second),
			PageTimeout:    12 * time.Second,
			PriceSelectors: []string{".jm-heading-xxs", ".sp", ".price"},
			NameSelectors:  []string{".jm-body-xs"},
			Estimate:       &Range{Min: 0.7, Max: 1.1},
			API:            ProviderDataYuge,
			StoreCode:      "reliance",
		},
		{
			Name:           "Blinkit",
			SearchTemplate: "https://blinkit.com/s/?q={query}",
			Retry:          policy(2, 4*time.Second),
			PageTimeout:    10 * time.Second,
			PriceSelectors: []string{".Product__UpdatedPrice", ".css-1b0ac2c", ".PriceAndAtc__PriceText"},
			NameSelectors:  []string{".Product__ProductName"},
			Estimate:       &Range{Min: 0.9, Max: 1.25},
			API:            ProviderDataYuge,
			StoreCode:      "blinkit",
		},
	}
}

func policy(maxRetries int, maxDelay time.Duration) retry.Policy {
	return retry.Policy{
		MaxRetries:        maxRetries,
		InitialDelay:      1 * time.Second,
		MaxDelay:          maxDelay,
		BackoffMultiplier: 2,
	}
}
