package source

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/client"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/platform"
)

// Default provider endpoints.
const (
	RainforestBaseURL = "https://api.rainforestapi.com/request"
	DataYugeBaseURL   = "https://api.datayuge.com/v1"
)

// RainforestProvider searches Amazon India through RainforestAPI.
type RainforestProvider struct {
	client  *client.Client
	apiKey  string
	baseURL string
}

// NewRainforestProvider returns a provider; an empty baseURL uses
// RainforestBaseURL.
func NewRainforestProvider(c *client.Client, apiKey, baseURL string) *RainforestProvider {
	if baseURL == "" {
		baseURL = RainforestBaseURL
	}
	return &RainforestProvider{client: c, apiKey: apiKey, baseURL: baseURL}
}

// Name implements Provider.
func (r *RainforestProvider) Name() string { return platform.ProviderRainforest }

// Confidence implements Provider.
func (r *RainforestProvider) Confidence() float64 { return 0.85 }

type rainforestResponse struct {
	SearchResults []struct {
		Title string    `json:"title"`
		Price flexPrice `json:"price"`
	} `json:"search_results"`
}

// Search implements Provider.
func (r *RainforestProvider) Search(ctx context.Context, p platform.Platform, query string) (Listing, error) {
	q := url.Values{}
	q.Set("api_key", r.apiKey)
	q.Set("type", "search")
	q.Set("amazon_domain", "amazon.in")
	q.Set("search_term", query)
	q.Set("sort_by", "most_relevant")

	var resp rainforestResponse
	if err := r.client.GetJSON(ctx, r.Name(), r.baseURL+"?"+q.Encode(), nil, &resp); err != nil {
		return Listing{}, err
	}
	if len(resp.SearchResults) == 0 {
		return Listing{}, ErrNoMatch
	}

	first := resp.SearchResults[0]
	if !first.Price.ok {
		return Listing{}, ErrNoPrice
	}
	return Listing{Name: strings.TrimSpace(first.Title), Price: first.Price.value}, nil
}

// DataYugeProvider searches several Indian stores through the DataYuge
// product search API, keyed by the platform's StoreCode.
type DataYugeProvider struct {
	client  *client.Client
	apiKey  string
	baseURL string
}

// NewDataYugeProvider returns a provider; an empty baseURL uses
// DataYugeBaseURL.
func NewDataYugeProvider(c *client.Client, apiKey, baseURL string) *DataYugeProvider {
	if baseURL == "" {
		baseURL = DataYugeBaseURL
	}
	return &DataYugeProvider{client: c, apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/")}
}

// Name implements Provider.
func (d *DataYugeProvider) Name() string { return platform.ProviderDataYuge }

// Confidence implements Provider.
func (d *DataYugeProvider) Confidence() float64 { return 0.9 }

type dataYugeResponse struct {
	Products []struct {
		Title string    `json:"title"`
		Name  string    `json:"name"`
		Price flexPrice `json:"price"`
	} `json:"products"`
}

// Search implements Provider.
func (d *DataYugeProvider) Search(ctx context.Context, p platform.Platform, query string) (Listing, error) {
	store := p.StoreCode
	if store == "" {
		store = strings.ToLower(p.Name)
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("store", store)
	q.Set("country", "in")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.apiKey)

	var resp dataYugeResponse
	if err := d.client.GetJSON(ctx, d.Name(), d.baseURL+"/products/search?"+q.Encode(), header, &resp); err != nil {
		return Listing{}, err
	}
	if len(resp.Products) == 0 {
		return Listing{}, ErrNoMatch
	}

	first := resp.Products[0]
	if !first.Price.ok {
		return Listing{}, ErrNoPrice
	}
	name := first.Title
	if name == "" {
		name = first.Name
	}
	return Listing{Name: strings.TrimSpace(name), Price: first.Price.value}, nil
}
