package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/LAKSHMINARASIMHATM/price-engine/internal/testutil"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/aggregator"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/cache"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/config"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/platform"
	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/quote"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

type fakeEngine struct {
	err   error
	lines []aggregator.BillLine
	stats cache.Stats
}

func (f *fakeEngine) CompareBill(_ context.Context, lines []aggregator.BillLine) ([]aggregator.ItemComparison, error) {
	f.lines = lines
	if f.err != nil {
		return nil, f.err
	}
	out := make([]aggregator.ItemComparison, len(lines))
	for i, l := range lines {
		out[i] = aggregator.ItemComparison{
			ItemName:  l.Name,
			Platforms: []quote.Quote{{Platform: "Amazon", Price: l.Price - 1, Available: true, Confidence: 0.85, Source: quote.SourceAPI}},
		}
	}
	return out, nil
}

func (f *fakeEngine) ResolveItem(_ context.Context, name string, basePrice float64) (quote.ComparisonSet, error) {
	if f.err != nil {
		return quote.ComparisonSet{}, f.err
	}
	req := quote.Request{ItemName: name, BasePrice: basePrice}
	return quote.NewComparisonSet(req, []quote.Quote{{Platform: "Flipkart", Price: basePrice, Available: true, Confidence: 1, Source: quote.SourceScraped}}, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)), nil
}

func (f *fakeEngine) CacheStats(context.Context) cache.Stats { return f.stats }

func newTestServer(t *testing.T, e engine) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newServer(e, 0, zerolog.Nop()).routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestCompareEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantInBody string
	}{
		{"ok", `{"items":[{"name":"Milk 1L","price":60},{"name":"Bread","price":40}]}`, nil, http.StatusOK, `"itemName":"Milk 1L"`},
		{"malformed body", `{"items":`, nil, http.StatusBadRequest, "invalid request body"},
		{"no items", `{"items":[]}`, nil, http.StatusBadRequest, "must not be empty"},
		{"invalid item", `{"items":[{"name":"","price":10}]}`, fmt.Errorf("item 0: %w", aggregator.ErrInvalidItem), http.StatusBadRequest, "invalid item"},
		{"engine failure", `{"items":[{"name":"Milk","price":10}]}`, errors.New("boom"), http.StatusInternalServerError, "internal error"},
		{"timed out", `{"items":[{"name":"Milk","price":10}]}`, context.DeadlineExceeded, http.StatusGatewayTimeout, "timed out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeEngine{err: tt.err})

			resp, err := http.Post(srv.URL+"/v1/compare", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST error = %v", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", resp.StatusCode, tt.wantStatus, body)
			}
			if !strings.Contains(string(body), tt.wantInBody) {
				t.Errorf("body = %s, want it to contain %s", body, tt.wantInBody)
			}
		})
	}
}

func TestCompareEndpoint_ResponseShape(t *testing.T) {
	e := &fakeEngine{}
	srv := newTestServer(t, e)

	resp, err := http.Post(srv.URL+"/v1/compare", "application/json",
		strings.NewReader(`{"items":[{"name":"Sugar","price":50},{"name":"Milk","price":60}]}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()

	var got compareResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Success || len(got.Prices) != 2 || got.Prices[0].ItemName != "Sugar" {
		t.Errorf("response = %+v", got)
	}
	if diff := cmp.Diff([]aggregator.BillLine{{Name: "Sugar", Price: 50}, {Name: "Milk", Price: 60}}, e.lines); diff != "" {
		t.Errorf("lines passed to engine (-want +got):\n%s", diff)
	}
}

func TestItemEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})

	resp, err := http.Get(srv.URL + "/v1/compare/item?name=Eggs&price=90")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	var set quote.ComparisonSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if set.ItemKey != quote.ItemKey("Eggs", 90) || len(set.Quotes) != 1 {
		t.Errorf("set = %+v", set)
	}

	bad, err := http.Get(srv.URL + "/v1/compare/item?name=Eggs&price=lots")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("non-numeric price status = %d", bad.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{stats: cache.Stats{Hits: 3, Misses: 1, TotalRequests: 4, Size: 2}})

	resp, err := http.Get(srv.URL + "/v1/cache/stats")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	var got map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["hits"] != 3.0 || got["cacheSize"] != 2.0 || got["hitRate"] != 0.75 {
		t.Errorf("stats = %v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})

	if resp, err := http.Get(srv.URL + "/health"); err == nil {
		resp.Body.Close()
	}
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `price_http_requests_total{route="/health",status="200"}`) {
		t.Error("metrics should include instrumented routes")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"7070\"\nengine:\n  batch_size: 5\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	env := map[string]string{"PORT": "9090"}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg, err := loadConfig(path, lookup)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Engine.BatchSize != 5 {
		t.Errorf("env must override file, got port %s batch %d", cfg.Server.Port, cfg.Engine.BatchSize)
	}

	env["BATCH_SIZE"] = "0"
	if _, err := loadConfig(path, lookup); err == nil {
		t.Error("loadConfig() should validate after applying env")
	}

	if _, err := loadConfig("", func(string) (string, bool) { return "", false }); err != nil {
		t.Errorf("zero configuration should be valid: %v", err)
	}
}

// TestCompare_EndToEnd prices a bill through the real engine against mock
// storefronts.
func TestCompare_EndToEnd(t *testing.T) {
	mock := testutil.NewMockSource()
	defer mock.Close()

	cfg := config.Default()
	cfg.Scrape.ThinkMin, cfg.Scrape.ThinkMax = 0, 0
	zero := 0
	for _, p := range platform.Defaults() {
		mock.SetResponse(testutil.StorefrontPath(p), testutil.NewHTMLResponse(testutil.SearchPage(p, "Basmati Rice 1kg", "₹120")))
		cfg.Platforms = append(cfg.Platforms, config.PlatformConfig{
			Name:           p.Name,
			SearchTemplate: mock.URL() + testutil.StorefrontPath(p) + "?q={query}",
			MaxRetries:     &zero,
		})
	}

	agg, err := aggregator.NewFromConfig(cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	defer agg.Close(context.Background())
	srv := newTestServer(t, agg)

	resp, err := http.Post(srv.URL+"/v1/compare", "application/json",
		strings.NewReader(`{"items":[{"name":"Basmati Rice 1kg","price":150}]}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()

	var got compareResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Prices) != 1 || len(got.Prices[0].Platforms) != len(platform.Defaults()) {
		t.Fatalf("response = %+v", got)
	}
	for _, q := range got.Prices[0].Platforms {
		if q.Price != 120 || q.Source != quote.SourceScraped {
			t.Errorf("%s quote = %+v", q.Platform, q)
		}
	}
}
