// Package testutil provides mock price sources and deterministic hooks for
// the engine's tests.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/platform"
)

// MockResponse defines the behavior of a mock endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockSource is a configurable HTTP server standing in for price APIs and
// storefront search pages. Unconfigured paths answer 404.
type MockSource struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	counts   map[string]int
	total    int
	lastHdr  http.Header
	lastQry  map[string]string
}

// NewMockSource starts a mock server.
func NewMockSource() *MockSource {
	m := &MockSource{
		handlers: make(map[string]http.HandlerFunc),
		counts:   make(map[string]int),
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.total++
		m.counts[r.URL.Path]++
		m.lastHdr = r.Header.Clone()
		m.lastQry = make(map[string]string)
		for k := range r.URL.Query() {
			m.lastQry[k] = r.URL.Query().Get(k)
		}
		handler, ok := m.handlers[r.URL.Path]
		m.mu.Unlock()

		if ok {
			handler(w, r)
			return
		}
		http.NotFound(w, r)
	}))

	return m
}

// URL returns the server base URL.
func (m *MockSource) URL() string {
	return m.server.URL
}

// Close shuts the server down.
func (m *MockSource) Close() {
	m.server.Close()
}

// SetHandler installs a handler for a path.
func (m *MockSource) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse installs a canned response for a path.
func (m *MockSource) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests received.
func (m *MockSource) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

// RequestsFor returns the number of requests received for a path.
func (m *MockSource) RequestsFor(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[path]
}

// LastHeader returns the headers of the most recent request.
func (m *MockSource) LastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHdr
}

// LastQuery returns the first value of a query parameter of the most recent
// request.
func (m *MockSource) LastQuery(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQry[key]
}

// NewJSONResponse creates a 200 OK JSON response.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewHTMLResponse creates a 200 OK HTML response.
func NewHTMLResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "text/html; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 response with a Retry-After header.
func NewRateLimitResponse(retryAfter int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"Retry-After":  fmt.Sprint(retryAfter),
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewUnauthorizedResponse creates a 401 response.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{StatusCode: http.StatusUnauthorized, Body: `{"error": "Invalid API key"}`}
}

// NewServerErrorResponse creates a 500 response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{StatusCode: http.StatusInternalServerError, Body: `{"error": "Internal server error"}`}
}

// RainforestBody renders a RainforestAPI search response with one result.
func RainforestBody(title string, price float64) string {
	return fmt.Sprintf(`{"search_results":[{"title":%q,"price":{"value":%v,"currency":"INR"}}]}`, title, price)
}

// DataYugeBody renders a DataYuge search response with one product.
func DataYugeBody(title, price string) string {
	return fmt.Sprintf(`{"products":[{"title":%q,"price":%q}]}`, title, price)
}

// SearchPage renders a storefront search page with one listing using the
// platform's first price and name selectors.
func SearchPage(p platform.Platform, productName, priceText string) string {
	var b strings.Builder
	b.WriteString("<html><body><div class=\"results\">")
	if len(p.NameSelectors) > 0 && productName != "" {
		fmt.Fprintf(&b, "<h2 class=%q>%s</h2>", classOf(p.NameSelectors[0]), productName)
	}
	if len(p.PriceSelectors) > 0 && priceText != "" {
		fmt.Fprintf(&b, "<span class=%q>%s</span>", classOf(p.PriceSelectors[0]), priceText)
	}
	b.WriteString("</div></body></html>")
	return b.String()
}

// classOf turns a selector like "h2.a-size-mini" into its class list.
func classOf(selector string) string {
	if i := strings.Index(selector, "."); i >= 0 {
		selector = selector[i+1:]
	}
	return strings.ReplaceAll(selector, ".", " ")
}

// StorefrontPath is the mock path serving a platform's search page.
func StorefrontPath(p platform.Platform) string {
	return "/shop/" + strings.ToLower(p.Name)
}

// StorefrontPlatforms returns the default catalog with search pages pointed
// at the mock server and retries shortened for tests.
func StorefrontPlatforms(baseURL string) []platform.Platform {
	platforms := platform.Defaults()
	for i := range platforms {
		p := &platforms[i]
		p.SearchTemplate = baseURL + StorefrontPath(*p) + "?q={query}"
		p.Retry.InitialDelay = time.Millisecond
		p.Retry.MaxDelay = 5 * time.Millisecond
		p.PageTimeout = 2 * time.Second
	}
	return platforms
}
