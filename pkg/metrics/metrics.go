// Package metrics exposes the price engine's Prometheus registry and
// instruments the HTTP service. Engine metrics are defined in their own
// packages and registered on the default registry via promauto.
//
// Metrics Documentation
//
// Resolution (pkg/waterfall, pkg/source, pkg/aggregator):
//   - price_waterfall_tier_total{tier, platform, outcome} (Counter): Tier attempts by outcome
//   - price_waterfall_duration_seconds (Histogram): Time to settle one platform
//   - price_resolver_results_total{tier, platform, result} (Counter): Resolver results
//   - price_scrape_relevance (Histogram): Relevance of scraped listings
//   - price_aggregator_items_total{outcome} (Counter): Items by hit, stale, resolved, shared
//   - price_aggregator_item_duration_seconds (Histogram): Time to price one item
//   - price_aggregator_batches_total (Counter): Item batches processed
//
// Retry and concurrency (pkg/retry, pkg/gate):
//   - price_retries_total{platform} (Counter): Retry attempts
//   - price_retry_backoff_seconds (Histogram): Backoff waits
//   - price_retry_exhausted_total{platform} (Counter): Operations that ran out of attempts
//   - price_gate_inflight{gate} (Gauge): Operations holding a slot
//   - price_gate_wait_seconds (Histogram): Time waiting for a slot
//
// Sources (pkg/client, pkg/ratelimit):
//   - price_source_requests_total{source, status} (Counter): Outbound requests
//   - price_source_request_duration_seconds (Histogram): Outbound request duration
//   - price_source_errors_total{source, class} (Counter): Errors by class
//   - price_rate_limit_remaining{source} (Gauge): Requests left in the window
//   - price_rate_limit_blocks_total{source} (Counter): Calls skipped while cooling off
//   - price_rate_limit_hits_total{source} (Counter): 429 responses
//
// Cache (pkg/cache):
//   - price_cache_hits_total{layer}, price_cache_misses_total{layer} (Counter)
//   - price_cache_stale_served_total{layer} (Counter): Stale entries served
//   - price_cache_evictions_total{reason} (Counter): expired, corrupt, sweep
//   - price_cache_refreshes_total{result} (Counter): Background refreshes
//   - price_cache_errors_total{operation} (Counter): Backend failures
//   - price_cache_entries{layer} (Gauge): Entries seen by the last sweep
//
// HTTP (this package):
//   - price_http_requests_total{route, status} (Counter)
//   - price_http_request_duration_seconds{route} (Histogram)
//
// Example Prometheus Queries:
//
//	# Fresh hit rate
//	sum(rate(price_cache_hits_total[5m])) /
//	(sum(rate(price_cache_hits_total[5m])) + sum(rate(price_cache_misses_total[5m])))
//
//	# Share of platforms answered by estimation
//	sum(rate(price_waterfall_tier_total{tier="estimate"}[5m])) /
//	sum(rate(price_waterfall_duration_seconds_count[5m]))
//
//	# P95 item latency
//	histogram_quantile(0.95, rate(price_aggregator_item_duration_seconds_bucket[5m]))
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every engine metric is registered on.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_http_requests_total",
		Help: "HTTP requests served by route and status",
	}, []string{"route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "price_http_request_duration_seconds",
		Help:    "HTTP request duration by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument counts and times requests to next under route.
func Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		httpRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}
