package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Eviction reasons.
const (
	evictExpired = "expired"
	evictCorrupt = "corrupt"
	evictSweep   = "sweep"
)

var (
	// CacheHits tracks fresh hits by layer ("memory", "redis").
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_cache_hits_total",
			Help: "Total number of fresh price cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks misses, including expired and corrupt entries.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_cache_misses_total",
			Help: "Total number of price cache misses",
		},
		[]string{"layer"},
	)

	// CacheStaleServed tracks stale entries served while revalidating.
	CacheStaleServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_cache_stale_served_total",
			Help: "Total number of stale price sets served",
		},
		[]string{"layer"},
	)

	// CacheEvictions tracks removed entries by reason.
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_cache_evictions_total",
			Help: "Total number of evicted price cache entries",
		},
		[]string{"reason"}, // "expired", "corrupt", "sweep"
	)

	// CacheRefreshes tracks background refresh outcomes.
	CacheRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_cache_refreshes_total",
			Help: "Total number of background refreshes by result",
		},
		[]string{"result"}, // "ok", "error", "panic"
	)

	// CacheErrors tracks backend operation errors.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_cache_errors_total",
			Help: "Total number of price cache backend errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "keys"
	)

	// CacheEntries is the entry count last observed by Stats or Sweep.
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "price_cache_entries",
			Help: "Number of entries in the price cache",
		},
		[]string{"layer"},
	)
)
