// Package cache stores per-item comparison sets with stale-while-revalidate
// semantics.
//
// Every entry is timestamped when it is written and classified on read:
//
//   - Fresh (age ≤ FreshTTL): served as is.
//   - Stale (FreshTTL < age ≤ StaleTTL): served, and one background refresh
//     is started for the key unless one is already running.
//   - Expired (age > StaleTTL): deleted and reported as ErrCacheMiss.
//
// A corrupt entry is deleted and also reported as a miss, so a bad write
// never wedges an item.
//
// # Basic Usage
//
//	m, err := cache.New(cache.DefaultConfig(), cache.NewMemoryBackend(), logger)
//	if err != nil {
//		return err
//	}
//	defer m.Close(ctx)
//
//	key := quote.ItemKey("Milk", 60)
//	lookup, err := m.Get(ctx, key, func(ctx context.Context) (quote.ComparisonSet, error) {
//		return resolveAgain(ctx, "Milk", 60)
//	})
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// resolve and m.Put(ctx, key, set)
//	}
//
// # Backends
//
// MemoryBackend keeps entries in process memory. RedisBackend stores JSON
// entries in Redis with a TTL of StaleTTL so several engine replicas share
// one cache.
//
// # Metrics
//
//   - price_cache_hits_total{layer}
//   - price_cache_misses_total{layer}
//   - price_cache_stale_served_total{layer}
//   - price_cache_evictions_total{reason}
//   - price_cache_refreshes_total{result}
//   - price_cache_errors_total{operation}
//   - price_cache_entries{layer}
package cache
