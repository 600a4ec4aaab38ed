// Package cache memoizes normalized bridge responses in a store.Store.
//
// Features:
//
// - Deterministic keys: shop, namespace, optional item id and a SHA-256 of
// the operation plus sanitized parameters (credentials stripped, keys sorted)
// - Per-resource freshness (products 600s, orders 120s, customers 300s,
// collections 1800s, single items 300s, variants 600s, otherwise 300s)
// - Targeted invalidation of related namespaces
// - Pass-through on store failure for the request path
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	manager := cache.NewManager(store.NewRedis(redisClient))
//
//	key := cache.CacheKey{
//		Shop:      "demo.myshopify.com",
//		Operation: "products.list",
//		Params:    map[string]string{"limit": "50", "fields": "id,title"},
//	}
//
//	if entry, ok := manager.Lookup(ctx, key); ok {
//		return entry.Payload
//	}
//	// fetch upstream, normalize ...
//	manager.Put(ctx, key, payload)
//
// # Invalidation
//
//	// A product changed: drop its item entries, all product lists and all
//	// collection entries.
//	manager.InvalidateRelated(ctx, "demo.myshopify.com", resource.Product, 10)
//
// # Metrics
//
//   - gqlbridge_cache_hits_total{namespace} - Cache hits
//   - gqlbridge_cache_misses_total{namespace} - Cache misses
//   - gqlbridge_cache_payload_bytes{namespace} - Stored payload sizes
//   - gqlbridge_cache_invalidations_total{kind} - Removed by invalidation
//   - gqlbridge_cache_errors_total{operation} - Cache operation errors
package cache
