package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by namespace
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gqlbridge_cache_hits_total",
			Help: "Total number of bridge cache hits",
		},
		[]string{"namespace"}, // "products", "orders", ...
	)

	// CacheMisses tracks cache misses by namespace
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gqlbridge_cache_misses_total",
			Help: "Total number of bridge cache misses",
		},
		[]string{"namespace"},
	)

	// PayloadBytes tracks the size of stored payloads
	PayloadBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gqlbridge_cache_payload_bytes",
			Help:    "Size of cached response payloads in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		},
		[]string{"namespace"},
	)

	// Invalidations tracks keys removed by related invalidation
	Invalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gqlbridge_cache_invalidations_total",
			Help: "Total number of cache entries removed by invalidation",
		},
		[]string{"kind"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gqlbridge_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "invalidate"
	)
)
