package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for Fetch.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gqlbridge_requests_total",
		Help: "Total number of Fetch calls by resource and outcome (success, cache_hit, error)",
	}, []string{"resource", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gqlbridge_request_duration_seconds",
		Help:    "Fetch duration in seconds, cache hits included",
		Buckets: prometheus.DefBuckets,
	}, []string{"resource"})
)
