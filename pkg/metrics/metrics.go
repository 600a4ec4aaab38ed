// Package metrics exposes the bridge's Prometheus registry and keeps a rolling
// in-process window of request events for the diagnostics endpoints.
//
// Prometheus metrics are defined in their respective packages (client, cache,
// breaker, ratelimit, bridge, events) to maintain modularity and avoid
// circular dependencies. This package documents them and serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the bridge.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Request Metrics (pkg/bridge):
//   - gqlbridge_requests_total{resource, outcome} (Counter): Fetch calls by resource and outcome
//   - gqlbridge_request_duration_seconds{resource} (Histogram): Fetch duration including cache hits
//
// Upstream Metrics (pkg/client):
//   - gqlbridge_upstream_requests_total{operation, status} (Counter): GraphQL POSTs by operation and HTTP status
//   - gqlbridge_upstream_request_duration_seconds{operation} (Histogram): Attempt duration
//   - gqlbridge_upstream_errors_total{kind} (Counter): Upstream errors by apierr kind
//
// Retry Metrics (pkg/client):
//   - gqlbridge_retries_total{error_kind} (Counter): Retry attempts by error kind
//   - gqlbridge_retry_backoff_seconds{error_kind} (Histogram): Backoff duration by error kind
//   - gqlbridge_retry_exhausted_total{error_kind} (Counter): Requests that exhausted max attempts
//
// Breaker Metrics (pkg/breaker):
//   - gqlbridge_breaker_transitions_total{state} (Counter): Transitions by target state
//   - gqlbridge_breaker_rejections_total (Counter): Calls refused while open
//   - gqlbridge_breaker_store_errors_total{operation} (Counter): Store failures, calls passed through
//
// Cache Metrics (pkg/cache):
//   - gqlbridge_cache_hits_total{namespace} (Counter)
//   - gqlbridge_cache_misses_total{namespace} (Counter)
//   - gqlbridge_cache_payload_bytes{namespace} (Histogram): Stored payload sizes
//   - gqlbridge_cache_invalidations_total{kind} (Counter): Keys removed by InvalidateRelated
//   - gqlbridge_cache_errors_total{operation} (Counter): Store failures, degraded to pass-through
//
// Query Cost Metrics (pkg/ratelimit):
//   - gqlbridge_query_points_available{shop} (Gauge): Bucket balance at last report
//   - gqlbridge_query_cost_points (Histogram): Actual query cost
//   - gqlbridge_rate_limit_blocks_total (Counter): Requests refused on an empty bucket
//   - gqlbridge_rate_limit_throttles_total (Counter): Requests delayed by the tracker
//
// Event Metrics (pkg/events):
//   - gqlbridge_events_dropped_total (Counter): Events dropped by a full async buffer
//   - gqlbridge_event_publish_errors_total{sink} (Counter)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(gqlbridge_cache_hits_total[5m])) /
//   (sum(rate(gqlbridge_cache_hits_total[5m])) + sum(rate(gqlbridge_cache_misses_total[5m])))
//
//   # Open breakers
//   increase(gqlbridge_breaker_transitions_total{state="open"}[15m]) > 0
//
//   # Bucket pressure
//   gqlbridge_query_points_available < 200
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(gqlbridge_upstream_request_duration_seconds_bucket[5m]))
