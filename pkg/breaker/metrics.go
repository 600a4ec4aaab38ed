package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transitions counts state changes by target state
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gqlbridge_breaker_transitions_total",
			Help: "Total number of circuit breaker state changes",
		},
		[]string{"state"}, // "open", "half_open", "closed"
	)

	// Rejections counts calls refused by an open breaker
	Rejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gqlbridge_breaker_rejections_total",
			Help: "Total number of calls refused by an open circuit breaker",
		},
	)

	// StoreErrors counts breaker store failures that degraded to allowing calls
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gqlbridge_breaker_store_errors_total",
			Help: "Total number of circuit breaker store errors",
		},
		[]string{"operation"}, // "allow", "success", "failure"
	)
)
