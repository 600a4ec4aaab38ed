package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gqlbridge_events_dropped_total",
		Help: "Events dropped because the async buffer was full",
	})

	publishErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gqlbridge_event_publish_errors_total",
		Help: "Event publish failures by sink",
	}, []string{"sink"})
)
