package syncagent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ehr_authz_agent"

var (
	// staleCacheWarningsTotal counts refetches that failed and left the
	// last known good set in place.
	staleCacheWarningsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_cache_warnings_total",
			Help:      "Refetches that failed and kept the previous permission set",
		},
	)

	refreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Authoritative permission refetches by result",
		},
		[]string{"result"},
	)

	reconnectAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Failed event stream dials",
		},
	)

	eventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a refetch was already pending",
		},
	)
)
