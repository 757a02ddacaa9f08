// Package metrics holds the Prometheus collectors of the authorization service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ehr_authz"

// Decision metrics
var (
	// DecisionsTotal counts authorization decisions by outcome and denial reason.
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Authorization decisions by result and reason",
		},
		[]string{"result", "reason"},
	)

	DecisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_duration_seconds",
			Help:      "Time to answer an authorization check, including set lookup",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		},
	)

	// EffectiveSetComputeDuration tracks aggregation from the store, cache misses only.
	EffectiveSetComputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "effective_set_compute_duration_seconds",
			Help:      "Time to aggregate an effective permission set from the store",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// AssignmentsSkippedTotal counts assignments left out because their role could not be resolved.
	AssignmentsSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_skipped_total",
			Help:      "Assignments skipped during aggregation",
		},
	)
)

// Mutation metrics
var (
	RoleMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "role_mutations_total",
			Help:      "Committed role and assignment mutations",
		},
		[]string{"operation"},
	)

	ExpiryHintsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expiry_hints_total",
			Help:      "Change hints published for expired assignments",
		},
	)
)

// Event bus metrics
var (
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Permission change events published",
		},
		[]string{"type"},
	)

	EventsDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "delivered_total",
			Help:      "Events handed to subscriber channels",
		},
	)

	// EventsDroppedTotal counts deliveries skipped because a subscriber buffer was full.
	EventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped for slow subscribers",
		},
	)

	EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Open event subscriptions",
		},
	)
)
