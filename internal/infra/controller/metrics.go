package controller

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "ehr_authz"
	subsystem = "controller"
)

var (
	reconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconcile_total",
			Help:      "Total number of reconciliations by controller and result",
		},
		[]string{"controller", "result"},
	)

	reconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconciliation in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"controller"},
	)

	itemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "items_processed_total",
			Help:      "Total number of items processed by controller",
		},
		[]string{"controller"},
	)

	controllerRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "running",
			Help:      "Whether the controller is running (1) or not (0)",
		},
		[]string{"controller"},
	)

	lastReconcileTime = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_reconcile_timestamp_seconds",
			Help:      "Unix timestamp of the last reconciliation",
		},
		[]string{"controller"},
	)
)

func recordReconcile(controller string, items int, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	reconcileTotal.WithLabelValues(controller, result).Inc()
	reconcileDuration.WithLabelValues(controller).Observe(duration.Seconds())
	if items > 0 {
		itemsProcessed.WithLabelValues(controller).Add(float64(items))
	}
	lastReconcileTime.WithLabelValues(controller).Set(float64(time.Now().Unix()))
}
