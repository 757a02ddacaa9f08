package logger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var logsDropped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ehr_authz",
		Subsystem: "logger",
		Name:      "logs_dropped_total",
		Help:      "Log lines dropped by sampling",
	},
	[]string{"level"},
)
