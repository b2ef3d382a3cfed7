package assignment

import (
	"github.com/bissquit/listing-dispatch/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcomes.
const (
	outcomeAssigned = "assigned"
)

var (
	runsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "assignment",
			Name:      "runs_started_total",
			Help:      "Total assignment runs started",
		},
	)

	runsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "assignment",
			Name:      "runs_finished_total",
			Help:      "Total assignment runs finished by outcome",
		},
		[]string{"outcome"},
	)

	transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "assignment",
			Name:      "transitions_total",
			Help:      "Offer transitions out of pending by resulting status",
		},
		[]string{"status"},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "assignment",
			Name:      "offer_deliveries_total",
			Help:      "Offer delivery attempts by result",
		},
		[]string{"result"},
	)

	activeTimers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "assignment",
			Name:      "active_timers",
			Help:      "Offer timeouts currently armed",
		},
	)
)

func recordTransition(status string) {
	transitions.WithLabelValues(status).Inc()
}

func recordRunFinished(outcome string) {
	runsFinished.WithLabelValues(outcome).Inc()
}

func recordDelivery(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	deliveries.WithLabelValues(result).Inc()
}
