package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts recorded stage events.
	// Labels: stage, phase
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "pipeline",
			Name:      "events_total",
			Help:      "Total number of stage events recorded",
		},
		[]string{"stage", "phase"},
	)

	// RunsFinished counts runs closed by their terminal event.
	// Labels: subject (document, query), outcome (completed, errored)
	RunsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "pipeline",
			Name:      "runs_finished_total",
			Help:      "Total number of pipeline runs that reached a terminal event",
		},
		[]string{"subject", "outcome"},
	)

	// StageDuration observes how long stages take.
	// Labels: stage
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docrag",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"stage"},
	)

	// RecordFailures counts events that could not be persisted.
	RecordFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "pipeline",
			Name:      "record_failures_total",
			Help:      "Total number of stage events dropped because the run log rejected them",
		},
	)
)
