// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Classifications counts classifier outcomes: intent, degraded,
	// model_unavailable, invalid_output, low_confidence.
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uklid_classifications_total",
			Help: "Total number of chat messages classified, by outcome",
		},
		[]string{"outcome"},
	)

	ClassificationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "uklid_classification_duration_seconds",
			Help:    "Duration of language-model classification calls in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
	)

	SessionsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "uklid_sessions_opened_total",
			Help: "Total number of cleaning sessions opened",
		},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uklid_sessions_closed_total",
			Help: "Total number of cleaning sessions closed, by close reason",
		},
		[]string{"reason"},
	)

	// Conversational counts user-facing failures (conflict, not_found,
	// ambiguous, no_active_session, clarification, rate_limited).
	Conversational = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uklid_conversational_outcomes_total",
			Help: "Total number of replies that asked the worker for more input, by kind",
		},
		[]string{"kind"},
	)

	EventsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uklid_events_appended_total",
			Help: "Total number of events written to the event log, by type",
		},
		[]string{"type"},
	)

	EventsPublishFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "uklid_events_publish_failed_total",
			Help: "Total number of events that could not be published to the broker",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "uklid_sweep_duration_seconds",
			Help: "Duration of expiry sweeps in seconds",
		},
	)
)
