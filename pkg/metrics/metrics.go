// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SubmitsTotal tracks chat submissions by outcome.
	SubmitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_submits_total",
			Help: "Chat submissions by outcome",
		},
		[]string{"outcome"},
	)

	// MessagesTotal tracks transcript messages by role.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_messages_total",
			Help: "Transcript messages appended, by role",
		},
		[]string{"role"},
	)

	// MentionSearchesTotal tracks mention autocomplete searches by kind (search/recent).
	MentionSearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mention_searches_total",
			Help: "Mention autocomplete lookups issued",
		},
		[]string{"kind"},
	)

	// StaleAttemptsTotal tracks responses discarded by the versioning discipline.
	StaleAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_stale_attempts_total",
			Help: "Responses discarded because a newer attempt superseded them",
		},
		[]string{"operation"},
	)

	// TitleGenerationsTotal tracks background title generation results.
	TitleGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "title_generations_total",
			Help: "Background conversation title generations",
		},
		[]string{"result"},
	)

	// AttachedTickets tracks the size of the active attached-ticket set.
	AttachedTickets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "attached_tickets",
			Help: "Tickets currently attached to the active conversation",
		},
	)

	// LLMDuration tracks LLM completion duration.
	LLMDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_completion_duration_seconds",
			Help:    "LLM completion duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 45, 60},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// EventsPublished tracks session events published to JetStream.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_events_published_total",
			Help: "Session events published, by type and status",
		},
		[]string{"type", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLM records metrics for an LLM completion.
func RecordLLM(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordStaleAttempt records a response dropped by discard-by-version.
func RecordStaleAttempt(operation string) {
	StaleAttemptsTotal.WithLabelValues(operation).Inc()
}
