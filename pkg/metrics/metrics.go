// Package metrics provides Prometheus metrics for the Tansy service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PolicyMutationsTotal tracks retry policy mutations by job type and action
	PolicyMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tansy",
			Subsystem: "policy",
			Name:      "mutations_total",
			Help:      "Total number of retry policy mutations by job type and action",
		},
		[]string{"job_type", "action"},
	)

	// PolicyValidationFailures tracks rejected policy drafts
	PolicyValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tansy",
			Subsystem: "policy",
			Name:      "validation_failures_total",
			Help:      "Total number of policy drafts rejected by local validation",
		},
		[]string{"job_type", "field"},
	)

	// RollbacksTotal tracks applied rollbacks by target kind
	RollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tansy",
			Subsystem: "policy",
			Name:      "rollbacks_total",
			Help:      "Total number of applied policy rollbacks by target kind and status",
		},
		[]string{"job_type", "target", "status"},
	)

	// TriageActionsTotal tracks job triage actions
	TriageActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tansy",
			Subsystem: "triage",
			Name:      "actions_total",
			Help:      "Total number of job triage actions by action and status",
		},
		[]string{"action", "status"},
	)

	// BulkActionSize tracks the size of bulk triage selections
	BulkActionSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tansy",
			Subsystem: "triage",
			Name:      "bulk_action_size",
			Help:      "Number of jobs targeted per bulk triage action",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
		[]string{"action"},
	)

	// TelemetryPollDuration tracks telemetry snapshot collection duration
	TelemetryPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tansy",
			Subsystem: "telemetry",
			Name:      "poll_duration_seconds",
			Help:      "Duration of telemetry snapshot collection in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	// TelemetryPollFailures tracks failed telemetry polls
	TelemetryPollFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tansy",
			Subsystem: "telemetry",
			Name:      "poll_failures_total",
			Help:      "Total number of failed telemetry polls (last-good snapshot retained)",
		},
	)

	// PipelineRequestsTotal tracks requests to the pipeline backend
	PipelineRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tansy",
			Subsystem: "pipeline_client",
			Name:      "requests_total",
			Help:      "Total number of requests to the pipeline backend",
		},
		[]string{"method", "status_code"},
	)

	// PipelineRequestDuration tracks pipeline backend request duration
	PipelineRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tansy",
			Subsystem: "pipeline_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of pipeline backend requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// KafkaMessagesPublished tracks policy change notifications published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tansy",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tansy",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	// DatabaseQueryDuration tracks database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tansy",
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// RecordPolicyMutation records a successful retry policy mutation
func RecordPolicyMutation(jobType, action string) {
	PolicyMutationsTotal.WithLabelValues(jobType, action).Inc()
}

// RecordRollback records a rollback apply attempt
func RecordRollback(jobType, target, status string) {
	RollbacksTotal.WithLabelValues(jobType, target, status).Inc()
}

// RecordTriageAction records a triage action result
func RecordTriageAction(action, status string) {
	TriageActionsTotal.WithLabelValues(action, status).Inc()
}

// RecordPipelineRequest records a pipeline backend request metric
func RecordPipelineRequest(method, statusCode string, durationSeconds float64) {
	PipelineRequestsTotal.WithLabelValues(method, statusCode).Inc()
	PipelineRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}
