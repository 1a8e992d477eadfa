// Package metrics exposes pipeline counters and gauges on the Prometheus
// default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// tasksSubmitted counts accepted task submissions.
	tasksSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glossa_tasks_submitted_total",
		Help: "Total number of accepted task submissions",
	})

	// stageProcessed counts processed queue messages by stage and result.
	stageProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glossa_stage_processed_total",
		Help: "Total number of processed queue messages by stage and result",
	}, []string{"stage", "result"}) // result: ok, retry, dead_letter, skipped

	// stageDuration tracks stage handler runtime.
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "glossa_stage_duration_seconds",
		Help:    "Stage handler runtime by stage",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	// queueDepth tracks queued messages per stage.
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "glossa_queue_depth",
		Help: "Queued messages by stage",
	}, []string{"stage"})

	// messagesInFlight tracks currently claimed messages.
	messagesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "glossa_messages_in_flight",
		Help: "Messages currently claimed by workers",
	})

	// webhookAttempts counts webhook delivery attempts by outcome.
	webhookAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glossa_webhook_attempts_total",
		Help: "Total webhook delivery attempts by outcome",
	}, []string{"outcome"})

	// reviewBatchesCreated counts created review batches.
	reviewBatchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glossa_review_batches_created_total",
		Help: "Total review batches created",
	})

	// subTasksFinalized counts finalized sub-tasks by final reason.
	subTasksFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glossa_subtasks_finalized_total",
		Help: "Total finalized sub-tasks by final reason",
	}, []string{"reason"})
)

// TaskSubmitted records an accepted submission.
func TaskSubmitted() {
	tasksSubmitted.Inc()
}

// StageProcessed records one processed queue message.
func StageProcessed(stage, result string) {
	stageProcessed.WithLabelValues(stage, result).Inc()
}

// ObserveStageDuration records a stage handler runtime in seconds.
func ObserveStageDuration(stage string, seconds float64) {
	stageDuration.WithLabelValues(stage).Observe(seconds)
}

// SetQueueDepth publishes the current queue depth for a stage.
func SetQueueDepth(stage string, depth int) {
	queueDepth.WithLabelValues(stage).Set(float64(depth))
}

// MessageClaimed adjusts the in-flight gauge when a claim starts or ends.
func MessageClaimed(delta int) {
	messagesInFlight.Add(float64(delta))
}

// WebhookAttempt records one delivery attempt outcome.
func WebhookAttempt(outcome string) {
	webhookAttempts.WithLabelValues(outcome).Inc()
}

// ReviewBatchCreated records one created review batch.
func ReviewBatchCreated() {
	reviewBatchesCreated.Inc()
}

// SubTaskFinalized records a finalized sub-task.
func SubTaskFinalized(reason string) {
	subTasksFinalized.WithLabelValues(reason).Inc()
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
