// Package api defines the daemon's HTTP wire types and a client for them.
package api

import (
	"glossa/internal/review"
	"glossa/internal/task"
)

// SubmitRequest is the POST /api/v1/tasks payload. Pipeline policy fields
// fall back to the daemon configuration when omitted.
type SubmitRequest struct {
	SourceText          string                `json:"source_text"`
	SourceLanguage      string                `json:"source_language,omitempty"`
	Languages           []string              `json:"languages"`
	Editorial           task.EditorialContext `json:"editorial"`
	MaxReviewIterations int                   `json:"max_review_iterations,omitempty"`
	ConfidenceThreshold float64               `json:"confidence_threshold,omitempty"`
}

// StudyResults is the POST /api/v1/studies/{id}/results payload.
type StudyResults struct {
	Results []review.MemberResult `json:"results"`
}

// TaskList wraps the GET /api/v1/tasks response.
type TaskList struct {
	Tasks []*task.Task `json:"tasks"`
}

// WorkerStats mirrors the worker pool counters exposed in queue stats.
type WorkerStats struct {
	Workers      int              `json:"workers"`
	Processed    int64            `json:"processed"`
	Retried      int64            `json:"retried"`
	DeadLettered int64            `json:"dead_lettered"`
	Reclaimed    int64            `json:"reclaimed"`
	PerWorker    []WorkerCounters `json:"per_worker"`
}

// WorkerCounters is one worker's activity snapshot.
type WorkerCounters struct {
	Worker    string `json:"worker"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
	InFlight  int64  `json:"in_flight"`
}

// QueueStats is the GET /api/v1/queue/stats response.
type QueueStats struct {
	Queue       map[string]int `json:"queue"`
	Tasks       map[string]int `json:"tasks"`
	DeadLetters int            `json:"dead_letters"`
	Workers     WorkerStats    `json:"workers"`
}

// StageHealth reports one pipeline stage's readiness.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// HealthReport is the GET /healthz response.
type HealthReport struct {
	Running bool          `json:"running"`
	Stages  []StageHealth `json:"stages"`
}

// ErrorResponse is the body returned for any non-2xx API status.
type ErrorResponse struct {
	Error string `json:"error"`
}
