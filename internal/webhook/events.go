// Package webhook delivers signed pipeline events to the configured
// endpoint, falling back to the relay service when direct delivery keeps
// failing.
package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the pipeline.
const (
	EventTranslationCompleted  = "subtask.translation.completed"
	EventVerificationCompleted = "subtask.verification.completed"
	EventReviewQueued          = "subtask.review.queued"
	EventReviewBatchCreated    = "review.batch.created"
	EventReviewStudyCreated    = "review.study.created"
	EventReviewCompleted       = "subtask.review.completed"
	EventSubTaskFinalized      = "subtask.finalized"
	EventSubTaskFailed         = "subtask.failed"
	EventTaskCompleted         = "task.completed"
	EventTaskFailed            = "task.failed"
)

// Event is one outbound notification about pipeline progress.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	TaskID     string         `json:"task_id"`
	Language   string         `json:"language,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// NewEvent builds an event with a fresh identifier and timestamp.
func NewEvent(eventType, taskID, language string, data map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		TaskID:     taskID,
		Language:   language,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Encode renders the event body sent to the webhook endpoint.
func (e Event) Encode() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.Type, err)
	}
	return body, nil
}
