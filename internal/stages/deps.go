// Package stages implements the pipeline stage handlers dispatched by the
// worker pool: translation, automated verification, and post-review
// re-scoring.
package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"glossa/internal/config"
	"glossa/internal/logging"
	"glossa/internal/metrics"
	"glossa/internal/services"
	"glossa/internal/services/score"
	"glossa/internal/services/translate"
	"glossa/internal/stage"
	"glossa/internal/store"
	"glossa/internal/task"
	"glossa/internal/webhook"
)

// Translator produces translations for one language.
type Translator interface {
	Translate(ctx context.Context, req translate.Request) (string, error)
	HealthCheck(ctx context.Context) error
}

// Scorer grades translations.
type Scorer interface {
	Score(ctx context.Context, req score.Request) (task.AutomatedScore, error)
	HealthCheck(ctx context.Context) error
}

// EventPublisher receives outbound pipeline events.
type EventPublisher interface {
	Publish(event webhook.Event)
}

// Deps bundles the collaborators shared by all stage handlers.
type Deps struct {
	Store      *store.Store
	Translator Translator
	Scorer     Scorer
	Events     EventPublisher
	Cfg        *config.Config
	Logger     *slog.Logger
}

// NewHandlers builds the stage handler registry for the worker pool.
func NewHandlers(deps *Deps) map[store.Stage]stage.Handler {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	return map[store.Stage]stage.Handler{
		store.StageTranslate: &translateHandler{deps: deps},
		store.StageVerify:    &verifyHandler{deps: deps},
		store.StageReview:    &reviewHandler{deps: deps},
	}
}

// loadPair fetches the task and the sub-task a message addresses. A missing
// record is a permanent failure: the task was deleted and the message must
// not be retried.
func (d *Deps) loadPair(ctx context.Context, msg *store.QueueMessage) (*task.Task, *task.LanguageSubTask, error) {
	taskID, err := uuid.Parse(msg.TaskID)
	if err != nil {
		return nil, nil, services.Wrap(services.ErrValidation, string(msg.Stage), "load", "malformed task id", err)
	}
	t, err := d.Store.GetTask(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, services.Wrap(services.ErrValidation, string(msg.Stage), "load", "task no longer exists", err)
	}
	if err != nil {
		return nil, nil, services.Wrap(services.ErrTransient, string(msg.Stage), "load", "load task", err)
	}
	sub, ok := t.SubTasks[msg.Language]
	if !ok {
		return nil, nil, services.Wrap(services.ErrValidation, string(msg.Stage), "load", "unknown language "+msg.Language, nil)
	}
	return t, sub, nil
}

// saveSubTask persists a sub-task. A revision conflict means a concurrent
// writer won the race, which redelivery will sort out, so it is transient.
func (d *Deps) saveSubTask(ctx context.Context, stageName string, sub *task.LanguageSubTask) error {
	if err := d.Store.UpdateSubTask(ctx, sub); err != nil {
		if errors.Is(err, store.ErrRevisionConflict) {
			return services.Wrap(services.ErrTransient, stageName, "save", "concurrent sub-task update", err)
		}
		return services.Wrap(services.ErrTransient, stageName, "save", "persist sub-task", err)
	}
	return nil
}

// refreshParent folds sub-task statuses into the parent task and finalizes
// the task when every sub-task reached a terminal state.
func (d *Deps) refreshParent(ctx context.Context, taskID uuid.UUID) error {
	for attempt := 0; attempt < 3; attempt++ {
		t, err := d.Store.GetTask(ctx, taskID)
		if err != nil {
			return fmt.Errorf("reload task: %w", err)
		}
		if t.Status == task.StatusCompleted || t.Status == task.StatusFailed {
			return nil
		}

		if t.AllSubTasksTerminal() {
			return d.finalizeTask(ctx, t)
		}

		next := t.Aggregate()
		if next == t.Status {
			return nil
		}
		t.Status = next
		err = d.Store.UpdateTask(ctx, t)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrRevisionConflict) {
			return fmt.Errorf("update task status: %w", err)
		}
	}
	return fmt.Errorf("update task %s: %w", taskID, store.ErrRevisionConflict)
}

type languageResult struct {
	Status         string   `json:"status"`
	TranslatedText string   `json:"translated_text,omitempty"`
	CombinedScore  float64  `json:"combined_score,omitempty"`
	Iterations     int      `json:"iterations"`
	FinalReason    string   `json:"final_reason,omitempty"`
	Error          string   `json:"error,omitempty"`
	BatchIDs       []string `json:"batch_ids,omitempty"`
}

// finalizeTask assembles the result payload and moves the task to its
// terminal status. Partial success still completes the task; failed
// languages are annotated in the result and the error message.
func (d *Deps) finalizeTask(ctx context.Context, t *task.Task) error {
	t.Status = task.StatusFinalizing
	if err := d.Store.UpdateTask(ctx, t); err != nil {
		if errors.Is(err, store.ErrRevisionConflict) {
			// Another worker is finalizing the same task.
			return nil
		}
		return fmt.Errorf("mark finalizing: %w", err)
	}

	results := make(map[string]languageResult, len(t.SubTasks))
	for lang, sub := range t.SubTasks {
		result := languageResult{
			Status:     string(sub.Status),
			Iterations: len(sub.Iterations),
			BatchIDs:   sub.BatchIDs,
		}
		if sub.Status == task.SubTaskFinalized {
			result.TranslatedText = sub.TranslatedText
		}
		if iter := sub.CurrentIterationRecord(); iter != nil {
			result.CombinedScore = iter.CombinedScore
			result.FinalReason = string(iter.FinalReason)
		}
		if sub.ErrorMessage != "" {
			result.Error = sub.ErrorMessage
		}
		results[lang] = result
	}
	encoded, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	t.ResultJSON = string(encoded)

	failed := t.FailedLanguages()
	finalStatus := t.Aggregate()
	t.Status = finalStatus
	if len(failed) > 0 {
		t.ErrorMessage = "languages failed: " + strings.Join(failed, ", ")
	}
	if err := d.Store.UpdateTask(ctx, t); err != nil {
		return fmt.Errorf("finalize task: %w", err)
	}

	eventType := webhook.EventTaskCompleted
	if finalStatus == task.StatusFailed {
		eventType = webhook.EventTaskFailed
	}
	d.publish(eventType, t.ID.String(), "", map[string]any{
		"status":           string(finalStatus),
		"failed_languages": failed,
	})
	d.Logger.Info("task finalized",
		logging.String(logging.FieldTaskID, t.ID.String()),
		logging.String("status", string(finalStatus)),
		logging.Int("failed_languages", len(failed)))
	return nil
}

// FailSubTask marks a sub-task permanently failed. The worker pool calls it
// when a stage error is permanent or the retry budget is exhausted.
func (d *Deps) FailSubTask(ctx context.Context, msg *store.QueueMessage, cause error) error {
	taskID, err := uuid.Parse(msg.TaskID)
	if err != nil {
		return fmt.Errorf("malformed task id %q: %w", msg.TaskID, err)
	}
	sub, err := d.Store.GetSubTask(ctx, taskID, msg.Language)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load sub-task: %w", err)
	}
	if sub.Status.IsTerminal() {
		return nil
	}

	message := "stage failure"
	if cause != nil {
		message = cause.Error()
	}
	sub.Fail(message)
	if err := d.Store.UpdateSubTask(ctx, sub); err != nil {
		return fmt.Errorf("persist failed sub-task: %w", err)
	}
	metrics.SubTaskFinalized(string(task.FinalFailed))
	d.publish(webhook.EventSubTaskFailed, msg.TaskID, msg.Language, map[string]any{
		"error": message,
		"stage": string(msg.Stage),
	})
	return d.refreshParent(ctx, taskID)
}

func (d *Deps) publish(eventType, taskID, language string, data map[string]any) {
	if d.Events == nil {
		return
	}
	d.Events.Publish(webhook.NewEvent(eventType, taskID, language, data))
}

// reviewerFeedback collects human feedback from completed iterations, oldest
// first, for use in retranslation prompts.
func reviewerFeedback(sub *task.LanguageSubTask) []string {
	var feedback []string
	for _, iter := range sub.Iterations {
		if iter.Human != nil && strings.TrimSpace(iter.Human.Feedback) != "" {
			feedback = append(feedback, iter.Human.Feedback)
		}
	}
	return feedback
}
