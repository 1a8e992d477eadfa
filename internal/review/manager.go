// Package review batches sub-tasks awaiting human review into crowd studies
// and feeds reviewer verdicts back into the pipeline.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"glossa/internal/config"
	"glossa/internal/logging"
	"glossa/internal/metrics"
	"glossa/internal/services/crowd"
	"glossa/internal/store"
	"glossa/internal/task"
	"glossa/internal/webhook"
)

// Studies is the crowd-review surface the manager drives.
type Studies interface {
	Enabled() bool
	CreateStudy(ctx context.Context, req crowd.CreateStudyRequest) (string, error)
	PublishStudy(ctx context.Context, studyID string) error
}

// EventPublisher receives outbound pipeline events.
type EventPublisher interface {
	Publish(event webhook.Event)
}

// MemberResult carries one reviewer verdict for a batch member.
type MemberResult struct {
	TaskID      string   `json:"task_id"`
	Language    string   `json:"language"`
	Score       float64  `json:"score"`
	Feedback    string   `json:"feedback,omitempty"`
	ReviewerIDs []string `json:"reviewer_ids,omitempty"`
}

// Manager sweeps review-ready sub-tasks into batches, one crowd study per
// batch. Sub-tasks only share a batch when they target the same language and
// carry identical editorial context, so one study presents reviewers a
// uniform set of instructions.
type Manager struct {
	store   *store.Store
	studies Studies
	events  EventPublisher
	sweep   time.Duration
	logger  *slog.Logger
}

// NewManager constructs a review batch manager.
func NewManager(st *store.Store, studies Studies, events EventPublisher, cfg *config.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	sweep := time.Duration(cfg.CrowdReview.SweepInterval) * time.Second
	if sweep <= 0 {
		sweep = 30 * time.Second
	}
	return &Manager{
		store:   st,
		studies: studies,
		events:  events,
		sweep:   sweep,
		logger:  logger.With(logging.String(logging.FieldComponent, "review")),
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("review sweep", logging.Error(err))
			}
		}
	}
}

type batchKey struct {
	language    string
	fingerprint string
	iteration   int
}

// Sweep groups review-ready sub-tasks into batches and submits any batch
// that does not have a study yet. Batches whose earlier study submission
// failed are retried here as well.
func (m *Manager) Sweep(ctx context.Context) error {
	ready, err := m.store.SubTasksByStatus(ctx, task.SubTaskReviewReady)
	if err != nil {
		return fmt.Errorf("list review-ready sub-tasks: %w", err)
	}

	groups := make(map[batchKey][]*task.LanguageSubTask)
	tasks := make(map[uuid.UUID]*task.Task)
	for _, sub := range ready {
		parent, err := m.parentTask(ctx, tasks, sub.TaskID)
		if err != nil {
			m.logger.Warn("skip sub-task with unloadable parent",
				logging.String(logging.FieldTaskID, sub.TaskID.String()),
				logging.Error(err))
			continue
		}
		key := batchKey{
			language:    sub.Language,
			fingerprint: parent.Editorial.Fingerprint(),
			iteration:   sub.CurrentIteration,
		}
		groups[key] = append(groups[key], sub)
	}

	for key, members := range groups {
		if err := m.createBatch(ctx, key, members); err != nil {
			m.logger.Error("create review batch", logging.Error(err),
				logging.String(logging.FieldLanguage, key.language))
		}
	}

	return m.submitOpenBatches(ctx, tasks)
}

func (m *Manager) parentTask(ctx context.Context, cache map[uuid.UUID]*task.Task, id uuid.UUID) (*task.Task, error) {
	if parent, ok := cache[id]; ok {
		return parent, nil
	}
	parent, err := m.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	cache[id] = parent
	return parent, nil
}

// createBatch persists the batch and moves each member to review_queued.
// Members whose revision moved underneath us are dropped from the batch and
// picked up by a later sweep.
func (m *Manager) createBatch(ctx context.Context, key batchKey, members []*task.LanguageSubTask) error {
	batch := &store.ReviewBatch{
		ID:          uuid.NewString(),
		Language:    key.language,
		Fingerprint: key.fingerprint,
		Iteration:   key.iteration,
		Status:      store.BatchOpen,
	}

	queued := make([]store.BatchMember, 0, len(members))
	for _, sub := range members {
		if err := sub.QueueForReview(batch.ID); err != nil {
			continue
		}
		if err := m.store.UpdateSubTask(ctx, sub); err != nil {
			m.logger.Debug("sub-task changed during batching, deferring",
				logging.String(logging.FieldTaskID, sub.TaskID.String()),
				logging.String(logging.FieldLanguage, sub.Language))
			continue
		}
		queued = append(queued, store.BatchMember{
			TaskID:    sub.TaskID.String(),
			Language:  sub.Language,
			Iteration: sub.CurrentIteration,
		})
		m.publish(webhook.NewEvent(webhook.EventReviewQueued, sub.TaskID.String(), sub.Language, map[string]any{
			"batch_id":  batch.ID,
			"iteration": sub.CurrentIteration,
		}))
	}
	if len(queued) == 0 {
		return nil
	}

	batch.Members = queued
	if err := m.store.CreateBatch(ctx, batch); err != nil {
		return fmt.Errorf("persist batch %s: %w", batch.ID, err)
	}
	metrics.ReviewBatchCreated()
	m.publish(webhook.NewEvent(webhook.EventReviewBatchCreated, "", batch.Language, map[string]any{
		"batch_id":  batch.ID,
		"iteration": batch.Iteration,
		"members":   len(queued),
	}))
	m.logger.Info("review batch created",
		logging.String(logging.FieldBatchID, batch.ID),
		logging.String(logging.FieldLanguage, batch.Language),
		logging.Int("members", len(queued)))
	return nil
}

func (m *Manager) submitOpenBatches(ctx context.Context, tasks map[uuid.UUID]*task.Task) error {
	if m.studies == nil || !m.studies.Enabled() {
		return nil
	}
	open, err := m.store.BatchesByStatus(ctx, store.BatchOpen)
	if err != nil {
		return fmt.Errorf("list open batches: %w", err)
	}
	for _, batch := range open {
		if err := m.submitStudy(ctx, batch, tasks); err != nil {
			m.logger.Error("submit crowd study", logging.Error(err),
				logging.String(logging.FieldBatchID, batch.ID))
			if updateErr := m.store.UpdateBatchStatus(ctx, batch.ID, store.BatchOpen, "", err.Error()); updateErr != nil {
				m.logger.Error("record batch error", logging.Error(updateErr))
			}
		}
	}
	return nil
}

func (m *Manager) submitStudy(ctx context.Context, batch *store.ReviewBatch, tasks map[uuid.UUID]*task.Task) error {
	items := make([]crowd.StudyItem, 0, len(batch.Members))
	var instructions string
	for _, member := range batch.Members {
		taskID, err := uuid.Parse(member.TaskID)
		if err != nil {
			return fmt.Errorf("member task id %q: %w", member.TaskID, err)
		}
		parent, err := m.parentTask(ctx, tasks, taskID)
		if err != nil {
			return fmt.Errorf("load task %s: %w", member.TaskID, err)
		}
		sub, err := m.store.GetSubTask(ctx, taskID, member.Language)
		if err != nil {
			return fmt.Errorf("load sub-task %s/%s: %w", member.TaskID, member.Language, err)
		}
		if instructions == "" {
			instructions = reviewInstructions(parent.Editorial, batch.Language)
		}
		items = append(items, crowd.StudyItem{
			ReferenceID:    memberReference(member),
			SourceText:     parent.SourceText,
			TranslatedText: sub.TranslatedText,
			Language:       batch.Language,
			Instructions:   instructions,
		})
	}
	if len(items) == 0 {
		return fmt.Errorf("batch %s has no members", batch.ID)
	}

	studyID, err := m.studies.CreateStudy(ctx, crowd.CreateStudyRequest{
		Name:        fmt.Sprintf("Translation review %s (%s)", batch.Language, batch.ID[:8]),
		Description: instructions,
		Items:       items,
	})
	if err != nil {
		return fmt.Errorf("create study: %w", err)
	}
	if err := m.store.UpdateBatchStatus(ctx, batch.ID, store.BatchStudyCreated, studyID, ""); err != nil {
		return fmt.Errorf("record study id: %w", err)
	}
	batch.StudyID = studyID
	m.publish(webhook.NewEvent(webhook.EventReviewStudyCreated, "", batch.Language, map[string]any{
		"batch_id": batch.ID,
		"study_id": studyID,
	}))

	if err := m.studies.PublishStudy(ctx, studyID); err != nil {
		return fmt.Errorf("publish study %s: %w", studyID, err)
	}
	return m.MarkPublished(ctx, studyID)
}

// MarkPublished transitions the batch to published and every member to
// review_active. Also invoked by the API callback when the crowd platform
// reports a study going live.
func (m *Manager) MarkPublished(ctx context.Context, studyID string) error {
	batch, err := m.store.BatchByStudyID(ctx, studyID)
	if err != nil {
		return fmt.Errorf("batch for study %s: %w", studyID, err)
	}
	for _, member := range batch.Members {
		sub, parent, err := m.memberSubTask(ctx, member)
		if err != nil {
			m.logger.Warn("skip unloadable batch member", logging.Error(err))
			continue
		}
		if err := sub.ActivateReview(); err != nil {
			continue
		}
		if err := m.store.UpdateSubTask(ctx, sub); err != nil {
			m.logger.Error("activate review", logging.Error(err),
				logging.String(logging.FieldTaskID, member.TaskID))
			continue
		}
		m.recordStudyID(ctx, parent, member.Language, studyID)
		m.refreshParent(ctx, sub.TaskID)
	}
	if err := m.store.UpdateBatchStatus(ctx, batch.ID, store.BatchPublished, "", ""); err != nil {
		return fmt.Errorf("mark batch published: %w", err)
	}
	m.logger.Info("review batch published",
		logging.String(logging.FieldBatchID, batch.ID),
		logging.String("study_id", studyID))
	return nil
}

// RecordResults applies reviewer verdicts for a completed study: each member
// absorbs its human review and re-enters the pipeline at re-verification.
func (m *Manager) RecordResults(ctx context.Context, studyID string, results []MemberResult) error {
	batch, err := m.store.BatchByStudyID(ctx, studyID)
	if err != nil {
		return fmt.Errorf("batch for study %s: %w", studyID, err)
	}

	byMember := make(map[string]MemberResult, len(results))
	for _, result := range results {
		byMember[result.TaskID+"/"+result.Language] = result
	}

	var missing []string
	for _, member := range batch.Members {
		result, ok := byMember[member.TaskID+"/"+member.Language]
		if !ok {
			missing = append(missing, memberReference(member))
			continue
		}
		sub, _, err := m.memberSubTask(ctx, member)
		if err != nil {
			return fmt.Errorf("load batch member: %w", err)
		}
		err = sub.CompleteHumanReview(task.HumanReview{
			StudyID:     studyID,
			Score:       result.Score,
			Feedback:    result.Feedback,
			ReviewerIDs: result.ReviewerIDs,
			ReviewedAt:  time.Now().UTC(),
		})
		if err != nil {
			m.logger.Debug("member not awaiting review, skipping verdict",
				logging.String(logging.FieldTaskID, member.TaskID),
				logging.String(logging.FieldLanguage, member.Language))
			continue
		}
		if err := m.store.UpdateSubTask(ctx, sub); err != nil {
			return fmt.Errorf("record human review: %w", err)
		}
		if _, err := m.store.Enqueue(ctx, member.TaskID, member.Language, store.StageReview, 0); err != nil {
			return fmt.Errorf("enqueue re-verification: %w", err)
		}
	}
	if len(missing) > 0 {
		m.logger.Warn("study results missing members",
			logging.String("study_id", studyID),
			logging.String("members", strings.Join(missing, ", ")))
	}

	if err := m.store.UpdateBatchStatus(ctx, batch.ID, store.BatchCompleted, "", ""); err != nil {
		return fmt.Errorf("mark batch completed: %w", err)
	}
	m.logger.Info("review batch completed",
		logging.String(logging.FieldBatchID, batch.ID),
		logging.Int("verdicts", len(results)))
	return nil
}

func (m *Manager) memberSubTask(ctx context.Context, member store.BatchMember) (*task.LanguageSubTask, *task.Task, error) {
	taskID, err := uuid.Parse(member.TaskID)
	if err != nil {
		return nil, nil, fmt.Errorf("member task id %q: %w", member.TaskID, err)
	}
	parent, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	sub, ok := parent.SubTasks[member.Language]
	if !ok {
		return nil, nil, fmt.Errorf("task %s has no sub-task for %s", member.TaskID, member.Language)
	}
	return sub, parent, nil
}

func (m *Manager) recordStudyID(ctx context.Context, parent *task.Task, language, studyID string) {
	if parent.StudyIDs == nil {
		parent.StudyIDs = make(map[string]string)
	}
	if parent.StudyIDs[language] == studyID {
		return
	}
	parent.StudyIDs[language] = studyID
	if err := m.store.UpdateTask(ctx, parent); err != nil {
		m.logger.Warn("record study id on task", logging.Error(err),
			logging.String(logging.FieldTaskID, parent.ID.String()))
	}
}

// refreshParent moves the parent task's aggregate status when the member
// update changed it. Conflicts are tolerated; stage workers converge the
// status on their own updates.
func (m *Manager) refreshParent(ctx context.Context, taskID uuid.UUID) {
	parent, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return
	}
	next := parent.Aggregate()
	if next == parent.Status || parent.Status == task.StatusCompleted || parent.Status == task.StatusFailed {
		return
	}
	parent.Status = next
	if err := m.store.UpdateTask(ctx, parent); err != nil {
		m.logger.Debug("aggregate refresh conflict", logging.Error(err),
			logging.String(logging.FieldTaskID, taskID.String()))
	}
}

func (m *Manager) publish(event webhook.Event) {
	if m.events != nil {
		m.events.Publish(event)
	}
}

func memberReference(member store.BatchMember) string {
	return fmt.Sprintf("%s:%s:%d", member.TaskID, member.Language, member.Iteration)
}

func reviewInstructions(editorial task.EditorialContext, language string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rate the %s translation for accuracy and fluency on a 1-5 scale.", language)
	if editorial.Tone != "" {
		fmt.Fprintf(&b, " Expected tone: %s.", editorial.Tone)
	}
	if editorial.Audience != "" {
		fmt.Fprintf(&b, " Intended audience: %s.", editorial.Audience)
	}
	if editorial.Style != "" {
		fmt.Fprintf(&b, " Style: %s.", editorial.Style)
	}
	return b.String()
}
