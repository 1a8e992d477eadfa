package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"glossa/internal/task"
)

const taskColumns = "id, status, source_text, source_language, editorial_json, languages_json, max_review_iterations, confidence_threshold, study_ids_json, result_json, error_message, created_at, updated_at, revision"

const subTaskColumns = "task_id, language, status, current_iteration, max_iterations, confidence_threshold, iterations_json, translated_text, batch_ids_json, pending_events_json, error_message, created_at, updated_at, revision"

// CreateTask inserts a task and its per-language sub-tasks atomically.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	if t == nil {
		return errors.New("task is nil")
	}
	ctx = ensureContext(ctx)

	editorialJSON, err := marshalJSON(t.Editorial)
	if err != nil {
		return err
	}
	languagesJSON, err := marshalJSON(t.Languages)
	if err != nil {
		return err
	}
	studyIDsJSON, err := marshalJSON(t.StudyIDs)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin task tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	t.Revision = 1
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(),
		t.Status,
		t.SourceText,
		nullableString(t.SourceLanguage),
		editorialJSON,
		languagesJSON,
		t.MaxReviewIterations,
		t.ConfidenceThreshold,
		studyIDsJSON,
		nullableString(t.ResultJSON),
		nullableString(t.ErrorMessage),
		formatTime(t.CreatedAt),
		formatTime(t.UpdatedAt),
		t.Revision,
	); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	for _, lang := range t.Languages {
		sub := t.SubTasks[lang]
		if sub == nil {
			continue
		}
		sub.Revision = 1
		iterationsJSON, err := marshalJSON(sub.Iterations)
		if err != nil {
			return err
		}
		batchIDsJSON, err := marshalJSON(sub.BatchIDs)
		if err != nil {
			return err
		}
		pendingJSON, err := marshalJSON(sub.PendingEvents)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO language_subtasks (`+subTaskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sub.TaskID.String(),
			sub.Language,
			sub.Status,
			sub.CurrentIteration,
			sub.MaxIterations,
			sub.ConfidenceThreshold,
			iterationsJSON,
			nullableString(sub.TranslatedText),
			batchIDsJSON,
			pendingJSON,
			nullableString(sub.ErrorMessage),
			formatTime(sub.CreatedAt),
			formatTime(sub.UpdatedAt),
			sub.Revision,
		); err != nil {
			return fmt.Errorf("insert sub-task %s: %w", lang, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit task: %w", err)
	}
	return nil
}

// GetTask loads a task and all of its sub-tasks.
func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id.String())
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subTaskColumns+` FROM language_subtasks WHERE task_id = ? ORDER BY language`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query sub-tasks: %w", err)
	}
	defer rows.Close()

	t.SubTasks = make(map[string]*task.LanguageSubTask)
	for rows.Next() {
		sub, err := scanSubTask(rows)
		if err != nil {
			return nil, err
		}
		t.SubTasks[sub.Language] = sub
	}
	return t, rows.Err()
}

// GetSubTask loads one language sub-task.
func (s *Store) GetSubTask(ctx context.Context, taskID uuid.UUID, lang string) (*task.LanguageSubTask, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subTaskColumns+` FROM language_subtasks WHERE task_id = ? AND language = ?`,
		taskID.String(), lang)
	sub, err := scanSubTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sub-task: %w", err)
	}
	return sub, nil
}

// UpdateTask persists task-level fields guarded by the optimistic revision.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	if t == nil {
		return errors.New("task is nil")
	}
	studyIDsJSON, err := marshalJSON(t.StudyIDs)
	if err != nil {
		return err
	}
	t.UpdatedAt = time.Now().UTC()

	res, err := s.execWithRetry(ctx,
		`UPDATE tasks
         SET status = ?, study_ids_json = ?, result_json = ?, error_message = ?,
             updated_at = ?, revision = revision + 1
         WHERE id = ? AND revision = ?`,
		t.Status,
		studyIDsJSON,
		nullableString(t.ResultJSON),
		nullableString(t.ErrorMessage),
		formatTime(t.UpdatedAt),
		t.ID.String(),
		t.Revision,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("task %s revision %d: %w", t.ID, t.Revision, ErrRevisionConflict)
	}
	t.Revision++
	return nil
}

// UpdateSubTask persists a sub-task guarded by its optimistic revision.
func (s *Store) UpdateSubTask(ctx context.Context, sub *task.LanguageSubTask) error {
	if sub == nil {
		return errors.New("sub-task is nil")
	}
	iterationsJSON, err := marshalJSON(sub.Iterations)
	if err != nil {
		return err
	}
	batchIDsJSON, err := marshalJSON(sub.BatchIDs)
	if err != nil {
		return err
	}
	pendingJSON, err := marshalJSON(sub.PendingEvents)
	if err != nil {
		return err
	}
	sub.UpdatedAt = time.Now().UTC()

	res, err := s.execWithRetry(ctx,
		`UPDATE language_subtasks
         SET status = ?, current_iteration = ?, iterations_json = ?, translated_text = ?,
             batch_ids_json = ?, pending_events_json = ?, error_message = ?,
             updated_at = ?, revision = revision + 1
         WHERE task_id = ? AND language = ? AND revision = ?`,
		sub.Status,
		sub.CurrentIteration,
		iterationsJSON,
		nullableString(sub.TranslatedText),
		batchIDsJSON,
		pendingJSON,
		nullableString(sub.ErrorMessage),
		formatTime(sub.UpdatedAt),
		sub.TaskID.String(),
		sub.Language,
		sub.Revision,
	)
	if err != nil {
		return fmt.Errorf("update sub-task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sub-task rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("sub-task %s/%s revision %d: %w", sub.TaskID, sub.Language, sub.Revision, ErrRevisionConflict)
	}
	sub.Revision++
	return nil
}

// ListTasks returns tasks filtered by status (or all tasks when no status is
// provided), newest first.
func (s *Store) ListTasks(ctx context.Context, statuses ...task.Status) ([]*task.Task, error) {
	ctx = ensureContext(ctx)
	var (
		rows *sql.Rows
		err  error
	)
	baseQuery := `SELECT ` + taskColumns + ` FROM tasks`
	orderClause := ` ORDER BY created_at DESC`
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SubTasksByStatus returns sub-tasks in a given status ordered by last update.
func (s *Store) SubTasksByStatus(ctx context.Context, status task.SubTaskStatus) ([]*task.LanguageSubTask, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subTaskColumns+` FROM language_subtasks WHERE status = ? ORDER BY updated_at`, status)
	if err != nil {
		return nil, fmt.Errorf("query sub-tasks by status: %w", err)
	}
	defer rows.Close()

	var subs []*task.LanguageSubTask
	for rows.Next() {
		sub, err := scanSubTask(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// DeleteTask removes a task, its sub-tasks, and any queued work for it.
func (s *Store) DeleteTask(ctx context.Context, id uuid.UUID) error {
	ctx = ensureContext(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM work_queue WHERE task_id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete queued work: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// TaskStats returns a count of tasks grouped by status.
func (s *Store) TaskStats(ctx context.Context) (map[task.Status]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[task.Status]int)
	for rows.Next() {
		var status task.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func scanTask(scanner interface{ Scan(dest ...any) error }) (*task.Task, error) {
	var (
		idStr         string
		statusStr     string
		sourceText    string
		sourceLang    sql.NullString
		editorialRaw  sql.NullString
		languagesRaw  sql.NullString
		maxIterations int
		threshold     float64
		studyIDsRaw   sql.NullString
		resultRaw     sql.NullString
		errorMessage  sql.NullString
		createdRaw    string
		updatedRaw    string
		revision      int64
	)
	if err := scanner.Scan(
		&idStr,
		&statusStr,
		&sourceText,
		&sourceLang,
		&editorialRaw,
		&languagesRaw,
		&maxIterations,
		&threshold,
		&studyIDsRaw,
		&resultRaw,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&revision,
	); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse task id %q: %w", idStr, err)
	}
	t := &task.Task{
		ID:                  id,
		Status:              task.Status(statusStr),
		SourceText:          sourceText,
		SourceLanguage:      sourceLang.String,
		MaxReviewIterations: maxIterations,
		ConfidenceThreshold: threshold,
		ResultJSON:          resultRaw.String,
		ErrorMessage:        errorMessage.String,
		Revision:            revision,
	}
	if err := unmarshalJSON(editorialRaw, &t.Editorial); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(languagesRaw, &t.Languages); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(studyIDsRaw, &t.StudyIDs); err != nil {
		return nil, err
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		t.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		t.UpdatedAt = updated
	}
	return t, nil
}

func scanSubTask(scanner interface{ Scan(dest ...any) error }) (*task.LanguageSubTask, error) {
	var (
		taskIDStr     string
		lang          string
		statusStr     string
		currentIter   int
		maxIterations int
		threshold     float64
		iterationsRaw sql.NullString
		translated    sql.NullString
		batchIDsRaw   sql.NullString
		pendingRaw    sql.NullString
		errorMessage  sql.NullString
		createdRaw    string
		updatedRaw    string
		revision      int64
	)
	if err := scanner.Scan(
		&taskIDStr,
		&lang,
		&statusStr,
		&currentIter,
		&maxIterations,
		&threshold,
		&iterationsRaw,
		&translated,
		&batchIDsRaw,
		&pendingRaw,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&revision,
	); err != nil {
		return nil, err
	}

	taskID, err := uuid.Parse(taskIDStr)
	if err != nil {
		return nil, fmt.Errorf("parse sub-task task id %q: %w", taskIDStr, err)
	}
	sub := &task.LanguageSubTask{
		TaskID:              taskID,
		Language:            lang,
		Status:              task.SubTaskStatus(statusStr),
		CurrentIteration:    currentIter,
		MaxIterations:       maxIterations,
		ConfidenceThreshold: threshold,
		TranslatedText:      translated.String,
		ErrorMessage:        errorMessage.String,
		Revision:            revision,
	}
	if err := unmarshalJSON(iterationsRaw, &sub.Iterations); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(batchIDsRaw, &sub.BatchIDs); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(pendingRaw, &sub.PendingEvents); err != nil {
		return nil, err
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		sub.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		sub.UpdatedAt = updated
	}
	return sub, nil
}
