package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RecordWebhookAttempt persists one delivery attempt for an outbound event.
func (s *Store) RecordWebhookAttempt(ctx context.Context, attempt *WebhookAttempt) error {
	if attempt == nil {
		return errors.New("attempt is nil")
	}
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO webhook_attempts (event_id, event_type, task_id, language, target_url, mode, attempt, status_code, outcome, error_message, attempted_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.EventID,
		attempt.EventType,
		attempt.TaskID,
		nullableString(attempt.Language),
		attempt.TargetURL,
		attempt.Mode,
		attempt.Attempt,
		attempt.StatusCode,
		attempt.Outcome,
		nullableString(attempt.ErrorMsg),
		formatTime(attempt.AttemptedAt),
	)
	if err != nil {
		return fmt.Errorf("record webhook attempt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("webhook attempt id: %w", err)
	}
	attempt.ID = id
	return nil
}

// WebhookAttemptsForEvent lists the recorded attempts for one event in
// delivery order.
func (s *Store) WebhookAttemptsForEvent(ctx context.Context, eventID string) ([]*WebhookAttempt, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, event_type, task_id, language, target_url, mode, attempt, status_code, outcome, error_message, attempted_at
         FROM webhook_attempts WHERE event_id = ? ORDER BY id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list webhook attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*WebhookAttempt
	for rows.Next() {
		attempt, err := scanWebhookAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

// WebhookAttemptsForTask lists every recorded attempt for a task, most recent
// first.
func (s *Store) WebhookAttemptsForTask(ctx context.Context, taskID string, limit int) ([]*WebhookAttempt, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, event_type, task_id, language, target_url, mode, attempt, status_code, outcome, error_message, attempted_at
         FROM webhook_attempts WHERE task_id = ? ORDER BY id DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook attempts for task: %w", err)
	}
	defer rows.Close()

	var attempts []*WebhookAttempt
	for rows.Next() {
		attempt, err := scanWebhookAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

func scanWebhookAttempt(scanner interface{ Scan(dest ...any) error }) (*WebhookAttempt, error) {
	var (
		attempt      WebhookAttempt
		language     sql.NullString
		statusCode   sql.NullInt64
		errorMessage sql.NullString
		attemptedRaw string
	)
	if err := scanner.Scan(
		&attempt.ID,
		&attempt.EventID,
		&attempt.EventType,
		&attempt.TaskID,
		&language,
		&attempt.TargetURL,
		&attempt.Mode,
		&attempt.Attempt,
		&statusCode,
		&attempt.Outcome,
		&errorMessage,
		&attemptedRaw,
	); err != nil {
		return nil, err
	}
	attempt.Language = language.String
	attempt.StatusCode = int(statusCode.Int64)
	attempt.ErrorMsg = errorMessage.String
	if t, err := parseTimeString(attemptedRaw); err == nil {
		attempt.AttemptedAt = t
	}
	return &attempt, nil
}
