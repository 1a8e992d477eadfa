package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const queueColumns = "id, task_id, language, stage, attempt, available_at, claimed_by, claim_expires_at, last_error, enqueued_at, updated_at"

// Enqueue adds a work message that becomes deliverable after the given delay.
// A zero delay makes it deliverable immediately.
func (s *Store) Enqueue(ctx context.Context, taskID, language string, stage Stage, delay time.Duration) (int64, error) {
	if !ValidStage(stage) {
		return 0, fmt.Errorf("invalid stage %q", stage)
	}
	now := time.Now().UTC()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO work_queue (task_id, language, stage, attempt, available_at, enqueued_at, updated_at)
         VALUES (?, ?, ?, 0, ?, ?, ?)`,
		taskID,
		language,
		stage,
		formatTime(now.Add(delay)),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue last insert id: %w", err)
	}
	return id, nil
}

// Claim leases up to limit deliverable messages for a consumer. Claimed
// messages stay invisible to other consumers until acked, retried, or the
// lease expires.
func (s *Store) Claim(ctx context.Context, consumerID string, limit int, leaseDuration time.Duration) ([]*QueueMessage, error) {
	if consumerID == "" {
		return nil, errors.New("consumer id is required")
	}
	if limit <= 0 {
		return nil, nil
	}
	ctx = ensureContext(ctx)
	now := time.Now().UTC()

	var claimed []*QueueMessage
	err := retryOnBusy(ctx, func() error {
		claimed = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin claim tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM work_queue
             WHERE claimed_by IS NULL AND available_at <= ?
             ORDER BY id LIMIT ?`,
			formatTime(now), limit)
		if err != nil {
			return fmt.Errorf("select claimable: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return tx.Commit()
		}

		expires := formatTime(now.Add(leaseDuration))
		args := make([]any, 0, len(ids)+3)
		args = append(args, consumerID, expires, formatTime(now))
		for _, id := range ids {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE work_queue SET claimed_by = ?, claim_expires_at = ?, updated_at = ?
             WHERE id IN (`+makePlaceholders(len(ids))+`) AND claimed_by IS NULL`,
			args...); err != nil {
			return fmt.Errorf("mark claimed: %w", err)
		}

		idArgs := make([]any, len(ids))
		for i, id := range ids {
			idArgs[i] = id
		}
		claimRows, err := tx.QueryContext(ctx,
			`SELECT `+queueColumns+` FROM work_queue
             WHERE id IN (`+makePlaceholders(len(ids))+`) AND claimed_by = ?`,
			append(idArgs, consumerID)...)
		if err != nil {
			return fmt.Errorf("select claimed: %w", err)
		}
		defer claimRows.Close()
		for claimRows.Next() {
			msg, err := scanQueueMessage(claimRows)
			if err != nil {
				return err
			}
			claimed = append(claimed, msg)
		}
		if err := claimRows.Err(); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Ack removes a successfully processed message. It fails with ErrClaimLost if
// the consumer no longer holds the claim.
func (s *Store) Ack(ctx context.Context, messageID int64, consumerID string) error {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM work_queue WHERE id = ? AND claimed_by = ?`, messageID, consumerID)
	if err != nil {
		return fmt.Errorf("ack message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ack rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("message %d consumer %s: %w", messageID, consumerID, ErrClaimLost)
	}
	return nil
}

// Retry releases a claimed message back to the queue after a failure. The
// next delivery waits for the given delay. When the retry budget is spent the
// message moves to the dead-letter table instead and the returned flag is
// true.
func (s *Store) Retry(ctx context.Context, msg *QueueMessage, consumerID, cause string, delay time.Duration, maxRetries int) (deadLettered bool, err error) {
	if msg == nil {
		return false, errors.New("message is nil")
	}
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	nextAttempt := msg.Attempt + 1

	if nextAttempt > maxRetries {
		err = retryOnBusy(ctx, func() error {
			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("begin dead-letter tx: %w", err)
			}
			defer func() { _ = tx.Rollback() }()

			res, err := tx.ExecContext(ctx,
				`DELETE FROM work_queue WHERE id = ? AND claimed_by = ?`, msg.ID, consumerID)
			if err != nil {
				return fmt.Errorf("remove exhausted message: %w", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 0 {
				return fmt.Errorf("message %d consumer %s: %w", msg.ID, consumerID, ErrClaimLost)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO dead_letters (task_id, language, stage, attempts, last_error, enqueued_at, failed_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				msg.TaskID, msg.Language, msg.Stage, nextAttempt,
				nullableString(cause), formatTime(msg.EnqueuedAt), formatTime(now)); err != nil {
				return fmt.Errorf("insert dead letter: %w", err)
			}
			return tx.Commit()
		})
		if err != nil {
			return false, err
		}
		return true, nil
	}

	res, err := s.execWithRetry(ctx,
		`UPDATE work_queue
         SET attempt = ?, available_at = ?, claimed_by = NULL, claim_expires_at = NULL,
             last_error = ?, updated_at = ?
         WHERE id = ? AND claimed_by = ?`,
		nextAttempt,
		formatTime(now.Add(delay)),
		nullableString(cause),
		formatTime(now),
		msg.ID,
		consumerID,
	)
	if err != nil {
		return false, fmt.Errorf("retry message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, fmt.Errorf("message %d consumer %s: %w", msg.ID, consumerID, ErrClaimLost)
	}
	msg.Attempt = nextAttempt
	return false, nil
}

// ReclaimExpired releases claims whose lease lapsed so the messages become
// deliverable again. Returns the number of reclaimed messages.
func (s *Store) ReclaimExpired(ctx context.Context) (int64, error) {
	now := formatTime(time.Now().UTC())
	res, err := s.execWithRetry(ctx,
		`UPDATE work_queue
         SET claimed_by = NULL, claim_expires_at = NULL, updated_at = ?
         WHERE claimed_by IS NOT NULL AND claim_expires_at < ?`,
		now, now)
	if err != nil {
		return 0, fmt.Errorf("reclaim expired: %w", err)
	}
	return res.RowsAffected()
}

// QueueDepths returns the count of queued messages per stage.
func (s *Store) QueueDepths(ctx context.Context) (map[Stage]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT stage, COUNT(1) FROM work_queue GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("queue depths: %w", err)
	}
	defer rows.Close()

	depths := make(map[Stage]int)
	for rows.Next() {
		var stage Stage
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		depths[stage] = count
	}
	return depths, rows.Err()
}

// DeadLetters lists dead-lettered messages, most recent first.
func (s *Store) DeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, language, stage, attempts, last_error, enqueued_at, failed_at
         FROM dead_letters ORDER BY failed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []*DeadLetter
	for rows.Next() {
		var (
			dl          DeadLetter
			lastError   sql.NullString
			enqueuedRaw string
			failedRaw   string
		)
		if err := rows.Scan(&dl.ID, &dl.TaskID, &dl.Language, &dl.Stage, &dl.Attempts, &lastError, &enqueuedRaw, &failedRaw); err != nil {
			return nil, err
		}
		dl.LastError = lastError.String
		if t, err := parseTimeString(enqueuedRaw); err == nil {
			dl.EnqueuedAt = t
		}
		if t, err := parseTimeString(failedRaw); err == nil {
			dl.FailedAt = t
		}
		letters = append(letters, &dl)
	}
	return letters, rows.Err()
}

// RequeueDeadLetter moves a dead-lettered message back onto the queue with a
// fresh retry budget.
func (s *Store) RequeueDeadLetter(ctx context.Context, id int64) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin requeue tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var (
			taskID, language string
			stage            Stage
		)
		row := tx.QueryRowContext(ctx,
			`SELECT task_id, language, stage FROM dead_letters WHERE id = ?`, id)
		if err := row.Scan(&taskID, &language, &stage); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("load dead letter: %w", err)
		}

		now := formatTime(time.Now().UTC())
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO work_queue (task_id, language, stage, attempt, available_at, enqueued_at, updated_at)
             VALUES (?, ?, ?, 0, ?, ?, ?)`,
			taskID, language, stage, now, now, now); err != nil {
			return fmt.Errorf("requeue message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
			return fmt.Errorf("remove dead letter: %w", err)
		}
		return tx.Commit()
	})
}

func scanQueueMessage(scanner interface{ Scan(dest ...any) error }) (*QueueMessage, error) {
	var (
		msg          QueueMessage
		stageStr     string
		availableRaw string
		claimedBy    sql.NullString
		expiresRaw   sql.NullString
		lastError    sql.NullString
		enqueuedRaw  string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&msg.ID,
		&msg.TaskID,
		&msg.Language,
		&stageStr,
		&msg.Attempt,
		&availableRaw,
		&claimedBy,
		&expiresRaw,
		&lastError,
		&enqueuedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	msg.Stage = Stage(stageStr)
	msg.ClaimedBy = claimedBy.String
	msg.LastError = lastError.String
	if t, err := parseTimeString(availableRaw); err == nil {
		msg.AvailableAt = t
	}
	if expiresRaw.Valid {
		if t, err := parseTimeString(expiresRaw.String); err == nil {
			msg.ClaimExpiresAt = &t
		}
	}
	if t, err := parseTimeString(enqueuedRaw); err == nil {
		msg.EnqueuedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		msg.UpdatedAt = t
	}
	return &msg, nil
}
