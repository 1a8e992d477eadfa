package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const batchColumns = "id, language, fingerprint, iteration, status, study_id, members_json, error_message, created_at, updated_at"

// CreateBatch inserts a new review batch.
func (s *Store) CreateBatch(ctx context.Context, batch *ReviewBatch) error {
	if batch == nil {
		return errors.New("batch is nil")
	}
	if batch.ID == "" {
		return errors.New("batch id is required")
	}
	now := time.Now().UTC()
	batch.CreatedAt = now
	batch.UpdatedAt = now
	if batch.Status == "" {
		batch.Status = BatchOpen
	}
	membersJSON, err := marshalJSON(batch.Members)
	if err != nil {
		return err
	}
	if err := s.execWithoutResultRetry(ctx,
		`INSERT INTO review_batches (`+batchColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.ID,
		batch.Language,
		batch.Fingerprint,
		batch.Iteration,
		batch.Status,
		nullableString(batch.StudyID),
		membersJSON,
		nullableString(batch.ErrorMsg),
		formatTime(batch.CreatedAt),
		formatTime(batch.UpdatedAt),
	); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// GetBatch loads a review batch by identifier.
func (s *Store) GetBatch(ctx context.Context, id string) (*ReviewBatch, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM review_batches WHERE id = ?`, id)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return batch, nil
}

// BatchByStudyID finds the batch backing a crowd-review study.
func (s *Store) BatchByStudyID(ctx context.Context, studyID string) (*ReviewBatch, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM review_batches WHERE study_id = ? ORDER BY created_at LIMIT 1`, studyID)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("batch by study: %w", err)
	}
	return batch, nil
}

// UpdateBatchStatus advances a batch's lifecycle state. The study identifier
// and error message are updated when non-empty.
func (s *Store) UpdateBatchStatus(ctx context.Context, id string, status BatchStatus, studyID, errorMsg string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE review_batches
         SET status = ?,
             study_id = COALESCE(?, study_id),
             error_message = COALESCE(?, error_message),
             updated_at = ?
         WHERE id = ?`,
		status,
		nullableString(studyID),
		nullableString(errorMsg),
		formatTime(time.Now().UTC()),
		id,
	)
	if err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// BatchesByStatus lists batches in a lifecycle state ordered by creation.
func (s *Store) BatchesByStatus(ctx context.Context, status BatchStatus) ([]*ReviewBatch, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM review_batches WHERE status = ? ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*ReviewBatch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

func scanBatch(scanner interface{ Scan(dest ...any) error }) (*ReviewBatch, error) {
	var (
		batch        ReviewBatch
		statusStr    string
		studyID      sql.NullString
		membersRaw   sql.NullString
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&batch.ID,
		&batch.Language,
		&batch.Fingerprint,
		&batch.Iteration,
		&statusStr,
		&studyID,
		&membersRaw,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	batch.Status = BatchStatus(statusStr)
	batch.StudyID = studyID.String
	batch.ErrorMsg = errorMessage.String
	if err := unmarshalJSON(membersRaw, &batch.Members); err != nil {
		return nil, err
	}
	if t, err := parseTimeString(createdRaw); err == nil {
		batch.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		batch.UpdatedAt = t
	}
	return &batch, nil
}
