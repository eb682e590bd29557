package store

import (
	"github.com/vmihailenco/msgpack/v5"

	apperrors "github.com/backline-app/backline/internal/errors"
	"github.com/backline-app/backline/internal/models"
)

// Queue persistence. Pending changes are kept in insertion order (the seq
// column) so a restarted process flushes oldest-first. Payloads are stored as
// msgpack blobs.

// SavePendingChange inserts or refreshes one pending change row.
func (s *Store) SavePendingChange(change *models.PendingChange) error {
	payload, err := msgpack.Marshal(change.Payload)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRecordInvalid, "payload not encodable", err)
	}

	query := `
	INSERT INTO pending_changes (id, record_type, operation, payload, enqueued_at, attempt_count)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (id)
	DO UPDATE SET attempt_count = excluded.attempt_count`
	_, err = s.db.Exec(query, string(change.ID), string(change.RecordType),
		string(change.Operation), payload, change.EnqueuedAt, change.AttemptCount)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "pending change save failed", err)
	}
	return nil
}

// DeletePendingChange removes a confirmed or dead-lettered change.
func (s *Store) DeletePendingChange(id models.UUID) error {
	if _, err := s.db.Exec(`DELETE FROM pending_changes WHERE id = ?`, string(id)); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "pending change delete failed", err)
	}
	return nil
}

// LoadPendingChanges returns every persisted pending change in FIFO order.
func (s *Store) LoadPendingChanges() ([]*models.PendingChange, error) {
	rows, err := s.db.Query(`
	SELECT id, record_type, operation, payload, enqueued_at, attempt_count
	FROM pending_changes ORDER BY seq ASC`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "pending change load failed", err)
	}
	defer rows.Close()

	var out []*models.PendingChange
	for rows.Next() {
		var change models.PendingChange
		var payload []byte
		if err := rows.Scan(&change.ID, &change.RecordType, &change.Operation,
			&payload, &change.EnqueuedAt, &change.AttemptCount); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "pending change scan failed", err)
		}
		if err := msgpack.Unmarshal(payload, &change.Payload); err != nil {
			// An undecodable payload would fail every push; skip rather
			// than wedge the queue.
			continue
		}
		out = append(out, &change)
	}
	return out, rows.Err()
}

// InsertDeadLetter archives an exhausted or rejected change and removes it
// from the active queue in one transaction.
func (s *Store) InsertDeadLetter(letter *models.DeadLetter) error {
	payload, err := msgpack.Marshal(letter.Payload)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRecordInvalid, "payload not encodable", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "begin failed", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec(`
	INSERT OR REPLACE INTO dead_letters (id, record_type, operation, payload, reason, attempt_count, failed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(letter.ID), string(letter.RecordType), string(letter.Operation),
		payload, letter.Reason, letter.AttemptCount, letter.FailedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "dead letter insert failed", err)
	}
	if _, err := tx.Exec(`DELETE FROM pending_changes WHERE id = ?`, string(letter.ID)); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "pending change delete failed", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "commit failed", err)
	}
	committed = true
	return nil
}

// ListDeadLetters returns archived changes, newest first.
func (s *Store) ListDeadLetters() ([]*models.DeadLetter, error) {
	rows, err := s.db.Query(`
	SELECT id, record_type, operation, payload, reason, attempt_count, failed_at
	FROM dead_letters ORDER BY failed_at DESC`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "dead letter load failed", err)
	}
	defer rows.Close()

	var out []*models.DeadLetter
	for rows.Next() {
		var letter models.DeadLetter
		var payload []byte
		if err := rows.Scan(&letter.ID, &letter.RecordType, &letter.Operation,
			&payload, &letter.Reason, &letter.AttemptCount, &letter.FailedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "dead letter scan failed", err)
		}
		if err := msgpack.Unmarshal(payload, &letter.Payload); err != nil {
			letter.Payload = nil
		}
		out = append(out, &letter)
	}
	return out, rows.Err()
}
