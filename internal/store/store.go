// Package store provides the local embedded store the sync engine reads and
// writes: canonical records plus the durable outbound queue tables.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	apperrors "github.com/backline-app/backline/internal/errors"
	"github.com/backline-app/backline/internal/models"
)

// Store provides keyed get/put/delete/query over canonical records.
// Records are stored as JSON with version and band indexed alongside, so the
// sync engine can enforce last-write-wins without decoding full payloads.
type Store struct {
	db *sql.DB

	// Prepared statement cache; statements are prepared on first use.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewStore creates a new Store instance.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (s *Store) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (s *Store) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// Get retrieves a record by type and ID. Returns a RECORD_NOT_FOUND error
// when no row exists.
func (s *Store) Get(t models.RecordType, id models.UUID) (models.Record, error) {
	stmt, err := s.PrepareStmt(`SELECT data FROM records WHERE record_type = ? AND id = ?`)
	if err != nil {
		return nil, err
	}

	var data string
	err = stmt.QueryRow(string(t), string(id)).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrRecordNotFound,
			fmt.Sprintf("%s %s not found", t, id))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "get failed", err)
	}

	rec := models.NewRecord(t)
	if rec == nil {
		return nil, apperrors.New(apperrors.ErrUnknownTable, fmt.Sprintf("unknown record type %q", t))
	}
	if err := json.Unmarshal([]byte(data), rec); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRecordInvalid, "stored record is not valid JSON", err)
	}
	return rec, nil
}

// Put upserts a record keyed by its ID.
func (s *Store) Put(t models.RecordType, rec models.Record) error {
	return s.putTx(nil, t, rec)
}

func (s *Store) putTx(tx *sql.Tx, t models.RecordType, rec models.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRecordInvalid, "record not serializable", err)
	}

	query := `
	INSERT INTO records (record_type, id, band_id, version, updated_at, data)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (record_type, id)
	DO UPDATE SET band_id = excluded.band_id, version = excluded.version,
		updated_at = excluded.updated_at, data = excluded.data`

	args := []interface{}{
		string(t), string(rec.RecordID()), string(rec.Scope()),
		rec.RecordVersion(), rec.RecordUpdatedAt(), string(data),
	}
	if tx != nil {
		_, err = tx.Exec(query, args...)
	} else {
		_, err = s.db.Exec(query, args...)
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "put failed", err)
	}
	return nil
}

// Delete removes a record. Deleting a song also removes it from any setlist
// in the same band that references it; both writes happen in one transaction.
// Deleting an absent record is a no-op.
func (s *Store) Delete(t models.RecordType, id models.UUID) error {
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

	if t == models.RecordTypeSong {
		if err := s.cascadeSongDelete(tx, id); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`DELETE FROM records WHERE record_type = ? AND id = ?`, string(t), string(id)); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "delete failed", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "commit failed", err)
	}
	committed = true
	return nil
}

// cascadeSongDelete removes songID from every setlist referencing it.
func (s *Store) cascadeSongDelete(tx *sql.Tx, songID models.UUID) error {
	rows, err := tx.Query(`SELECT data FROM records WHERE record_type = ?`, string(models.RecordTypeSetlist))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "setlist scan failed", err)
	}
	defer rows.Close()

	var dirty []*models.Setlist
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "setlist scan failed", err)
		}
		var list models.Setlist
		if err := json.Unmarshal([]byte(data), &list); err != nil {
			continue
		}
		if list.RemoveSong(songID) {
			list.Touch()
			dirty = append(dirty, &list)
		}
	}
	if err := rows.Err(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "setlist scan failed", err)
	}

	for _, list := range dirty {
		if err := s.putTx(tx, models.RecordTypeSetlist, list); err != nil {
			return err
		}
	}
	return nil
}

// Query returns every record of type t in the given band, newest first.
func (s *Store) Query(t models.RecordType, bandID models.UUID) ([]models.Record, error) {
	stmt, err := s.PrepareStmt(`
	SELECT data FROM records WHERE record_type = ? AND band_id = ?
	ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(string(t), string(bandID))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "query failed", err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "query scan failed", err)
		}
		rec := models.NewRecord(t)
		if rec == nil {
			return nil, apperrors.New(apperrors.ErrUnknownTable, fmt.Sprintf("unknown record type %q", t))
		}
		if err := json.Unmarshal([]byte(data), rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Meta returns the stored version and update time for a record, with
// found=false when the record does not exist locally. Cheaper than Get for
// the last-write-wins check.
func (s *Store) Meta(t models.RecordType, id models.UUID) (version, updatedAt int64, found bool, err error) {
	stmt, err := s.PrepareStmt(`SELECT version, updated_at FROM records WHERE record_type = ? AND id = ?`)
	if err != nil {
		return 0, 0, false, err
	}
	err = stmt.QueryRow(string(t), string(id)).Scan(&version, &updatedAt)
	if err == sql.ErrNoRows {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, apperrors.Wrap(apperrors.ErrDatabase, "meta lookup failed", err)
	}
	return version, updatedAt, true, nil
}
