package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/storage"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AddRecord persists a feedback record and assigns it an ID.
func (s *Store) AddRecord(ctx context.Context, record *core.FeedbackRecord) (*core.FeedbackRecord, error) {
	record, err := insertRecord(ctx, s.db, record)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("added feedback record", "id", record.Id, "student_id", record.StudentID)
	return record, nil
}

// AddRecordWithTasks commits a record together with its pending fan-out
// rows in one transaction. The dispatch callback sees the record with
// its assigned ID; any error rolls the whole ingest back. Implements
// storage.AtomicIngestor.
func (s *Store) AddRecordWithTasks(ctx context.Context, record *core.FeedbackRecord, dispatch func(*core.FeedbackRecord) ([]core.FanOutTask, error)) (*core.FeedbackRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning ingest transaction: %w", err)
	}
	defer tx.Rollback()

	added, err := insertRecord(ctx, tx, record)
	if err != nil {
		return nil, err
	}
	tasks, err := dispatch(added)
	if err != nil {
		return nil, err
	}
	if err := upsertPending(ctx, tx, tasks); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Debug("added feedback record", "id", added.Id, "student_id", added.StudentID, "tasks", len(tasks))
	return added, nil
}

func insertRecord(ctx context.Context, ex execer, record *core.FeedbackRecord) (*core.FeedbackRecord, error) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	derivedJSON, err := marshalDerived(record.Derived)
	if err != nil {
		return nil, err
	}

	res, err := ex.ExecContext(ctx, `
		INSERT INTO feedback_records (student_id, teacher_name, category, rating, open_text, derived_json, created_at, processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		record.StudentID, record.TeacherName, record.Category, record.Rating,
		record.OpenText, derivedJSON, record.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting feedback record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading inserted record id: %w", err)
	}
	record.Id = core.ID(id)
	return record, nil
}

// GetRecord retrieves a single feedback record by ID.
func (s *Store) GetRecord(ctx context.Context, id core.ID) (*core.FeedbackRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, student_id, teacher_name, category, rating, open_text, derived_json, created_at, processed
		FROM feedback_records WHERE id = ?`, int64(id))
	return scanRecord(row)
}

// UpdateDerived stores AI-derived fields for an existing record.
func (s *Store) UpdateDerived(ctx context.Context, id core.ID, derived *core.Derived) error {
	derivedJSON, err := marshalDerived(derived)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE feedback_records SET derived_json = ? WHERE id = ?`, derivedJSON, int64(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkProcessed flags a record as fully propagated to its mandatory stores.
func (s *Store) MarkProcessed(ctx context.Context, id core.ID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE feedback_records SET processed = 1 WHERE id = ?`, int64(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UnprocessedRecords returns records not yet marked processed, oldest first.
func (s *Store) UnprocessedRecords(ctx context.Context, limit int) ([]*core.FeedbackRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, student_id, teacher_name, category, rating, open_text, derived_json, created_at, processed
		FROM feedback_records WHERE processed = 0 ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*core.FeedbackRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, record)
	}
	return results, rows.Err()
}

// RecordsByStudent returns a student's records, newest first.
func (s *Store) RecordsByStudent(ctx context.Context, studentID string, limit int) ([]*core.FeedbackRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, student_id, teacher_name, category, rating, open_text, derived_json, created_at, processed
		FROM feedback_records WHERE student_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, studentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*core.FeedbackRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, record)
	}
	return results, rows.Err()
}

// RecordsAfter returns up to limit records with an ID greater than after,
// in ID order. Use it for keyset pagination over the whole table.
func (s *Store) RecordsAfter(ctx context.Context, after core.ID, limit int) ([]*core.FeedbackRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, student_id, teacher_name, category, rating, open_text, derived_json, created_at, processed
		FROM feedback_records WHERE id > ? ORDER BY id ASC LIMIT ?`, int64(after), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*core.FeedbackRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, record)
	}
	return results, rows.Err()
}

// CountRecords returns the total number of feedback records.
func (s *Store) CountRecords(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback_records`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*core.FeedbackRecord, error) {
	var record core.FeedbackRecord
	var id int64
	var derivedJSON sql.NullString
	var createdAt string
	var processed int

	err := row.Scan(&id, &record.StudentID, &record.TeacherName, &record.Category,
		&record.Rating, &record.OpenText, &derivedJSON, &createdAt, &processed)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	record.Id = core.ID(id)
	record.Processed = processed != 0

	if record.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	if derivedJSON.Valid && derivedJSON.String != "" {
		var derived core.Derived
		if err := json.Unmarshal([]byte(derivedJSON.String), &derived); err != nil {
			return nil, fmt.Errorf("parsing derived_json for record %d: %w", id, err)
		}
		record.Derived = &derived
	}

	return &record, nil
}

func marshalDerived(derived *core.Derived) (sql.NullString, error) {
	if derived == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(derived)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshaling derived fields: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
