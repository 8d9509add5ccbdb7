// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/storage"
)

// defaultMaxAttempts bounds retries before a task goes failed_terminal.
const defaultMaxAttempts = 5

// CreatePending upserts a pending ledger row for each task.
//
// The upsert is guarded so rows currently in_flight keep their state: a
// worker holding a claim must never have the row change underneath it.
// Succeeded and failed_terminal rows are reset to pending with a fresh
// payload and attempt count, which is what makes re-dispatch (repair)
// idempotent.
func (s *Store) CreatePending(ctx context.Context, tasks []core.FanOutTask) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning ledger transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertPending(ctx, tx, tasks); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertPending(ctx context.Context, ex execer, tasks []core.FanOutTask) error {
	now := time.Now().UTC().Format(time.RFC3339)

	for _, task := range tasks {
		_, err := ex.ExecContext(ctx, `
			INSERT INTO fanout_tasks (record_id, target_store, status, payload_json, attempt_count, max_attempts, next_attempt_at, updated_at)
			VALUES (?, ?, 'pending', ?, 0, ?, ?, ?)
			ON CONFLICT(record_id, target_store) DO UPDATE SET
				status = 'pending',
				payload_json = excluded.payload_json,
				attempt_count = 0,
				last_error = '',
				error_class = '',
				next_attempt_at = excluded.next_attempt_at,
				claim_deadline = NULL,
				updated_at = excluded.updated_at
			WHERE fanout_tasks.status != 'in_flight'`,
			int64(task.RecordID), task.Target.String(), string(task.Payload),
			defaultMaxAttempts, now, now,
		)
		if err != nil {
			return fmt.Errorf("upserting task (%d, %s): %w", task.RecordID, task.Target, err)
		}
	}
	return nil
}

// Claim atomically transitions a task from pending to in_flight.
//
// The status guard in the UPDATE is the claim arbiter: of N concurrent
// claims for the same row, exactly one observes rows-affected == 1.
func (s *Store) Claim(ctx context.Context, recordID core.ID, target core.TargetStore, visibility time.Duration) (*storage.TaskRecord, error) {
	now := time.Now().UTC()
	deadline := now.Add(visibility)

	res, err := s.db.ExecContext(ctx, `
		UPDATE fanout_tasks
		SET status = 'in_flight', claim_deadline = ?, updated_at = ?
		WHERE record_id = ? AND target_store = ? AND status = 'pending' AND next_attempt_at <= ?`,
		deadline.Format(time.RFC3339), now.Format(time.RFC3339),
		int64(recordID), target.String(), now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("claiming task (%d, %s): %w", recordID, target, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Lost the race, or the row doesn't exist, or it's not yet due.
		var status string
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM fanout_tasks WHERE record_id = ? AND target_store = ?`,
			int64(recordID), target.String()).Scan(&status)
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return nil, storage.ErrAlreadyClaimed
	}

	return s.getTask(ctx, recordID, target)
}

// NextDue returns up to limit pending tasks whose next_attempt_at has
// passed, oldest first. The tasks are not claimed.
func (s *Store) NextDue(ctx context.Context, now time.Time, limit int) ([]*storage.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, target_store, status, payload_json, attempt_count, max_attempts, last_error, error_class, next_attempt_at, claim_deadline, updated_at
		FROM fanout_tasks
		WHERE status = 'pending' AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC, record_id ASC
		LIMIT ?`, now.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// MarkSucceeded transitions an in_flight task to succeeded.
func (s *Store) MarkSucceeded(ctx context.Context, recordID core.ID, target core.TargetStore) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `
		UPDATE fanout_tasks
		SET status = 'succeeded', last_error = '', error_class = '', claim_deadline = NULL, updated_at = ?
		WHERE record_id = ? AND target_store = ? AND status = 'in_flight'`,
		now, int64(recordID), target.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotClaimed
	}
	return nil
}

// MarkFailed records a failed attempt on an in_flight task.
//
// Transient failures reschedule as pending with exponential backoff until
// attempts are exhausted; permanent failures go straight to failed_terminal.
func (s *Store) MarkFailed(ctx context.Context, recordID core.ID, target core.TargetStore, cause error, class string, permanent bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT attempt_count, max_attempts, status FROM fanout_tasks WHERE record_id = ? AND target_store = ?`,
		int64(recordID), target.String()).Scan(&attempts, &maxAttempts, &status)
	if err == sql.ErrNoRows {
		return storage.ErrNotFound
	}
	if err != nil {
		return err
	}
	if status != core.StatusInFlight.String() {
		return storage.ErrNotClaimed
	}

	now := time.Now().UTC()
	attempts++
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}

	if permanent || attempts >= maxAttempts {
		_, err = tx.ExecContext(ctx, `
			UPDATE fanout_tasks
			SET status = 'failed_terminal', attempt_count = ?, last_error = ?, error_class = ?, claim_deadline = NULL, updated_at = ?
			WHERE record_id = ? AND target_store = ?`,
			attempts, errMsg, class, now.Format(time.RFC3339), int64(recordID), target.String())
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		nextAttempt := now.Add(backoff)
		_, err = tx.ExecContext(ctx, `
			UPDATE fanout_tasks
			SET status = 'pending', attempt_count = ?, last_error = ?, error_class = ?, next_attempt_at = ?, claim_deadline = NULL, updated_at = ?
			WHERE record_id = ? AND target_store = ?`,
			attempts, errMsg, class, nextAttempt.Format(time.RFC3339), now.Format(time.RFC3339),
			int64(recordID), target.String())
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}

// RequeueExpired returns in_flight tasks whose claim deadline has passed to
// pending, counting the expiry as a failed attempt. Tasks out of attempts go
// failed_terminal instead.
func (s *Store) RequeueExpired(ctx context.Context, now time.Time) (int, error) {
	nowStr := now.UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning requeue transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT record_id, target_store, attempt_count, max_attempts
		FROM fanout_tasks
		WHERE status = 'in_flight' AND claim_deadline IS NOT NULL AND claim_deadline <= ?`,
		nowStr)
	if err != nil {
		return 0, err
	}

	type expired struct {
		recordID    int64
		target      string
		attempts    int
		maxAttempts int
	}
	var stale []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.recordID, &e.target, &e.attempts, &e.maxAttempts); err != nil {
			rows.Close()
			return 0, err
		}
		stale = append(stale, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, e := range stale {
		attempts := e.attempts + 1
		if attempts >= e.maxAttempts {
			_, err = tx.ExecContext(ctx, `
				UPDATE fanout_tasks
				SET status = 'failed_terminal', attempt_count = ?, last_error = 'claim expired', error_class = 'transient', claim_deadline = NULL, updated_at = ?
				WHERE record_id = ? AND target_store = ? AND status = 'in_flight'`,
				attempts, nowStr, e.recordID, e.target)
		} else {
			backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
			_, err = tx.ExecContext(ctx, `
				UPDATE fanout_tasks
				SET status = 'pending', attempt_count = ?, last_error = 'claim expired', error_class = 'transient', next_attempt_at = ?, claim_deadline = NULL, updated_at = ?
				WHERE record_id = ? AND target_store = ? AND status = 'in_flight'`,
				attempts, now.Add(backoff).UTC().Format(time.RFC3339), nowStr, e.recordID, e.target)
		}
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	if len(stale) > 0 {
		s.logger.Warn("requeued expired task claims", "count", len(stale))
	}
	return len(stale), nil
}

// TasksForRecord returns all ledger rows for a record.
func (s *Store) TasksForRecord(ctx context.Context, recordID core.ID) ([]*storage.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, target_store, status, payload_json, attempt_count, max_attempts, last_error, error_class, next_attempt_at, claim_deadline, updated_at
		FROM fanout_tasks WHERE record_id = ? ORDER BY target_store ASC`, int64(recordID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// FailedCounts returns failed_terminal counts grouped by target store and error class.
func (s *Store) FailedCounts(ctx context.Context) (map[core.TargetStore]map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_store, error_class, COUNT(*)
		FROM fanout_tasks
		WHERE status = 'failed_terminal'
		GROUP BY target_store, error_class`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[core.TargetStore]map[string]int)
	for rows.Next() {
		var targetStr, class string
		var count int
		if err := rows.Scan(&targetStr, &class, &count); err != nil {
			return nil, err
		}
		target, err := core.ParseTargetStore(targetStr)
		if err != nil {
			return nil, err
		}
		if counts[target] == nil {
			counts[target] = make(map[string]int)
		}
		counts[target][class] = count
	}
	return counts, rows.Err()
}

func (s *Store) getTask(ctx context.Context, recordID core.ID, target core.TargetStore) (*storage.TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT record_id, target_store, status, payload_json, attempt_count, max_attempts, last_error, error_class, next_attempt_at, claim_deadline, updated_at
		FROM fanout_tasks WHERE record_id = ? AND target_store = ?`,
		int64(recordID), target.String())
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	return task, err
}

func scanTask(row rowScanner) (*storage.TaskRecord, error) {
	var task storage.TaskRecord
	var recordID int64
	var targetStr, statusStr, payload string
	var nextAttempt, updatedAt string
	var claimDeadline sql.NullString

	err := row.Scan(&recordID, &targetStr, &statusStr, &payload, &task.AttemptCount,
		&task.MaxAttempts, &task.LastError, &task.ErrorClass, &nextAttempt, &claimDeadline, &updatedAt)
	if err != nil {
		return nil, err
	}

	task.RecordID = core.ID(recordID)
	task.Payload = []byte(payload)

	if task.Target, err = core.ParseTargetStore(targetStr); err != nil {
		return nil, err
	}
	if task.Status, err = core.ParseTaskStatus(statusStr); err != nil {
		return nil, err
	}
	if task.NextAttempt, err = time.Parse(time.RFC3339, nextAttempt); err != nil {
		return nil, fmt.Errorf("parsing next_attempt_at: %w", err)
	}
	if task.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if claimDeadline.Valid {
		if task.ClaimDeadline, err = time.Parse(time.RFC3339, claimDeadline.String); err != nil {
			return nil, fmt.Errorf("parsing claim_deadline: %w", err)
		}
	}

	return &task, nil
}

func scanTasks(rows *sql.Rows) ([]*storage.TaskRecord, error) {
	var tasks []*storage.TaskRecord
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
