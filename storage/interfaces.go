package storage

import (
	"context"
	"time"

	"github.com/poiesic/crossfeed/core"
)

// TaskRecord is a row in the fan-out status ledger. Exactly one row exists
// per (RecordID, Target) pair; it carries both the task payload and the
// scheduling state the worker pool operates on.
type TaskRecord struct {
	RecordID     core.ID
	Target       core.TargetStore
	Status       core.TaskStatus
	Payload      []byte
	AttemptCount int
	MaxAttempts  int
	LastError    string
	ErrorClass   string
	NextAttempt  time.Time
	ClaimDeadline time.Time
	UpdatedAt    time.Time
}

// RecordStore provides operations for the relational system of record.
// Implementations must be thread-safe and support concurrent access.
type RecordStore interface {
	// AddRecord persists a feedback record and assigns it an ID.
	// Returns the record with ID and CreatedAt populated.
	AddRecord(ctx context.Context, record *core.FeedbackRecord) (*core.FeedbackRecord, error)

	// GetRecord retrieves a single feedback record by ID.
	// Returns ErrNotFound if the record doesn't exist.
	GetRecord(ctx context.Context, id core.ID) (*core.FeedbackRecord, error)

	// UpdateDerived stores AI-derived fields for an existing record.
	// Returns ErrNotFound if the record doesn't exist.
	UpdateDerived(ctx context.Context, id core.ID, derived *core.Derived) error

	// MarkProcessed flags a record as fully propagated to its mandatory stores.
	MarkProcessed(ctx context.Context, id core.ID) error

	// UnprocessedRecords returns records not yet marked processed, oldest first.
	UnprocessedRecords(ctx context.Context, limit int) ([]*core.FeedbackRecord, error)

	// RecordsByStudent returns a student's records, newest first.
	RecordsByStudent(ctx context.Context, studentID string, limit int) ([]*core.FeedbackRecord, error)

	// Close closes the storage backend and releases resources.
	Close() error
}

// AtomicIngestor is implemented by record stores that share a database
// with the task ledger and can commit a record together with its pending
// fan-out rows in one transaction. The dispatch callback receives the
// record with its assigned ID and computes the tasks; an error from it
// rolls the record back.
type AtomicIngestor interface {
	AddRecordWithTasks(ctx context.Context, record *core.FeedbackRecord, dispatch func(*core.FeedbackRecord) ([]core.FanOutTask, error)) (*core.FeedbackRecord, error)
}

// TaskLedger provides operations on the per-store fan-out status ledger.
//
// The ledger is the unit of coordination between the ingestion pipeline,
// the worker pool, and the reconciliation sweeper. Claim is the only
// operation that may move a task to in_flight, and it must be atomic:
// concurrent claims of the same task must yield exactly one winner.
type TaskLedger interface {
	// CreatePending upserts a pending ledger row for each task.
	// Re-dispatching a record resets succeeded and failed_terminal rows
	// back to pending with a fresh payload; rows currently in_flight are
	// left untouched so an active worker is never invalidated mid-write.
	CreatePending(ctx context.Context, tasks []core.FanOutTask) error

	// Claim atomically transitions a task from pending to in_flight and
	// stamps a claim deadline now+visibility. Returns ErrAlreadyClaimed
	// if another worker won the race, ErrNotFound if no such row exists.
	Claim(ctx context.Context, recordID core.ID, target core.TargetStore, visibility time.Duration) (*TaskRecord, error)

	// NextDue returns up to limit pending tasks whose next_attempt_at is
	// due, oldest first. It does not claim them.
	NextDue(ctx context.Context, now time.Time, limit int) ([]*TaskRecord, error)

	// MarkSucceeded transitions an in_flight task to succeeded.
	MarkSucceeded(ctx context.Context, recordID core.ID, target core.TargetStore) error

	// MarkFailed records a failed attempt. Transient failures reschedule
	// the task as pending with exponential backoff until MaxAttempts is
	// reached; permanent failures and exhausted retries transition the
	// task to failed_terminal. LastError and ErrorClass are recorded
	// either way.
	MarkFailed(ctx context.Context, recordID core.ID, target core.TargetStore, cause error, class string, permanent bool) error

	// RequeueExpired returns in_flight tasks whose claim deadline has
	// passed to pending, counting the expiry as a failed attempt.
	// Returns the number of tasks requeued.
	RequeueExpired(ctx context.Context, now time.Time) (int, error)

	// TasksForRecord returns all ledger rows for a record.
	TasksForRecord(ctx context.Context, recordID core.ID) ([]*TaskRecord, error)

	// FailedCounts returns failed_terminal counts grouped by target store
	// and error class.
	FailedCounts(ctx context.Context) (map[core.TargetStore]map[string]int, error)

	// Close closes the storage backend and releases resources.
	Close() error
}
