package sqlite

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/storage"
)

func seedTasks(t *testing.T, store *Store, recordID core.ID, targets ...core.TargetStore) {
	t.Helper()
	tasks := make([]core.FanOutTask, 0, len(targets))
	for _, target := range targets {
		tasks = append(tasks, core.FanOutTask{
			RecordID: recordID,
			Target:   target,
			Payload:  []byte(`{"record_id":1}`),
		})
	}
	require.NoError(t, store.CreatePending(context.Background(), tasks))
}

func TestCreatePendingAndNextDue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTasks(t, store, 1, core.TargetSearch, core.TargetVector, core.TargetGraph, core.TargetInsight)

	due, err := store.NextDue(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, due, 4)
	for _, task := range due {
		assert.Equal(t, core.StatusPending, task.Status)
		assert.Equal(t, 0, task.AttemptCount)
	}
}

func TestClaimTransitionsToInFlight(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTasks(t, store, 1, core.TargetSearch)

	task, err := store.Claim(ctx, 1, core.TargetSearch, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, core.StatusInFlight, task.Status)
	assert.False(t, task.ClaimDeadline.IsZero())

	// Second claim of the same task must lose.
	_, err = store.Claim(ctx, 1, core.TargetSearch, 30*time.Second)
	assert.ErrorIs(t, err, storage.ErrAlreadyClaimed)

	// Claiming a nonexistent task is a distinct error.
	_, err = store.Claim(ctx, 999, core.TargetSearch, 30*time.Second)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConcurrentClaimsYieldOneWinner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTasks(t, store, 1, core.TargetGraph)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Claim(ctx, 1, core.TargetGraph, 30*time.Second); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestMarkSucceeded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTasks(t, store, 1, core.TargetSearch)

	// Completing an unclaimed task is rejected.
	err := store.MarkSucceeded(ctx, 1, core.TargetSearch)
	assert.ErrorIs(t, err, storage.ErrNotClaimed)

	_, err = store.Claim(ctx, 1, core.TargetSearch, 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, store.MarkSucceeded(ctx, 1, core.TargetSearch))

	tasks, err := store.TasksForRecord(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, core.StatusSucceeded, tasks[0].Status)
}

func TestMarkFailedTransientSchedulesBackoff(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTasks(t, store, 1, core.TargetVector)

	_, err := store.Claim(ctx, 1, core.TargetVector, 30*time.Second)
	require.NoError(t, err)

	before := time.Now().UTC()
	require.NoError(t, store.MarkFailed(ctx, 1, core.TargetVector, errors.New("connection refused"), "transient", false))

	tasks, err := store.TasksForRecord(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, core.StatusPending, task.Status)
	assert.Equal(t, 1, task.AttemptCount)
	assert.Equal(t, "connection refused", task.LastError)
	assert.Equal(t, "transient", task.ErrorClass)
	assert.True(t, task.NextAttempt.After(before), "next attempt should be pushed into the future")

	// Not yet due, so the task is invisible to NextDue.
	due, err := store.NextDue(ctx, before, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestMarkFailedPermanentIsTerminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTasks(t, store, 1, core.TargetVector)

	_, err := store.Claim(ctx, 1, core.TargetVector, 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, 1, core.TargetVector, errors.New("dimension mismatch"), "permanent", true))

	tasks, err := store.TasksForRecord(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, core.StatusFailedTerminal, tasks[0].Status)
	assert.Equal(t, 1, tasks[0].AttemptCount)
}

func TestMarkFailedExhaustsAttempts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTasks(t, store, 1, core.TargetSearch)

	for attempt := 1; attempt <= defaultMaxAttempts; attempt++ {
		// Force the task due so it can be re-claimed.
		_, err := store.db.Exec(`UPDATE fanout_tasks SET next_attempt_at = ? WHERE record_id = 1`,
			time.Now().UTC().Add(-time.Minute).Format(time.RFC3339))
		require.NoError(t, err)

		_, err = store.Claim(ctx, 1, core.TargetSearch, 30*time.Second)
		require.NoError(t, err)
		require.NoError(t, store.MarkFailed(ctx, 1, core.TargetSearch, errors.New("timeout"), "transient", false))
	}

	tasks, err := store.TasksForRecord(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, core.StatusFailedTerminal, tasks[0].Status)
	assert.Equal(t, defaultMaxAttempts, tasks[0].AttemptCount)
}

func TestCreatePendingDoesNotDisturbInFlight(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTasks(t, store, 1, core.TargetSearch)

	_, err := store.Claim(ctx, 1, core.TargetSearch, 30*time.Second)
	require.NoError(t, err)

	// Re-dispatch while a worker holds the claim.
	require.NoError(t, store.CreatePending(ctx, []core.FanOutTask{
		{RecordID: 1, Target: core.TargetSearch, Payload: []byte(`{"record_id":1,"v":2}`)},
	}))

	tasks, err := store.TasksForRecord(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, core.StatusInFlight, tasks[0].Status)
	assert.Equal(t, `{"record_id":1}`, string(tasks[0].Payload))
}

func TestCreatePendingResetsTerminalTasks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTasks(t, store, 1, core.TargetSearch)

	_, err := store.Claim(ctx, 1, core.TargetSearch, 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, 1, core.TargetSearch, errors.New("bad payload"), "permanent", true))

	// Repair path: re-dispatch resets the terminal row.
	seedTasks(t, store, 1, core.TargetSearch)

	tasks, err := store.TasksForRecord(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, core.StatusPending, tasks[0].Status)
	assert.Equal(t, 0, tasks[0].AttemptCount)
	assert.Empty(t, tasks[0].LastError)
}

func TestRequeueExpiredClaims(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTasks(t, store, 1, core.TargetGraph)

	_, err := store.Claim(ctx, 1, core.TargetGraph, 10*time.Millisecond)
	require.NoError(t, err)

	// Before the deadline nothing is requeued.
	n, err := store.RequeueExpired(ctx, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.RequeueExpired(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tasks, err := store.TasksForRecord(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, core.StatusPending, tasks[0].Status)
	assert.Equal(t, 1, tasks[0].AttemptCount)
	assert.Equal(t, "claim expired", tasks[0].LastError)
}

func TestFailedCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTasks(t, store, 1, core.TargetSearch, core.TargetVector)
	seedTasks(t, store, 2, core.TargetVector)

	for _, pair := range []struct {
		id     core.ID
		target core.TargetStore
	}{{1, core.TargetVector}, {2, core.TargetVector}} {
		_, err := store.Claim(ctx, pair.id, pair.target, 30*time.Second)
		require.NoError(t, err)
		require.NoError(t, store.MarkFailed(ctx, pair.id, pair.target, errors.New("dimension mismatch"), "permanent", true))
	}

	counts, err := store.FailedCounts(ctx)
	require.NoError(t, err)
	require.Contains(t, counts, core.TargetVector)
	assert.Equal(t, 2, counts[core.TargetVector]["permanent"])
	assert.NotContains(t, counts, core.TargetSearch)
}
