package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRecord() *core.FeedbackRecord {
	return &core.FeedbackRecord{
		StudentID:   "S1",
		TeacherName: "T1",
		Category:    "reading",
		Rating:      4,
		OpenText:    "great progress",
	}
}

func TestAddAndGetRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.AddRecord(ctx, sampleRecord())
	require.NoError(t, err)
	assert.NotZero(t, added.Id)
	assert.False(t, added.CreatedAt.IsZero())

	got, err := store.GetRecord(ctx, added.Id)
	require.NoError(t, err)
	assert.Equal(t, added.Id, got.Id)
	assert.Equal(t, "S1", got.StudentID)
	assert.Equal(t, "T1", got.TeacherName)
	assert.Equal(t, "reading", got.Category)
	assert.Equal(t, 4, got.Rating)
	assert.Equal(t, "great progress", got.OpenText)
	assert.False(t, got.Processed)
	assert.Nil(t, got.Derived)
}

func TestAddRecordWithTasksCommitsBoth(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.AddRecordWithTasks(ctx, sampleRecord(), func(r *core.FeedbackRecord) ([]core.FanOutTask, error) {
		return []core.FanOutTask{
			{RecordID: r.Id, Target: core.TargetSearch, Payload: []byte(`{}`)},
			{RecordID: r.Id, Target: core.TargetGraph, Payload: []byte(`{}`)},
		}, nil
	})
	require.NoError(t, err)
	assert.NotZero(t, added.Id)

	tasks, err := store.TasksForRecord(ctx, added.Id)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, core.StatusPending, task.Status)
	}
}

func TestAddRecordWithTasksRollsBackOnDispatchError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.AddRecordWithTasks(ctx, sampleRecord(), func(r *core.FeedbackRecord) ([]core.FanOutTask, error) {
		return nil, assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	n, err := store.CountRecords(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a failed dispatch must not leave the record behind")
}

func TestGetRecordNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRecord(context.Background(), core.ID(999))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateDerived(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.AddRecord(ctx, sampleRecord())
	require.NoError(t, err)

	derived := &core.Derived{
		Sentiment: "positive",
		Topics:    []string{"reading"},
		Entities:  []string{"comprehension"},
		Summary:   "Strong reading progress.",
	}
	require.NoError(t, store.UpdateDerived(ctx, added.Id, derived))

	got, err := store.GetRecord(ctx, added.Id)
	require.NoError(t, err)
	require.NotNil(t, got.Derived)
	assert.Equal(t, "positive", got.Derived.Sentiment)
	assert.Equal(t, []string{"reading"}, got.Derived.Topics)

	err = store.UpdateDerived(ctx, core.ID(999), derived)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMarkProcessed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.AddRecord(ctx, sampleRecord())
	require.NoError(t, err)

	require.NoError(t, store.MarkProcessed(ctx, added.Id))

	got, err := store.GetRecord(ctx, added.Id)
	require.NoError(t, err)
	assert.True(t, got.Processed)

	err = store.MarkProcessed(ctx, core.ID(999))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUnprocessedRecordsOrderedOldestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		record := sampleRecord()
		record.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		_, err := store.AddRecord(ctx, record)
		require.NoError(t, err)
	}

	records, err := store.UnprocessedRecords(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.True(t, records[0].CreatedAt.Before(records[1].CreatedAt))
	assert.True(t, records[1].CreatedAt.Before(records[2].CreatedAt))

	require.NoError(t, store.MarkProcessed(ctx, records[0].Id))

	records, err = store.UnprocessedRecords(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRecordsByStudentNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		record := sampleRecord()
		record.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		_, err := store.AddRecord(ctx, record)
		require.NoError(t, err)
	}
	other := sampleRecord()
	other.StudentID = "S2"
	_, err := store.AddRecord(ctx, other)
	require.NoError(t, err)

	records, err := store.RecordsByStudent(ctx, "S1", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].CreatedAt.After(records[1].CreatedAt))
	for _, r := range records {
		assert.Equal(t, "S1", r.StudentID)
	}
}

func TestMigrationsApplied(t *testing.T) {
	store := newTestStore(t)

	versions, err := store.AppliedMigrations()
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versions)
}
