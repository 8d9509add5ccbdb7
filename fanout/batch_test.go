package fanout

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/stores"
)

func TestProcessBatchMarksRecordsProcessed(t *testing.T) {
	pipeline, store := newTestPipeline(t)
	ctx := context.Background()
	pool := newStubPool(t, store, allStubs()...)

	batch := []*core.FeedbackRecord{
		sampleRecord(),
		{StudentID: "S2", TeacherName: "T1", Category: "math", Rating: 3, OpenText: "steady work"},
	}
	result, err := pipeline.ProcessBatch(ctx, pool, batch)
	require.NoError(t, err)
	require.NotEmpty(t, result.BatchID)
	assert.Len(t, result.Ingested, 2)
	assert.Len(t, result.Processed, 2)
	assert.Empty(t, result.Failed)

	for _, id := range result.Processed {
		record, err := pipeline.Record(ctx, id)
		require.NoError(t, err)
		assert.True(t, record.Processed)
	}
}

func TestProcessBatchRejectsInvalidRecordBeforeCommit(t *testing.T) {
	pipeline, store := newTestPipeline(t)
	ctx := context.Background()
	pool := newStubPool(t, store, allStubs()...)

	batch := []*core.FeedbackRecord{
		sampleRecord(),
		{StudentID: "S2", TeacherName: "T1", Category: "math", Rating: 9},
	}
	_, err := pipeline.ProcessBatch(ctx, pool, batch)
	require.ErrorIs(t, err, core.ErrRatingOutOfRange)

	// Nothing was committed, not even the valid record.
	pending, err := store.UnprocessedRecords(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessBatchReportsMandatoryFailure(t *testing.T) {
	pipeline, store := newTestPipeline(t)
	ctx := context.Background()

	failing := newStubAdapter(core.TargetGraph, func(int) error {
		return stores.Permanent(core.TargetGraph, errors.New("rejected"))
	})
	pool := newStubPool(t, store,
		newStubAdapter(core.TargetSearch, nil),
		newStubAdapter(core.TargetVector, nil),
		failing,
		newStubAdapter(core.TargetInsight, nil),
	)

	result, err := pipeline.ProcessBatch(ctx, pool, []*core.FeedbackRecord{sampleRecord()})
	require.NoError(t, err)
	require.Len(t, result.Failed, 1)
	assert.Empty(t, result.Processed)

	record, err := pipeline.Record(ctx, result.Failed[0])
	require.NoError(t, err)
	assert.False(t, record.Processed)
}

func TestProcessBatchVectorLaneIsBestEffort(t *testing.T) {
	pipeline, store := newTestPipeline(t)
	ctx := context.Background()

	failing := newStubAdapter(core.TargetVector, func(int) error {
		return stores.Permanent(core.TargetVector, errors.New("dimension mismatch"))
	})
	pool := newStubPool(t, store,
		newStubAdapter(core.TargetSearch, nil),
		failing,
		newStubAdapter(core.TargetGraph, nil),
		newStubAdapter(core.TargetInsight, nil),
	)

	result, err := pipeline.ProcessBatch(ctx, pool, []*core.FeedbackRecord{sampleRecord()})
	require.NoError(t, err)
	require.Len(t, result.Processed, 1)
	assert.Empty(t, result.Failed)

	byTarget, err := pipeline.TaskStatuses(ctx, result.Processed[0])
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailedTerminal, byTarget[core.TargetVector].Status)
}

func TestProcessBatchNormalizesOpenText(t *testing.T) {
	pipeline, store := newTestPipeline(t)
	ctx := context.Background()
	pool := newStubPool(t, store, allStubs()...)

	record := sampleRecord()
	record.OpenText = "  Great   PROGRESS!! "
	result, err := pipeline.ProcessBatch(ctx, pool, []*core.FeedbackRecord{record})
	require.NoError(t, err)
	require.Len(t, result.Processed, 1)

	stored, err := pipeline.Record(ctx, result.Processed[0])
	require.NoError(t, err)
	assert.Equal(t, "great progress", stored.OpenText)
}
