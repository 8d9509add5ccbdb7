package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/crossfeed/ai/mock"
	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/fanout"
	"github.com/poiesic/crossfeed/storage/sqlite"
	"github.com/poiesic/crossfeed/stores"
)

// okAdapter accepts every upsert; failPermanently flips it to a
// permanent failure for repair-path tests.
type okAdapter struct {
	target core.TargetStore

	mu   sync.Mutex
	fail bool
}

func (a *okAdapter) Target() core.TargetStore              { return a.target }
func (a *okAdapter) Provision(ctx context.Context) error   { return nil }
func (a *okAdapter) HealthCheck(ctx context.Context) error { return nil }
func (a *okAdapter) Close() error                          { return nil }

func (a *okAdapter) Upsert(ctx context.Context, recordID core.ID, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return stores.Permanent(a.target, errors.New("store rejected write"))
	}
	return nil
}

func (a *okAdapter) failPermanently(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail = v
}

func newTestReconciler(t *testing.T) (*Reconciler, *fanout.Pipeline, *fanout.Pool, *sqlite.Store, map[core.TargetStore]*okAdapter) {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pipeline, err := fanout.NewPipeline(store, store)
	require.NoError(t, err)

	adapters := map[core.TargetStore]*okAdapter{}
	var list []stores.Adapter
	for _, target := range []core.TargetStore{core.TargetSearch, core.TargetVector, core.TargetGraph, core.TargetInsight} {
		a := &okAdapter{target: target}
		adapters[target] = a
		list = append(list, a)
	}

	pool, err := fanout.NewPool(store, list, fanout.WithPoolSize(2))
	require.NoError(t, err)
	t.Cleanup(pool.Stop)

	reconciler, err := NewReconciler(store, store, pipeline)
	require.NoError(t, err)
	return reconciler, pipeline, pool, store, adapters
}

func ingestSample(t *testing.T, pipeline *fanout.Pipeline) *core.FeedbackRecord {
	t.Helper()
	added, err := pipeline.Ingest(context.Background(), &core.FeedbackRecord{
		StudentID:   "S1",
		TeacherName: "T1",
		Category:    "reading",
		Rating:      4,
		OpenText:    "great progress",
	})
	require.NoError(t, err)
	return added
}

func TestNewReconcilerRequiresDependencies(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	pipeline, err := fanout.NewPipeline(store, store)
	require.NoError(t, err)

	_, err = NewReconciler(nil, store, pipeline)
	assert.ErrorIs(t, err, ErrRecordStoreRequired)
	_, err = NewReconciler(store, nil, pipeline)
	assert.ErrorIs(t, err, ErrLedgerRequired)
	_, err = NewReconciler(store, store, nil)
	assert.ErrorIs(t, err, ErrPipelineRequired)
}

func TestSweepRequeuesExpiredClaims(t *testing.T) {
	reconciler, pipeline, _, store, _ := newTestReconciler(t)
	ctx := context.Background()

	added := ingestSample(t, pipeline)
	_, err := store.Claim(ctx, added.Id, core.TargetSearch, time.Millisecond)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	n, err := reconciler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tasks, err := store.TasksForRecord(ctx, added.Id)
	require.NoError(t, err)
	for _, task := range tasks {
		if task.Target == core.TargetSearch {
			assert.Equal(t, core.StatusPending, task.Status)
			assert.Equal(t, 1, task.AttemptCount)
		}
	}
}

func TestSweepLeavesLiveClaimsAlone(t *testing.T) {
	reconciler, pipeline, _, store, _ := newTestReconciler(t)
	ctx := context.Background()

	added := ingestSample(t, pipeline)
	_, err := store.Claim(ctx, added.Id, core.TargetSearch, time.Minute)
	require.NoError(t, err)

	n, err := reconciler.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReportCountsFailedLanes(t *testing.T) {
	reconciler, pipeline, pool, _, adapters := newTestReconciler(t)
	ctx := context.Background()

	adapters[core.TargetGraph].failPermanently(true)
	ingestSample(t, pipeline)
	require.NoError(t, pool.Drain(ctx))

	report, err := reconciler.Report(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Failed[core.TargetGraph][string(stores.ClassPermanent)])
	assert.False(t, report.GeneratedAt.IsZero())
}

func TestRepairRequeuesFailedTerminalRecords(t *testing.T) {
	reconciler, pipeline, pool, store, adapters := newTestReconciler(t)
	ctx := context.Background()

	adapters[core.TargetGraph].failPermanently(true)
	added := ingestSample(t, pipeline)
	require.NoError(t, pool.Drain(ctx))

	tasks, err := store.TasksForRecord(ctx, added.Id)
	require.NoError(t, err)
	foundTerminal := false
	for _, task := range tasks {
		if task.Target == core.TargetGraph {
			foundTerminal = task.Status == core.StatusFailedTerminal
		}
	}
	require.True(t, foundTerminal)

	// The store recovers; repair requeues, the pool finishes the job.
	adapters[core.TargetGraph].failPermanently(false)
	repaired, err := reconciler.Repair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	require.NoError(t, pool.Drain(ctx))
	byTarget, err := pipeline.TaskStatuses(ctx, added.Id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusSucceeded, byTarget[core.TargetGraph].Status)
}

func TestRepairRecoversRecordWithoutLedgerRows(t *testing.T) {
	reconciler, pipeline, pool, store, _ := newTestReconciler(t)
	ctx := context.Background()

	// A committed record with no fan-out rows at all, as a crashed
	// non-atomic ingest would leave it.
	added, err := store.AddRecord(ctx, &core.FeedbackRecord{
		StudentID:   "S1",
		TeacherName: "T1",
		Category:    "reading",
		Rating:      4,
		OpenText:    "great progress",
	})
	require.NoError(t, err)

	repaired, err := reconciler.Repair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	require.NoError(t, pool.Drain(ctx))
	byTarget, err := pipeline.TaskStatuses(ctx, added.Id)
	require.NoError(t, err)
	require.Len(t, byTarget, 4)
	for target, task := range byTarget {
		assert.Equal(t, core.StatusSucceeded, task.Status, "lane %s", target)
	}
}

func TestRepairRetriesEnrichment(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	enricher := mock.NewMockEnricher()
	pipeline, err := fanout.NewPipeline(store, store, fanout.WithEnricher(enricher))
	require.NoError(t, err)
	reconciler, err := NewReconciler(store, store, pipeline)
	require.NoError(t, err)

	added, err := store.AddRecord(ctx, &core.FeedbackRecord{
		StudentID:   "S1",
		TeacherName: "T1",
		Category:    "reading",
		Rating:      4,
		OpenText:    "great progress",
	})
	require.NoError(t, err)
	require.Nil(t, added.Derived)

	repaired, err := reconciler.Repair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	got, err := store.GetRecord(ctx, added.Id)
	require.NoError(t, err)
	require.NotNil(t, got.Derived)
	assert.Equal(t, "positive", got.Derived.Sentiment)
}

func TestRepairSkipsHealthyRecords(t *testing.T) {
	reconciler, pipeline, pool, _, _ := newTestReconciler(t)
	ctx := context.Background()

	ingestSample(t, pipeline)
	require.NoError(t, pool.Drain(ctx))

	repaired, err := reconciler.Repair(ctx)
	require.NoError(t, err)
	assert.Zero(t, repaired)
}
