package reindex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/crossfeed/ai/mock"
	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/storage/sqlite"
	"github.com/poiesic/crossfeed/stores"
	"github.com/poiesic/crossfeed/stores/vector"
)

func seedStore(t *testing.T, n int) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for i := 0; i < n; i++ {
		_, err := store.AddRecord(ctx, &core.FeedbackRecord{
			StudentID:   fmt.Sprintf("S%d", i%3),
			TeacherName: "T1",
			Category:    "reading",
			Rating:      1 + i%5,
			OpenText:    fmt.Sprintf("progress note number %d", i),
		})
		require.NoError(t, err)
	}
	return store
}

func TestRunIndexesAllRecordsWithText(t *testing.T) {
	store := seedStore(t, 7)
	vectorStore := vector.NewStore(mock.NewMockEmbedder(), 384)
	defer vectorStore.Close()

	var out bytes.Buffer
	reindexer, err := NewReindexer(store, vectorStore, &Config{
		BatchSize:      3,
		ReportInterval: 3,
		MaxRetries:     2,
		RetryDelay:     time.Millisecond,
	}, &out)
	require.NoError(t, err)

	indexed, err := reindexer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, indexed)
	assert.Equal(t, 7, vectorStore.Len())
	assert.Contains(t, out.String(), "Reindexing 7 records")
}

func TestRunSkipsRecordsWithoutText(t *testing.T) {
	store := seedStore(t, 2)
	ctx := context.Background()
	_, err := store.AddRecord(ctx, &core.FeedbackRecord{
		StudentID: "S9", TeacherName: "T1", Category: "math", Rating: 3,
	})
	require.NoError(t, err)

	vectorStore := vector.NewStore(mock.NewMockEmbedder(), 384)
	defer vectorStore.Close()

	var out bytes.Buffer
	reindexer, err := NewReindexer(store, vectorStore, nil, &out)
	require.NoError(t, err)

	indexed, err := reindexer.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, indexed)
	assert.Equal(t, 2, vectorStore.Len())
}

func TestRunOnEmptyStore(t *testing.T) {
	store := seedStore(t, 0)
	vectorStore := vector.NewStore(mock.NewMockEmbedder(), 384)
	defer vectorStore.Close()

	var out bytes.Buffer
	reindexer, err := NewReindexer(store, vectorStore, nil, &out)
	require.NoError(t, err)

	indexed, err := reindexer.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, indexed)
	assert.Contains(t, out.String(), "No records to index")
}

func TestRunIsIdempotent(t *testing.T) {
	store := seedStore(t, 4)
	vectorStore := vector.NewStore(mock.NewMockEmbedder(), 384)
	defer vectorStore.Close()

	var out bytes.Buffer
	reindexer, err := NewReindexer(store, vectorStore, nil, &out)
	require.NoError(t, err)

	_, err = reindexer.Run(context.Background())
	require.NoError(t, err)
	_, err = reindexer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, vectorStore.Len())
}

func TestNewReindexerRequiresDependencies(t *testing.T) {
	store := seedStore(t, 0)
	vectorStore := vector.NewStore(mock.NewMockEmbedder(), 384)
	defer vectorStore.Close()

	_, err := NewReindexer(nil, vectorStore, nil, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrSourceRequired)
	_, err = NewReindexer(store, nil, nil, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrVectorStoreRequired)
}

// flakyAdapter fails a fixed number of times before accepting.
type flakyAdapter struct {
	target   core.TargetStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (a *flakyAdapter) Target() core.TargetStore              { return a.target }
func (a *flakyAdapter) Provision(ctx context.Context) error   { return nil }
func (a *flakyAdapter) HealthCheck(ctx context.Context) error { return nil }
func (a *flakyAdapter) Close() error                          { return nil }

func (a *flakyAdapter) Upsert(ctx context.Context, recordID core.ID, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.calls <= a.failures {
		return stores.Transient(a.target, errors.New("upstream hiccup"))
	}
	return nil
}

func TestRunRetriesTransientFailures(t *testing.T) {
	store := seedStore(t, 1)
	adapter := &flakyAdapter{target: core.TargetVector, failures: 2}

	var out bytes.Buffer
	reindexer, err := NewReindexer(store, adapter, &Config{
		BatchSize:      10,
		ReportInterval: 10,
		MaxRetries:     3,
		RetryDelay:     time.Millisecond,
	}, &out)
	require.NoError(t, err)

	indexed, err := reindexer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, indexed)
	assert.Equal(t, 3, adapter.calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), func() error {
		calls++
		return stores.Permanent(core.TargetVector, errors.New("bad payload"))
	}, 5, time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryRejectsZeroAttempts(t *testing.T) {
	err := retryWithBackoff(context.Background(), func() error { return nil }, 0, time.Millisecond)
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}
