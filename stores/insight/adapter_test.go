package insight

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/stores"
	"github.com/poiesic/crossfeed/stores/badgerdb"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	backend, err := badgerdb.OpenBackend("", true)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	store := NewStore(backend)
	require.NoError(t, store.Provision(context.Background()))
	return store
}

func mustPayload(t *testing.T, fact core.InsightFact) []byte {
	t.Helper()
	data, err := json.Marshal(fact)
	require.NoError(t, err)
	return data
}

func sampleFact(id core.ID, createdAt time.Time) core.InsightFact {
	return core.InsightFact{
		RecordID:  id,
		StudentID: "S1",
		Sentiment: "positive",
		Theme:     "reading",
		Summary:   "Strong progress in reading.",
		CreatedAt: createdAt,
	}
}

func TestUpsertBeforeProvisionIsNotReady(t *testing.T) {
	backend, err := badgerdb.OpenBackend("", true)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	store := NewStore(backend)
	err = store.Upsert(context.Background(), 1, mustPayload(t, sampleFact(1, time.Now())))
	require.Error(t, err)
	assert.Equal(t, stores.ClassNotReady, stores.ClassOf(err))
}

func TestUpsertRejectsMalformedFact(t *testing.T) {
	store := newTestStore(t)

	err := store.Upsert(context.Background(), 1, []byte("{broken"))
	require.Error(t, err)
	assert.Equal(t, stores.ClassPermanent, stores.ClassOf(err))

	fact := sampleFact(1, time.Now())
	fact.StudentID = ""
	err = store.Upsert(context.Background(), 1, mustPayload(t, fact))
	require.Error(t, err)
	assert.Equal(t, stores.ClassPermanent, stores.ClassOf(err))
}

func TestRecentNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		fact := sampleFact(core.ID(i), base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, store.Upsert(ctx, core.ID(i), mustPayload(t, fact)))
	}

	facts, err := store.Recent(ctx, "S1", 10)
	require.NoError(t, err)
	require.Len(t, facts, 3)
	assert.Equal(t, core.ID(3), facts[0].RecordID)
	assert.Equal(t, core.ID(2), facts[1].RecordID)
	assert.Equal(t, core.ID(1), facts[2].RecordID)

	facts, err = store.Recent(ctx, "S1", 2)
	require.NoError(t, err)
	assert.Len(t, facts, 2)

	// Unknown students have no facts, not an error.
	facts, err = store.Recent(ctx, "S999", 10)
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestUpsertIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	payload := mustPayload(t, sampleFact(1, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))
	require.NoError(t, store.Upsert(ctx, 1, payload))
	require.NoError(t, store.Upsert(ctx, 1, payload))

	facts, err := store.Recent(ctx, "S1", 10)
	require.NoError(t, err)
	assert.Len(t, facts, 1, "redelivery must not duplicate facts")
}

func TestSummarize(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sentiments := []string{"positive", "positive", "negative"}
	themes := []string{"reading", "reading", "math"}
	for i, sentiment := range sentiments {
		fact := sampleFact(core.ID(i+1), base.Add(time.Duration(i)*time.Hour))
		fact.Sentiment = sentiment
		fact.Theme = themes[i]
		require.NoError(t, store.Upsert(ctx, core.ID(i+1), mustPayload(t, fact)))
	}

	summary, err := store.Summarize(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalFacts)
	assert.Equal(t, 2, summary.SentimentCount["positive"])
	assert.Equal(t, 1, summary.SentimentCount["negative"])
	require.Len(t, summary.TopThemes, 2)
	assert.Equal(t, ThemeCount{Theme: "reading", Count: 2}, summary.TopThemes[0])
	assert.Equal(t, ThemeCount{Theme: "math", Count: 1}, summary.TopThemes[1])
}
