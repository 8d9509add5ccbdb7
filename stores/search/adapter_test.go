package search

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

func mustPayload(t *testing.T, doc core.SearchDocument) []byte {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

func sampleDoc(id core.ID, text string) core.SearchDocument {
	return core.SearchDocument{
		RecordID:    id,
		StudentID:   "S1",
		TeacherName: "T1",
		Category:    "reading",
		Rating:      4,
		OpenText:    text,
		Sentiment:   "positive",
		CreatedAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestUpsertRejectsUnprovisionedStore(t *testing.T) {
	backend, err := badgerdb.OpenBackend("", true)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	store := NewStore(backend)
	err = store.Upsert(context.Background(), 1, mustPayload(t, sampleDoc(1, "great progress")))
	require.Error(t, err)
	assert.Equal(t, stores.ClassNotReady, stores.ClassOf(err))

	// After provisioning the same write succeeds.
	require.NoError(t, store.Provision(context.Background()))
	require.NoError(t, store.Upsert(context.Background(), 1, mustPayload(t, sampleDoc(1, "great progress"))))
}

func TestUpsertRejectsMalformedPayload(t *testing.T) {
	store := newTestStore(t)

	err := store.Upsert(context.Background(), 1, []byte("{not json"))
	require.Error(t, err)
	assert.Equal(t, stores.ClassPermanent, stores.ClassOf(err))

	err = store.Upsert(context.Background(), 2, mustPayload(t, sampleDoc(1, "mismatched")))
	require.Error(t, err)
	assert.Equal(t, stores.ClassPermanent, stores.ClassOf(err))
}

func TestSearchByText(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, 1, mustPayload(t, sampleDoc(1, "great progress in reading"))))
	require.NoError(t, store.Upsert(ctx, 2, mustPayload(t, sampleDoc(2, "struggles with fractions"))))

	results, err := store.Search(ctx, Query{Text: "great progress"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.ID(1), results[0].Document.RecordID)
	assert.Equal(t, float32(1), results[0].Score)

	// All query terms must match.
	results, err = store.Search(ctx, Query{Text: "great fractions"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchWithFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc1 := sampleDoc(1, "good work")
	doc2 := sampleDoc(2, "good work")
	doc2.StudentID = "S2"
	doc2.Rating = 2
	doc2.Sentiment = "negative"
	require.NoError(t, store.Upsert(ctx, 1, mustPayload(t, doc1)))
	require.NoError(t, store.Upsert(ctx, 2, mustPayload(t, doc2)))

	results, err := store.Search(ctx, Query{Equals: map[string]string{"student_id": "S2"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.ID(2), results[0].Document.RecordID)

	results, err = store.Search(ctx, Query{Text: "good work", MinRating: 3})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.ID(1), results[0].Document.RecordID)

	results, err = store.Search(ctx, Query{Equals: map[string]string{"sentiment": "negative"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.ID(2), results[0].Document.RecordID)
}

func TestUpsertIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	payload := mustPayload(t, sampleDoc(1, "great progress"))
	require.NoError(t, store.Upsert(ctx, 1, payload))
	require.NoError(t, store.Upsert(ctx, 1, payload))

	results, err := store.Search(ctx, Query{Text: "great"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestUpsertReplacesStaleTerms(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, 1, mustPayload(t, sampleDoc(1, "great progress"))))
	require.NoError(t, store.Upsert(ctx, 1, mustPayload(t, sampleDoc(1, "needs improvement"))))

	// Old terms no longer match.
	results, err := store.Search(ctx, Query{Text: "progress"})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = store.Search(ctx, Query{Text: "improvement"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.ID(1), results[0].Document.RecordID)
}

func TestSearchTimeRange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc1 := sampleDoc(1, "january note")
	doc1.CreatedAt = time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	doc2 := sampleDoc(2, "march note")
	doc2.CreatedAt = time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Upsert(ctx, 1, mustPayload(t, doc1)))
	require.NoError(t, store.Upsert(ctx, 2, mustPayload(t, doc2)))

	results, err := store.Search(ctx, Query{
		From: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.ID(2), results[0].Document.RecordID)
}

func TestTokenizeAndFilter(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"strips stop words", "the cat is on the mat", []string{"cat", "mat"}},
		{"lowercases and trims punctuation", "Great Progress!", []string{"great", "progress"}},
		{"empty input", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tokenizeAndFilter(tt.input))
		})
	}
}
