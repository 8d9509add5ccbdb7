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


package vector

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/hupe1980/vecgo"

	"github.com/poiesic/crossfeed/ai"
	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/stores"
)

// Result is one semantic search hit.
type Result struct {
	RecordID   core.ID
	Text       string
	Similarity float32
}

// Store is the semantic search adapter backed by an in-process vecgo flat
// index with cosine distance. The index is created by Provision; writes
// before provisioning are classified not_ready.
type Store struct {
	mu       sync.Mutex
	index    *vecgo.Vecgo[core.ID]
	ids      map[core.ID]uint64
	embedder ai.Embedder
	dim      int
	logger   *slog.Logger
}

var _ stores.Adapter = (*Store)(nil)

// NewStore creates a vector store. The embedder fills in vectors for
// payloads that carry only text, and embeds query strings at search time.
func NewStore(embedder ai.Embedder, dim int) *Store {
	return &Store{
		ids:      make(map[core.ID]uint64),
		embedder: embedder,
		dim:      dim,
		logger:   slog.Default().With("component", "vector-store"),
	}
}

// Target identifies this adapter's ledger lane.
func (s *Store) Target() core.TargetStore {
	return core.TargetVector
}

// Provision builds the flat cosine index. Safe to call repeatedly; an
// existing index is kept.
func (s *Store) Provision(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index != nil {
		return nil
	}
	index, err := vecgo.Flat[core.ID](s.dim).Cosine().Build()
	if err != nil {
		return stores.Transient(core.TargetVector, err)
	}
	s.index = index
	s.logger.Info("vector index provisioned", "dimension", s.dim)
	return nil
}

// HealthCheck reports whether the index exists.
func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return stores.NotReady(core.TargetVector, stores.ErrNotProvisioned)
	}
	return nil
}

// Upsert inserts or replaces a record's embedding. Payloads without a
// vector are embedded from their text. Dimensionality mismatches are
// permanent: retrying the same payload can never fix them.
func (s *Store) Upsert(ctx context.Context, recordID core.ID, payload []byte) error {
	var point core.VectorPoint
	if err := json.Unmarshal(payload, &point); err != nil {
		return stores.Permanent(core.TargetVector, err)
	}
	if point.RecordID != recordID {
		return stores.Permanent(core.TargetVector,
			errors.New("payload record id does not match task record id"))
	}
	if len(point.Vector) == 0 && point.Text == "" {
		return stores.Permanent(core.TargetVector,
			errors.New("payload has neither vector nor text"))
	}

	vector := point.Vector
	if len(vector) == 0 {
		// Embedding service failures are retryable.
		embedded, err := s.embedder.EmbedText(ctx, point.Text)
		if err != nil {
			return stores.Transient(core.TargetVector, err)
		}
		vector = embedded
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return stores.NotReady(core.TargetVector, stores.ErrNotProvisioned)
	}

	item := vecgo.VectorWithData[core.ID]{
		Vector: vector,
		Data:   recordID,
	}

	if internalID, ok := s.ids[recordID]; ok {
		if err := s.index.Update(ctx, internalID, item); err != nil {
			return s.classify(err)
		}
		s.logger.Debug("updated vector point", "record_id", recordID)
		return nil
	}

	internalID, err := s.index.Insert(ctx, item)
	if err != nil {
		return s.classify(err)
	}
	s.ids[recordID] = internalID
	s.logger.Debug("inserted vector point", "record_id", recordID)
	return nil
}

// Close releases the index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return nil
	}
	err := s.index.Close()
	s.index = nil
	return err
}

// Query embeds the query text and returns the k nearest records with
// cosine similarity >= minSimilarity, best match first.
func (s *Store) Query(ctx context.Context, text string, k int, minSimilarity float32) ([]*Result, error) {
	if err := s.HealthCheck(ctx); err != nil {
		return nil, err
	}

	vector, err := s.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, stores.Transient(core.TargetVector, err)
	}
	return s.QueryVector(ctx, vector, k, minSimilarity)
}

// QueryVector is Query with a caller-supplied embedding.
func (s *Store) QueryVector(ctx context.Context, vector []float32, k int, minSimilarity float32) ([]*Result, error) {
	s.mu.Lock()
	index := s.index
	s.mu.Unlock()
	if index == nil {
		return nil, stores.NotReady(core.TargetVector, stores.ErrNotProvisioned)
	}

	hits, err := index.KNNSearch(ctx, vector, k)
	if err != nil {
		return nil, s.classify(err)
	}

	results := make([]*Result, 0, len(hits))
	for _, hit := range hits {
		// Cosine distance over normalized vectors is 2-2cos, so
		// similarity recovers as 1 - distance/2.
		similarity := 1 - hit.Distance/2
		if similarity < minSimilarity {
			continue
		}
		results = append(results, &Result{
			RecordID:   hit.Data,
			Similarity: similarity,
		})
	}
	return results, nil
}

// Len returns the number of indexed records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

func (s *Store) classify(err error) error {
	var dimErr *vecgo.ErrDimensionMismatch
	if errors.As(err, &dimErr) {
		return stores.Permanent(core.TargetVector, err)
	}
	return stores.Transient(core.TargetVector, err)
}
