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

package query

import (
	"context"
	"log/slog"

	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/storage"
	"github.com/poiesic/crossfeed/stores/graph"
	"github.com/poiesic/crossfeed/stores/insight"
	"github.com/poiesic/crossfeed/stores/search"
	"github.com/poiesic/crossfeed/stores/vector"
)

// Coordinator federates reads across the specialized stores. The search
// store is the only hard dependency for querying; the vector, graph and
// insight stores are optional, and queries that would use a missing or
// unhealthy store degrade rather than fail.
type Coordinator struct {
	records storage.RecordStore
	search  *search.Store
	vector  *vector.Store
	graph   *graph.Store
	insight *insight.Store
	logger  *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator) error

// WithVectorStore attaches the vector store for semantic queries.
func WithVectorStore(s *vector.Store) Option {
	return func(c *Coordinator) error {
		c.vector = s
		return nil
	}
}

// WithGraphStore attaches the graph store for neighborhood queries.
func WithGraphStore(s *graph.Store) Option {
	return func(c *Coordinator) error {
		c.graph = s
		return nil
	}
}

// WithInsightStore attaches the insight store for per-student facts.
func WithInsightStore(s *insight.Store) Option {
	return func(c *Coordinator) error {
		c.insight = s
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) error {
		if logger != nil {
			c.logger = logger.With("component", "query")
		}
		return nil
	}
}

// NewCoordinator creates a query coordinator. The record store and the
// search store are required; attach the rest with options.
func NewCoordinator(records storage.RecordStore, searchStore *search.Store, opts ...Option) (*Coordinator, error) {
	if records == nil {
		return nil, ErrRecordStoreRequired
	}
	if searchStore == nil {
		return nil, ErrSearchStoreRequired
	}

	c := &Coordinator{
		records: records,
		search:  searchStore,
		logger:  slog.Default().With("component", "query"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Search runs a filtered full-text query against the search store.
func (c *Coordinator) Search(ctx context.Context, q search.Query) ([]*search.Result, error) {
	if q.Text == "" && len(q.Equals) == 0 && q.MinRating == 0 && q.MaxRating == 0 && q.From.IsZero() && q.To.IsZero() {
		return nil, ErrEmptyQuery
	}
	return c.search.Search(ctx, q)
}

// SemanticResponse carries semantic search hits. Degraded is set when
// the vector store was unavailable and the hits came from a lexical
// fallback query instead.
type SemanticResponse struct {
	Hits     []*Hit `json:"hits"`
	Degraded bool   `json:"degraded"`
}

// Hit is one federated query result. Score is cosine similarity for
// vector hits and the lexical match score for search hits; Record is
// hydrated from the system of record when available.
type Hit struct {
	RecordID core.ID              `json:"record_id"`
	Score    float32              `json:"score"`
	Record   *core.FeedbackRecord `json:"record,omitempty"`
}

// SemanticSearch finds records semantically similar to the query text.
// When the vector store is absent or the query fails, it degrades to a
// lexical search over the same text instead of returning an error.
func (c *Coordinator) SemanticSearch(ctx context.Context, text string, k int, minSimilarity float32) (*SemanticResponse, error) {
	if text == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = 10
	}

	if c.vector != nil {
		results, err := c.vector.Query(ctx, text, k, minSimilarity)
		if err == nil {
			hits := make([]*Hit, 0, len(results))
			for _, r := range results {
				hits = append(hits, c.hydrate(ctx, r.RecordID, r.Similarity))
			}
			return &SemanticResponse{Hits: hits}, nil
		}
		c.logger.Warn("vector query failed, falling back to lexical search", "error", err)
	}

	results, err := c.search.Search(ctx, search.Query{Text: text, Limit: k})
	if err != nil {
		return nil, err
	}
	hits := make([]*Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, c.hydrate(ctx, r.Document.RecordID, r.Score))
	}
	return &SemanticResponse{Hits: hits, Degraded: true}, nil
}

// Neighborhood returns the graph around one entity out to depth hops.
// Any node kind works as the start: students, teachers, categories and
// feedback records all share the graph's hashed ID space.
func (c *Coordinator) Neighborhood(ctx context.Context, kind core.NodeKind, key string, depth int) (*graph.Subgraph, error) {
	if key == "" {
		return nil, ErrEntityRequired
	}
	if _, err := core.ParseNodeKind(string(kind)); err != nil {
		return nil, err
	}
	if c.graph == nil {
		return &graph.Subgraph{}, nil
	}
	return c.graph.Neighborhood(ctx, core.NodeIDFor(kind, key), depth)
}

// StudentFeedback returns a student's committed records, newest first,
// straight from the system of record.
func (c *Coordinator) StudentFeedback(ctx context.Context, studentID string, limit int) ([]*core.FeedbackRecord, error) {
	if studentID == "" {
		return nil, ErrStudentRequired
	}
	if limit <= 0 {
		limit = 50
	}
	return c.records.RecordsByStudent(ctx, studentID, limit)
}

// StudentInsights returns a student's recent facts and their summary.
func (c *Coordinator) StudentInsights(ctx context.Context, studentID string, limit int) ([]*core.InsightFact, *insight.Summary, error) {
	if studentID == "" {
		return nil, nil, ErrStudentRequired
	}
	if c.insight == nil {
		return nil, &insight.Summary{StudentID: studentID}, nil
	}

	facts, err := c.insight.Recent(ctx, studentID, limit)
	if err != nil {
		return nil, nil, err
	}
	summary, err := c.insight.Summarize(ctx, studentID)
	if err != nil {
		return nil, nil, err
	}
	return facts, summary, nil
}

// hydrate attaches the full record to a hit. A missing record is not an
// error: the stores are eventually consistent with the system of record.
func (c *Coordinator) hydrate(ctx context.Context, id core.ID, score float32) *Hit {
	hit := &Hit{RecordID: id, Score: score}
	record, err := c.records.GetRecord(ctx, id)
	if err == nil {
		hit.Record = record
	}
	return hit
}
