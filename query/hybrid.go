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
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/stores/search"
)

const (
	defaultLexicalWeight  = float32(0.4)
	defaultSemanticWeight = float32(0.6)
)

// HybridQuery combines lexical search with semantic similarity.
type HybridQuery struct {
	// Text is matched both lexically and semantically.
	Text string

	// Equals filters on exact field values, same fields as search.Query.
	Equals map[string]string

	// MinRating and MaxRating bound the rating. Zero means unbounded.
	MinRating int
	MaxRating int

	// From and To bound the record timestamp. Zero means unbounded.
	From time.Time
	To   time.Time

	// K caps the number of merged results. Zero means 10.
	K int

	// LexicalWeight and SemanticWeight blend the two scores. Both zero
	// means the 0.4/0.6 defaults.
	LexicalWeight  float32
	SemanticWeight float32
}

// HybridResponse carries merged hits. Degraded is set when the semantic
// side was unavailable and only lexical scores contributed.
type HybridResponse struct {
	Hits     []*Hit `json:"hits"`
	Degraded bool   `json:"degraded"`
}

// Hybrid runs the lexical and semantic sides in parallel and merges
// their scores. A lexical failure fails the query; a semantic failure
// only degrades it. Structured filters apply to both sides: semantic
// hits are checked against the hydrated record.
func (c *Coordinator) Hybrid(ctx context.Context, q HybridQuery) (*HybridResponse, error) {
	if q.Text == "" {
		return nil, ErrEmptyQuery
	}
	if q.K <= 0 {
		q.K = 10
	}
	if q.LexicalWeight == 0 && q.SemanticWeight == 0 {
		q.LexicalWeight = defaultLexicalWeight
		q.SemanticWeight = defaultSemanticWeight
	}

	var (
		lexical  []*search.Result
		semantic []*Hit
		mu       sync.Mutex
		degraded bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		results, err := c.search.Search(gctx, search.Query{
			Text:      q.Text,
			Equals:    q.Equals,
			MinRating: q.MinRating,
			MaxRating: q.MaxRating,
			From:      q.From,
			To:        q.To,
		})
		if err != nil {
			return err
		}
		lexical = results
		return nil
	})
	g.Go(func() error {
		if c.vector == nil {
			mu.Lock()
			degraded = true
			mu.Unlock()
			return nil
		}
		results, err := c.vector.Query(gctx, q.Text, q.K*2, 0)
		if err != nil {
			c.logger.Warn("semantic side unavailable", "error", err)
			mu.Lock()
			degraded = true
			mu.Unlock()
			return nil
		}
		hits := make([]*Hit, 0, len(results))
		for _, r := range results {
			hits = append(hits, c.hydrate(gctx, r.RecordID, r.Similarity))
		}
		semantic = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[core.ID]*Hit)
	for _, r := range lexical {
		hit := c.hydrate(ctx, r.Document.RecordID, 0)
		hit.Score = q.LexicalWeight * r.Score
		merged[hit.RecordID] = hit
	}
	for _, sh := range semantic {
		if !c.matchesFilters(sh.Record, q) {
			continue
		}
		if existing, ok := merged[sh.RecordID]; ok {
			existing.Score += q.SemanticWeight * sh.Score
		} else {
			sh.Score = q.SemanticWeight * sh.Score
			merged[sh.RecordID] = sh
		}
	}

	hits := make([]*Hit, 0, len(merged))
	for _, hit := range merged {
		hits = append(hits, hit)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].RecordID < hits[j].RecordID
	})
	if len(hits) > q.K {
		hits = hits[:q.K]
	}
	return &HybridResponse{Hits: hits, Degraded: degraded}, nil
}

// matchesFilters applies the structured filters to a hydrated record.
// Semantic hits that could not be hydrated pass only a filter-free query.
func (c *Coordinator) matchesFilters(record *core.FeedbackRecord, q HybridQuery) bool {
	hasFilters := len(q.Equals) > 0 || q.MinRating > 0 || q.MaxRating > 0 || !q.From.IsZero() || !q.To.IsZero()
	if record == nil {
		return !hasFilters
	}
	for field, want := range q.Equals {
		var got string
		switch field {
		case "student_id":
			got = record.StudentID
		case "teacher_name":
			got = record.TeacherName
		case "category":
			got = record.Category
		case "sentiment":
			if record.Derived != nil {
				got = record.Derived.Sentiment
			}
		default:
			return false
		}
		if got != want {
			return false
		}
	}
	if q.MinRating > 0 && record.Rating < q.MinRating {
		return false
	}
	if q.MaxRating > 0 && record.Rating > q.MaxRating {
		return false
	}
	if !q.From.IsZero() && record.CreatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && record.CreatedAt.After(q.To) {
		return false
	}
	return true
}
