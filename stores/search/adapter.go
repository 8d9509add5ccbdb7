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


package search

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/stores"
	"github.com/poiesic/crossfeed/stores/badgerdb"
)

// Query describes a full-text search with optional structured filters.
// Zero-valued fields are ignored.
type Query struct {
	// Text is tokenized and matched against the inverted index.
	// All query terms must appear in a document for it to match.
	Text string

	// Equals filters on exact field values. Supported fields:
	// student_id, teacher_name, category, sentiment.
	Equals map[string]string

	// MinRating and MaxRating bound the rating. Zero means unbounded.
	MinRating int
	MaxRating int

	// From and To bound the record timestamp. Zero means unbounded.
	From time.Time
	To   time.Time

	// Limit caps the number of results. Zero means no cap.
	Limit int
}

// Result is one search hit with its match score.
type Result struct {
	Document *core.SearchDocument `json:"document"`
	Score    float32              `json:"score"`
}

// Store is the full-text search adapter backed by BadgerDB. Documents are
// stored as JSON alongside an inverted term index over their text fields.
type Store struct {
	backend *badgerdb.Backend
	logger  *slog.Logger
}

var _ stores.Adapter = (*Store)(nil)

// NewStore creates a search store on the given backend.
func NewStore(backend *badgerdb.Backend) *Store {
	return &Store{
		backend: backend,
		logger:  slog.Default().With("component", "search-store"),
	}
}

// Target identifies this adapter's ledger lane.
func (s *Store) Target() core.TargetStore {
	return core.TargetSearch
}

// Provision marks the index as ready for writes. Safe to call repeatedly.
func (s *Store) Provision(ctx context.Context) error {
	err := s.backend.Update(func(tx *badger.Txn) error {
		return tx.Set([]byte(provisionedKey), []byte("1"))
	})
	if err != nil {
		return stores.Transient(core.TargetSearch, err)
	}
	s.logger.Info("search index provisioned")
	return nil
}

// HealthCheck reports whether the index is reachable and provisioned.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.backend.IsClosed() {
		return stores.Transient(core.TargetSearch, errors.New("backend closed"))
	}
	provisioned := false
	err := s.backend.View(func(tx *badger.Txn) error {
		_, err := tx.Get([]byte(provisionedKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		provisioned = true
		return nil
	})
	if err != nil {
		return stores.Transient(core.TargetSearch, err)
	}
	if !provisioned {
		return stores.NotReady(core.TargetSearch, stores.ErrNotProvisioned)
	}
	return nil
}

// Upsert indexes one search document. Re-indexing the same record first
// removes its previous term postings, so stale terms never linger.
func (s *Store) Upsert(ctx context.Context, recordID core.ID, payload []byte) error {
	var doc core.SearchDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return stores.Permanent(core.TargetSearch, err)
	}
	if doc.RecordID != recordID {
		return stores.Permanent(core.TargetSearch,
			errors.New("payload record id does not match task record id"))
	}

	if err := s.HealthCheck(ctx); err != nil {
		return err
	}

	docKey := makeDocKey(recordID)
	newTerms := indexTerms(doc.OpenText, doc.TeacherName, doc.Category)

	err := s.backend.Update(func(tx *badger.Txn) error {
		// Drop the previous version's postings.
		item, err := tx.Get(docKey)
		if err == nil {
			var old core.SearchDocument
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &old)
			}); err != nil {
				return err
			}
			for _, term := range indexTerms(old.OpenText, old.TeacherName, old.Category) {
				if err := tx.Delete(makeTermKey(term, recordID)); err != nil {
					return err
				}
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := tx.Set(docKey, payload); err != nil {
			return err
		}
		for _, term := range newTerms {
			if err := tx.Set(makeTermKey(term, recordID), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// Commit conflicts resolve on redelivery.
		return stores.Transient(core.TargetSearch, err)
	}

	s.logger.Debug("indexed search document", "record_id", recordID, "terms", len(newTerms))
	return nil
}

// Close is a no-op; the shared backend is closed by its owner.
func (s *Store) Close() error {
	return nil
}

// Search executes a query against the index. With query text the match set
// comes from intersecting term posting lists; without it every document is
// considered. Structured filters are applied after the text match.
func (s *Store) Search(ctx context.Context, q Query) ([]*Result, error) {
	if err := s.HealthCheck(ctx); err != nil {
		return nil, err
	}

	terms := tokenizeAndFilter(q.Text)

	var results []*Result
	err := s.backend.View(func(tx *badger.Txn) error {
		var candidates []core.ID
		if len(terms) > 0 {
			ids, err := intersectPostings(tx, terms)
			if err != nil {
				return err
			}
			candidates = ids
		} else {
			ids, err := allDocIDs(tx)
			if err != nil {
				return err
			}
			candidates = ids
		}

		for _, id := range candidates {
			item, err := tx.Get(makeDocKey(id))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			var doc core.SearchDocument
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			}); err != nil {
				return err
			}
			if !matchesFilters(&doc, q) {
				continue
			}
			results = append(results, &Result{
				Document: &doc,
				Score:    scoreDocument(&doc, terms),
			})
		}
		return nil
	})
	if err != nil {
		return nil, stores.Transient(core.TargetSearch, err)
	}

	// Sort by score descending, newest first on ties.
	slices.SortFunc(results, func(a, b *Result) int {
		if a.Score != b.Score {
			if a.Score > b.Score {
				return -1
			}
			return 1
		}
		return b.Document.CreatedAt.Compare(a.Document.CreatedAt)
	})

	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

// intersectPostings returns record IDs present in every term's posting list.
func intersectPostings(tx *badger.Txn, terms []string) ([]core.ID, error) {
	var matched map[core.ID]bool
	for _, term := range terms {
		ids := make(map[core.ID]bool)

		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialTermKey(term)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		for iter.Rewind(); iter.Valid(); iter.Next() {
			id := recordIDFromTermKey(iter.Item().Key())
			if matched == nil || matched[id] {
				ids[id] = true
			}
		}
		iter.Close()

		matched = ids
		if len(matched) == 0 {
			return nil, nil
		}
	}

	out := make([]core.ID, 0, len(matched))
	for id := range matched {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func allDocIDs(tx *badger.Txn) ([]core.ID, error) {
	var ids []core.ID
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(docPrefix + ":")
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()
	for iter.Rewind(); iter.Valid(); iter.Next() {
		key := iter.Item().Key()
		ids = append(ids, core.ID(recordIDFromTermKey(key)))
	}
	return ids, nil
}

func matchesFilters(doc *core.SearchDocument, q Query) bool {
	for field, want := range q.Equals {
		var have string
		switch field {
		case "student_id":
			have = doc.StudentID
		case "teacher_name":
			have = doc.TeacherName
		case "category":
			have = doc.Category
		case "sentiment":
			have = doc.Sentiment
		default:
			return false
		}
		if have != want {
			return false
		}
	}
	if q.MinRating > 0 && doc.Rating < q.MinRating {
		return false
	}
	if q.MaxRating > 0 && doc.Rating > q.MaxRating {
		return false
	}
	if !q.From.IsZero() && doc.CreatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !doc.CreatedAt.Before(q.To) {
		return false
	}
	return true
}

// scoreDocument counts how many query terms appear in the document text,
// normalized by query length. Filter-only queries score 1.
func scoreDocument(doc *core.SearchDocument, terms []string) float32 {
	if len(terms) == 0 {
		return 1
	}
	docTerms := make(map[string]bool)
	for _, term := range indexTerms(doc.OpenText, doc.TeacherName, doc.Category) {
		docTerms[term] = true
	}
	var hits int
	for _, term := range terms {
		if docTerms[term] {
			hits++
		}
	}
	return float32(hits) / float32(len(terms))
}
