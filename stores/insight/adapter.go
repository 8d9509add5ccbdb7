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


package insight

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/stores"
	"github.com/poiesic/crossfeed/stores/badgerdb"
)

// Summary aggregates a student's insight facts.
type Summary struct {
	StudentID      string         `json:"student_id"`
	TotalFacts     int            `json:"total_facts"`
	SentimentCount map[string]int `json:"sentiment_count"`
	TopThemes      []ThemeCount   `json:"top_themes"`
}

// ThemeCount pairs a theme with the number of facts carrying it.
type ThemeCount struct {
	Theme string `json:"theme"`
	Count int    `json:"count"`
}

// Store is the insight adapter backed by BadgerDB. Facts are keyed by
// (student, inverted timestamp, record), so a per-student prefix scan
// yields newest-first order and redelivery of a task overwrites its own
// fact instead of appending a duplicate.
type Store struct {
	backend *badgerdb.Backend
	logger  *slog.Logger
}

var _ stores.Adapter = (*Store)(nil)

// NewStore creates an insight store on the given backend.
func NewStore(backend *badgerdb.Backend) *Store {
	return &Store{
		backend: backend,
		logger:  slog.Default().With("component", "insight-store"),
	}
}

// Target identifies this adapter's ledger lane.
func (s *Store) Target() core.TargetStore {
	return core.TargetInsight
}

// Provision marks the store as ready for writes. Safe to call repeatedly.
func (s *Store) Provision(ctx context.Context) error {
	err := s.backend.Update(func(tx *badger.Txn) error {
		return tx.Set([]byte(provisionedKey), []byte("1"))
	})
	if err != nil {
		return stores.Transient(core.TargetInsight, err)
	}
	s.logger.Info("insight store provisioned")
	return nil
}

// HealthCheck reports whether the store is reachable and provisioned.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.backend.IsClosed() {
		return stores.Transient(core.TargetInsight, errors.New("backend closed"))
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
		return stores.Transient(core.TargetInsight, err)
	}
	if !provisioned {
		return stores.NotReady(core.TargetInsight, stores.ErrNotProvisioned)
	}
	return nil
}

// Upsert writes one insight fact.
func (s *Store) Upsert(ctx context.Context, recordID core.ID, payload []byte) error {
	var fact core.InsightFact
	if err := json.Unmarshal(payload, &fact); err != nil {
		return stores.Permanent(core.TargetInsight, err)
	}
	if fact.RecordID != recordID {
		return stores.Permanent(core.TargetInsight,
			errors.New("payload record id does not match task record id"))
	}
	if fact.StudentID == "" {
		return stores.Permanent(core.TargetInsight, errors.New("fact without student id"))
	}

	if err := s.HealthCheck(ctx); err != nil {
		return err
	}

	key := makeFactKey(fact.StudentID, fact.CreatedAt, recordID)
	err := s.backend.Update(func(tx *badger.Txn) error {
		return tx.Set(key, payload)
	})
	if err != nil {
		return stores.Transient(core.TargetInsight, err)
	}

	s.logger.Debug("stored insight fact", "record_id", recordID, "student_id", fact.StudentID)
	return nil
}

// Close is a no-op; the shared backend is closed by its owner.
func (s *Store) Close() error {
	return nil
}

// Recent returns a student's insight facts, newest first.
func (s *Store) Recent(ctx context.Context, studentID string, limit int) ([]*core.InsightFact, error) {
	if err := s.HealthCheck(ctx); err != nil {
		return nil, err
	}

	var facts []*core.InsightFact
	err := s.backend.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialFactKey(studentID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if limit > 0 && len(facts) >= limit {
				break
			}
			var fact core.InsightFact
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &fact)
			})
			if err != nil {
				return err
			}
			facts = append(facts, &fact)
		}
		return nil
	})
	if err != nil {
		return nil, stores.Transient(core.TargetInsight, err)
	}
	return facts, nil
}

// Summarize aggregates a student's facts into sentiment counts and the
// most frequent themes with their counts, most frequent first.
func (s *Store) Summarize(ctx context.Context, studentID string) (*Summary, error) {
	facts, err := s.Recent(ctx, studentID, 0)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		StudentID:      studentID,
		TotalFacts:     len(facts),
		SentimentCount: make(map[string]int),
	}
	themeCount := make(map[string]int)
	for _, fact := range facts {
		if fact.Sentiment != "" {
			summary.SentimentCount[fact.Sentiment]++
		}
		if fact.Theme != "" {
			themeCount[fact.Theme]++
		}
	}

	themes := make([]ThemeCount, 0, len(themeCount))
	for theme, count := range themeCount {
		themes = append(themes, ThemeCount{Theme: theme, Count: count})
	}
	sort.Slice(themes, func(i, j int) bool {
		if themes[i].Count != themes[j].Count {
			return themes[i].Count > themes[j].Count
		}
		return themes[i].Theme < themes[j].Theme
	})
	if len(themes) > 5 {
		themes = themes[:5]
	}
	summary.TopThemes = themes

	return summary, nil
}
