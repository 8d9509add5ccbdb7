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

package reindex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/dispatch"
	"github.com/poiesic/crossfeed/stores"
)

// Config holds configuration for a reindex run.
type Config struct {
	// BatchSize is the number of records read per page.
	BatchSize int

	// ReportInterval is how often to report progress (number of records).
	ReportInterval int

	// MaxRetries is the retry budget per record.
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Reindexer rebuilds the vector index from the system of record. The
// vector index lives in process memory, so every fresh process starts
// empty; a reindex run walks the record table and re-upserts the vector
// projection of every record that has open text.
type Reindexer struct {
	source   RecordSource
	vectors  stores.Adapter
	config   *Config
	progress io.Writer
	iterator *recordIterator
}

// NewReindexer creates a reindexer. progress is where progress output is
// written, typically os.Stderr.
func NewReindexer(source RecordSource, vectors stores.Adapter, config *Config, progress io.Writer) (*Reindexer, error) {
	if source == nil {
		return nil, ErrSourceRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if config == nil {
		config = DefaultConfig()
	}

	return &Reindexer{
		source:   source,
		vectors:  vectors,
		config:   config,
		progress: progress,
		iterator: newRecordIterator(source, config.BatchSize),
	}, nil
}

// Run executes the reindex. Records without open text are skipped.
// Returns the number of records indexed.
func (r *Reindexer) Run(ctx context.Context) (int, error) {
	total, err := r.source.CountRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	if total == 0 {
		fmt.Fprintf(r.progress, "No records to index\n")
		return 0, nil
	}

	if err := r.vectors.Provision(ctx); err != nil {
		return 0, fmt.Errorf("provisioning vector store: %w", err)
	}

	fmt.Fprintf(r.progress, "Reindexing %d records (batch size: %d)\n", total, r.config.BatchSize)
	tracker := newProgressTracker(r.progress, total, r.config.ReportInterval)

	indexed := 0
	err = r.iterator.forEach(ctx, func(records []*core.FeedbackRecord) error {
		for _, record := range records {
			if record.OpenText == "" {
				continue
			}

			payload, err := json.Marshal(dispatch.VectorPoint(record))
			if err != nil {
				return fmt.Errorf("marshaling vector point for record %d: %w", record.Id, err)
			}

			err = retryWithBackoff(ctx, func() error {
				return r.vectors.Upsert(ctx, record.Id, payload)
			}, r.config.MaxRetries, r.config.RetryDelay)
			if err != nil {
				return fmt.Errorf("indexing record %d: %w", record.Id, err)
			}
			indexed++
		}
		tracker.increment(len(records))
		return nil
	})
	if err != nil {
		return indexed, err
	}

	tracker.finish()
	return indexed, nil
}
