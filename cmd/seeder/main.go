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

// Seeder populates a crossfeed data directory with generated feedback
// records, for demos and local development.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"

	"github.com/poiesic/crossfeed/ai/mock"
	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/fanout"
	"github.com/poiesic/crossfeed/storage/sqlite"
	"github.com/poiesic/crossfeed/stores"
	"github.com/poiesic/crossfeed/stores/badgerdb"
	"github.com/poiesic/crossfeed/stores/graph"
	"github.com/poiesic/crossfeed/stores/insight"
	"github.com/poiesic/crossfeed/stores/search"
	"github.com/poiesic/crossfeed/stores/vector"
)

var students = []string{"S001", "S002", "S003", "S004", "S005", "S006", "S007", "S008"}

var teachers = []string{"Alvarez", "Bennett", "Chen", "Dubois", "Eriksen"}

var categories = []string{"reading", "math", "science", "writing", "behavior"}

var positiveNotes = []string{
	"great progress this term, consistently engaged",
	"excellent grasp of the new material",
	"improved focus and asks thoughtful questions",
	"works well with classmates and loves group projects",
	"homework is always complete and carefully done",
	"shows real enthusiasm for the subject",
}

var negativeNotes = []string{
	"struggles to stay focused during longer lessons",
	"falling behind on homework assignments",
	"finds the current material difficult and gets frustrated",
	"needs frequent reminders to participate",
	"poor test results this month, extra practice recommended",
}

var neutralNotes = []string{
	"steady performance, no major changes this term",
	"keeps up with the class at an even pace",
	"attendance is regular and participation is adequate",
	"completed the standard curriculum milestones",
}

var (
	dataDir   = flag.String("data-dir", "./crossfeed-data", "crossfeed data directory")
	count     = flag.Int("count", 50, "number of records to generate")
	seed      = flag.Int64("seed", 42, "random seed")
	batchSize = flag.Int("batch-size", 10, "records per batch")
	srcFile   = flag.String("src", "", "JSON file of records to ingest instead of generated ones")
)

func init() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))
	flag.Parse()
}

// generate produces deterministic sample records: ratings 4-5 carry
// positive notes, 1-2 negative ones, 3 neutral.
func generate(n int, rng *rand.Rand) []*core.FeedbackRecord {
	records := make([]*core.FeedbackRecord, 0, n)
	for i := 0; i < n; i++ {
		rating := 1 + rng.Intn(5)
		var note string
		switch {
		case rating >= 4:
			note = positiveNotes[rng.Intn(len(positiveNotes))]
		case rating <= 2:
			note = negativeNotes[rng.Intn(len(negativeNotes))]
		default:
			note = neutralNotes[rng.Intn(len(neutralNotes))]
		}

		records = append(records, &core.FeedbackRecord{
			StudentID:   students[rng.Intn(len(students))],
			TeacherName: teachers[rng.Intn(len(teachers))],
			Category:    categories[rng.Intn(len(categories))],
			Rating:      rating,
			OpenText:    note,
		})
	}
	return records
}

// recordsFromFile reads a JSON array of records, or JSON lines.
func recordsFromFile(filename string) ([]*core.FeedbackRecord, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var records []*core.FeedbackRecord
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}

	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record core.FeedbackRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("parsing line %q: %w", scanner.Text(), err)
		}
		records = append(records, &record)
	}
	return records, scanner.Err()
}

func run() error {
	ctx := context.Background()

	store, err := sqlite.Open(*dataDir + "/records")
	if err != nil {
		return fmt.Errorf("opening record store: %w", err)
	}
	defer store.Close()

	backend, err := badgerdb.OpenBackend(*dataDir+"/stores", false)
	if err != nil {
		return fmt.Errorf("opening store backend: %w", err)
	}
	defer backend.Close()

	vectorStore := vector.NewStore(mock.NewMockEmbedder(), 384)
	defer vectorStore.Close()

	pipeline, err := fanout.NewPipeline(store, store, fanout.WithEnricher(mock.NewMockEnricher()))
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	pool, err := fanout.NewPool(store, []stores.Adapter{
		search.NewStore(backend),
		vectorStore,
		graph.NewStore(backend),
		insight.NewStore(backend),
	})
	if err != nil {
		return fmt.Errorf("building worker pool: %w", err)
	}
	defer pool.Stop()

	var records []*core.FeedbackRecord
	if *srcFile != "" {
		records, err = recordsFromFile(*srcFile)
		if err != nil {
			return fmt.Errorf("reading seed file: %w", err)
		}
	} else {
		records = generate(*count, rand.New(rand.NewSource(*seed)))
	}

	for start := 0; start < len(records); start += *batchSize {
		end := start + *batchSize
		if end > len(records) {
			end = len(records)
		}
		result, err := pipeline.ProcessBatch(ctx, pool, records[start:end])
		if err != nil {
			return fmt.Errorf("processing batch: %w", err)
		}
		slog.Info("batch seeded",
			"batch_id", result.BatchID,
			"processed", len(result.Processed),
			"failed", len(result.Failed))
	}

	slog.Info("seeding complete", "records", len(records))
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("seeding failed", "error", err)
		os.Exit(1)
	}
}
