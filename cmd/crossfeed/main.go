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

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/reindex"
	"github.com/poiesic/crossfeed/stores/search"
)

func main() {
	app := &cli.App{
		Name:  "crossfeed",
		Usage: "Multi-store ingestion and federated query for student feedback",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server with the worker pool and reconciler",
				Action: serveCommand,
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Usage:   "HTTP listen port",
						Value:   8410,
					},
					&cli.DurationFlag{
						Name:  "sweep-interval",
						Usage: "How often expired task claims are requeued",
						Value: 15 * time.Second,
					},
				}, storeFlags...),
			},
			{
				Name:   "ingest",
				Usage:  "Ingest one feedback record and wait for fan-out",
				Action: ingestCommand,
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "student", Usage: "Student identifier", Required: true},
					&cli.StringFlag{Name: "teacher", Usage: "Teacher name", Required: true},
					&cli.StringFlag{Name: "category", Usage: "Feedback category", Required: true},
					&cli.IntFlag{Name: "rating", Usage: "Rating from 1 to 5", Required: true},
					&cli.StringFlag{Name: "text", Usage: "Open feedback text"},
				}, storeFlags...),
			},
			{
				Name:      "batch",
				Usage:     "Ingest a JSON file of feedback records as one batch",
				ArgsUsage: "<records.json>",
				Action:    batchCommand,
				Flags:     storeFlags,
			},
			{
				Name:   "search",
				Usage:  "Run a filtered full-text query against the search store",
				Action: searchCommand,
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "text", Usage: "Query text"},
					&cli.StringFlag{Name: "student", Usage: "Filter by student"},
					&cli.StringFlag{Name: "category", Usage: "Filter by category"},
					&cli.IntFlag{Name: "min-rating", Usage: "Minimum rating"},
					&cli.IntFlag{Name: "limit", Usage: "Result cap", Value: 20},
				}, storeFlags...),
			},
			{
				Name:   "reindex",
				Usage:  "Rebuild the vector index from the system of record",
				Action: reindexCommand,
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of records to read per page",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N records",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts per record",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				}, storeFlags...),
			},
			{
				Name:   "report",
				Usage:  "Print failed fan-out lanes grouped by store and error class",
				Action: reportCommand,
				Flags:  storeFlags,
			},
			{
				Name:   "repair",
				Usage:  "Requeue records with failed fan-out lanes and drain them",
				Action: repairCommand,
				Flags:  storeFlags,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func ingestCommand(c *cli.Context) error {
	a, err := buildApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	record := &core.FeedbackRecord{
		StudentID:   c.String("student"),
		TeacherName: c.String("teacher"),
		Category:    c.String("category"),
		Rating:      c.Int("rating"),
		OpenText:    c.String("text"),
	}

	result, err := a.pipeline.ProcessBatch(c.Context, a.pool, []*core.FeedbackRecord{record})
	if err != nil {
		return fmt.Errorf("ingesting record: %w", err)
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("record %d has failed fan-out lanes, run 'crossfeed report'", result.Failed[0])
	}

	fmt.Fprintf(os.Stderr, "Record %d ingested and propagated\n", result.Processed[0])
	return nil
}

func batchCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one argument: path to a JSON file of records")
	}

	data, err := os.ReadFile(c.Args().First())
	if err != nil {
		return fmt.Errorf("reading batch file: %w", err)
	}
	var records []*core.FeedbackRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parsing batch file: %w", err)
	}

	a, err := buildApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.pipeline.ProcessBatch(c.Context, a.pool, records)
	if err != nil {
		return fmt.Errorf("processing batch: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Batch %s: %d ingested, %d processed, %d failed\n",
		result.BatchID, len(result.Ingested), len(result.Processed), len(result.Failed))
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d records have failed fan-out lanes", len(result.Failed))
	}
	return nil
}

func searchCommand(c *cli.Context) error {
	a, err := buildApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	q := search.Query{
		Text:      c.String("text"),
		Equals:    map[string]string{},
		MinRating: c.Int("min-rating"),
		Limit:     c.Int("limit"),
	}
	if v := c.String("student"); v != "" {
		q.Equals["student_id"] = v
	}
	if v := c.String("category"); v != "" {
		q.Equals["category"] = v
	}

	results, err := a.coordinator.Search(c.Context, q)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	for _, r := range results {
		fmt.Printf("%6.3f  #%d  %s/%s  %s(%d)  %s\n",
			r.Score, r.Document.RecordID, r.Document.StudentID, r.Document.TeacherName,
			r.Document.Category, r.Document.Rating, r.Document.OpenText)
	}
	fmt.Fprintf(os.Stderr, "%d results\n", len(results))
	return nil
}

func reindexCommand(c *cli.Context) error {
	a, err := buildApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	config := &reindex.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}
	if config.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if config.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	reindexer, err := reindex.NewReindexer(a.store, a.vectorStore, config, os.Stderr)
	if err != nil {
		return fmt.Errorf("building reindexer: %w", err)
	}

	indexed, err := reindexer.Run(c.Context)
	if err != nil {
		return fmt.Errorf("reindexing failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "%d records indexed\n", indexed)
	return nil
}

func reportCommand(c *cli.Context) error {
	a, err := buildApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.reconciler.Report(c.Context)
	if err != nil {
		return fmt.Errorf("building report: %w", err)
	}

	if report.Total == 0 {
		fmt.Fprintln(os.Stderr, "No failed lanes")
		return nil
	}
	for target, byClass := range report.Failed {
		for class, count := range byClass {
			fmt.Printf("%-8s %-10s %d\n", target, class, count)
		}
	}
	fmt.Fprintf(os.Stderr, "%d failed lanes total\n", report.Total)
	return nil
}

func repairCommand(c *cli.Context) error {
	a, err := buildApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.reconciler.Sweep(c.Context); err != nil {
		return fmt.Errorf("sweeping expired claims: %w", err)
	}
	repaired, err := a.reconciler.Repair(c.Context)
	if err != nil {
		return fmt.Errorf("repairing failed lanes: %w", err)
	}
	if err := a.pool.Drain(c.Context); err != nil {
		return fmt.Errorf("draining requeued tasks: %w", err)
	}

	fmt.Fprintf(os.Stderr, "%d records requeued and drained\n", repaired)
	return nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
