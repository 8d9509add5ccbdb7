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

package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/fanout"
	"github.com/poiesic/crossfeed/storage"
)

const (
	defaultSweepInterval = 15 * time.Second
	defaultRepairLimit   = 100
)

// Reconciler recovers stalled and failed fan-out work. It sweeps expired
// claims back to pending on an interval, reports failed_terminal counts,
// and requeues records whose lanes gave up.
type Reconciler struct {
	records  storage.RecordStore
	ledger   storage.TaskLedger
	pipeline *fanout.Pipeline

	sweepInterval time.Duration
	repairLimit   int
	logger        *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Reconciler.
type Option func(*Reconciler) error

// WithSweepInterval sets how often expired claims are requeued.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Reconciler) error {
		if d > 0 {
			r.sweepInterval = d
		}
		return nil
	}
}

// WithRepairLimit caps how many records a single Repair pass inspects.
func WithRepairLimit(n int) Option {
	return func(r *Reconciler) error {
		if n > 0 {
			r.repairLimit = n
		}
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) error {
		if logger != nil {
			r.logger = logger.With("component", "reconcile")
		}
		return nil
	}
}

// NewReconciler creates a reconciler over the given stores and pipeline.
func NewReconciler(records storage.RecordStore, ledger storage.TaskLedger, pipeline *fanout.Pipeline, opts ...Option) (*Reconciler, error) {
	if records == nil {
		return nil, ErrRecordStoreRequired
	}
	if ledger == nil {
		return nil, ErrLedgerRequired
	}
	if pipeline == nil {
		return nil, ErrPipelineRequired
	}

	r := &Reconciler{
		records:       records,
		ledger:        ledger,
		pipeline:      pipeline,
		sweepInterval: defaultSweepInterval,
		repairLimit:   defaultRepairLimit,
		logger:        slog.Default().With("component", "reconcile"),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Start launches the background sweep loop. Call Stop to shut it down.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()

		ctx := context.Background()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				if _, err := r.Sweep(ctx); err != nil {
					r.logger.Error("sweep failed", "error", err)
				}
			}
		}
	}()
	r.logger.Info("reconciler started", "sweep_interval", r.sweepInterval)
}

// Stop shuts down the background sweep loop and waits for it to exit.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

// Sweep requeues in_flight tasks whose claim deadline has passed.
// Expired claims count as a failed attempt, so a lane whose worker
// keeps dying still reaches failed_terminal eventually.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	n, err := r.ledger.RequeueExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Warn("requeued expired claims", "count", n)
	}
	return n, nil
}

// Report summarizes failed_terminal lanes grouped by store and error class.
type Report struct {
	GeneratedAt time.Time
	// Failed maps target store to error class to count.
	Failed map[core.TargetStore]map[string]int
	Total  int
}

// Report builds a failure summary from the ledger.
func (r *Reconciler) Report(ctx context.Context) (*Report, error) {
	counts, err := r.ledger.FailedCounts(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		GeneratedAt: time.Now().UTC(),
		Failed:      counts,
	}
	for _, byClass := range counts {
		for _, n := range byClass {
			report.Total += n
		}
	}
	return report, nil
}

// Repair scans unprocessed records and re-dispatches any that have a
// failed_terminal lane or are missing a mandatory lane altogether, such
// as a record committed without its ledger rows. Re-dispatch recomputes
// projections from the current record, so repaired lanes carry fresh
// payloads; records missing their derived fields get one more shot at
// enrichment first. Returns the number of records requeued.
func (r *Reconciler) Repair(ctx context.Context) (int, error) {
	candidates, err := r.records.UnprocessedRecords(ctx, r.repairLimit)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, record := range candidates {
		tasks, err := r.ledger.TasksForRecord(ctx, record.Id)
		if err != nil {
			return repaired, err
		}

		if !needsRepair(record, tasks) {
			continue
		}

		if err := r.pipeline.EnsureDerived(ctx, record); err != nil {
			r.logger.Warn("enrichment retry failed, requeueing without derived fields",
				"record_id", record.Id, "error", err)
		}
		if err := r.pipeline.Redispatch(ctx, record); err != nil {
			return repaired, err
		}
		repaired++
		r.logger.Info("record requeued", "record_id", record.Id)
	}
	return repaired, nil
}

func needsRepair(record *core.FeedbackRecord, tasks []*storage.TaskRecord) bool {
	present := make(map[core.TargetStore]bool, len(tasks))
	for _, task := range tasks {
		if task.Status == core.StatusFailedTerminal {
			return true
		}
		present[task.Target] = true
	}
	for _, target := range core.MandatoryStores {
		if !present[target] {
			return true
		}
	}
	return false
}
