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


package fanout

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/storage"
	"github.com/poiesic/crossfeed/stores"
)

const (
	defaultVisibility   = 30 * time.Second
	defaultCallTimeout  = 10 * time.Second
	defaultPollInterval = 250 * time.Millisecond
	defaultBatchSize    = 32
)

// Pool executes ledger tasks against the store adapters. Workers claim
// due tasks, apply the corresponding adapter, and record the outcome; a
// task is only ever worked on by the worker that won its claim.
type Pool struct {
	ledger       storage.TaskLedger
	adapters     map[core.TargetStore]stores.Adapter
	workers      *ants.Pool
	visibility   time.Duration
	callTimeout  time.Duration
	pollInterval time.Duration
	batchSize    int
	logger       *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// PoolOption configures a Pool.
type PoolOption func(*Pool) error

// WithPoolSize sets the worker pool size for concurrent task execution.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) PoolOption {
	return func(p *Pool) error {
		if size < 1 {
			size = 1
		}
		if p.workers != nil {
			p.workers.Release()
		}
		workers, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.workers = workers
		return nil
	}
}

// WithVisibility sets the claim visibility timeout. A worker that does
// not finish within it loses the task to the reconciliation sweeper.
func WithVisibility(visibility time.Duration) PoolOption {
	return func(p *Pool) error {
		if visibility > 0 {
			p.visibility = visibility
		}
		return nil
	}
}

// WithCallTimeout bounds each adapter call.
func WithCallTimeout(timeout time.Duration) PoolOption {
	return func(p *Pool) error {
		if timeout > 0 {
			p.callTimeout = timeout
		}
		return nil
	}
}

// WithPollInterval sets how often the dispatcher polls for due tasks.
func WithPollInterval(interval time.Duration) PoolOption {
	return func(p *Pool) error {
		if interval > 0 {
			p.pollInterval = interval
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPool creates a worker pool over the ledger and adapters.
func NewPool(ledger storage.TaskLedger, adapters []stores.Adapter, opts ...PoolOption) (*Pool, error) {
	if ledger == nil {
		return nil, ErrLedgerRequired
	}
	if len(adapters) == 0 {
		return nil, ErrNoAdapters
	}

	byTarget := make(map[core.TargetStore]stores.Adapter, len(adapters))
	for _, adapter := range adapters {
		if _, ok := byTarget[adapter.Target()]; ok {
			return nil, ErrDuplicateAdapter
		}
		byTarget[adapter.Target()] = adapter
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	workers, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		ledger:       ledger,
		adapters:     byTarget,
		workers:      workers,
		visibility:   defaultVisibility,
		callTimeout:  defaultCallTimeout,
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		logger:       slog.Default().With("component", "fanout-pool"),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			p.workers.Release()
			return nil, err
		}
	}
	return p, nil
}

// Start launches the polling dispatcher. Call Stop to shut it down.
func (p *Pool) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				if err := p.dispatchDue(context.Background()); err != nil {
					p.logger.Error("error dispatching due tasks", "err", err)
				}
			}
		}
	}()
	p.logger.Info("fan-out pool started", "workers", p.workers.Cap())
}

// Stop shuts down the dispatcher and waits for in-flight work.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
	p.workers.Release()
}

// dispatchDue submits every currently due task to the workers.
func (p *Pool) dispatchDue(ctx context.Context) error {
	due, err := p.ledger.NextDue(ctx, time.Now().UTC(), p.batchSize)
	if err != nil {
		return err
	}
	for _, task := range due {
		recordID, target := task.RecordID, task.Target
		if err := p.workers.Submit(func() {
			p.execute(context.Background(), recordID, target)
		}); err != nil {
			return err
		}
	}
	return nil
}

// Drain synchronously executes due tasks until none remain due. Tasks
// rescheduled with backoff stay pending for the sweeper; Drain does not
// wait for their next attempt.
func (p *Pool) Drain(ctx context.Context) error {
	for {
		due, err := p.ledger.NextDue(ctx, time.Now().UTC(), p.batchSize)
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}
		for _, task := range due {
			p.execute(ctx, task.RecordID, task.Target)
		}
	}
}

// execute claims and runs one task, then records the outcome.
func (p *Pool) execute(ctx context.Context, recordID core.ID, target core.TargetStore) {
	task, err := p.ledger.Claim(ctx, recordID, target, p.visibility)
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyClaimed) || errors.Is(err, storage.ErrNotFound) {
			return
		}
		p.logger.Error("error claiming task", "record_id", recordID, "store", target, "err", err)
		return
	}

	adapter, ok := p.adapters[target]
	if !ok {
		// A lane nothing serves fails terminally rather than spinning.
		p.fail(ctx, recordID, target, ErrUnknownAdapter, stores.ClassPermanent)
		return
	}

	err = p.upsert(ctx, adapter, task)
	if err == nil {
		if err := p.ledger.MarkSucceeded(ctx, recordID, target); err != nil {
			p.logger.Error("error marking task succeeded", "record_id", recordID, "store", target, "err", err)
		}
		return
	}

	class := stores.ClassOf(err)
	if class == stores.ClassNotReady {
		// Provision on demand and give the write one immediate retry.
		if provErr := adapter.Provision(ctx); provErr != nil {
			p.fail(ctx, recordID, target, provErr, stores.ClassOf(provErr))
			return
		}
		err = p.upsert(ctx, adapter, task)
		if err == nil {
			if err := p.ledger.MarkSucceeded(ctx, recordID, target); err != nil {
				p.logger.Error("error marking task succeeded", "record_id", recordID, "store", target, "err", err)
			}
			return
		}
		class = stores.ClassOf(err)
	}

	p.fail(ctx, recordID, target, err, class)
}

func (p *Pool) upsert(ctx context.Context, adapter stores.Adapter, task *storage.TaskRecord) error {
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	return adapter.Upsert(callCtx, task.RecordID, task.Payload)
}

func (p *Pool) fail(ctx context.Context, recordID core.ID, target core.TargetStore, cause error, class stores.ErrorClass) {
	permanent := class == stores.ClassPermanent
	if err := p.ledger.MarkFailed(ctx, recordID, target, cause, string(class), permanent); err != nil {
		p.logger.Error("error marking task failed", "record_id", recordID, "store", target, "err", err)
		return
	}
	p.logger.Warn("task attempt failed",
		"record_id", recordID, "store", target, "class", class, "err", cause)
}
