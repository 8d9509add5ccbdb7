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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/crossfeed/api"
	"github.com/poiesic/crossfeed/reconcile"
	"github.com/poiesic/crossfeed/reindex"
)

func serveCommand(c *cli.Context) error {
	a, err := buildApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	// Sweep interval comes from the flag; rebuild the reconciler with it.
	a.reconciler, err = reconcile.NewReconciler(a.store, a.store, a.pipeline,
		reconcile.WithSweepInterval(c.Duration("sweep-interval")))
	if err != nil {
		return fmt.Errorf("building reconciler: %w", err)
	}

	// The vector index is process-local; rebuild it before serving.
	reindexer, err := reindex.NewReindexer(a.store, a.vectorStore, nil, os.Stderr)
	if err != nil {
		return fmt.Errorf("building reindexer: %w", err)
	}
	indexed, err := reindexer.Run(c.Context)
	if err != nil {
		return fmt.Errorf("rebuilding vector index: %w", err)
	}
	slog.Info("vector index rebuilt", "records", indexed)

	a.pool.Start()
	a.reconciler.Start()
	defer a.reconciler.Stop()

	handler := api.NewHandler(api.Deps{
		Pipeline:    a.pipeline,
		Pool:        a.pool,
		Coordinator: a.coordinator,
		Reconciler:  a.reconciler,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", c.Int("port")),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
