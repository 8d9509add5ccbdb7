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
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/crossfeed/ai"
	aimock "github.com/poiesic/crossfeed/ai/mock"
	"github.com/poiesic/crossfeed/ai/openai"
	"github.com/poiesic/crossfeed/fanout"
	"github.com/poiesic/crossfeed/query"
	"github.com/poiesic/crossfeed/reconcile"
	"github.com/poiesic/crossfeed/storage/sqlite"
	"github.com/poiesic/crossfeed/stores"
	"github.com/poiesic/crossfeed/stores/badgerdb"
	"github.com/poiesic/crossfeed/stores/graph"
	"github.com/poiesic/crossfeed/stores/insight"
	"github.com/poiesic/crossfeed/stores/search"
	"github.com/poiesic/crossfeed/stores/vector"
)

// storeFlags are shared by every command that opens the stores.
var storeFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "data-dir",
		Aliases: []string{"d"},
		Usage:   "Directory for the relational store and the specialized stores",
		Value:   "./crossfeed-data",
	},
	&cli.BoolFlag{
		Name:  "in-memory",
		Usage: "Keep all stores in memory (data is lost on exit)",
	},
	&cli.BoolFlag{
		Name:  "mock-ai",
		Usage: "Use deterministic mock AI services instead of remote models",
	},
	&cli.StringFlag{
		Name:  "ai-host",
		Usage: "OpenAI-compatible service host URL for embeddings and enrichment",
		Value: "http://localhost:11434/v1",
	},
	&cli.StringFlag{
		Name:  "embedding-model",
		Usage: "Embedding model name",
		Value: "embeddinggemma",
	},
	&cli.StringFlag{
		Name:  "enricher-model",
		Usage: "Enrichment model name",
		Value: "qwen2.5:3b",
	},
	&cli.IntFlag{
		Name:  "embedding-dim",
		Usage: "Embedding dimensionality",
		Value: 384,
	},
}

// app holds the wired components behind every command.
type app struct {
	store    *sqlite.Store
	backend  *badgerdb.Backend
	provider ai.AIProvider

	searchStore  *search.Store
	vectorStore  *vector.Store
	graphStore   *graph.Store
	insightStore *insight.Store

	pipeline    *fanout.Pipeline
	pool        *fanout.Pool
	coordinator *query.Coordinator
	reconciler  *reconcile.Reconciler
}

func buildApp(c *cli.Context) (*app, error) {
	dataDir := c.String("data-dir")
	inMemory := c.Bool("in-memory")

	sqlitePath := filepath.Join(dataDir, "records")
	badgerPath := filepath.Join(dataDir, "stores")
	if inMemory {
		sqlitePath = ":memory:"
		badgerPath = ""
	}

	store, err := sqlite.Open(sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("opening record store: %w", err)
	}

	backend, err := badgerdb.OpenBackend(badgerPath, inMemory)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening store backend: %w", err)
	}

	provider, err := buildProvider(c)
	if err != nil {
		backend.Close()
		store.Close()
		return nil, err
	}

	a := &app{
		store:        store,
		backend:      backend,
		provider:     provider,
		searchStore:  search.NewStore(backend),
		vectorStore:  vector.NewStore(provider.Embedder(), c.Int("embedding-dim")),
		graphStore:   graph.NewStore(backend),
		insightStore: insight.NewStore(backend),
	}

	a.pipeline, err = fanout.NewPipeline(store, store, fanout.WithEnricher(provider.Enricher()))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("building pipeline: %w", err)
	}

	a.pool, err = fanout.NewPool(store, []stores.Adapter{
		a.searchStore, a.vectorStore, a.graphStore, a.insightStore,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("building worker pool: %w", err)
	}

	a.coordinator, err = query.NewCoordinator(store, a.searchStore,
		query.WithVectorStore(a.vectorStore),
		query.WithGraphStore(a.graphStore),
		query.WithInsightStore(a.insightStore))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("building coordinator: %w", err)
	}

	a.reconciler, err = reconcile.NewReconciler(store, store, a.pipeline)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("building reconciler: %w", err)
	}

	return a, nil
}

func buildProvider(c *cli.Context) (ai.AIProvider, error) {
	if c.Bool("mock-ai") {
		return aimock.NewMockProvider(), nil
	}

	config := ai.NewConfig(
		ai.WithHost(c.String("ai-host")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithEnricherModel(c.String("enricher-model")),
		ai.WithEmbeddingDim(c.Int("embedding-dim")),
	)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI configuration: %w", err)
	}

	provider, err := openai.NewProvider(config)
	if err != nil {
		return nil, fmt.Errorf("creating AI provider: %w", err)
	}
	return provider, nil
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Stop()
	}
	if a.vectorStore != nil {
		a.vectorStore.Close()
	}
	if a.provider != nil {
		a.provider.Close()
	}
	if a.backend != nil {
		a.backend.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
