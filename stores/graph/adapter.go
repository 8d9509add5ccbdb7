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


package graph

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/stores"
	"github.com/poiesic/crossfeed/stores/badgerdb"
)

// txnRetries bounds serializable-transaction retries on commit conflict.
const txnRetries = 3

// Subgraph is the result of a neighborhood traversal.
type Subgraph struct {
	Nodes []core.GraphNode `json:"nodes"`
	Edges []core.GraphEdge `json:"edges"`
}

// Store is the relationship graph adapter backed by BadgerDB. Node IDs
// are derived from natural keys, so concurrent writers producing the
// same entity converge on the same node.
type Store struct {
	backend *badgerdb.Backend
	logger  *slog.Logger
}

var _ stores.Adapter = (*Store)(nil)

// NewStore creates a graph store on the given backend.
func NewStore(backend *badgerdb.Backend) *Store {
	return &Store{
		backend: backend,
		logger:  slog.Default().With("component", "graph-store"),
	}
}

// Target identifies this adapter's ledger lane.
func (s *Store) Target() core.TargetStore {
	return core.TargetGraph
}

// Provision marks the graph as ready for writes. Safe to call repeatedly.
func (s *Store) Provision(ctx context.Context) error {
	err := s.backend.Update(func(tx *badger.Txn) error {
		return tx.Set([]byte(provisionedKey), []byte("1"))
	})
	if err != nil {
		return stores.Transient(core.TargetGraph, err)
	}
	s.logger.Info("graph store provisioned")
	return nil
}

// HealthCheck reports whether the graph is reachable and provisioned.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.backend.IsClosed() {
		return stores.Transient(core.TargetGraph, errors.New("backend closed"))
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
		return stores.Transient(core.TargetGraph, err)
	}
	if !provisioned {
		return stores.NotReady(core.TargetGraph, stores.ErrNotProvisioned)
	}
	return nil
}

// Upsert applies a graph delta in one transaction. Nodes are created only
// if absent, so the first writer's properties win; edge writes are blind
// and idempotent. Commit conflicts from concurrent deltas touching the
// same nodes are retried a bounded number of times.
func (s *Store) Upsert(ctx context.Context, recordID core.ID, payload []byte) error {
	var delta core.GraphDelta
	if err := json.Unmarshal(payload, &delta); err != nil {
		return stores.Permanent(core.TargetGraph, err)
	}
	for _, node := range delta.Nodes {
		if node.ID == 0 || node.Kind == "" {
			return stores.Permanent(core.TargetGraph, errors.New("delta contains node without id or kind"))
		}
	}
	for _, edge := range delta.Edges {
		if edge.From == 0 || edge.To == 0 || edge.Kind == "" {
			return stores.Permanent(core.TargetGraph, errors.New("delta contains incomplete edge"))
		}
	}

	if err := s.HealthCheck(ctx); err != nil {
		return err
	}

	var err error
	for attempt := 0; attempt < txnRetries; attempt++ {
		err = s.backend.Update(func(tx *badger.Txn) error {
			return applyDelta(tx, &delta)
		})
		if err != badger.ErrConflict {
			break
		}
	}
	if err != nil {
		return stores.Transient(core.TargetGraph, err)
	}

	s.logger.Debug("applied graph delta",
		"record_id", recordID, "nodes", len(delta.Nodes), "edges", len(delta.Edges))
	return nil
}

func applyDelta(tx *badger.Txn, delta *core.GraphDelta) error {
	for _, node := range delta.Nodes {
		key := makeNodeKey(node.ID)
		_, err := tx.Get(key)
		if err == nil {
			continue
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		value, err := json.Marshal(node)
		if err != nil {
			return err
		}
		if err := tx.Set(key, value); err != nil {
			return err
		}
	}

	for _, edge := range delta.Edges {
		if err := tx.Set(makeEdgeKey(edgeFwdPrefix, edge.From, edge.To, string(edge.Kind)), nil); err != nil {
			return err
		}
		if err := tx.Set(makeEdgeKey(edgeRevPrefix, edge.To, edge.From, string(edge.Kind)), nil); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op; the shared backend is closed by its owner.
func (s *Store) Close() error {
	return nil
}

// Node retrieves a single node by ID.
func (s *Store) Node(ctx context.Context, id core.NodeID) (*core.GraphNode, error) {
	var node core.GraphNode
	err := s.backend.View(func(tx *badger.Txn) error {
		item, err := tx.Get(makeNodeKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &node)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, stores.Permanent(core.TargetGraph, errors.New("node not found"))
	}
	if err != nil {
		return nil, stores.Transient(core.TargetGraph, err)
	}
	return &node, nil
}

// Neighborhood traverses up to depth hops from the start node, following
// edges in both directions, and returns the visited subgraph.
func (s *Store) Neighborhood(ctx context.Context, start core.NodeID, depth int) (*Subgraph, error) {
	if err := s.HealthCheck(ctx); err != nil {
		return nil, err
	}
	if depth < 1 {
		depth = 1
	}

	sub := &Subgraph{}
	err := s.backend.View(func(tx *badger.Txn) error {
		visited := map[core.NodeID]bool{start: true}
		seenEdges := map[string]bool{}
		frontier := []core.NodeID{start}

		if err := appendNode(tx, sub, start); err != nil {
			return err
		}

		for hop := 0; hop < depth && len(frontier) > 0; hop++ {
			var next []core.NodeID
			for _, id := range frontier {
				edges, neighbors, err := edgesAt(tx, id)
				if err != nil {
					return err
				}
				for _, edge := range edges {
					ek := edgeKeyString(edge)
					if !seenEdges[ek] {
						seenEdges[ek] = true
						sub.Edges = append(sub.Edges, edge)
					}
				}
				for _, neighbor := range neighbors {
					if visited[neighbor] {
						continue
					}
					visited[neighbor] = true
					if err := appendNode(tx, sub, neighbor); err != nil {
						return err
					}
					next = append(next, neighbor)
				}
			}
			frontier = next
		}
		return nil
	})
	if err == badger.ErrKeyNotFound {
		return nil, stores.Permanent(core.TargetGraph, errors.New("node not found"))
	}
	if err != nil {
		return nil, stores.Transient(core.TargetGraph, err)
	}
	return sub, nil
}

func appendNode(tx *badger.Txn, sub *Subgraph, id core.NodeID) error {
	item, err := tx.Get(makeNodeKey(id))
	if err == badger.ErrKeyNotFound {
		// Dangling edge endpoint; skip rather than fail the traversal.
		return nil
	}
	if err != nil {
		return err
	}
	var node core.GraphNode
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &node)
	}); err != nil {
		return err
	}
	sub.Nodes = append(sub.Nodes, node)
	return nil
}

// edgesAt collects the edges touching a node in both orientations.
func edgesAt(tx *badger.Txn, id core.NodeID) ([]core.GraphEdge, []core.NodeID, error) {
	var edges []core.GraphEdge
	var neighbors []core.NodeID

	scan := func(prefix string, outbound bool) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialEdgeKey(prefix, id)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			first, second, kind := parseEdgeKey(prefix, iter.Item().Key())
			if outbound {
				edges = append(edges, core.GraphEdge{From: first, Kind: core.EdgeKind(kind), To: second})
			} else {
				edges = append(edges, core.GraphEdge{From: second, Kind: core.EdgeKind(kind), To: first})
			}
			neighbors = append(neighbors, second)
		}
		return nil
	}

	if err := scan(edgeFwdPrefix, true); err != nil {
		return nil, nil, err
	}
	if err := scan(edgeRevPrefix, false); err != nil {
		return nil, nil, err
	}
	return edges, neighbors, nil
}

func edgeKeyString(edge core.GraphEdge) string {
	return string(makeEdgeKey(edgeFwdPrefix, edge.From, edge.To, string(edge.Kind)))
}
