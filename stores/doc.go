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


// Package stores defines the write-side adapter contract for the
// downstream stores fed by the fan-out pipeline.
//
// Each subpackage implements stores.Adapter for one store:
//
//   - search: full-text document store with an inverted term index
//   - vector: embedding index for semantic similarity queries
//   - graph: student/teacher/category relationship graph
//   - insight: append-only per-student analytics facts
//
// # Error Classification
//
// Adapters never return raw errors. Every failure is wrapped as an
// AdapterError carrying one of three classes:
//
//   - transient: retry with backoff (timeouts, unavailability)
//   - permanent: never retry (malformed payload, dimension mismatch)
//   - not_ready: provision the store, then retry once
//
// The worker pool maps these classes onto ledger transitions; an
// unclassified error defaults to transient.
//
// # Idempotency
//
// Upsert is keyed by record ID (and natural keys, for graph nodes), so
// redelivery of the same task payload is always safe. This is what lets
// the ledger use at-least-once delivery with no distributed transaction.
package stores
