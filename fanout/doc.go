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


// Package fanout orchestrates the write path: committing feedback records
// to the system of record and propagating them into the downstream stores
// through the status ledger.
//
// # Write Path
//
// Ingest validates and (best-effort) enriches a record, commits it, and
// upserts one pending ledger row per target store with the projection
// payload computed at dispatch time. The Pool then claims due rows and
// applies them through the store adapters, classifying every failure as
// transient, permanent, or not_ready.
//
// There is no distributed transaction: the system of record commit is the
// only commit, and the ledger plus idempotent adapter upserts give each
// store at-least-once, converge-on-retry semantics.
//
// # Batch Path
//
// ProcessBatch normalizes open text, ingests through the same pipeline,
// and waits for the mandatory lanes (search, graph, insight) to reach a
// terminal status before marking records processed. The vector lane is
// best-effort and never blocks a batch.
package fanout
