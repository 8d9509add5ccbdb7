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


// Package storage provides the system-of-record abstraction for crossfeed.
//
// This package defines the interfaces for the relational record store and
// the fan-out task ledger, decoupling the pipeline and worker pool from the
// backing database. The sqlite subpackage provides the production
// implementation.
//
// # Constructor Return Type Pattern
//
// This package follows a strict "return interface" pattern for all public
// constructors to enforce abstraction and enable multiple backend
// implementations:
//
//	store, err := sqlite.Open(path)  // returns storage.RecordStore + storage.TaskLedger
//
// Internal package constructors may return concrete types since they're only
// used within the implementation package.
//
// # The Ledger
//
// The TaskLedger is the coordination point of the whole system. One row
// exists per (record, target store) pair, and every status transition is a
// single guarded UPDATE: a task can only be worked on by the worker that won
// the claim, and a claim expires if the worker disappears. No distributed
// transaction spans the downstream stores.
//
// # Thread Safety
//
// All implementations must be thread-safe and support concurrent access
// from multiple goroutines.
//
// # Context Support
//
// All methods accept context.Context for cancellation and timeout support.
package storage
