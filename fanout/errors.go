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

import "errors"

var (
	// ErrRecordStoreRequired indicates a nil record store was provided.
	ErrRecordStoreRequired = errors.New("record store is required")

	// ErrLedgerRequired indicates a nil task ledger was provided.
	ErrLedgerRequired = errors.New("task ledger is required")

	// ErrNoAdapters indicates the worker pool was built without adapters.
	ErrNoAdapters = errors.New("at least one store adapter is required")

	// ErrDuplicateAdapter indicates two adapters claim the same target store.
	ErrDuplicateAdapter = errors.New("duplicate adapter for target store")

	// ErrUnknownAdapter indicates a ledger task names a store no adapter serves.
	ErrUnknownAdapter = errors.New("no adapter for target store")

	// ErrBatchIncomplete indicates a batch wait ended before every record's
	// mandatory tasks reached a terminal status.
	ErrBatchIncomplete = errors.New("batch processing incomplete")
)
