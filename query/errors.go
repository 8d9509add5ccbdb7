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

package query

import "errors"

var (
	// ErrRecordStoreRequired indicates a nil record store was supplied.
	ErrRecordStoreRequired = errors.New("record store is required")

	// ErrSearchStoreRequired indicates a nil search store was supplied.
	ErrSearchStoreRequired = errors.New("search store is required")

	// ErrEmptyQuery indicates a query with no text and no filters.
	ErrEmptyQuery = errors.New("query must have text or at least one filter")

	// ErrStudentRequired indicates a student-scoped query without a student ID.
	ErrStudentRequired = errors.New("student id is required")

	// ErrEntityRequired indicates a graph query without an entity key.
	ErrEntityRequired = errors.New("entity key is required")
)
