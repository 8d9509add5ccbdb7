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

// Package query federates reads over the specialized stores: filtered
// full-text search, semantic similarity with lexical fallback, a blended
// hybrid mode, graph neighborhoods and per-student insight summaries.
// Hits are hydrated from the system of record, and the loss of any
// optional store degrades the answer instead of failing the query.
package query
