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


// Package ai defines the AI capability interfaces used by the fan-out
// pipeline and the federated query coordinator: text embedding for the
// vector store and feedback enrichment (sentiment, topics, entities,
// summary) for the insight store.
//
// Concrete implementations live in subpackages:
//
//   - ai/openai: OpenAI-compatible services via langchaingo
//   - ai/mock: deterministic test doubles
//
// Constructors return interfaces, not concrete types, so callers never
// couple to a specific provider.
package ai
