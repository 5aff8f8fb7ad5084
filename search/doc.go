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

// Package search answers natural-language questions over stored emails.
//
// The Engine implements retrieval-augmented generation:
//   - the query is embedded with the active embedding model
//   - the embedding index returns the top-k records that satisfy the filter
//   - a bounded context is assembled from the best candidates first
//   - the model answers from that context only and cites record ids
//
// An empty retrieval short-circuits to NoResultsAnswer without calling the
// model. Generated answers are not checked against the retrieved context.
package search
