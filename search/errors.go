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

package search

import "errors"

var (
	// ErrEmailRepositoryRequired is returned when an email repository is not provided.
	ErrEmailRepositoryRequired = errors.New("email repository required")

	// ErrIndexRequired is returned when an embedding index is not provided.
	ErrIndexRequired = errors.New("embedding index required")

	// ErrModelAdapterRequired is returned when a model adapter is not provided.
	ErrModelAdapterRequired = errors.New("model adapter required")

	// ErrEmptyQuery is returned for a blank query.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrNotSearchable is returned when a record has no vector in the index yet.
	ErrNotSearchable = errors.New("record is not yet searchable")
)
