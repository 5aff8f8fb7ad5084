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

// Package storage provides the storage abstraction layer for InsightMail.
//
// This package defines repository interfaces that decouple storage implementation
// from business logic, plus the binary encoding shared by implementations.
//
// # Architecture
//
// The storage layer follows the Repository pattern:
//
//   - EmailRepository: email records with fingerprint, date and category indices
//   - VectorRepository: one embedding vector per (record, model)
//   - CheckpointRepository: resumable progress for long-running processors
//
// A vector may only be written for an existing email record, and purging a
// record removes its vectors in the same transaction.
//
// # Encoding
//
// Records are encoded with mus-go primitives. HTML bodies are zstd-compressed
// before encoding. Timestamps are stored as Unix microseconds.
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	emails, err := badger.NewEmailRepository(backend)
//	vectors := badger.NewVectorRepository(backend)
//
// Use in tests with in-memory storage:
//
//	emails, vectors, backend, err := badger.NewMemoryRepositories()
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
