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

// Package storage provides the storage abstraction layer for docrag.
//
// This package defines repository interfaces that decouple storage implementation
// from pipeline logic. Backends live in sub-packages:
//
//   - badger: documents, query history and the pipeline run log (embedded, default)
//   - redis: a shared pipeline run log for several processes
//   - files: uploaded bytes on the local filesystem
//   - gcs: uploaded bytes in a Google Cloud Storage bucket
//
// # Constructor Return Type Pattern
//
// Public constructors return the interface they implement:
//
//	docs, err := badger.NewDocumentRepository(backend)  // returns storage.DocumentRepository
//
// Internal helpers may return concrete types since they're only used within
// the implementation package.
//
// # Serialization
//
// Stored values are JSON documents. Keys carry every field that needs ordering
// so values are never decoded during range scans.
package storage
