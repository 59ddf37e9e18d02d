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

package badger

import "github.com/poiesic/docrag/storage"

// MemoryStores bundles in-memory repositories for tests.
type MemoryStores struct {
	Backend   *Backend
	Documents storage.DocumentRepository
	History   storage.HistoryRepository
	Runs      storage.RunLog
}

// Close closes the repositories and the backend.
func (m *MemoryStores) Close() error {
	m.Runs.Close()
	m.History.Close()
	m.Documents.Close()
	return m.Backend.Close()
}

// NewMemoryStores creates in-memory document, history and run log stores for testing.
// Caller must Close the result when done.
func NewMemoryStores() (*MemoryStores, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, err
	}

	docs, err := NewDocumentRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	history, err := NewHistoryRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	runs, err := NewRunLog(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	return &MemoryStores{
		Backend:   backend,
		Documents: docs,
		History:   history,
		Runs:      runs,
	}, nil
}
