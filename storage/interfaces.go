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

package storage

import (
	"context"
	"io"

	"github.com/poiesic/docrag/core"
)

// DocumentRepository persists DocumentRecords.
// Implementations must be thread-safe; each call is atomic per record.
type DocumentRepository interface {
	// CreateDocument stores a new record.
	// Returns ErrDuplicateKey if a record with the same ID exists.
	CreateDocument(ctx context.Context, doc *core.DocumentRecord) error

	// GetDocument retrieves a record by ID.
	// Returns ErrNotFound if the record doesn't exist.
	GetDocument(ctx context.Context, id string) (*core.DocumentRecord, error)

	// UpdateDocument replaces a stored record and refreshes UpdatedAt.
	// The status change from the stored record must pass core.ValidateTransition.
	// Returns ErrNotFound if the record doesn't exist.
	UpdateDocument(ctx context.Context, doc *core.DocumentRecord) error

	// DeleteDocument removes a record and its indices.
	// Returns ErrNotFound if the record doesn't exist.
	DeleteDocument(ctx context.Context, id string) error

	// ListByDepartment pages through records of a department, newest first.
	// An empty department lists every record. Returns the page and the total count.
	ListByDepartment(ctx context.Context, department string, skip, limit int) ([]*core.DocumentRecord, int, error)

	// ListByStatus returns every record in one of the given states, oldest first.
	ListByStatus(ctx context.Context, statuses ...core.DocumentStatus) ([]*core.DocumentRecord, error)

	Close() error
}

// HistoryRepository persists query history.
type HistoryRepository interface {
	// AddHistory stores an entry. Entries are never updated.
	AddHistory(ctx context.Context, entry *core.QueryHistoryEntry) error

	// GetHistory retrieves an entry by ID.
	// Returns ErrNotFound if the entry doesn't exist.
	GetHistory(ctx context.Context, id string) (*core.QueryHistoryEntry, error)

	// ListRecent returns up to limit entries, newest first.
	// An empty department lists entries of every department.
	ListRecent(ctx context.Context, department string, limit int) ([]*core.QueryHistoryEntry, error)

	Close() error
}

// RunLog is the append-only event store behind the pipeline monitor.
// Appends from concurrent goroutines are safe; events of a single run keep
// the order in which their appends completed.
type RunLog interface {
	// CreateRun registers a run header. Creating an existing run is a no-op.
	CreateRun(ctx context.Context, run *core.PipelineRun) error

	// AppendEvent appends an event, assigning its Seq. Returns ErrNotFound
	// for a run that was never created and ErrRunClosed once the run holds
	// a terminal event.
	AppendEvent(ctx context.Context, event *core.StageEvent) error

	// GetRun returns a run with its events in append order.
	// Returns ErrNotFound if the run doesn't exist.
	GetRun(ctx context.Context, id string) (*core.PipelineRun, error)

	// ListRuns returns every run with its events, most recently started first.
	ListRuns(ctx context.Context) ([]*core.PipelineRun, error)

	Close() error
}

// FileStore holds uploaded document bytes.
type FileStore interface {
	// Save writes data under a name derived from id and filename and returns
	// the storage path to record on the document.
	Save(ctx context.Context, id, filename string, data io.Reader) (string, error)

	// Open returns a reader for a previously saved path.
	// Returns ErrNotFound if nothing is stored there.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Remove deletes a stored path.
	// Returns ErrNotFound if nothing is stored there.
	Remove(ctx context.Context, path string) error

	// Exists reports whether path is stored.
	Exists(ctx context.Context, path string) (bool, error)
}
