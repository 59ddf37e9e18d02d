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

package reindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/docrag/ai"
	"github.com/poiesic/docrag/chunking"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/extraction"
	"github.com/poiesic/docrag/storage"
	"github.com/poiesic/docrag/vectorstore"
)

// Config holds configuration for a reindex run.
type Config struct {
	// Department limits the run to one department; empty covers all.
	Department string

	// BatchSize is the number of documents to process in each batch
	BatchSize int

	// EmbedBatchSize is the number of chunks sent per embedding call
	EmbedBatchSize int

	// ChunkSize and ChunkOverlap control re-chunking, in runes
	ChunkSize    int
	ChunkOverlap int

	// ReportInterval is how often to report progress (number of documents)
	ReportInterval int

	// MaxRetries is the maximum number of attempts per embedding call
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		EmbedBatchSize: 32,
		ChunkSize:      chunking.DefaultSize,
		ChunkOverlap:   chunking.DefaultOverlap,
		ReportInterval: 10,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Result summarizes a reindex run.
type Result struct {
	Documents int
	Reindexed int
	Failed    int
	Chunks    int
	Elapsed   time.Duration
}

// Reindexer rebuilds the vectors of every completed document in scope.
type Reindexer struct {
	config    *Config
	progress  io.Writer
	logger    *slog.Logger
	processor *DocumentProcessor
	iterator  *DocumentIterator
}

// NewReindexer creates a new reindexer.
// progress: where to write progress output (typically os.Stderr)
func NewReindexer(
	documents storage.DocumentRepository,
	files storage.FileStore,
	extractor extraction.Extractor,
	embedder ai.Embedder,
	vectors vectorstore.Store,
	config *Config,
	progress io.Writer,
	logger *slog.Logger,
) *Reindexer {
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	embedBatch := config.EmbedBatchSize
	if embedBatch <= 0 {
		embedBatch = 32
	}
	size, overlap := chunking.Params(config.ChunkSize, config.ChunkOverlap)

	return &Reindexer{
		config:   config,
		progress: progress,
		logger:   logger.With("component", "reindex"),
		processor: &DocumentProcessor{
			documents:      documents,
			files:          files,
			extractor:      extractor,
			embedder:       embedder,
			vectors:        vectors,
			chunkSize:      size,
			chunkOverlap:   overlap,
			embedBatchSize: embedBatch,
			maxRetries:     config.MaxRetries,
			retryBaseDelay: config.RetryDelay,
		},
		iterator: NewDocumentIterator(documents, config.Department, config.BatchSize),
	}
}

// Run reindexes every completed document in scope. A failed document is
// logged and skipped; the returned error joins every per-document failure.
// Cancellation stops the run and is returned as is.
func (r *Reindexer) Run(ctx context.Context) (*Result, error) {
	docs, err := r.iterator.Documents(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list documents: %w", core.ErrStorage, err)
	}

	result := &Result{Documents: len(docs)}
	if len(docs) == 0 {
		fmt.Fprintf(r.progress, "No completed documents found (0 documents)\n")
		return result, nil
	}

	fmt.Fprintf(r.progress, "Starting reindex of %d documents (batch size: %d)\n",
		len(docs), r.iterator.batchSize)

	tracker := NewProgressTracker(r.progress, len(docs), r.config.ReportInterval)
	tracker.Start()

	var failures []error
	err = r.iterator.ForEach(ctx, func(batch []*core.DocumentRecord) error {
		for _, doc := range batch {
			n, err := r.processor.Process(ctx, doc)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Warn("failed to reindex document", "document_id", doc.ID, "filename", doc.Filename, "err", err)
				failures = append(failures, fmt.Errorf("%s: %w", doc.ID, err))
				result.Failed++
			} else {
				result.Reindexed++
				result.Chunks += n
			}
			tracker.Increment(1)
		}
		return nil
	})
	result.Elapsed = tracker.Elapsed()
	if err != nil {
		return result, err
	}

	tracker.Finish()
	fmt.Fprintf(r.progress, "Reindex complete. %d documents, %d chunks, %d failed in %v\n",
		result.Reindexed, result.Chunks, result.Failed, result.Elapsed.Round(time.Millisecond))

	return result, errors.Join(failures...)
}
