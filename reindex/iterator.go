package reindex

import (
	"context"
	"strings"

	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/storage"
)

const (
	// DefaultBatchSize is the default number of documents handed out per batch
	DefaultBatchSize = 10
)

// DocumentIterator walks completed documents in batches.
type DocumentIterator struct {
	repo       storage.DocumentRepository
	department string
	batchSize  int
}

// NewDocumentIterator creates a new document iterator. An empty department
// covers every department.
func NewDocumentIterator(repo storage.DocumentRepository, department string, batchSize int) *DocumentIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &DocumentIterator{
		repo:       repo,
		department: department,
		batchSize:  batchSize,
	}
}

// Documents returns every completed document in scope, oldest first.
func (it *DocumentIterator) Documents(ctx context.Context) ([]*core.DocumentRecord, error) {
	docs, err := it.repo.ListByStatus(ctx, core.StatusCompleted)
	if err != nil {
		return nil, err
	}
	if it.department == "" {
		return docs, nil
	}
	scoped := docs[:0]
	for _, d := range docs {
		if strings.EqualFold(d.Department, it.department) {
			scoped = append(scoped, d)
		}
	}
	return scoped, nil
}

// ForEach calls fn for each batch of documents.
// Iteration stops on first error from fn or when all documents are processed.
// Context cancellation is checked between batches.
func (it *DocumentIterator) ForEach(ctx context.Context, fn func([]*core.DocumentRecord) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	docs, err := it.Documents(ctx)
	if err != nil {
		return err
	}

	for i := 0; i < len(docs); i += it.batchSize {
		end := min(i+it.batchSize, len(docs))
		if err := fn(docs[i:end]); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}
