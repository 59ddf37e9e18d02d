package reindex

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/poiesic/docrag/ai"
	"github.com/poiesic/docrag/chunking"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/extraction"
	"github.com/poiesic/docrag/ingestion"
	"github.com/poiesic/docrag/storage"
	"github.com/poiesic/docrag/vectorstore"
)

// DocumentProcessor rebuilds the points of one document.
type DocumentProcessor struct {
	documents      storage.DocumentRepository
	files          storage.FileStore
	extractor      extraction.Extractor
	embedder       ai.Embedder
	vectors        vectorstore.Store
	chunkSize      int
	chunkOverlap   int
	embedBatchSize int
	maxRetries     int
	retryBaseDelay time.Duration
}

// Process re-extracts, re-chunks and re-embeds doc, then replaces its points
// and records the new chunk count. It returns the number of chunks written.
// Points are only replaced once every embedding succeeded.
func (dp *DocumentProcessor) Process(ctx context.Context, doc *core.DocumentRecord) (int, error) {
	rc, err := dp.files.Open(ctx, doc.StoragePath)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %w", core.ErrStorage, doc.StoragePath, err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %w", core.ErrStorage, doc.StoragePath, err)
	}

	result, err := dp.extractor.Extract(ctx, doc.Filename, data)
	if err != nil {
		return 0, err
	}
	windows := chunking.SplitPages(result.Pages, dp.chunkSize, dp.chunkOverlap)
	if len(windows) == 0 {
		return 0, fmt.Errorf("%w: no chunks produced", core.ErrNoContentExtracted)
	}
	chunks := ingestion.BuildChunks(doc, windows)

	vectors, err := dp.embed(ctx, chunks)
	if err != nil {
		return 0, err
	}

	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vectorstore.NewPoint(c, vectors[i])
	}
	// the chunk count may shrink, so stale ordinals are dropped first
	if err := dp.vectors.DeleteDocument(ctx, doc.ID); err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrVectorStoreUnavailable, err)
	}
	if err := dp.vectors.Upsert(ctx, points); err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrVectorStoreUnavailable, err)
	}

	doc.ChunkCount = len(chunks)
	if err := dp.documents.UpdateDocument(ctx, doc); err != nil {
		return len(chunks), fmt.Errorf("%w: update chunk count: %w", core.ErrStorage, err)
	}
	return len(chunks), nil
}

// embed generates normalized vectors for chunks, retrying each batch.
func (dp *DocumentProcessor) embed(ctx context.Context, chunks []core.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += dp.embedBatchSize {
		end := min(start+dp.embedBatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}

		var embeddings [][]float32
		err := RetryWithBackoff(ctx, func() error {
			var err error
			embeddings, err = dp.embedder.EmbedTexts(ctx, texts)
			return err
		}, dp.maxRetries, dp.retryBaseDelay)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to generate embeddings after %d attempts: %w",
				core.ErrEmbeddingUnavailable, dp.maxRetries, err)
		}
		if len(embeddings) != len(texts) {
			return nil, fmt.Errorf("%w: embedding count mismatch: expected %d, got %d",
				core.ErrEmbeddingUnavailable, len(texts), len(embeddings))
		}
		for _, v := range embeddings {
			vectors = append(vectors, NormalizeVector(v))
		}
	}
	return vectors, nil
}
