package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/docrag/ai"
	"github.com/poiesic/docrag/core"
)

// DefaultEmbedBatchSize is the number of chunks sent per embedding call.
const DefaultEmbedBatchSize = 32

// embeddingProcessor vectorizes every chunk of a document. Any failed batch
// or count mismatch rejects the whole document so chunks and vectors never
// drift out of alignment.
type embeddingProcessor struct {
	embedder  ai.Embedder
	batchSize int
	logger    *slog.Logger
}

var _ processor = (*embeddingProcessor)(nil)

// newEmbeddingProcessor creates a new embedding processor.
func newEmbeddingProcessor(embedder ai.Embedder, batchSize int, logger *slog.Logger) (*embeddingProcessor, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if batchSize < 1 {
		batchSize = DefaultEmbedBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &embeddingProcessor{
		embedder:  embedder,
		batchSize: batchSize,
		logger:    logger.With("processor", "embeddings"),
	}, nil
}

func (ep *embeddingProcessor) name() string { return StageEmbedding }

// process generates embeddings for the job's chunks in ordinal order.
func (ep *embeddingProcessor) process(ctx context.Context, j *job) (map[string]any, error) {
	ep.logger.Debug("generating embeddings for chunks", "document_id", j.doc.ID, "chunks", len(j.chunks))

	vectors := make([][]float32, 0, len(j.chunks))
	batches := 0
	dim := 0
	for start := 0; start < len(j.chunks); start += ep.batchSize {
		end := min(start+ep.batchSize, len(j.chunks))
		texts := make([]string, 0, end-start)
		for _, c := range j.chunks[start:end] {
			texts = append(texts, c.Text)
		}

		embeddings, err := ep.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			ep.logger.Error("error generating embeddings", "document_id", j.doc.ID, "batch", batches, "err", err)
			if !errors.Is(err, core.ErrEmbeddingUnavailable) {
				err = fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, err)
			}
			return nil, err
		}
		if len(embeddings) != len(texts) {
			return nil, fmt.Errorf("%w: embedding result mismatch. expected %d, received %d",
				core.ErrEmbeddingUnavailable, len(texts), len(embeddings))
		}
		for _, v := range embeddings {
			if dim == 0 {
				dim = len(v)
			}
			if len(v) == 0 || len(v) != dim {
				return nil, fmt.Errorf("%w: inconsistent vector dimension %d (expected %d)",
					core.ErrEmbeddingUnavailable, len(v), dim)
			}
		}
		vectors = append(vectors, embeddings...)
		batches++
	}

	j.vectors = vectors
	return map[string]any{
		"vectors":   len(vectors),
		"batches":   batches,
		"dimension": dim,
	}, nil
}
