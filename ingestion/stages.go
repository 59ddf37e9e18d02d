package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/poiesic/docrag/chunking"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/extraction"
	"github.com/poiesic/docrag/storage"
	"github.com/poiesic/docrag/vectorstore"
)

// extractProcessor loads the stored file and extracts its text.
type extractProcessor struct {
	files     storage.FileStore
	extractor extraction.Extractor
	logger    *slog.Logger
}

var _ processor = (*extractProcessor)(nil)

func (p *extractProcessor) name() string { return StageExtraction }

func (p *extractProcessor) process(ctx context.Context, j *job) (map[string]any, error) {
	rc, err := p.files.Open(ctx, j.doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", core.ErrStorage, j.doc.StoragePath, err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", core.ErrStorage, j.doc.StoragePath, err)
	}

	result, err := p.extractor.Extract(ctx, j.doc.Filename, data)
	if err != nil {
		return nil, err
	}
	j.extracted = result
	p.logger.Debug("extracted text", "document_id", j.doc.ID, "pages", len(result.Pages), "method", result.Method)
	return map[string]any{
		"format":    result.Format,
		"method":    result.Method,
		"pages":     len(result.Pages),
		"ocr_pages": len(result.OCRPages),
		"chars":     result.CharCount(),
	}, nil
}

// chunkProcessor splits extracted pages into windows and builds chunks.
type chunkProcessor struct {
	size    int
	overlap int
}

var _ processor = (*chunkProcessor)(nil)

func (p *chunkProcessor) name() string { return StageChunking }

func (p *chunkProcessor) process(_ context.Context, j *job) (map[string]any, error) {
	if j.extracted == nil {
		return nil, errors.New("chunking before extraction")
	}
	j.windows = chunking.SplitPages(j.extracted.Pages, p.size, p.overlap)
	if len(j.windows) == 0 {
		return nil, fmt.Errorf("%w: no chunks produced", core.ErrNoContentExtracted)
	}

	j.chunks = BuildChunks(j.doc, j.windows)
	size, overlap := chunking.Params(p.size, p.overlap)
	return map[string]any{
		"chunks":  len(j.chunks),
		"size":    size,
		"overlap": overlap,
	}, nil
}

// BuildChunks turns windows of doc into chunks with stable IDs and the
// lowercased department.
func BuildChunks(doc *core.DocumentRecord, windows []chunking.Window) []core.Chunk {
	dept := strings.ToLower(doc.Department)
	chunks := make([]core.Chunk, len(windows))
	for i, w := range windows {
		chunks[i] = core.Chunk{
			ID:           core.ChunkID(doc.ID, w.Ordinal),
			DocumentID:   doc.ID,
			DocumentName: doc.Filename,
			Ordinal:      w.Ordinal,
			Text:         w.Text,
			Department:   dept,
			Source:       core.SourceRef{Page: w.Page, Offset: w.Offset},
		}
	}
	return chunks
}

// storeProcessor upserts one point per chunk.
type storeProcessor struct {
	vectors vectorstore.Store
}

var _ processor = (*storeProcessor)(nil)

func (p *storeProcessor) name() string { return StageStorage }

func (p *storeProcessor) process(ctx context.Context, j *job) (map[string]any, error) {
	if len(j.vectors) != len(j.chunks) {
		return nil, fmt.Errorf("%d vectors for %d chunks", len(j.vectors), len(j.chunks))
	}
	points := make([]vectorstore.Point, len(j.chunks))
	for i, c := range j.chunks {
		points[i] = vectorstore.NewPoint(c, j.vectors[i])
	}
	j.indexed = true
	if err := p.vectors.Upsert(ctx, points); err != nil {
		if !errors.Is(err, core.ErrVectorStoreUnavailable) {
			err = fmt.Errorf("%w: %w", core.ErrVectorStoreUnavailable, err)
		}
		return nil, err
	}
	return map[string]any{"points": len(points)}, nil
}
