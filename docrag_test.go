package docrag

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docrag/ai/mock"
	"github.com/poiesic/docrag/config"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/storage"
)

const handbook = "Employees may work remotely up to three days per week. " +
	"Remote days must be agreed with the team lead in advance. " +
	"Equipment for home offices is reimbursed up to a fixed yearly amount."

func openTestEngine(t *testing.T, dataDir string, opts ...Option) *Engine {
	t.Helper()
	cfg := config.Default(dataDir)
	cfg.Ingestion.ChunkSize = 80
	cfg.Ingestion.ChunkOverlap = 10
	cfg.Extraction.OCR = config.OCRNone

	opts = append([]Option{WithAIProvider(mock.NewMockProvider())}, opts...)
	e, err := Open(context.Background(), cfg, opts...)
	require.NoError(t, err)
	return e
}

func TestOpen(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		e, err := Open(context.Background(), nil)
		assert.ErrorIs(t, err, core.ErrValidation)
		assert.Nil(t, e)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := config.Default(t.TempDir())
		cfg.Vectors.Provider = "pinecone"
		e, err := Open(context.Background(), cfg)
		assert.Error(t, err)
		assert.Nil(t, e)
	})

	t.Run("data dir is a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

		cfg := config.Default(path)
		cfg.Extraction.OCR = config.OCRNone
		e, err := Open(context.Background(), cfg, WithAIProvider(mock.NewMockProvider()))
		assert.Error(t, err)
		assert.Nil(t, e)
	})

	t.Run("close", func(t *testing.T) {
		e := openTestEngine(t, t.TempDir(), InMemory())
		assert.NoError(t, e.Close())
	})
}

func TestEngine_IngestAndAsk(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir(), InMemory())
	defer e.Close()

	doc, err := e.SubmitDocument(ctx, []byte(handbook), "handbook.txt", "hr")
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, doc.Status)
	assert.Equal(t, "HR", doc.Department)
	e.Wait()

	stored, err := e.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, stored.Status)
	assert.Greater(t, stored.ChunkCount, 1)
	assert.NotEmpty(t, stored.PipelineID)

	resp, err := e.Ask(ctx, "How many remote days are allowed?", "HR", "u-1")
	require.NoError(t, err)
	assert.Equal(t, core.QueryOK, resp.Status)
	assert.Equal(t, "mock answer", resp.Answer)
	require.NotEmpty(t, resp.Sources)
	for _, src := range resp.Sources {
		assert.Equal(t, doc.ID, src.DocumentID)
	}

	other, err := e.Ask(ctx, "How many remote days are allowed?", "Finance", "u-2")
	require.NoError(t, err)
	assert.Empty(t, other.Sources)

	history, err := e.ListHistory(ctx, "hr", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, resp.HistoryID, history[0].ID)

	all, err := e.ListHistory(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	run, err := e.GetPipeline(ctx, stored.PipelineID)
	require.NoError(t, err)
	require.NotNil(t, run.Terminal())
	assert.Equal(t, core.PhaseEnd, run.Terminal().Phase)

	runs, err := e.ListPipelines(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	stats, err := e.GetStats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Subjects[core.SubjectDocument].Completed)
	assert.Equal(t, 2, stats.Subjects[core.SubjectQuery].Completed)
}

func TestEngine_Search(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir(), InMemory())
	defer e.Close()

	doc, err := e.SubmitDocument(ctx, []byte(handbook), "handbook.txt", "HR")
	require.NoError(t, err)
	e.Wait()

	matches, err := e.Search(ctx, "home office equipment", "hr", 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Equal(t, doc.ID, m.DocumentID)
		assert.NotEmpty(t, m.Text)
	}

	matches, err = e.Search(ctx, "home office equipment", "Legal", 2)
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = e.Search(ctx, "  ", "HR", 2)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestEngine_ListDocuments(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir(), InMemory())
	defer e.Close()

	_, err := e.SubmitDocument(ctx, []byte(handbook), "a.txt", "HR")
	require.NoError(t, err)
	_, err = e.SubmitDocument(ctx, []byte(handbook), "b.txt", "Legal")
	require.NoError(t, err)
	e.Wait()

	docs, total, err := e.ListDocuments(ctx, "", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, docs, 2)

	docs, total, err = e.ListDocuments(ctx, "legal", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, docs, 1)
	assert.Equal(t, "b.txt", docs[0].Filename)

	_, _, err = e.ListDocuments(ctx, "Astrology", 0, 10)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, _, err = e.ListDocuments(ctx, "", -1, 10)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestEngine_DeleteDocument(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir(), InMemory())
	defer e.Close()

	doc, err := e.SubmitDocument(ctx, []byte(handbook), "handbook.txt", "HR")
	require.NoError(t, err)
	e.Wait()

	require.NoError(t, e.DeleteDocument(ctx, doc.ID))

	_, err = e.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	resp, err := e.Ask(ctx, "remote days", "HR", "")
	require.NoError(t, err)
	assert.Empty(t, resp.Sources)

	assert.ErrorIs(t, e.DeleteDocument(ctx, doc.ID), storage.ErrNotFound)
}

func TestEngine_Reindex(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir(), InMemory())
	defer e.Close()

	doc, err := e.SubmitDocument(ctx, []byte(handbook), "handbook.txt", "HR")
	require.NoError(t, err)
	e.Wait()

	var progress bytes.Buffer
	result, err := e.Reindex(ctx, nil, &progress)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Reindexed)
	assert.Zero(t, result.Failed)

	stored, err := e.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.ChunkCount, result.Chunks)
	assert.True(t, strings.Contains(progress.String(), "documents"))
}

func TestEngine_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	e := openTestEngine(t, dir)
	doc, err := e.SubmitDocument(ctx, []byte(handbook), "handbook.txt", "HR")
	require.NoError(t, err)
	e.Wait()
	require.NoError(t, e.Close())

	e = openTestEngine(t, dir)
	defer e.Close()

	stored, err := e.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, stored.Status)

	resp, err := e.Ask(ctx, "remote days", "HR", "")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Sources)

	runs, err := e.ListPipelines(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
