package chromem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/vectorstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func point(docID string, ordinal int, dept string, vec ...float32) vectorstore.Point {
	return vectorstore.NewPoint(core.Chunk{
		ID:           core.ChunkID(docID, ordinal),
		DocumentID:   docID,
		DocumentName: docID + ".txt",
		Ordinal:      ordinal,
		Text:         docID + " chunk",
		Department:   dept,
		Source:       core.SourceRef{Page: 2, Offset: ordinal * 10},
	}, vec)
}

func TestSearch_RanksByCosineWithinDepartment(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, []vectorstore.Point{
		point("a", 0, "HR", 1, 0, 0),
		point("a", 1, "HR", 0.7, 0.7, 0),
		point("b", 0, "IT", 1, 0, 0),
	}))

	matches, err := s.Search(ctx, []float32{1, 0, 0}, "hr", 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, core.ChunkID("a", 0), matches[0].ID)
	assert.Equal(t, core.ChunkID("a", 1), matches[1].ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
	for _, m := range matches {
		assert.Equal(t, "hr", m.Department)
		assert.Equal(t, "a", m.DocumentID)
		assert.Equal(t, "a.txt", m.DocumentName)
		assert.Equal(t, 2, m.Page)
	}
	assert.Equal(t, 10, matches[1].Offset)
}

func TestSearch_DepartmentIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Upsert(ctx, []vectorstore.Point{point("b", 0, "IT", 1, 0)}))

	matches, err := s.Search(ctx, []float32{1, 0}, "Finance", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = s.Search(ctx, []float32{1, 0}, "it", 5)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestSearch_EmptyCollection(t *testing.T) {
	s := newTestStore(t)
	matches, err := s.Search(context.Background(), []float32{1, 0}, "hr", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestUpsert_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	pts := []vectorstore.Point{point("a", 0, "HR", 1, 0), point("a", 1, "HR", 0, 1)}

	require.NoError(t, s.Upsert(ctx, pts))
	require.NoError(t, s.Upsert(ctx, pts))
	assert.Equal(t, 2, s.Count())
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Upsert(ctx, []vectorstore.Point{point("a", 0, "HR", 1, 0)}))

	err := s.Upsert(ctx, []vectorstore.Point{point("a", 1, "HR", 1, 0, 0)})
	require.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)

	_, err = s.Search(ctx, []float32{1, 0, 0}, "hr", 1)
	require.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestDeleteDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Upsert(ctx, []vectorstore.Point{
		point("a", 0, "HR", 1, 0),
		point("a", 1, "HR", 0, 1),
		point("b", 0, "HR", 1, 1),
	}))

	require.NoError(t, s.DeleteDocument(ctx, "a"))
	assert.Equal(t, 1, s.Count())
	// absent documents are not an error
	require.NoError(t, s.DeleteDocument(ctx, "a"))

	matches, err := s.Search(ctx, []float32{1, 0}, "hr", 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].DocumentID)
}

func TestPersistentStoreReopens(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := New(Config{Path: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, []vectorstore.Point{point("a", 0, "Legal", 1, 0)}))
	require.NoError(t, s.Close())

	reopened, err := New(Config{Path: dir}, nil)
	require.NoError(t, err)
	matches, err := reopened.Search(ctx, []float32{1, 0}, "legal", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a chunk", matches[0].Text)
}

func TestClosedStore(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())
	err := s.Upsert(context.Background(), []vectorstore.Point{point("a", 0, "HR", 1)})
	require.ErrorIs(t, err, vectorstore.ErrStoreClosed)
}
