package badger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStores(t *testing.T) *MemoryStores {
	t.Helper()
	stores, err := NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })
	return stores
}

func newDoc(id, dept string, created time.Time) *core.DocumentRecord {
	return &core.DocumentRecord{
		ID:         id,
		Filename:   id + ".txt",
		Department: dept,
		Status:     core.StatusPending,
		CreatedAt:  created,
	}
}

func TestDocumentBasics(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	doc := newDoc("d1", "HR", time.Time{})
	require.NoError(t, stores.Documents.CreateDocument(ctx, doc))
	assert.False(t, doc.CreatedAt.IsZero())

	got, err := stores.Documents.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "d1.txt", got.Filename)
	assert.Equal(t, core.StatusPending, got.Status)

	err = stores.Documents.CreateDocument(ctx, newDoc("d1", "HR", time.Time{}))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = stores.Documents.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDocumentCreateRejectsInvalid(t *testing.T) {
	stores := newTestStores(t)
	err := stores.Documents.CreateDocument(context.Background(), newDoc("d1", "Astrology", time.Time{}))
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestDocumentStatusTransitions(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()
	require.NoError(t, stores.Documents.CreateDocument(ctx, newDoc("d1", "IT", time.Time{})))

	doc, err := stores.Documents.GetDocument(ctx, "d1")
	require.NoError(t, err)

	doc.Status = core.StatusProcessing
	require.NoError(t, stores.Documents.UpdateDocument(ctx, doc))

	doc.Status = core.StatusCompleted
	doc.ChunkCount = 3
	require.NoError(t, stores.Documents.UpdateDocument(ctx, doc))

	doc.Status = core.StatusProcessing
	err = stores.Documents.UpdateDocument(ctx, doc)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	got, err := stores.Documents.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, got.Status)
	assert.Equal(t, 3, got.ChunkCount)

	err = stores.Documents.UpdateDocument(ctx, newDoc("missing", "IT", time.Time{}))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDocumentListByDepartment(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		require.NoError(t, stores.Documents.CreateDocument(ctx, newDoc(fmt.Sprintf("hr%d", i), "HR", base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, stores.Documents.CreateDocument(ctx, newDoc("fin0", "Finance", base)))

	docs, total, err := stores.Documents.ListByDepartment(ctx, "hr", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, docs, 2)
	assert.Equal(t, "hr4", docs[0].ID, "newest first")
	assert.Equal(t, "hr3", docs[1].ID)

	docs, total, err = stores.Documents.ListByDepartment(ctx, "HR", 4, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, docs, 1)
	assert.Equal(t, "hr0", docs[0].ID)

	docs, total, err = stores.Documents.ListByDepartment(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Len(t, docs, 6)

	_, _, err = stores.Documents.ListByDepartment(ctx, "HR", -1, 10)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestDocumentListByStatus(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, stores.Documents.CreateDocument(ctx, newDoc(id, "General", base.Add(time.Duration(i)*time.Second))))
	}
	b, err := stores.Documents.GetDocument(ctx, "b")
	require.NoError(t, err)
	b.Status = core.StatusProcessing
	require.NoError(t, stores.Documents.UpdateDocument(ctx, b))

	c, err := stores.Documents.GetDocument(ctx, "c")
	require.NoError(t, err)
	c.Status = core.StatusProcessing
	require.NoError(t, stores.Documents.UpdateDocument(ctx, c))
	c.Status = core.StatusFailed
	require.NoError(t, stores.Documents.UpdateDocument(ctx, c))

	docs, err := stores.Documents.ListByStatus(ctx, core.StatusPending, core.StatusProcessing)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "b", docs[1].ID)

	docs, err = stores.Documents.ListByStatus(ctx, core.StatusFailed)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "c", docs[0].ID)
}

func TestDocumentDelete(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()
	require.NoError(t, stores.Documents.CreateDocument(ctx, newDoc("d1", "Legal", time.Time{})))

	require.NoError(t, stores.Documents.DeleteDocument(ctx, "d1"))
	assert.ErrorIs(t, stores.Documents.DeleteDocument(ctx, "d1"), storage.ErrNotFound)

	_, total, err := stores.Documents.ListByDepartment(ctx, "Legal", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	docs, err := stores.Documents.ListByStatus(ctx, core.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, docs)
}
