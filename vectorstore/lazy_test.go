package vectorstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/vectorstore"
	"github.com/poiesic/docrag/vectorstore/chromem"
)

func TestLazy_RetriesFailedInitialization(t *testing.T) {
	attempts := 0
	lazy := vectorstore.NewLazy(func(ctx context.Context) (vectorstore.Store, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("connection refused")
		}
		return chromem.New(chromem.Config{}, nil)
	}, nil)

	_, err := lazy.Search(context.Background(), []float32{1}, "hr", 1)
	require.ErrorIs(t, err, core.ErrVectorStoreUnavailable)
	assert.False(t, lazy.Initialized())

	_, err = lazy.Search(context.Background(), []float32{1}, "hr", 1)
	require.NoError(t, err)
	assert.True(t, lazy.Initialized())

	// later calls reuse the store
	require.NoError(t, lazy.DeleteDocument(context.Background(), "doc"))
	assert.Equal(t, 2, attempts)

	require.NoError(t, lazy.Close())
	assert.False(t, lazy.Initialized())
}

func TestLazy_CloseWithoutInit(t *testing.T) {
	lazy := vectorstore.NewLazy(func(ctx context.Context) (vectorstore.Store, error) {
		t.Fatal("factory must not run")
		return nil, nil
	}, nil)
	require.NoError(t, lazy.Close())
}

func TestNewPoint_LowercasesDepartment(t *testing.T) {
	p := vectorstore.NewPoint(core.Chunk{
		ID:         core.ChunkID("d", 3),
		DocumentID: "d",
		Ordinal:    3,
		Department: " Finance ",
		Source:     core.SourceRef{Page: 4, Offset: 120},
	}, []float32{1})
	assert.Equal(t, "finance", p.Department)
	assert.Equal(t, 4, p.Page)
	assert.Equal(t, 120, p.Offset)
}
