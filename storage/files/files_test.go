package files

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/poiesic/docrag/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLifecycle(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	path, err := store.Save(ctx, "d1", "report.pdf", bytes.NewReader([]byte("%PDF-1.4")))
	require.NoError(t, err)
	assert.Equal(t, "d1/report.pdf", path)

	ok, err := store.Exists(ctx, path)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := store.Open(ctx, path)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	require.NoError(t, store.Remove(ctx, path))
	assert.ErrorIs(t, store.Remove(ctx, path), storage.ErrNotFound)

	ok, err = store.Exists(ctx, path)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Open(ctx, path)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoreEmptyFile(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	path, err := store.Save(context.Background(), "d2", "empty.txt", bytes.NewReader(nil))
	require.NoError(t, err)
	ok, err := store.Exists(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStoreRejectsEscapingPaths(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = store.Open(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestStoreCanceledSave(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Save(ctx, "d3", "a.txt", bytes.NewReader([]byte("data")))
	assert.ErrorIs(t, err, context.Canceled)
}
