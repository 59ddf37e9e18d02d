package qdrant

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/vectorstore"
)

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultCollection, cfg.Collection)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)

	// vector size has no default
	require.Error(t, cfg.Validate())
	cfg.VectorSize = 384
	require.NoError(t, cfg.Validate())

	cfg.Port = 70000
	require.Error(t, cfg.Validate())
}

// newLiveStore connects to the Qdrant named by DOCRAG_TEST_QDRANT_HOST
// (optionally DOCRAG_TEST_QDRANT_PORT), using a throwaway collection.
func newLiveStore(t *testing.T) *Store {
	t.Helper()
	host := os.Getenv("DOCRAG_TEST_QDRANT_HOST")
	if host == "" {
		t.Skip("DOCRAG_TEST_QDRANT_HOST not set")
	}
	port := DefaultPort
	if p := os.Getenv("DOCRAG_TEST_QDRANT_PORT"); p != "" {
		var err error
		port, err = strconv.Atoi(p)
		require.NoError(t, err)
	}
	s, err := New(context.Background(), Config{
		Host:       host,
		Port:       port,
		Collection: "docrag_test_" + uuid.NewString()[:8],
		VectorSize: 3,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.client.DeleteCollection(context.Background(), s.collection)
		_ = s.Close()
	})
	return s
}

func point(docID string, ordinal int, dept string, vec ...float32) vectorstore.Point {
	return vectorstore.NewPoint(core.Chunk{
		ID:           core.ChunkID(docID, ordinal),
		DocumentID:   docID,
		DocumentName: docID + ".pdf",
		Ordinal:      ordinal,
		Text:         "text of " + docID,
		Department:   dept,
		Source:       core.SourceRef{Page: 1},
	}, vec)
}

func TestLive_UpsertSearchDelete(t *testing.T) {
	s := newLiveStore(t)
	ctx := context.Background()

	pts := []vectorstore.Point{
		point("a", 0, "HR", 1, 0, 0),
		point("a", 1, "HR", 0.7, 0.7, 0),
		point("b", 0, "IT", 1, 0, 0),
	}
	require.NoError(t, s.Upsert(ctx, pts))
	require.NoError(t, s.Upsert(ctx, pts))

	matches, err := s.Search(ctx, []float32{1, 0, 0}, "HR", 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, core.ChunkID("a", 0), matches[0].ID)
	assert.Equal(t, "a.pdf", matches[0].DocumentName)
	assert.Equal(t, 1, matches[0].Page)

	require.NoError(t, s.DeleteDocument(ctx, "a"))
	require.NoError(t, s.DeleteDocument(ctx, "a"))
	matches, err = s.Search(ctx, []float32{1, 0, 0}, "hr", 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestLive_DimensionMismatch(t *testing.T) {
	s := newLiveStore(t)
	err := s.Upsert(context.Background(), []vectorstore.Point{point("a", 0, "HR", 1, 0)})
	require.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}
