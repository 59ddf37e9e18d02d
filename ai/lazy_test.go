package ai_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/poiesic/docrag/ai"
	"github.com/poiesic/docrag/ai/mock"
	"github.com/poiesic/docrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLazyProviderInitializesOnce(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	lp := ai.NewLazyProvider(func(ctx context.Context) (ai.AIProvider, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return mock.NewMockProvider(), nil
	}, "configured-model", nil)
	assert.False(t, lp.Initialized())
	assert.Equal(t, "configured-model", lp.Generator().Model())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := lp.Embedder().EmbedText(context.Background(), "hello")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
	assert.True(t, lp.Initialized())
	assert.Equal(t, "mock-generator", lp.Generator().Model())
	require.NoError(t, lp.Close())
	assert.False(t, lp.Initialized())
}

func TestLazyProviderRetriesAfterFailure(t *testing.T) {
	fail := true
	lp := ai.NewLazyProvider(func(ctx context.Context) (ai.AIProvider, error) {
		if fail {
			return nil, errors.New("connection refused")
		}
		return mock.NewMockProvider(), nil
	}, "m", nil)

	_, err := lp.Embedder().EmbedTexts(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, core.ErrEmbeddingUnavailable)

	_, err = lp.Generator().Generate(context.Background(), "p", 10)
	assert.ErrorIs(t, err, core.ErrGeneration)

	fail = false
	dim, err := lp.Embedder().Dimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mock.DefaultDimension, dim)

	answer, err := lp.Generator().Generate(context.Background(), "p", 10)
	require.NoError(t, err)
	assert.Equal(t, "mock answer", answer)
}
