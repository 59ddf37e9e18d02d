// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ai

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/poiesic/docrag/core"
)

// ProviderFactory builds a provider on first use.
type ProviderFactory func(ctx context.Context) (AIProvider, error)

// LazyProvider defers provider construction until a service is first called.
// Construction happens at most once; a failed attempt is not cached, so the
// next call tries again.
type LazyProvider struct {
	factory  ProviderFactory
	model    string
	logger   *slog.Logger
	mu       sync.Mutex
	provider AIProvider
}

var _ AIProvider = (*LazyProvider)(nil)

// NewLazyProvider wraps factory. model is reported by Generator().Model()
// before the provider exists.
func NewLazyProvider(factory ProviderFactory, model string, logger *slog.Logger) *LazyProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LazyProvider{
		factory: factory,
		model:   model,
		logger:  logger.With("component", "lazy-ai-provider"),
	}
}

func (l *LazyProvider) get(ctx context.Context) (AIProvider, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.provider != nil {
		return l.provider, nil
	}
	p, err := l.factory(ctx)
	if err != nil {
		l.logger.Warn("ai provider initialization failed", "err", err)
		return nil, err
	}
	l.logger.Info("ai provider initialized")
	l.provider = p
	return p, nil
}

// Initialized reports whether the provider has been built.
func (l *LazyProvider) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.provider != nil
}

// Embedder returns an Embedder that initializes the provider on demand.
// Initialization failures surface as core.ErrEmbeddingUnavailable.
func (l *LazyProvider) Embedder() Embedder {
	return &lazyEmbedder{l: l}
}

// Generator returns a Generator that initializes the provider on demand.
// Initialization failures surface as core.ErrGeneration.
func (l *LazyProvider) Generator() Generator {
	return &lazyGenerator{l: l}
}

// Close closes the provider if it was built.
func (l *LazyProvider) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.provider == nil {
		return nil
	}
	err := l.provider.Close()
	l.provider = nil
	return err
}

type lazyEmbedder struct {
	l *LazyProvider
}

func (e *lazyEmbedder) embedder(ctx context.Context) (Embedder, error) {
	p, err := e.l.get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, err)
	}
	return p.Embedder(), nil
}

func (e *lazyEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	emb, err := e.embedder(ctx)
	if err != nil {
		return nil, err
	}
	return emb.EmbedText(ctx, text)
}

func (e *lazyEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	emb, err := e.embedder(ctx)
	if err != nil {
		return nil, err
	}
	return emb.EmbedTexts(ctx, texts)
}

func (e *lazyEmbedder) Dimension(ctx context.Context) (int, error) {
	emb, err := e.embedder(ctx)
	if err != nil {
		return 0, err
	}
	return emb.Dimension(ctx)
}

type lazyGenerator struct {
	l *LazyProvider
}

func (g *lazyGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	p, err := g.l.get(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrGeneration, err)
	}
	return p.Generator().Generate(ctx, prompt, maxTokens)
}

func (g *lazyGenerator) Model() string {
	g.l.mu.Lock()
	p := g.l.provider
	g.l.mu.Unlock()
	if p != nil {
		return p.Generator().Model()
	}
	return g.l.model
}
