package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/poiesic/docrag/core"
)

// Factory connects to a backend.
type Factory func(ctx context.Context) (Store, error)

// Lazy connects to its backend on first use. A failed connection is not
// cached; every operation issued while the backend is unreachable fails with
// core.ErrVectorStoreUnavailable.
type Lazy struct {
	factory Factory
	logger  *slog.Logger
	mu      sync.Mutex
	store   Store
}

var _ Store = (*Lazy)(nil)

// NewLazy wraps factory.
func NewLazy(factory Factory, logger *slog.Logger) *Lazy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lazy{
		factory: factory,
		logger:  logger.With("component", "lazy-vectorstore"),
	}
}

func (l *Lazy) get(ctx context.Context) (Store, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store != nil {
		return l.store, nil
	}
	s, err := l.factory(ctx)
	if err != nil {
		l.logger.Warn("vector store initialization failed", "err", err)
		return nil, fmt.Errorf("%w: %w", core.ErrVectorStoreUnavailable, err)
	}
	l.logger.Info("vector store initialized")
	l.store = s
	return s, nil
}

// Initialized reports whether the backend has been connected.
func (l *Lazy) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store != nil
}

func (l *Lazy) Upsert(ctx context.Context, points []Point) error {
	s, err := l.get(ctx)
	if err != nil {
		return err
	}
	return s.Upsert(ctx, points)
}

func (l *Lazy) Search(ctx context.Context, vector []float32, department string, topK int) ([]Match, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.Search(ctx, vector, department, topK)
}

func (l *Lazy) DeleteDocument(ctx context.Context, documentID string) error {
	s, err := l.get(ctx)
	if err != nil {
		return err
	}
	return s.DeleteDocument(ctx, documentID)
}

// Close closes the backend if it was connected.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store == nil {
		return nil
	}
	err := l.store.Close()
	l.store = nil
	return err
}
