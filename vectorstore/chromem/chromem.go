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

// Package chromem is an embedded vector store backed by chromem-go. It runs
// in-process, optionally persisting to a directory.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	chromemgo "github.com/philippgille/chromem-go"

	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/vectorstore"
)

// DefaultCollection is the collection chunks are stored in.
const DefaultCollection = "docrag_chunks"

// Config selects where the database lives.
type Config struct {
	// Path is the persistence directory; empty keeps everything in memory.
	Path       string
	Compress   bool
	Collection string
}

// Store implements vectorstore.Store on a chromem-go collection.
type Store struct {
	db         *chromemgo.DB
	collection *chromemgo.Collection
	logger     *slog.Logger

	mu     sync.RWMutex
	dim    int
	closed bool
}

var _ vectorstore.Store = (*Store)(nil)

// New opens (or creates) the database and its collection.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Collection
	if name == "" {
		name = DefaultCollection
	}

	var db *chromemgo.DB
	if cfg.Path == "" {
		db = chromemgo.NewDB()
	} else {
		var err error
		db, err = chromemgo.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db at %s: %w", cfg.Path, err)
		}
	}

	// Vectors are always supplied by the caller, so the collection never
	// needs an embedding function of its own.
	collection, err := db.GetOrCreateCollection(name, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", name, err)
	}

	logger = logger.With("component", "chromem", "collection", name)
	logger.Info("vector store opened", "persistent", cfg.Path != "", "points", collection.Count())
	return &Store{db: db, collection: collection, logger: logger}, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem collection has no embedding function; supply vectors")
}

func pointID(id core.ID) string {
	return strconv.FormatUint(uint64(id), 10)
}

// checkDim records the first vector length seen and rejects others.
func (s *Store) checkDim(n int) error {
	if n == 0 {
		return vectorstore.ErrEmptyVector
	}
	if s.dim == 0 {
		s.dim = n
		return nil
	}
	if s.dim != n {
		return fmt.Errorf("%w: got %d, want %d", vectorstore.ErrDimensionMismatch, n, s.dim)
	}
	return nil
}

// Upsert implements vectorstore.Store.
func (s *Store) Upsert(ctx context.Context, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return vectorstore.ErrStoreClosed
	}
	for _, p := range points {
		if err := s.checkDim(len(p.Vector)); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()

	docs := make([]chromemgo.Document, len(points))
	for i, p := range points {
		docs[i] = chromemgo.Document{
			ID:        pointID(p.ID),
			Embedding: p.Vector,
			Content:   p.Text,
			Metadata: map[string]string{
				vectorstore.FieldDepartment:   vectorstore.NormalizeDepartment(p.Department),
				vectorstore.FieldDocumentID:   p.DocumentID,
				vectorstore.FieldDocumentName: p.DocumentName,
				vectorstore.FieldOrdinal:      strconv.Itoa(p.Ordinal),
				vectorstore.FieldPage:         strconv.Itoa(p.Page),
				vectorstore.FieldOffset:       strconv.Itoa(p.Offset),
			},
		}
	}
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	s.logger.Debug("upserted points", "count", len(points))
	return nil
}

// Search implements vectorstore.Store.
func (s *Store) Search(ctx context.Context, vector []float32, department string, topK int) ([]vectorstore.Match, error) {
	if len(vector) == 0 {
		return nil, vectorstore.ErrEmptyVector
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", core.ErrValidation)
	}
	s.mu.RLock()
	closed, dim := s.closed, s.dim
	s.mu.RUnlock()
	if closed {
		return nil, vectorstore.ErrStoreClosed
	}
	if dim != 0 && dim != len(vector) {
		return nil, fmt.Errorf("%w: got %d, want %d", vectorstore.ErrDimensionMismatch, len(vector), dim)
	}

	// chromem rejects nResults larger than the collection.
	n := s.collection.Count()
	if n == 0 {
		return nil, nil
	}
	if topK > n {
		topK = n
	}

	var where map[string]string
	if dept := vectorstore.NormalizeDepartment(department); dept != "" {
		where = map[string]string{vectorstore.FieldDepartment: dept}
	}
	results, err := s.collection.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	matches := make([]vectorstore.Match, 0, len(results))
	for _, r := range results {
		id, err := strconv.ParseUint(r.ID, 10, 64)
		if err != nil {
			s.logger.Warn("skipping point with foreign id", "id", r.ID)
			continue
		}
		matches = append(matches, vectorstore.Match{
			ID:           core.ID(id),
			Score:        r.Similarity,
			DocumentID:   r.Metadata[vectorstore.FieldDocumentID],
			DocumentName: r.Metadata[vectorstore.FieldDocumentName],
			Text:         r.Content,
			Department:   r.Metadata[vectorstore.FieldDepartment],
			Ordinal:      atoi(r.Metadata[vectorstore.FieldOrdinal]),
			Page:         atoi(r.Metadata[vectorstore.FieldPage]),
			Offset:       atoi(r.Metadata[vectorstore.FieldOffset]),
		})
	}
	return matches, nil
}

// DeleteDocument implements vectorstore.Store.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("%w: document id cannot be empty", core.ErrValidation)
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return vectorstore.ErrStoreClosed
	}
	where := map[string]string{vectorstore.FieldDocumentID: documentID}
	if err := s.collection.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	return nil
}

// Count returns the number of stored points.
func (s *Store) Count() int {
	return s.collection.Count()
}

// Close marks the store closed. Persistent data is already on disk.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
