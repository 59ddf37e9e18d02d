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

// Package qdrant is a remote vector store backed by a Qdrant server over
// gRPC.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/vectorstore"
)

const (
	DefaultHost           = "localhost"
	DefaultPort           = 6334
	DefaultCollection     = "docrag_chunks"
	DefaultMaxMessageSize = 50 * 1024 * 1024
	DefaultTimeout        = 30 * time.Second
)

// Config describes how to reach Qdrant and which collection to use.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	// VectorSize is required to create the collection on first use.
	VectorSize     int
	MaxMessageSize int
	Timeout        time.Duration
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("qdrant host cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("qdrant port out of range: %d", c.Port)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("qdrant vector size must be positive, got %d", c.VectorSize)
	}
	return nil
}

// Store implements vectorstore.Store on a Qdrant collection. Chunk IDs map
// directly to numeric point IDs.
type Store struct {
	client     *qdrant.Client
	collection string
	vectorSize int
	timeout    time.Duration
	logger     *slog.Logger
}

var _ vectorstore.Store = (*Store)(nil)

// New connects, health-checks and ensures the collection exists with a
// keyword index on department and document id.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, unavailable("connect", err)
	}

	s := &Store{
		client:     client,
		collection: cfg.Collection,
		vectorSize: cfg.VectorSize,
		timeout:    cfg.Timeout,
		logger:     logger.With("component", "qdrant", "collection", cfg.Collection),
	}

	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	s.logger.Info("vector store connected", "host", cfg.Host, "port", cfg.Port)
	return s, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: qdrant %s: %w", core.ErrVectorStoreUnavailable, op, err)
}

func (s *Store) ensureCollection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		return unavailable("health check", err)
	}
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return unavailable("collection exists", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return unavailable("create collection", err)
	}
	for _, field := range []string{vectorstore.FieldDepartment, vectorstore.FieldDocumentID} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return unavailable("create field index "+field, err)
		}
	}
	s.logger.Info("created collection", "vector_size", s.vectorSize)
	return nil
}

// Upsert implements vectorstore.Store.
func (s *Store) Upsert(ctx context.Context, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		if len(p.Vector) == 0 {
			return vectorstore.ErrEmptyVector
		}
		if len(p.Vector) != s.vectorSize {
			return fmt.Errorf("%w: got %d, want %d", vectorstore.ErrDimensionMismatch, len(p.Vector), s.vectorSize)
		}
		payload, err := qdrant.TryValueMap(map[string]any{
			vectorstore.FieldText:         p.Text,
			vectorstore.FieldDepartment:   vectorstore.NormalizeDepartment(p.Department),
			vectorstore.FieldDocumentID:   p.DocumentID,
			vectorstore.FieldDocumentName: p.DocumentName,
			vectorstore.FieldOrdinal:      p.Ordinal,
			vectorstore.FieldPage:         p.Page,
			vectorstore.FieldOffset:       p.Offset,
		})
		if err != nil {
			return fmt.Errorf("%w: payload for point %d: %w", core.ErrValidation, p.ID, err)
		}
		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(p.ID)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	if err != nil {
		return unavailable("upsert", err)
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

	req := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if dept := vectorstore.NormalizeDepartment(department); dept != "" {
		req.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchKeyword(vectorstore.FieldDepartment, dept)},
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	points, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, unavailable("query", err)
	}

	matches := make([]vectorstore.Match, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		matches = append(matches, vectorstore.Match{
			ID:           core.ID(p.GetId().GetNum()),
			Score:        p.GetScore(),
			DocumentID:   payload[vectorstore.FieldDocumentID].GetStringValue(),
			DocumentName: payload[vectorstore.FieldDocumentName].GetStringValue(),
			Text:         payload[vectorstore.FieldText].GetStringValue(),
			Department:   payload[vectorstore.FieldDepartment].GetStringValue(),
			Ordinal:      int(payload[vectorstore.FieldOrdinal].GetIntegerValue()),
			Page:         int(payload[vectorstore.FieldPage].GetIntegerValue()),
			Offset:       int(payload[vectorstore.FieldOffset].GetIntegerValue()),
		})
	}
	return matches, nil
}

// DeleteDocument implements vectorstore.Store.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("%w: document id cannot be empty", core.ErrValidation)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchKeyword(vectorstore.FieldDocumentID, documentID)},
		}),
	})
	if err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Close releases the gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}
