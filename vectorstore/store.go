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

package vectorstore

import (
	"context"
	"strings"

	"github.com/poiesic/docrag/core"
)

// Payload field names shared by the backends.
const (
	FieldText         = "text"
	FieldDepartment   = "department"
	FieldDocumentID   = "document_id"
	FieldDocumentName = "document_name"
	FieldOrdinal      = "ordinal"
	FieldPage         = "page"
	FieldOffset       = "offset"
)

// Point is one indexed chunk.
type Point struct {
	ID           core.ID
	Vector       []float32
	DocumentID   string
	DocumentName string
	Text         string
	Department   string
	Ordinal      int
	Page         int
	Offset       int
}

// Match is a search hit ranked by Score (cosine similarity, higher is closer).
type Match struct {
	ID           core.ID
	Score        float32
	DocumentID   string
	DocumentName string
	Text         string
	Department   string
	Ordinal      int
	Page         int
	Offset       int
}

// Store is a department-partitioned vector index.
type Store interface {
	// Upsert writes points, replacing any with the same ID.
	Upsert(ctx context.Context, points []Point) error
	// Search returns up to topK matches in department ordered by descending
	// score. An empty department searches every partition.
	Search(ctx context.Context, vector []float32, department string, topK int) ([]Match, error)
	// DeleteDocument removes every point of a document. Removing a document
	// with no points is not an error.
	DeleteDocument(ctx context.Context, documentID string) error
	Close() error
}

// NewPoint builds the point for chunk c.
func NewPoint(c core.Chunk, vector []float32) Point {
	return Point{
		ID:           c.ID,
		Vector:       vector,
		DocumentID:   c.DocumentID,
		DocumentName: c.DocumentName,
		Text:         c.Text,
		Department:   NormalizeDepartment(c.Department),
		Ordinal:      c.Ordinal,
		Page:         c.Source.Page,
		Offset:       c.Source.Offset,
	}
}

// NormalizeDepartment is the stored and queried form of a department.
func NormalizeDepartment(department string) string {
	return strings.ToLower(strings.TrimSpace(department))
}
