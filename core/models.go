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

package core

import (
	"encoding/binary"
	"strconv"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a content-derived identifier used for chunks and vector points.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// DocumentStatus is the lifecycle state of an ingested document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DocumentRecord is the durable metadata row for an uploaded document.
type DocumentRecord struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	ContentType  string         `json:"content_type"`
	Size         int64          `json:"size"`
	Department   string         `json:"department"`
	Status       DocumentStatus `json:"status"`
	StoragePath  string         `json:"storage_path"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ChunkCount   int            `json:"chunk_count"`
	PipelineID   string         `json:"pipeline_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// SourceRef locates a chunk within its originating document.
type SourceRef struct {
	Page   int `json:"page,omitempty"` // 1-based, 0 when the format has no pages
	Offset int `json:"offset"`         // rune offset within the page (or document)
}

// Chunk is a bounded window of a document's extracted text, the unit of
// embedding and retrieval.
type Chunk struct {
	ID           ID        `json:"id"`
	DocumentID   string    `json:"document_id"`
	DocumentName string    `json:"document_name"`
	Ordinal      int       `json:"ordinal"`
	Text         string    `json:"text"`
	Department   string    `json:"department"` // lowercased at write time
	Source       SourceRef `json:"source"`
}

// ChunkID derives the stable ID of the chunk at ordinal within a document.
// Re-ingesting the same document yields the same IDs, so upserts overwrite.
func ChunkID(documentID string, ordinal int) ID {
	return IDFromContent(documentID + ":" + strconv.Itoa(ordinal))
}

// SubjectType identifies what a pipeline run observes.
type SubjectType string

const (
	SubjectDocument SubjectType = "document"
	SubjectQuery    SubjectType = "query"
)

// SubjectFromPipelineID recovers the subject type encoded in a pipeline id
// ("document-1a2b3c4d"). Unknown prefixes are returned verbatim.
func SubjectFromPipelineID(id string) SubjectType {
	subject, _, found := strings.Cut(id, "-")
	if !found {
		return ""
	}
	return SubjectType(subject)
}

// Phase is the lifecycle point a stage event records.
type Phase string

const (
	PhaseStart Phase = "start"
	PhaseEnd   Phase = "end"
	PhaseError Phase = "error"
)

// StageOverall is the well-known stage name of the terminal event of every run.
const StageOverall = "Overall Processing"

// StageEvent is a single append to a pipeline run's log.
type StageEvent struct {
	PipelineID string         `json:"pipeline_id"`
	Seq        uint64         `json:"seq"`
	Stage      string         `json:"stage"`
	Phase      Phase          `json:"phase"`
	Timestamp  time.Time      `json:"timestamp"`
	DurationMS int64          `json:"duration_ms"`
	Data       map[string]any `json:"data,omitempty"`
}

// IsTerminal reports whether the event closes its run.
func (e *StageEvent) IsTerminal() bool {
	return e.Stage == StageOverall && (e.Phase == PhaseEnd || e.Phase == PhaseError)
}

// PipelineRun is the ordered event log of one ingestion or query execution.
type PipelineRun struct {
	ID          string        `json:"id"`
	SubjectType SubjectType   `json:"subject_type"`
	SubjectID   string        `json:"subject_id"`
	Events      []*StageEvent `json:"events"`
}

// Terminal returns the run's terminal event, or nil while the run is open.
func (r *PipelineRun) Terminal() *StageEvent {
	for _, e := range r.Events {
		if e.IsTerminal() {
			return e
		}
	}
	return nil
}

// StartedAt returns the timestamp of the first event.
func (r *PipelineRun) StartedAt() time.Time {
	if len(r.Events) == 0 {
		return time.Time{}
	}
	return r.Events[0].Timestamp
}

// RunSummary is the list view of a pipeline run.
type RunSummary struct {
	ID          string      `json:"id"`
	SubjectType SubjectType `json:"subject_type"`
	SubjectID   string      `json:"subject_id"`
	StartedAt   time.Time   `json:"started_at"`
	EventCount  int         `json:"event_count"`
	Finished    bool        `json:"finished"`
	Failed      bool        `json:"failed"`
}

// SubjectStats aggregates runs of one subject type.
type SubjectStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Errored   int `json:"errored"`
}

// Stats is the result of a monitor aggregation.
type Stats struct {
	Window             time.Duration                `json:"window"`
	Subjects           map[SubjectType]SubjectStats `json:"subjects"`
	StageErrors        map[string]int               `json:"stage_errors"`
	MeanStageDurations map[string]float64           `json:"mean_stage_duration_ms"`
}

// QueryStatus tags how a query was answered.
type QueryStatus string

const (
	QueryOK               QueryStatus = "ok"
	QueryDegraded         QueryStatus = "degraded"
	QueryGenerationFailed QueryStatus = "generation_failed"
	QueryEmbeddingFailed  QueryStatus = "embedding_failed"
)

// SourceDocument is a retrieved passage backing an answer.
type SourceDocument struct {
	DocumentID     string  `json:"document_id"`
	DocumentName   string  `json:"document_name"`
	RelevanceScore float32 `json:"relevance_score"`
	ContentSnippet string  `json:"content_snippet"`
	Page           int     `json:"page,omitempty"`
}

// QueryHistoryEntry records one answered (or failed) query.
type QueryHistoryEntry struct {
	ID               string           `json:"id"`
	QueryText        string           `json:"query_text"`
	ResponseText     string           `json:"response_text"`
	Department       string           `json:"department"`
	UserID           string           `json:"user_id,omitempty"`
	Sources          []SourceDocument `json:"sources"`
	ProcessingTimeMS int64            `json:"processing_time_ms"`
	ModelUsed        string           `json:"model_used"`
	GPU              bool             `json:"gpu_flag"`
	Status           QueryStatus      `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
}
