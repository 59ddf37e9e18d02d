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

package ingestion

import (
	"context"

	"github.com/poiesic/docrag/chunking"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/extraction"
)

// Stage names recorded on document runs.
const (
	StageExtraction = "Text Extraction"
	StageChunking   = "Chunking"
	StageEmbedding  = "Embedding Generation"
	StageStorage    = "Vector Storage"
	// StageStatus covers status transitions of the document record.
	StageStatus = "Status Update"
)

// job carries a document through the stages of one run.
type job struct {
	doc       *core.DocumentRecord
	extracted *extraction.Result
	windows   []chunking.Window
	chunks    []core.Chunk
	vectors   [][]float32
	// indexed is set once any point may have reached the vector store.
	indexed bool
}

// processor is one step of a document run. process enriches the job and
// returns event data describing what it did.
type processor interface {
	name() string
	process(ctx context.Context, j *job) (map[string]any, error)
}
