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

package storage

import (
	"encoding/json"
	"fmt"

	"github.com/poiesic/docrag/core"
)

// Marshal serializes a stored value.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

func unmarshal[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &v, nil
}

// UnmarshalDocument deserializes a DocumentRecord from bytes.
func UnmarshalDocument(data []byte) (*core.DocumentRecord, error) {
	return unmarshal[core.DocumentRecord](data)
}

// UnmarshalHistory deserializes a QueryHistoryEntry from bytes.
func UnmarshalHistory(data []byte) (*core.QueryHistoryEntry, error) {
	return unmarshal[core.QueryHistoryEntry](data)
}

// UnmarshalEvent deserializes a StageEvent from bytes.
func UnmarshalEvent(data []byte) (*core.StageEvent, error) {
	return unmarshal[core.StageEvent](data)
}

// UnmarshalRun deserializes a PipelineRun header from bytes.
func UnmarshalRun(data []byte) (*core.PipelineRun, error) {
	return unmarshal[core.PipelineRun](data)
}
