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
	"errors"
	"fmt"
)

// Error taxonomy shared by every pipeline stage.
var (
	// ErrValidation indicates caller input was rejected before any work began.
	ErrValidation = errors.New("validation failed")

	// ErrStorage indicates the metadata store or file store failed.
	ErrStorage = errors.New("storage error")

	// ErrUnsupportedFormat indicates no extractor handles the file's type.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrNoContentExtracted indicates extraction, including OCR fallbacks, produced no text.
	ErrNoContentExtracted = errors.New("no content extracted")

	// ErrEmbeddingUnavailable indicates the embedding service is missing or failed.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrVectorStoreUnavailable indicates the vector store is missing or failed.
	ErrVectorStoreUnavailable = errors.New("vector store unavailable")

	// ErrGeneration indicates the text generator failed.
	ErrGeneration = errors.New("generation failed")

	// ErrHistoryLogging indicates a query history entry could not be written.
	ErrHistoryLogging = errors.New("history logging failed")

	// ErrInvalidTransition indicates a document status change that would move backwards.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrEmptyFilename indicates an upload carried no usable filename.
	ErrEmptyFilename = errors.New("filename cannot be empty")
)

// StageError tags an error with the pipeline stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

// NewStageError wraps err with stage. A nil err yields nil.
func NewStageError(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage tagged on err, or "" when untagged.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Retryable reports whether re-running the failed work could succeed.
// Format and content errors are properties of the input and never are.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrUnsupportedFormat) &&
		!errors.Is(err, ErrNoContentExtracted) &&
		!errors.Is(err, ErrValidation)
}
