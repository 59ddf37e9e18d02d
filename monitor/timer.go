package monitor

import (
	"context"
	"errors"

	"github.com/poiesic/docrag/core"
)

// Error types attached to error events under the "error_type" key.
const (
	ErrorTypeTimeout           = "timeout"
	ErrorTypeCanceled          = "canceled"
	ErrorTypeValidation        = "validation"
	ErrorTypeUnsupportedFormat = "unsupported_format"
	ErrorTypeNoContent         = "no_content"
	ErrorTypeEmbedding         = "embedding_unavailable"
	ErrorTypeVectorStore       = "vector_store_unavailable"
	ErrorTypeGeneration        = "generation"
	ErrorTypeStorage           = "storage"
	ErrorTypeInternal          = "internal"
)

// ErrorType classifies err for the "error_type" field of an error event.
// Deadline expiry wins over any other classification.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, context.Canceled):
		return ErrorTypeCanceled
	case errors.Is(err, core.ErrValidation):
		return ErrorTypeValidation
	case errors.Is(err, core.ErrUnsupportedFormat):
		return ErrorTypeUnsupportedFormat
	case errors.Is(err, core.ErrNoContentExtracted):
		return ErrorTypeNoContent
	case errors.Is(err, core.ErrEmbeddingUnavailable):
		return ErrorTypeEmbedding
	case errors.Is(err, core.ErrVectorStoreUnavailable):
		return ErrorTypeVectorStore
	case errors.Is(err, core.ErrGeneration):
		return ErrorTypeGeneration
	case errors.Is(err, core.ErrStorage):
		return ErrorTypeStorage
	default:
		return ErrorTypeInternal
	}
}

// StageTimer brackets one stage of a run with start and end or error events.
type StageTimer struct {
	rec        Recorder
	pipelineID string
	stage      string
	done       bool
}

// StartStage records the start event of stage.
func StartStage(ctx context.Context, rec Recorder, pipelineID, stage string, data map[string]any) *StageTimer {
	rec.RecordEvent(ctx, pipelineID, stage, core.PhaseStart, data)
	return &StageTimer{rec: rec, pipelineID: pipelineID, stage: stage}
}

// End records the end event. Only the first End or Fail has an effect.
func (t *StageTimer) End(ctx context.Context, data map[string]any) {
	if t.done {
		return
	}
	t.done = true
	t.rec.RecordEvent(ctx, t.pipelineID, t.stage, core.PhaseEnd, data)
}

// Fail records an error event carrying the error text and its type, and
// returns err tagged with the stage.
func (t *StageTimer) Fail(ctx context.Context, err error, data map[string]any) error {
	if err == nil {
		err = errors.New("unspecified failure")
	}
	tagged := core.NewStageError(t.stage, err)
	if t.done {
		return tagged
	}
	t.done = true
	fields := make(map[string]any, len(data)+2)
	for k, v := range data {
		fields[k] = v
	}
	fields["error"] = err.Error()
	fields["error_type"] = ErrorType(err)
	t.rec.RecordEvent(ctx, t.pipelineID, t.stage, core.PhaseError, fields)
	return tagged
}
