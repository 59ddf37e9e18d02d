package monitor

import (
	"context"

	"github.com/poiesic/docrag/core"
)

// Recorder is the subset of Monitor the pipelines depend on.
type Recorder interface {
	StartRun(ctx context.Context, subject core.SubjectType, subjectID string) string
	RecordEvent(ctx context.Context, pipelineID, stage string, phase core.Phase, data map[string]any)
}

// noopRecorder discards everything. Run ids are still generated so callers
// can rely on a non-empty id.
type noopRecorder struct{}

var _ Recorder = noopRecorder{}

// Noop returns a Recorder that keeps nothing.
func Noop() Recorder { return noopRecorder{} }

func (noopRecorder) StartRun(_ context.Context, subject core.SubjectType, _ string) string {
	return newPipelineID(subject)
}

func (noopRecorder) RecordEvent(context.Context, string, string, core.Phase, map[string]any) {}
