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

package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/storage"
)

// Monitor records pipeline runs into a storage.RunLog.
type Monitor struct {
	runs   storage.RunLog
	logger *slog.Logger
	now    func() time.Time

	// open stage start times, keyed by pipeline id
	mu     sync.Mutex
	starts map[string]*openStages
}

// openStages holds the start times of a run's unfinished stages.
type openStages struct {
	touched time.Time
	stages  map[string]time.Time
}

// Start times of runs idle this long are discarded; their end events
// record no duration.
const staleStartAge = 24 * time.Hour

var _ Recorder = (*Monitor)(nil)

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// New creates a Monitor over runs.
func New(runs storage.RunLog, opts ...Option) *Monitor {
	m := &Monitor{
		runs:   runs,
		logger: slog.Default(),
		now:    time.Now,
		starts: make(map[string]*openStages),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "pipeline-monitor")
	return m
}

func newPipelineID(subject core.SubjectType) string {
	return fmt.Sprintf("%s-%s", subject, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// StartRun allocates a run id for subjectID and registers the run header.
// A failure to persist the header is logged, and the run's events are then
// dropped by RecordEvent.
func (m *Monitor) StartRun(ctx context.Context, subject core.SubjectType, subjectID string) string {
	m.pruneStarts(m.now())
	id := newPipelineID(subject)
	err := m.runs.CreateRun(context.WithoutCancel(ctx), &core.PipelineRun{
		ID:          id,
		SubjectType: subject,
		SubjectID:   subjectID,
	})
	if err != nil {
		RecordFailures.Inc()
		m.logger.Warn("failed to create pipeline run", "pipeline_id", id, "err", err)
	}
	return id
}

// RecordEvent appends a stage event. It never fails the caller: storage
// errors and panics are logged, and events for a closed run are dropped.
// End and error events carry the time elapsed since the matching start.
func (m *Monitor) RecordEvent(ctx context.Context, pipelineID, stage string, phase core.Phase, data map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			RecordFailures.Inc()
			m.logger.Error("panic while recording stage event", "pipeline_id", pipelineID, "stage", stage, "panic", r)
		}
	}()
	if pipelineID == "" {
		m.logger.Warn("dropping stage event without pipeline id", "stage", stage, "phase", phase)
		return
	}

	now := m.now()
	event := &core.StageEvent{
		PipelineID: pipelineID,
		Stage:      stage,
		Phase:      phase,
		Timestamp:  now,
		Data:       sanitize(data),
	}
	if phase == core.PhaseStart {
		m.markStart(pipelineID, stage, now)
	} else if started, ok := m.takeStart(pipelineID, stage); ok {
		event.DurationMS = now.Sub(started).Milliseconds()
	}

	err := m.runs.AppendEvent(context.WithoutCancel(ctx), event)
	switch {
	case errors.Is(err, storage.ErrRunClosed):
		m.logger.Debug("dropping event for finished run", "pipeline_id", pipelineID, "stage", stage, "phase", phase)
		return
	case errors.Is(err, storage.ErrNotFound):
		m.forget(pipelineID)
		m.logger.Warn("dropping event for unknown run", "pipeline_id", pipelineID, "stage", stage, "phase", phase)
		return
	case err != nil:
		RecordFailures.Inc()
		m.logger.Warn("failed to record stage event", "pipeline_id", pipelineID, "stage", stage, "phase", phase, "err", err)
		return
	}

	EventsTotal.WithLabelValues(stage, string(phase)).Inc()
	if phase != core.PhaseStart {
		StageDuration.WithLabelValues(stage).Observe(float64(event.DurationMS) / 1000)
	}
	if event.IsTerminal() {
		m.forget(pipelineID)
		outcome := "completed"
		if phase == core.PhaseError {
			outcome = "errored"
		}
		RunsFinished.WithLabelValues(string(core.SubjectFromPipelineID(pipelineID)), outcome).Inc()
	}
}

func (m *Monitor) markStart(pipelineID, stage string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	open, ok := m.starts[pipelineID]
	if !ok {
		open = &openStages{stages: make(map[string]time.Time)}
		m.starts[pipelineID] = open
	}
	open.touched = at
	open.stages[stage] = at
}

func (m *Monitor) takeStart(pipelineID, stage string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	open, ok := m.starts[pipelineID]
	if !ok {
		return time.Time{}, false
	}
	at, ok := open.stages[stage]
	delete(open.stages, stage)
	return at, ok
}

// pruneStarts drops the start times of runs that saw no start event within
// staleStartAge of now.
func (m *Monitor) pruneStarts(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, open := range m.starts {
		if now.Sub(open.touched) > staleStartAge {
			delete(m.starts, id)
		}
	}
}

func (m *Monitor) openRuns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.starts)
}

func (m *Monitor) forget(pipelineID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.starts, pipelineID)
}

// sanitize copies data, replacing values that do not serialize usefully.
func sanitize(data map[string]any) map[string]any {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case error:
			out[k] = val.Error()
		case time.Duration:
			out[k] = val.Milliseconds()
		case fmt.Stringer:
			out[k] = val.String()
		default:
			out[k] = v
		}
	}
	return out
}

// GetRun returns a run with its events.
// Returns storage.ErrNotFound for unknown ids.
func (m *Monitor) GetRun(ctx context.Context, id string) (*core.PipelineRun, error) {
	return m.runs.GetRun(ctx, id)
}

// ListRuns summarizes every run ordered by first-event time, newest first.
func (m *Monitor) ListRuns(ctx context.Context) ([]core.RunSummary, error) {
	runs, err := m.runs.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.RunSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, Summarize(r))
	}
	slices.SortStableFunc(out, func(a, b core.RunSummary) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return out, nil
}

// Summarize builds the list view of a run.
func Summarize(r *core.PipelineRun) core.RunSummary {
	s := core.RunSummary{
		ID:          r.ID,
		SubjectType: r.SubjectType,
		SubjectID:   r.SubjectID,
		StartedAt:   r.StartedAt(),
		EventCount:  len(r.Events),
	}
	if t := r.Terminal(); t != nil {
		s.Finished = true
		s.Failed = t.Phase == core.PhaseError
	}
	return s
}
