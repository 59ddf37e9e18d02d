package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docrag/core"
)

func TestAggregateStats(t *testing.T) {
	m, clock := newTestMonitor(t)
	ctx := context.Background()

	// an old run outside a one-hour window
	old := m.StartRun(ctx, core.SubjectDocument, "old")
	m.RecordEvent(ctx, old, core.StageOverall, core.PhaseStart, nil)
	m.RecordEvent(ctx, old, core.StageOverall, core.PhaseEnd, nil)
	clock.Advance(2 * time.Hour)

	ok := m.StartRun(ctx, core.SubjectDocument, "ok")
	m.RecordEvent(ctx, ok, core.StageOverall, core.PhaseStart, nil)
	m.RecordEvent(ctx, ok, "Embedding", core.PhaseStart, nil)
	clock.Advance(100 * time.Millisecond)
	m.RecordEvent(ctx, ok, "Embedding", core.PhaseEnd, nil)
	m.RecordEvent(ctx, ok, core.StageOverall, core.PhaseEnd, nil)

	bad := m.StartRun(ctx, core.SubjectDocument, "bad")
	m.RecordEvent(ctx, bad, core.StageOverall, core.PhaseStart, nil)
	m.RecordEvent(ctx, bad, "Text Extraction", core.PhaseStart, nil)
	m.RecordEvent(ctx, bad, "Text Extraction", core.PhaseError, nil)
	m.RecordEvent(ctx, bad, core.StageOverall, core.PhaseError, nil)

	// never finished
	hung := m.StartRun(ctx, core.SubjectQuery, "hung")
	m.RecordEvent(ctx, hung, core.StageOverall, core.PhaseStart, nil)
	m.RecordEvent(ctx, hung, "Embedding", core.PhaseStart, nil)
	clock.Advance(300 * time.Millisecond)
	m.RecordEvent(ctx, hung, "Embedding", core.PhaseEnd, nil)

	stats, err := m.AggregateStats(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, stats.Window)
	assert.Equal(t, core.SubjectStats{Total: 2, Completed: 1, Errored: 1}, stats.Subjects[core.SubjectDocument])
	assert.Equal(t, core.SubjectStats{Total: 1, Completed: 0, Errored: 1}, stats.Subjects[core.SubjectQuery])
	assert.Equal(t, 1, stats.StageErrors["Text Extraction"])
	assert.Equal(t, 1, stats.StageErrors[core.StageOverall])
	assert.InDelta(t, 200.0, stats.MeanStageDurations["Embedding"], 0.001)

	all, err := m.AggregateStats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, all.Subjects[core.SubjectDocument].Total)
	assert.Equal(t, 2, all.Subjects[core.SubjectDocument].Completed)
}

func TestAggregateStats_NegativeWindow(t *testing.T) {
	m, _ := newTestMonitor(t)
	_, err := m.AggregateStats(context.Background(), -time.Second)
	require.ErrorIs(t, err, core.ErrValidation)
}
