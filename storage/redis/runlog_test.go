package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requires a Redis server at DOCRAG_TEST_REDIS_ADDR.
func newTestRunLog(t *testing.T) *RunLog {
	t.Helper()
	addr := os.Getenv("DOCRAG_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DOCRAG_TEST_REDIS_ADDR not set")
	}
	l, err := NewRunLog(context.Background(), Options{
		Addr:      addr,
		KeyPrefix: "docrag-test-" + uuid.NewString(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestNewRunLogRequiresAddr(t *testing.T) {
	_, err := NewRunLog(context.Background(), Options{})
	assert.Error(t, err)
}

func TestRedisRunLogLifecycle(t *testing.T) {
	l := newTestRunLog(t)
	ctx := context.Background()

	run := &core.PipelineRun{ID: "document-1a2b3c4d", SubjectType: core.SubjectDocument, SubjectID: "d1"}
	require.NoError(t, l.CreateRun(ctx, run))
	require.NoError(t, l.CreateRun(ctx, run))

	stages := []string{core.StageOverall, "Text Extraction", "Text Extraction", core.StageOverall}
	phases := []core.Phase{core.PhaseStart, core.PhaseStart, core.PhaseEnd, core.PhaseEnd}
	for i := range stages {
		ev := &core.StageEvent{PipelineID: run.ID, Stage: stages[i], Phase: phases[i], Timestamp: time.Now()}
		require.NoError(t, l.AppendEvent(ctx, ev))
		assert.Equal(t, uint64(i+1), ev.Seq)
	}

	late := &core.StageEvent{PipelineID: run.ID, Stage: "Late", Phase: core.PhaseStart, Timestamp: time.Now()}
	assert.ErrorIs(t, l.AppendEvent(ctx, late), storage.ErrRunClosed)

	got, err := l.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "d1", got.SubjectID)
	assert.Len(t, got.Events, 4)

	_, err = l.GetRun(ctx, "document-nothere")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRedisRunLogAppendRejectsUnknownRun(t *testing.T) {
	l := newTestRunLog(t)
	ctx := context.Background()

	ev := &core.StageEvent{PipelineID: "query-0badf00d", Stage: core.StageOverall, Phase: core.PhaseError, Timestamp: time.Now()}
	assert.ErrorIs(t, l.AppendEvent(ctx, ev), storage.ErrNotFound)

	runs, err := l.ListRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRedisRunLogListRuns(t *testing.T) {
	l := newTestRunLog(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("query-%08x", i)
		require.NoError(t, l.CreateRun(ctx, &core.PipelineRun{ID: id, SubjectType: core.SubjectQuery}))
		time.Sleep(2 * time.Millisecond)
		ev := &core.StageEvent{
			PipelineID: id,
			Stage:      "Generation",
			Phase:      core.PhaseStart,
			Timestamp:  time.Now().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, l.AppendEvent(ctx, ev))
	}
	runs, err := l.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "query-00000002", runs[0].ID)
	assert.Equal(t, core.SubjectQuery, runs[0].SubjectType)
}
