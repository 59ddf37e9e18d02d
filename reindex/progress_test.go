package reindex

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker_ReportsAtInterval(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 10, 5)
	tracker.Start()

	tracker.Increment(3)
	assert.Empty(t, buf.String(), "should not print under interval")

	tracker.Increment(2)
	assert.Contains(t, buf.String(), "5/10 (50.0%)")
	assert.Contains(t, buf.String(), "documents/s")
}

func TestProgressTracker_Finish(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 4, 10)

	tracker.Start()
	tracker.Increment(1)
	tracker.Finish()

	output := buf.String()
	assert.Contains(t, output, "4/4")
	assert.Contains(t, output, "100.0%")
	assert.Contains(t, output, "\n")
	assert.Greater(t, tracker.Elapsed(), time.Duration(0))
}

func TestProgressTracker_CapsAtTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 3, 1)
	tracker.Start()
	tracker.Increment(7)
	assert.Contains(t, buf.String(), "3/3")
}

func TestProgressTracker_NotStarted(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 100, 10)

	tracker.Increment(10)
	tracker.Finish()

	assert.Empty(t, buf.String())
	assert.Zero(t, tracker.Elapsed())
}

func TestProgressTracker_NilWriterAndZeroInterval(t *testing.T) {
	tracker := NewProgressTracker(nil, 2, 0)
	tracker.Start()
	tracker.Increment(1)
	tracker.Finish()
	assert.Equal(t, 1, tracker.reportInterval)
}
