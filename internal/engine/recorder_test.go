package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowkit/pkg/schema"
)

func TestRecorderBeginCompleteLifecycle(t *testing.T) {
	rec := NewHistoryRecorder(nil)

	record := rec.Begin("s1", schema.StepTypeTool, "in")
	assert.Equal(t, schema.StepStatusRunning, record.Status)
	assert.Len(t, rec.SnapshotHistory(), 1)

	rec.Complete(record, "out")
	assert.Equal(t, schema.StepStatusCompleted, record.Status)
	assert.Equal(t, "out", record.Output)
	assert.NotNil(t, record.EndTime)
}

func TestRecorderTerminalRecordsAreImmutable(t *testing.T) {
	rec := NewHistoryRecorder(nil)

	record := rec.Begin("s1", schema.StepTypeAgent, nil)
	rec.Fail(record, schema.NewError(schema.ErrCodeExecution, "boom"))

	rec.Complete(record, "late output")
	rec.SetRetryCount(record, 7)

	assert.Equal(t, schema.StepStatusFailed, record.Status)
	assert.Nil(t, record.Output)
	assert.Zero(t, record.RetryCount)
}

func TestRecorderSkipIsTerminal(t *testing.T) {
	rec := NewHistoryRecorder(nil)

	rec.Skip("s1", schema.StepTypeConditional, "condition not met")

	history := rec.SnapshotHistory()
	require.Len(t, history, 1)
	record := history[0]
	assert.Equal(t, schema.StepStatusSkipped, record.Status)
	assert.Equal(t, "condition not met", record.Output)
	assert.NotNil(t, record.EndTime)
}

func TestRecorderSnapshotIsDetachedFromLiveRecords(t *testing.T) {
	rec := NewHistoryRecorder(nil)
	record := rec.Begin("s1", schema.StepTypeTool, nil)

	snapshot := rec.SnapshotHistory()
	require.Len(t, snapshot, 1)
	assert.Equal(t, schema.StepStatusRunning, snapshot[0].Status)

	rec.Complete(record, "out")
	assert.Equal(t, schema.StepStatusRunning, snapshot[0].Status,
		"completing the live record must not mutate an earlier snapshot")
}

func TestRecorderRunningRecordFindsLatestNonTerminal(t *testing.T) {
	rec := NewHistoryRecorder(nil)

	first := rec.Begin("s1", schema.StepTypeHuman, nil)
	rec.Fail(first, schema.NewError(schema.ErrCodeTimeout, "expired"))
	second := rec.Begin("s1", schema.StepTypeHuman, nil)

	assert.Same(t, second, rec.RunningRecord("s1"))
	assert.Nil(t, rec.RunningRecord("s2"))
}

func TestRecorderSeedsFromPersistedHistory(t *testing.T) {
	paused := &schema.StepExecutionRecord{
		StepID:   "approve",
		StepType: schema.StepTypeHuman,
		Status:   schema.StepStatusRunning,
	}
	rec := NewHistoryRecorder([]*schema.StepExecutionRecord{paused})

	assert.Same(t, paused, rec.RunningRecord("approve"))
	assert.Len(t, rec.SnapshotHistory(), 1)
}
