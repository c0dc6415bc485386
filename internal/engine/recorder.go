package engine

import (
	"sync"
	"time"

	"github.com/rendis/flowkit/pkg/schema"
)

// HistoryRecorder owns the step execution records of one run. Records are
// mutable only until they reach a terminal status. The mutex makes it safe
// for parallel branches to record concurrently, including stragglers from a
// first-completion join that finish after the step has already returned; the
// engine persists and returns SnapshotHistory copies, never the live records.
type HistoryRecorder struct {
	mu      sync.Mutex
	records []*schema.StepExecutionRecord
}

// NewHistoryRecorder creates a recorder seeded with previously persisted
// records, if any. On resume the seed carries the paused step's running
// record.
func NewHistoryRecorder(seed []*schema.StepExecutionRecord) *HistoryRecorder {
	r := &HistoryRecorder{}
	r.records = append(r.records, seed...)
	return r
}

// Begin appends a new running record for a step and returns it.
func (r *HistoryRecorder) Begin(stepID string, stepType schema.StepType, input any) *schema.StepExecutionRecord {
	rec := &schema.StepExecutionRecord{
		StepID:    stepID,
		StepType:  stepType,
		Status:    schema.StepStatusRunning,
		StartTime: time.Now().UTC(),
		Input:     input,
	}
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
	return rec
}

// Complete marks a record completed with the given output. No-op if the
// record is already terminal.
func (r *HistoryRecorder) Complete(rec *schema.StepExecutionRecord, output any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	rec.Status = schema.StepStatusCompleted
	rec.Output = output
	rec.EndTime = &now
}

// Fail marks a record failed with the given error. No-op if already terminal.
func (r *HistoryRecorder) Fail(rec *schema.StepExecutionRecord, ferr *schema.FlowError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	rec.Status = schema.StepStatusFailed
	rec.Error = ferr
	rec.EndTime = &now
}

// Skip appends an already-terminal skipped record for a step that did not run.
func (r *HistoryRecorder) Skip(stepID string, stepType schema.StepType, reason string) {
	now := time.Now().UTC()
	rec := &schema.StepExecutionRecord{
		StepID:    stepID,
		StepType:  stepType,
		Status:    schema.StepStatusSkipped,
		StartTime: now,
		EndTime:   &now,
		Output:    reason,
	}
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

// SetRetryCount updates the attempt counter on a live record.
func (r *HistoryRecorder) SetRetryCount(rec *schema.StepExecutionRecord, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.Status.Terminal() {
		return
	}
	rec.RetryCount = n
}

// SnapshotHistory returns value copies of every record, taken under the
// lock. Snapshots are what the engine persists and returns, so a straggler
// branch mutating its record can never race a JSON marshal or a caller read.
func (r *HistoryRecorder) SnapshotHistory() []*schema.StepExecutionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*schema.StepExecutionRecord, len(r.records))
	for i, rec := range r.records {
		cp := *rec
		out[i] = &cp
	}
	return out
}

// RunningRecord returns the most recent non-terminal record for the step,
// or nil. Used on resume to locate the record of a paused human step.
func (r *HistoryRecorder) RunningRecord(stepID string) *schema.StepExecutionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := r.records[i]
		if rec.StepID == stepID && !rec.Status.Terminal() {
			return rec
		}
	}
	return nil
}
