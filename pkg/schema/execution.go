package schema

import "time"

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// StepStatus is the lifecycle state of a single step execution record.
type StepStatus string

const (
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Terminal reports whether the record is immutable.
func (s StepStatus) Terminal() bool {
	return s != StepStatusRunning
}

// WorkflowExecution is one run of a Workflow against a specific input.
// It is owned exclusively by the engine while in flight; persisted snapshots
// are the only way its state crosses process boundaries.
type WorkflowExecution struct {
	ID          string                 `json:"id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      ExecutionStatus        `json:"status"`
	CurrentStep string                 `json:"current_step,omitempty"` // set only while running/paused
	Variables   map[string]any         `json:"variables,omitempty"`
	StartTime   time.Time              `json:"start_time"`
	EndTime     *time.Time             `json:"end_time,omitempty"`
	Error       *FlowError             `json:"error,omitempty"`
	StepHistory []*StepExecutionRecord `json:"step_history,omitempty"`
}

// StepExecutionRecord is one append-only history entry. It is created when a
// step begins and updated in place only until it reaches a terminal status.
type StepExecutionRecord struct {
	StepID     string     `json:"step_id"`
	StepType   StepType   `json:"step_type"`
	Status     StepStatus `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Input      any        `json:"input,omitempty"`
	Output     any        `json:"output,omitempty"`
	Error      *FlowError `json:"error,omitempty"`
	RetryCount int        `json:"retry_count"`
}
