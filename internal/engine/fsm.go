package engine

import (
	"time"

	"github.com/rendis/flowkit/pkg/schema"
)

// ValidExecutionTransitions defines the allowed lifecycle transitions for a
// workflow execution. Terminal statuses admit no transitions.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStatusPending:   {schema.ExecutionStatusRunning, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusRunning:   {schema.ExecutionStatusPaused, schema.ExecutionStatusCompleted, schema.ExecutionStatusFailed, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusPaused:    {schema.ExecutionStatusRunning, schema.ExecutionStatusFailed, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusCompleted: {},
	schema.ExecutionStatusFailed:    {},
	schema.ExecutionStatusCancelled: {},
}

// CanTransition reports whether from -> to is an allowed transition.
func CanTransition(from, to schema.ExecutionStatus) bool {
	for _, a := range ValidExecutionTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// Transition moves an execution to a new status, enforcing the transition
// table. Terminal transitions stamp EndTime and clear CurrentStep.
func Transition(exec *schema.WorkflowExecution, to schema.ExecutionStatus) error {
	if !CanTransition(exec.Status, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", exec.Status, to).
			WithDetails(map[string]any{
				"execution_id": exec.ID,
				"from":         string(exec.Status),
				"to":           string(to),
			})
	}

	exec.Status = to
	if to.Terminal() {
		now := time.Now().UTC()
		exec.EndTime = &now
		exec.CurrentStep = ""
	}
	return nil
}
