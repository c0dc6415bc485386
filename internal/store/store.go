// Package store defines the persistence ports for workflow definitions and
// execution snapshots, with in-memory and libSQL implementations. Both ports
// round-trip their records losslessly, including nested step sequences and
// full step history.
package store

import (
	"context"
	"fmt"

	"github.com/rendis/flowkit/pkg/schema"
)

// WorkflowRepository persists workflow definitions.
// All implementations must be safe for concurrent use.
type WorkflowRepository interface {
	Save(ctx context.Context, wf *schema.Workflow) error
	Get(ctx context.Context, id string) (*schema.Workflow, error)
	List(ctx context.Context) ([]*schema.Workflow, error)
	Delete(ctx context.Context, id string) error
}

// ExecutionStore persists execution snapshots, enabling resume across
// process restarts. Save overwrites any previous snapshot for the same
// execution ID.
type ExecutionStore interface {
	Save(ctx context.Context, exec *schema.WorkflowExecution) error
	Load(ctx context.Context, id string) (*schema.WorkflowExecution, error)
	List(ctx context.Context, filter ExecutionFilter) ([]*schema.WorkflowExecution, error)
	Delete(ctx context.Context, id string) error
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	WorkflowID string                  `json:"workflow_id,omitempty"`
	Status     *schema.ExecutionStatus `json:"status,omitempty"`
	Limit      int                     `json:"limit,omitempty"`
	Offset     int                     `json:"offset,omitempty"`
}

func notFound(kind, id string) error {
	return schema.NewError(schema.ErrCodeNotFound, fmt.Sprintf("%s not found: %s", kind, id))
}
