// Package engine implements workflow execution: step dispatch, retry with
// exponential backoff, the execution lifecycle state machine, pause/resume,
// and cooperative cancellation. The engine owns an execution exclusively
// while it is in flight; persisted snapshots are written at step boundaries.
package engine

import (
	"context"

	"github.com/rendis/flowkit/pkg/schema"
)

// AgentExecutor invokes a configured agent with a resolved input and returns
// its output. Implementations must honor context cancellation and deadlines.
type AgentExecutor interface {
	ExecuteAgent(ctx context.Context, agentID string, input any) (any, error)
}

// ToolExecutor invokes a named tool with a resolved input.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, name string, input any) (any, error)
}

// Retriever runs a retrieval query against a pipeline and returns scored
// documents, best first.
type Retriever interface {
	Retrieve(ctx context.Context, pipelineID, query string, topK int) ([]schema.Document, error)
}
