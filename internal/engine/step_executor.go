package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rendis/flowkit/internal/expressions"
	"github.com/rendis/flowkit/internal/logging"
	"github.com/rendis/flowkit/internal/scope"
	"github.com/rendis/flowkit/pkg/schema"
)

// errPauseRequested is the sentinel a human step returns to suspend the
// execution at the current step until external input arrives.
var errPauseRequested = errors.New("pause requested")

// stepExecutor dispatches a single step to its handler. It is shared across
// executions; all per-execution state lives in the scope and recorder.
type stepExecutor struct {
	resolver   *Resolver
	conditions expressions.Evaluator // CEL, for conditional steps
	transforms expressions.Evaluator // jq, for transform steps
	agents     AgentExecutor
	tools      ToolExecutor
	retriever  Retriever
	breakers   *CircuitBreakerRegistry
	pool       *WorkerPool
	logger     *slog.Logger

	defaultStepTimeout time.Duration
}

// Execute runs one step against the scope, recording history as it goes.
// The switch over step types is exhaustive; validation guarantees the config
// block matching the type is present.
func (e *stepExecutor) Execute(ctx context.Context, step *schema.WorkflowStep, sc *scope.Scope, rec *HistoryRecorder) error {
	ctx = logging.WithStepID(ctx, step.ID)

	switch step.Type {
	case schema.StepTypeAgent:
		return e.executeAgent(ctx, step, sc, rec)
	case schema.StepTypeTool:
		return e.executeTool(ctx, step, sc, rec)
	case schema.StepTypeConditional:
		return e.executeConditional(ctx, step, sc, rec)
	case schema.StepTypeParallel:
		return e.executeParallel(ctx, step, sc, rec)
	case schema.StepTypeLoop:
		return e.executeLoop(ctx, step, sc, rec)
	case schema.StepTypeHuman:
		return e.executeHuman(ctx, step, rec)
	case schema.StepTypeRAG:
		return e.executeRAG(ctx, step, sc, rec)
	case schema.StepTypeTransform:
		return e.executeTransform(ctx, step, sc, rec)
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown step type %q", step.Type).WithStep(step.ID)
	}
}

func (e *stepExecutor) executeAgent(ctx context.Context, step *schema.WorkflowStep, sc *scope.Scope, rec *HistoryRecorder) error {
	target := "agent:" + step.Agent.AgentID
	return e.executeTarget(ctx, step, sc, rec, target, func(ctx context.Context, input any) (any, error) {
		return e.agents.ExecuteAgent(ctx, step.Agent.AgentID, input)
	})
}

func (e *stepExecutor) executeTool(ctx context.Context, step *schema.WorkflowStep, sc *scope.Scope, rec *HistoryRecorder) error {
	target := "tool:" + step.Tool.Name
	return e.executeTarget(ctx, step, sc, rec, target, func(ctx context.Context, input any) (any, error) {
		return e.tools.ExecuteTool(ctx, step.Tool.Name, input)
	})
}

func (e *stepExecutor) executeRAG(ctx context.Context, step *schema.WorkflowStep, sc *scope.Scope, rec *HistoryRecorder) error {
	cfg := step.RAG

	query, err := e.resolver.Resolve(ctx, &cfg.Query, sc)
	if err != nil {
		ferr := asFlowError(err).WithStep(step.ID)
		rec.Fail(rec.Begin(step.ID, step.Type, nil), ferr)
		return ferr
	}
	queryText, ok := query.(string)
	if !ok {
		ferr := schema.NewErrorf(schema.ErrCodeResolution,
			"retrieval query must resolve to a string, got %T", query).WithStep(step.ID)
		rec.Fail(rec.Begin(step.ID, step.Type, query), ferr)
		return ferr
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}

	record := rec.Begin(step.ID, step.Type, map[string]any{
		"pipeline_id": cfg.PipelineID,
		"query":       queryText,
		"top_k":       topK,
	})

	target := "rag:" + cfg.PipelineID
	docs, err := e.invokeWithRetry(ctx, step, target, record, rec, func(ctx context.Context) (any, error) {
		return e.retriever.Retrieve(ctx, cfg.PipelineID, queryText, topK)
	})
	if err != nil {
		ferr := asFlowError(err).WithStep(step.ID)
		rec.Fail(record, ferr)
		return ferr
	}

	if step.Output != "" {
		sc.Set(step.Output, docs)
	}
	rec.Complete(record, docs)
	return nil
}

func (e *stepExecutor) executeTransform(ctx context.Context, step *schema.WorkflowStep, sc *scope.Scope, rec *HistoryRecorder) error {
	cfg := step.Transform

	input, err := e.resolver.Resolve(ctx, step.Input, sc)
	if err != nil {
		ferr := asFlowError(err).WithStep(step.ID)
		rec.Fail(rec.Begin(step.ID, step.Type, nil), ferr)
		return ferr
	}

	record := rec.Begin(step.ID, step.Type, input)

	// The resolved input is bound as "input" alongside the scope variables.
	env := sc.Snapshot()
	env["input"] = input

	out, err := e.transforms.Evaluate(ctx, cfg.Expression, env)
	if err != nil {
		ferr := schema.NewErrorf(schema.ErrCodeExecution,
			"transform %q failed", cfg.Expression).WithStep(step.ID).WithCause(err)
		rec.Fail(record, ferr)
		return ferr
	}

	if step.Output != "" {
		sc.Set(step.Output, out)
	}
	rec.Complete(record, out)
	return nil
}

func (e *stepExecutor) executeHuman(ctx context.Context, step *schema.WorkflowStep, rec *HistoryRecorder) error {
	input := map[string]any{}
	if step.Human.Prompt != "" {
		input["prompt"] = step.Human.Prompt
	}
	rec.Begin(step.ID, step.Type, input)
	logging.LogWith(ctx, e.logger).InfoContext(ctx, "awaiting human input")
	return errPauseRequested
}

// executeTarget is the shared path for agent and tool steps: resolve input,
// invoke through the circuit breaker with retry, bind output.
func (e *stepExecutor) executeTarget(ctx context.Context, step *schema.WorkflowStep, sc *scope.Scope, rec *HistoryRecorder, target string, call func(ctx context.Context, input any) (any, error)) error {
	input, err := e.resolver.Resolve(ctx, step.Input, sc)
	if err != nil {
		ferr := asFlowError(err).WithStep(step.ID)
		rec.Fail(rec.Begin(step.ID, step.Type, nil), ferr)
		return ferr
	}

	record := rec.Begin(step.ID, step.Type, input)

	out, err := e.invokeWithRetry(ctx, step, target, record, rec, func(ctx context.Context) (any, error) {
		return call(ctx, input)
	})
	if err != nil {
		ferr := asFlowError(err).WithStep(step.ID)
		rec.Fail(record, ferr)
		return ferr
	}

	if step.Output != "" {
		sc.Set(step.Output, out)
	}
	rec.Complete(record, out)
	return nil
}

// invokeWithRetry runs one target call under the step's retry policy.
// A policy with max_retries N allows N+1 attempts; exhausting them wraps the
// last error in RETRY_EXHAUSTED.
func (e *stepExecutor) invokeWithRetry(ctx context.Context, step *schema.WorkflowStep, target string, record *schema.StepExecutionRecord, rec *HistoryRecorder, call func(ctx context.Context) (any, error)) (any, error) {
	policy := step.Retry
	attempt := 0

	for {
		out, err := e.invokeOnce(ctx, step, target, call)
		if err == nil {
			return out, nil
		}

		if !ShouldRetry(policy, attempt, err) {
			if policy != nil && attempt >= policy.MaxRetries && policy.MaxRetries > 0 {
				return nil, schema.NewErrorf(schema.ErrCodeRetryExhausted,
					"retries exhausted after %d attempts", attempt+1).
					WithStep(step.ID).
					WithCause(err).
					WithDetails(map[string]any{"attempts": attempt + 1, "last_error": err.Error()})
			}
			return nil, err
		}

		delay := ComputeBackoff(policy, attempt)
		logging.LogWith(ctx, e.logger).WarnContext(ctx, "step failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()))
		if werr := WaitForBackoff(ctx, delay); werr != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "cancelled during retry backoff").
				WithStep(step.ID).WithCause(werr)
		}

		attempt++
		rec.SetRetryCount(record, attempt)
	}
}

// invokeOnce performs a single call: breaker admission, step timeout, and
// breaker bookkeeping on the outcome.
func (e *stepExecutor) invokeOnce(ctx context.Context, step *schema.WorkflowStep, target string, call func(ctx context.Context) (any, error)) (any, error) {
	if err := e.breakers.AllowRequest(target); err != nil {
		return nil, err
	}

	timeout := e.defaultStepTimeout
	if step.Timeout != "" {
		if d, err := time.ParseDuration(step.Timeout); err == nil {
			timeout = d
		}
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := call(callCtx)
	if err != nil {
		e.breakers.RecordFailure(target)
		// Distinguish a step timeout from a cancelled execution.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout,
				"step timed out after %s", timeout).WithStep(step.ID).WithCause(err)
		}
		return nil, err
	}

	e.breakers.RecordSuccess(target)
	return out, nil
}

// asFlowError coerces any error into a structured FlowError.
func asFlowError(err error) *schema.FlowError {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe
	}
	return schema.NewError(ErrorCode(err), err.Error()).WithCause(err)
}
