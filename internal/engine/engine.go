package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowkit/internal/expressions"
	"github.com/rendis/flowkit/internal/logging"
	"github.com/rendis/flowkit/internal/scope"
	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/internal/validation"
	"github.com/rendis/flowkit/pkg/schema"
)

// Config tunes engine-wide behavior.
type Config struct {
	// MaxConcurrentBranches caps parallel-step branch concurrency across all
	// in-flight executions.
	MaxConcurrentBranches int
	// DefaultStepTimeout applies to agent, tool, and retrieval steps that do
	// not declare their own timeout. Zero means no default.
	DefaultStepTimeout time.Duration
	// Breaker configures the per-target circuit breakers.
	Breaker CircuitBreakerConfig
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentBranches: 8,
		DefaultStepTimeout:    30 * time.Second,
		Breaker:               DefaultCircuitBreakerConfig(),
	}
}

// Deps carries the engine's collaborators.
type Deps struct {
	Workflows  store.WorkflowRepository
	Executions store.ExecutionStore
	Agents     AgentExecutor
	Tools      ToolExecutor
	Retriever  Retriever
	Logger     *slog.Logger
}

// inflight is the control block for an execution currently being driven by
// this engine instance.
type inflight struct {
	cancel          context.CancelFunc
	pauseRequested  atomic.Bool
	cancelRequested atomic.Bool
}

// Engine drives workflow executions through their lifecycle. An execution is
// owned exclusively by the engine while in flight; snapshots are persisted at
// every step boundary so paused and interrupted executions can resume.
type Engine struct {
	cfg       Config
	deps      Deps
	steps     *stepExecutor
	pool      *WorkerPool
	validator *validation.WorkflowValidator

	mu      sync.Mutex
	running map[string]*inflight
}

// New creates an Engine. The logger defaults to slog.Default when nil.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	validator, err := validation.NewWorkflowValidator()
	if err != nil {
		return nil, err
	}
	pool := NewWorkerPool(cfg.MaxConcurrentBranches)
	return &Engine{
		cfg:       cfg,
		deps:      deps,
		pool:      pool,
		validator: validator,
		steps: &stepExecutor{
			resolver:           NewResolver(expressions.NewExprEngine()),
			conditions:         celEngine,
			transforms:         expressions.NewGoJQEngine(),
			agents:             deps.Agents,
			tools:              deps.Tools,
			retriever:          deps.Retriever,
			breakers:           NewCircuitBreakerRegistry(cfg.Breaker),
			pool:               pool,
			logger:             deps.Logger,
			defaultStepTimeout: cfg.DefaultStepTimeout,
		},
		running: make(map[string]*inflight),
	}, nil
}

// Shutdown stops the branch worker pool after in-flight work drains.
func (e *Engine) Shutdown() {
	e.pool.Shutdown()
}

// Execute starts a new execution of the given workflow and drives it until it
// completes, fails, pauses, or is cancelled. The definition is validated
// before anything runs. Step failures surface on the returned execution, not
// as an error; errors are reserved for invalid definitions, unknown
// workflows, and store faults.
func (e *Engine) Execute(ctx context.Context, workflowID string, input map[string]any) (*schema.WorkflowExecution, error) {
	wf, err := e.deps.Workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if result := e.validator.ValidateWorkflow(wf); !result.Valid() {
		return nil, result.ToError()
	}

	exec := &schema.WorkflowExecution{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		Status:     schema.ExecutionStatusPending,
		StartTime:  time.Now().UTC(),
	}
	sc := scope.New(input)
	exec.Variables = sc.Snapshot()

	if err := Transition(exec, schema.ExecutionStatusRunning); err != nil {
		return nil, err
	}
	if err := e.deps.Executions.Save(ctx, exec); err != nil {
		return nil, err
	}

	return e.run(ctx, wf, exec, 0, sc)
}

// Resume continues a paused execution. For an execution paused on a human
// step, the input is recorded as that step's result (subject to the step's
// deadline); for an execution paused at a boundary, the input merges into the
// variable scope before the pending step runs.
func (e *Engine) Resume(ctx context.Context, executionID string, input map[string]any) (*schema.WorkflowExecution, error) {
	exec, err := e.deps.Executions.Load(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != schema.ExecutionStatusPaused {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot resume execution in status %s", exec.Status).
			WithDetails(map[string]any{"execution_id": exec.ID, "status": string(exec.Status)})
	}

	wf, err := e.deps.Workflows.Get(ctx, exec.WorkflowID)
	if err != nil {
		return nil, err
	}
	idx := stepIndex(wf.Steps, exec.CurrentStep)
	if idx < 0 {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"paused step %q no longer exists in workflow %s", exec.CurrentStep, wf.ID)
	}

	sc := scope.New(exec.Variables)
	rec := NewHistoryRecorder(exec.StepHistory)
	startIndex := idx

	step := &wf.Steps[idx]
	record := rec.RunningRecord(step.ID)
	if step.Type == schema.StepTypeHuman && record != nil {
		if step.Human.Timeout != "" {
			if d, perr := time.ParseDuration(step.Human.Timeout); perr == nil && time.Since(record.StartTime) > d {
				ferr := schema.NewErrorf(schema.ErrCodeTimeout,
					"human input deadline of %s exceeded", step.Human.Timeout).WithStep(step.ID)
				rec.Fail(record, ferr)
				exec.Error = ferr
				if terr := Transition(exec, schema.ExecutionStatusFailed); terr != nil {
					return nil, terr
				}
				exec.Variables = sc.Snapshot()
				exec.StepHistory = rec.SnapshotHistory()
				if serr := e.deps.Executions.Save(ctx, exec); serr != nil {
					return nil, serr
				}
				return exec, nil
			}
		}
		sc.SetAll(input)
		if step.Output != "" {
			sc.Set(step.Output, input)
		}
		rec.Complete(record, input)
		startIndex = idx + 1
	} else {
		sc.SetAll(input)
	}

	if err := Transition(exec, schema.ExecutionStatusRunning); err != nil {
		return nil, err
	}
	exec.Variables = sc.Snapshot()
	exec.StepHistory = rec.SnapshotHistory()
	if err := e.deps.Executions.Save(ctx, exec); err != nil {
		return nil, err
	}

	return e.run(ctx, wf, exec, startIndex, sc)
}

// Pause requests that an in-flight execution stop at the next step boundary.
// Already-running steps finish first.
func (e *Engine) Pause(ctx context.Context, executionID string) error {
	e.mu.Lock()
	inf, ok := e.running[executionID]
	e.mu.Unlock()
	if ok {
		inf.pauseRequested.Store(true)
		return nil
	}

	exec, err := e.deps.Executions.Load(ctx, executionID)
	if err != nil {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"cannot pause execution in status %s", exec.Status).
		WithDetails(map[string]any{"execution_id": exec.ID, "status": string(exec.Status)})
}

// Cancel stops an execution. In-flight executions are cancelled
// cooperatively through their context; paused executions transition directly.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	e.mu.Lock()
	inf, ok := e.running[executionID]
	e.mu.Unlock()
	if ok {
		inf.cancelRequested.Store(true)
		inf.cancel()
		return nil
	}

	exec, err := e.deps.Executions.Load(ctx, executionID)
	if err != nil {
		return err
	}
	if err := Transition(exec, schema.ExecutionStatusCancelled); err != nil {
		return err
	}
	return e.deps.Executions.Save(ctx, exec)
}

// GetExecution returns the persisted snapshot of an execution.
func (e *Engine) GetExecution(ctx context.Context, executionID string) (*schema.WorkflowExecution, error) {
	return e.deps.Executions.Load(ctx, executionID)
}

// ListActive returns all running and paused executions.
func (e *Engine) ListActive(ctx context.Context) ([]*schema.WorkflowExecution, error) {
	running := schema.ExecutionStatusRunning
	paused := schema.ExecutionStatusPaused

	active, err := e.deps.Executions.List(ctx, store.ExecutionFilter{Status: &running})
	if err != nil {
		return nil, err
	}
	suspended, err := e.deps.Executions.List(ctx, store.ExecutionFilter{Status: &paused})
	if err != nil {
		return nil, err
	}
	return append(active, suspended...), nil
}

// ListExecutions returns executions matching the filter.
func (e *Engine) ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*schema.WorkflowExecution, error) {
	return e.deps.Executions.List(ctx, filter)
}

// run drives an execution forward from startIndex. It owns the execution
// until it returns; every step boundary persists a snapshot first, so a crash
// loses at most the in-progress step.
func (e *Engine) run(ctx context.Context, wf *schema.Workflow, exec *schema.WorkflowExecution, startIndex int, sc *scope.Scope) (*schema.WorkflowExecution, error) {
	ctx = logging.WithWorkflowID(ctx, wf.ID)
	ctx = logging.WithExecutionID(ctx, exec.ID)
	logger := logging.LogWith(ctx, e.deps.Logger)

	rec := NewHistoryRecorder(exec.StepHistory)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if wf.Timeout != "" {
		if d, err := time.ParseDuration(wf.Timeout); err == nil {
			remaining := d - time.Since(exec.StartTime)
			if remaining <= 0 {
				return e.finishFailed(ctx, exec, sc, rec,
					schema.NewErrorf(schema.ErrCodeTimeout, "workflow timeout of %s exceeded", wf.Timeout))
			}
			runCtx, cancel = context.WithTimeout(ctx, remaining)
			defer cancel()
		}
	}

	inf := &inflight{cancel: cancel}
	e.track(exec.ID, inf)
	defer e.untrack(exec.ID)

	for i := startIndex; i < len(wf.Steps); i++ {
		step := &wf.Steps[i]

		if inf.pauseRequested.Load() {
			return e.finishPaused(ctx, exec, sc, rec, step.ID)
		}
		if runCtx.Err() != nil {
			return e.finishInterrupted(ctx, exec, sc, rec, runCtx.Err(), inf)
		}

		exec.CurrentStep = step.ID
		exec.Variables = sc.Snapshot()
		exec.StepHistory = rec.SnapshotHistory()
		if err := e.deps.Executions.Save(ctx, exec); err != nil {
			return nil, err
		}

		err := e.steps.Execute(runCtx, step, sc, rec)
		if errors.Is(err, errPauseRequested) {
			return e.finishPaused(ctx, exec, sc, rec, step.ID)
		}
		if err != nil {
			if runCtx.Err() != nil {
				return e.finishInterrupted(ctx, exec, sc, rec, runCtx.Err(), inf)
			}
			logger.ErrorContext(ctx, "step failed", slog.String("step_id", step.ID), slog.String("error", err.Error()))
			return e.finishFailed(ctx, exec, sc, rec, asFlowError(err))
		}
	}

	exec.Variables = sc.Snapshot()
	exec.StepHistory = rec.SnapshotHistory()
	if err := Transition(exec, schema.ExecutionStatusCompleted); err != nil {
		return nil, err
	}
	if err := e.deps.Executions.Save(ctx, exec); err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "execution completed", slog.Int("steps", len(exec.StepHistory)))
	return exec, nil
}

func (e *Engine) finishPaused(ctx context.Context, exec *schema.WorkflowExecution, sc *scope.Scope, rec *HistoryRecorder, stepID string) (*schema.WorkflowExecution, error) {
	exec.CurrentStep = stepID
	exec.Variables = sc.Snapshot()
	exec.StepHistory = rec.SnapshotHistory()
	if err := Transition(exec, schema.ExecutionStatusPaused); err != nil {
		return nil, err
	}
	if err := e.deps.Executions.Save(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

func (e *Engine) finishFailed(ctx context.Context, exec *schema.WorkflowExecution, sc *scope.Scope, rec *HistoryRecorder, ferr *schema.FlowError) (*schema.WorkflowExecution, error) {
	exec.Error = ferr
	exec.Variables = sc.Snapshot()
	exec.StepHistory = rec.SnapshotHistory()
	if err := Transition(exec, schema.ExecutionStatusFailed); err != nil {
		return nil, err
	}
	if err := e.deps.Executions.Save(context.WithoutCancel(ctx), exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// finishInterrupted settles an execution whose run context ended: a
// requested cancellation or caller cancellation lands in cancelled, a
// workflow deadline lands in failed with TIMEOUT_ERROR.
func (e *Engine) finishInterrupted(ctx context.Context, exec *schema.WorkflowExecution, sc *scope.Scope, rec *HistoryRecorder, cause error, inf *inflight) (*schema.WorkflowExecution, error) {
	if errors.Is(cause, context.DeadlineExceeded) && !inf.cancelRequested.Load() {
		return e.finishFailed(ctx, exec, sc, rec,
			schema.NewError(schema.ErrCodeTimeout, "workflow timeout exceeded").WithCause(cause))
	}

	exec.Variables = sc.Snapshot()
	exec.StepHistory = rec.SnapshotHistory()
	if err := Transition(exec, schema.ExecutionStatusCancelled); err != nil {
		return nil, err
	}
	if err := e.deps.Executions.Save(context.WithoutCancel(ctx), exec); err != nil {
		return nil, err
	}
	return exec, nil
}

func (e *Engine) track(id string, inf *inflight) {
	e.mu.Lock()
	e.running[id] = inf
	e.mu.Unlock()
}

func (e *Engine) untrack(id string) {
	e.mu.Lock()
	delete(e.running, id)
	e.mu.Unlock()
}

func stepIndex(steps []schema.WorkflowStep, id string) int {
	for i := range steps {
		if steps[i].ID == id {
			return i
		}
	}
	return -1
}
