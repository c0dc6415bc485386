package engine

import (
	"context"
	"sort"

	"github.com/rendis/flowkit/internal/scope"
	"github.com/rendis/flowkit/pkg/schema"
)

func (e *stepExecutor) executeConditional(ctx context.Context, step *schema.WorkflowStep, sc *scope.Scope, rec *HistoryRecorder) error {
	cfg := step.Conditional

	out, err := e.conditions.Evaluate(ctx, cfg.Condition, sc.Snapshot())
	if err != nil {
		ferr := schema.NewErrorf(schema.ErrCodeExecution,
			"condition %q failed", cfg.Condition).WithStep(step.ID).WithCause(err)
		rec.Fail(rec.Begin(step.ID, step.Type, map[string]any{"condition": cfg.Condition}), ferr)
		return ferr
	}
	truthy, ok := out.(bool)
	if !ok {
		ferr := schema.NewErrorf(schema.ErrCodeExecution,
			"condition %q must evaluate to a boolean, got %T", cfg.Condition, out).WithStep(step.ID)
		rec.Fail(rec.Begin(step.ID, step.Type, map[string]any{"condition": cfg.Condition}), ferr)
		return ferr
	}

	branchName := "then"
	branch := cfg.Then
	if !truthy {
		branchName = "else"
		branch = cfg.Else
	}
	if len(branch) == 0 {
		reason := "condition not met"
		if truthy {
			reason = "then branch is empty"
		}
		rec.Skip(step.ID, step.Type, reason)
		return nil
	}

	record := rec.Begin(step.ID, step.Type, map[string]any{
		"condition": cfg.Condition,
		"branch":    branchName,
	})
	for i := range branch {
		if err := e.Execute(ctx, &branch[i], sc, rec); err != nil {
			rec.Fail(record, asFlowError(err))
			return err
		}
	}
	rec.Complete(record, map[string]any{"branch": branchName})
	return nil
}

// branchOutcome is one parallel branch's result.
type branchOutcome struct {
	index int
	scope *scope.Scope
	err   error
}

// parallelDepthKey carries how many parallel steps enclose the current
// context. Only depth-zero branches go through the bounded worker pool; a
// nested parallel step's branches run on plain goroutines, because its parent
// branch already holds a pool slot and waiting for another would deadlock
// once the pool is saturated.
type parallelDepthKey struct{}

func parallelDepth(ctx context.Context) int {
	d, _ := ctx.Value(parallelDepthKey{}).(int)
	return d
}

func (e *stepExecutor) executeParallel(ctx context.Context, step *schema.WorkflowStep, sc *scope.Scope, rec *HistoryRecorder) error {
	cfg := step.Parallel
	if len(cfg.Branches) == 0 {
		rec.Skip(step.ID, step.Type, "no branches")
		return nil
	}

	record := rec.Begin(step.ID, step.Type, map[string]any{
		"branches":     len(cfg.Branches),
		"wait_for_all": cfg.WaitForAll,
	})

	// Buffered so no branch ever blocks publishing its outcome.
	results := make(chan branchOutcome, len(cfg.Branches))

	depth := parallelDepth(ctx)
	branchCtx := ctx
	if !cfg.WaitForAll {
		// First-completion branches outlive the step: losers keep running
		// after the winner merges, so they must not die with the run context.
		// Per-call step timeouts still bound them.
		branchCtx = context.WithoutCancel(ctx)
	}
	branchCtx = context.WithValue(branchCtx, parallelDepthKey{}, depth+1)

	for i := range cfg.Branches {
		idx := i
		branch := cfg.Branches[i]
		branchScope := sc.Clone()

		run := func(ctx context.Context) (err error) {
			// A panicking branch must still publish an outcome or the join
			// blocks forever.
			defer func() {
				if r := recover(); r != nil {
					err = schema.NewErrorf(schema.ErrCodeExecution, "branch %d panicked: %v", idx, r)
					results <- branchOutcome{index: idx, err: err}
				}
			}()
			for j := range branch {
				if err := e.Execute(ctx, &branch[j], branchScope, rec); err != nil {
					results <- branchOutcome{index: idx, err: err}
					return err
				}
			}
			results <- branchOutcome{index: idx, scope: branchScope}
			return nil
		}

		if depth > 0 {
			go func() { _ = run(branchCtx) }()
			continue
		}
		if err := e.pool.Submit(branchCtx, run); err != nil {
			results <- branchOutcome{index: idx, err: err}
		}
	}

	if cfg.WaitForAll {
		return e.joinAll(step, sc, rec, record, results, len(cfg.Branches))
	}
	return e.joinFirst(step, sc, rec, record, results, len(cfg.Branches))
}

// joinAll waits for every branch, then merges successful scopes in branch
// index order so concurrent writes to the same variable resolve
// deterministically: the highest branch index wins.
func (e *stepExecutor) joinAll(step *schema.WorkflowStep, sc *scope.Scope, rec *HistoryRecorder, record *schema.StepExecutionRecord, results <-chan branchOutcome, n int) error {
	outcomes := make([]branchOutcome, 0, n)
	for i := 0; i < n; i++ {
		outcomes = append(outcomes, <-results)
	}
	sort.Slice(outcomes, func(a, b int) bool { return outcomes[a].index < outcomes[b].index })

	for _, o := range outcomes {
		if o.err != nil {
			ferr := asFlowError(o.err)
			rec.Fail(record, ferr)
			return schema.NewErrorf(schema.ErrCodeExecution,
				"branch %d failed", o.index).WithStep(step.ID).WithCause(o.err)
		}
	}
	for _, o := range outcomes {
		if err := sc.Merge(o.scope); err != nil {
			ferr := schema.NewError(schema.ErrCodeExecution, "merge branch scope").
				WithStep(step.ID).WithCause(err)
			rec.Fail(record, ferr)
			return ferr
		}
	}
	rec.Complete(record, map[string]any{"branches": n})
	return nil
}

// joinFirst returns as soon as one branch succeeds, merging only that
// branch's scope. The losing branches keep running in the background; their
// history records land through the recorder whenever they finish, and their
// variable writes are discarded along with their unread outcomes. Only when
// every branch fails does the step fail.
func (e *stepExecutor) joinFirst(step *schema.WorkflowStep, sc *scope.Scope, rec *HistoryRecorder, record *schema.StepExecutionRecord, results <-chan branchOutcome, n int) error {
	var firstErr error

	for failures := 0; failures < n; {
		o := <-results
		if o.err != nil {
			failures++
			if firstErr == nil {
				firstErr = o.err
			}
			continue
		}
		if err := sc.Merge(o.scope); err != nil {
			ferr := schema.NewError(schema.ErrCodeExecution, "merge branch scope").
				WithStep(step.ID).WithCause(err)
			rec.Fail(record, ferr)
			return ferr
		}
		rec.Complete(record, map[string]any{"winner": o.index})
		return nil
	}

	ferr := schema.NewError(schema.ErrCodeExecution, "all branches failed").
		WithStep(step.ID).WithCause(firstErr)
	rec.Fail(record, ferr)
	return ferr
}

func (e *stepExecutor) executeLoop(ctx context.Context, step *schema.WorkflowStep, sc *scope.Scope, rec *HistoryRecorder) error {
	cfg := step.Loop

	collection, err := e.resolver.Resolve(ctx, &cfg.Collection, sc)
	if err != nil {
		ferr := asFlowError(err).WithStep(step.ID)
		rec.Fail(rec.Begin(step.ID, step.Type, nil), ferr)
		return ferr
	}

	var items []any
	switch v := collection.(type) {
	case nil:
	case []any:
		items = v
	default:
		ferr := schema.NewErrorf(schema.ErrCodeResolution,
			"loop collection must resolve to a list, got %T", collection).WithStep(step.ID)
		rec.Fail(rec.Begin(step.ID, step.Type, collection), ferr)
		return ferr
	}

	limit := len(items)
	if cfg.MaxIterations > 0 && cfg.MaxIterations < limit {
		limit = cfg.MaxIterations
	}

	record := rec.Begin(step.ID, step.Type, map[string]any{
		"items": len(items),
		"limit": limit,
	})

	// The item variable is visible only for the duration of the loop.
	defer sc.Delete(cfg.ItemVariable)

	for i := 0; i < limit; i++ {
		sc.Set(cfg.ItemVariable, items[i])
		for j := range cfg.Steps {
			if err := e.Execute(ctx, &cfg.Steps[j], sc, rec); err != nil {
				rec.Fail(record, asFlowError(err))
				return err
			}
		}
	}

	rec.Complete(record, map[string]any{"iterations": limit})
	return nil
}
