package engine

import (
	"context"
	"encoding/json"

	"github.com/rendis/flowkit/internal/expressions"
	"github.com/rendis/flowkit/internal/scope"
	"github.com/rendis/flowkit/pkg/schema"
)

// Resolver materializes a StepInput against the current variable scope.
// Literals decode as-is, variable references must exist, and expressions are
// evaluated with all scope variables bound as top-level identifiers.
type Resolver struct {
	evaluator expressions.Evaluator
}

// NewResolver creates a Resolver backed by the given expression evaluator.
func NewResolver(evaluator expressions.Evaluator) *Resolver {
	return &Resolver{evaluator: evaluator}
}

// Resolve returns the concrete value for the input. A nil input resolves to
// nil. Failures return RESOLUTION_ERROR with a reason detail of either
// "missing_variable" or "expression_failed".
func (r *Resolver) Resolve(ctx context.Context, input *schema.StepInput, sc *scope.Scope) (any, error) {
	switch input.Kind() {
	case schema.InputNone:
		return nil, nil

	case schema.InputLiteral:
		var v any
		if err := json.Unmarshal(input.Literal, &v); err != nil {
			return nil, schema.NewError(schema.ErrCodeResolution, "malformed literal input").
				WithCause(err).
				WithDetails(map[string]any{"reason": "malformed_literal"})
		}
		return v, nil

	case schema.InputVariable:
		v, ok := sc.Get(input.Variable)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeResolution,
				"variable %q is not defined", input.Variable).
				WithDetails(map[string]any{
					"reason":   "missing_variable",
					"variable": input.Variable,
				})
		}
		return v, nil

	case schema.InputExpression:
		out, err := r.evaluator.Evaluate(ctx, input.Expression, sc.Snapshot())
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeResolution,
				"expression %q failed", input.Expression).
				WithCause(err).
				WithDetails(map[string]any{
					"reason":     "expression_failed",
					"expression": input.Expression,
				})
		}
		return out, nil
	}

	return nil, schema.NewError(schema.ErrCodeResolution, "unrecognized input kind")
}
