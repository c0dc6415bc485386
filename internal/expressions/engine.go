package expressions

import "context"

// Evaluator evaluates expressions against a snapshot of execution variables.
// Three implementations: CEL (conditions), Expr (step-input expressions),
// GoJQ (transforms).
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, expression string, vars map[string]any) (any, error)
}
