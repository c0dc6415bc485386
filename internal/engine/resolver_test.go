package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowkit/internal/expressions"
	"github.com/rendis/flowkit/internal/scope"
	"github.com/rendis/flowkit/pkg/schema"
)

func newTestResolver() *Resolver {
	return NewResolver(expressions.NewExprEngine())
}

func TestResolveNilInput(t *testing.T) {
	r := newTestResolver()

	out, err := r.Resolve(context.Background(), nil, scope.New(nil))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestResolveLiteral(t *testing.T) {
	r := newTestResolver()

	out, err := r.Resolve(context.Background(), schema.LiteralInput(map[string]any{"k": "v"}), scope.New(nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, out)
}

func TestResolveVariable(t *testing.T) {
	r := newTestResolver()
	sc := scope.New(map[string]any{"name": "flow"})

	out, err := r.Resolve(context.Background(), schema.VariableInput("name"), sc)
	require.NoError(t, err)
	assert.Equal(t, "flow", out)
}

func TestResolveMissingVariable(t *testing.T) {
	r := newTestResolver()

	_, err := r.Resolve(context.Background(), schema.VariableInput("ghost"), scope.New(nil))
	require.Error(t, err)

	var ferr *schema.FlowError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, schema.ErrCodeResolution, ferr.Code)
	assert.Equal(t, "missing_variable", ferr.Details["reason"])
}

func TestResolveExpression(t *testing.T) {
	r := newTestResolver()
	sc := scope.New(map[string]any{"total": 20, "rate": 2})

	out, err := r.Resolve(context.Background(), schema.ExpressionInput("total * rate + 2"), sc)
	require.NoError(t, err)
	assert.EqualValues(t, 42, out)
}

func TestResolveFailedExpression(t *testing.T) {
	r := newTestResolver()

	_, err := r.Resolve(context.Background(), schema.ExpressionInput("1 +* 2"), scope.New(nil))
	require.Error(t, err)

	var ferr *schema.FlowError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, schema.ErrCodeResolution, ferr.Code)
	assert.Equal(t, "expression_failed", ferr.Details["reason"])
}
