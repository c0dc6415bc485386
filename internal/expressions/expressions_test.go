package expressions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowkit/pkg/schema"
)

func TestExprEvaluatesWithTopLevelVariables(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), "total * 2", map[string]any{"total": 21})
	require.NoError(t, err)
	assert.EqualValues(t, 42, out)
}

func TestExprUndefinedVariablesAllowed(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), "missing == nil", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExprCompileErrorIsValidation(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "1 +* 2", nil)
	require.Error(t, err)

	var ferr *schema.FlowError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, schema.ErrCodeValidation, ferr.Code)
}

func TestCELEvaluatesConditionsUnderVarsNamespace(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "vars.count > 3", map[string]any{"count": 5})
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), "vars.count > 3", map[string]any{"count": 1})
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

func TestCELStringComparison(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `vars.status == "ready"`, map[string]any{"status": "ready"})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELCompileErrorIsValidation(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "vars.count >", nil)
	require.Error(t, err)

	var ferr *schema.FlowError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, schema.ErrCodeValidation, ferr.Code)
}

func TestGoJQTransformsInput(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), ".input * 21", map[string]any{"input": 2})
	require.NoError(t, err)
	assert.EqualValues(t, 42, out)
}

func TestGoJQReadsScopeVariables(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), "{doubled: (.n * 2), tag: .label}", map[string]any{
		"n":     3,
		"label": "x",
	})
	require.NoError(t, err)

	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 6, m["doubled"])
	assert.Equal(t, "x", m["tag"])
}

func TestGoJQMultipleOutputsCollected(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), ".items[]", map[string]any{
		"items": []any{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestGoJQRuntimeErrorIsExecution(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), ".input * 2", map[string]any{"input": "not a number"})
	require.Error(t, err)

	var ferr *schema.FlowError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, schema.ErrCodeExecution, ferr.Code)
}

func TestEnginesCacheCompiledPrograms(t *testing.T) {
	expr := NewExprEngine()
	jq := NewGoJQEngine()

	for i := 0; i < 3; i++ {
		_, err := expr.Evaluate(context.Background(), "a + 1", map[string]any{"a": i})
		require.NoError(t, err)
		_, err = jq.Evaluate(context.Background(), ".a + 1", map[string]any{"a": i})
		require.NoError(t, err)
	}

	assert.Len(t, expr.cache, 1)
	assert.Len(t, jq.cache, 1)
}
