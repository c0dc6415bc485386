package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResultValidIgnoresWarnings(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("steps[0].retry", ErrCodeValidation, "retry policy is ignored")

	assert.True(t, r.Valid())
	assert.Nil(t, r.ToError())
}

func TestValidationResultToErrorCarriesIssues(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("steps[1].id", ErrCodeValidation, "duplicate step id")

	err := r.ToError()
	require.Error(t, err)

	var ferr *FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, ErrCodeValidation, ferr.Code)
	assert.Contains(t, ferr.Message, "steps[1].id")
	assert.Contains(t, ferr.Message, "duplicate step id")

	issues, ok := ferr.Details["errors"].([]ValidationIssue)
	require.True(t, ok)
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityError, issues[0].Severity)
}

func TestValidationResultToErrorCountsExtraErrors(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("steps[0]", ErrCodeValidation, "first problem")
	r.AddError("steps[1]", ErrCodeValidation, "second problem")
	r.AddError("steps[2]", ErrCodeValidation, "third problem")

	err := r.ToError()
	require.Error(t, err)

	var ferr *FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Contains(t, ferr.Message, "first problem")
	assert.Contains(t, ferr.Message, "(and 2 more)")
}

func TestValidationResultMerge(t *testing.T) {
	a := &ValidationResult{}
	a.AddError("steps[0]", ErrCodeValidation, "broken")

	b := &ValidationResult{}
	b.AddWarning("steps[1].retry", ErrCodeValidation, "suspicious")

	a.Merge(b)
	a.Merge(nil)

	assert.Len(t, a.Errors, 1)
	assert.Len(t, a.Warnings, 1)
	assert.False(t, a.Valid())
}
