package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowkit/pkg/schema"
)

func newValidator(t *testing.T) *WorkflowValidator {
	t.Helper()
	v, err := NewWorkflowValidator()
	require.NoError(t, err)
	return v
}

func validWorkflow() *schema.Workflow {
	return &schema.Workflow{
		ID:   "order-pipeline",
		Name: "Order pipeline",
		Steps: []schema.WorkflowStep{
			{
				ID:     "fetch",
				Type:   schema.StepTypeTool,
				Tool:   &schema.ToolConfig{Name: "http_request"},
				Input:  schema.LiteralInput(map[string]any{"url": "https://example.com"}),
				Output: "response",
				Retry:  &schema.RetryPolicy{MaxRetries: 2, InitialDelay: "100ms", MaxDelay: "1s"},
			},
			{
				ID:   "route",
				Type: schema.StepTypeConditional,
				Conditional: &schema.ConditionalConfig{
					Condition: "vars.response != null",
					Then: []schema.WorkflowStep{{
						ID:        "summarize",
						Type:      schema.StepTypeTransform,
						Input:     schema.VariableInput("response"),
						Output:    "summary",
						Transform: &schema.TransformConfig{Expression: ".input"},
					}},
				},
			},
			{
				ID:    "approve",
				Type:  schema.StepTypeHuman,
				Human: &schema.HumanConfig{Prompt: "Approve?", Timeout: "24h"},
			},
		},
		Triggers: []schema.Trigger{{Type: "cron", Cron: "0 9 * * *", Enabled: true}},
	}
}

func issuePaths(issues []schema.ValidationIssue) []string {
	paths := make([]string, 0, len(issues))
	for _, is := range issues {
		paths = append(paths, is.Path)
	}
	return paths
}

func TestValidWorkflowPasses(t *testing.T) {
	v := newValidator(t)

	result := v.ValidateWorkflow(validWorkflow())
	assert.True(t, result.Valid(), "unexpected errors: %v", result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestNilWorkflowIsRejected(t *testing.T) {
	v := newValidator(t)

	result := v.ValidateWorkflow(nil)
	assert.False(t, result.Valid())
}

func TestMissingIDAndStepsFailStructurally(t *testing.T) {
	v := newValidator(t)

	result := v.ValidateWorkflow(&schema.Workflow{})
	assert.False(t, result.Valid())
}

func TestUnknownStepTypeFailsStructurally(t *testing.T) {
	v := newValidator(t)
	wf := validWorkflow()
	wf.Steps[0].Type = "teleport"

	result := v.ValidateWorkflow(wf)
	assert.False(t, result.Valid())
}

func TestBadDurationFailsStructurally(t *testing.T) {
	v := newValidator(t)
	wf := validWorkflow()
	wf.Timeout = "five minutes"

	result := v.ValidateWorkflow(wf)
	assert.False(t, result.Valid())
}

func TestDuplicateStepIDsAcrossNestingRejected(t *testing.T) {
	v := newValidator(t)
	wf := validWorkflow()
	// Nested transform reuses the top-level step's ID.
	wf.Steps[1].Conditional.Then[0].ID = "fetch"

	result := v.ValidateWorkflow(wf)
	require.False(t, result.Valid())
	assert.Contains(t, issuePaths(result.Errors), "steps[1].conditional.then[0].id")
}

func TestMissingConfigBlockRejected(t *testing.T) {
	v := newValidator(t)
	wf := validWorkflow()
	wf.Steps[0].Tool = nil

	result := v.ValidateWorkflow(wf)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "missing")
}

func TestMismatchedConfigBlockRejected(t *testing.T) {
	v := newValidator(t)
	wf := validWorkflow()
	wf.Steps[0].Agent = &schema.AgentConfig{AgentID: "a"}

	result := v.ValidateWorkflow(wf)
	assert.False(t, result.Valid())
}

func TestInputMustSetExactlyOneVariant(t *testing.T) {
	v := newValidator(t)

	wf := validWorkflow()
	wf.Steps[0].Input = &schema.StepInput{}
	result := v.ValidateWorkflow(wf)
	assert.False(t, result.Valid(), "empty input should be rejected")

	wf = validWorkflow()
	wf.Steps[0].Input = &schema.StepInput{Variable: "a", Expression: "a + 1"}
	result = v.ValidateWorkflow(wf)
	assert.False(t, result.Valid(), "two variants should be rejected")
}

func TestNestedHumanStepRejected(t *testing.T) {
	v := newValidator(t)
	wf := validWorkflow()
	wf.Steps[1].Conditional.Then = append(wf.Steps[1].Conditional.Then, schema.WorkflowStep{
		ID:    "nested-approval",
		Type:  schema.StepTypeHuman,
		Human: &schema.HumanConfig{Prompt: "?"},
	})

	result := v.ValidateWorkflow(wf)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "nested")
}

func TestTransformRequiresOutput(t *testing.T) {
	v := newValidator(t)
	wf := validWorkflow()
	wf.Steps[1].Conditional.Then[0].Output = ""

	result := v.ValidateWorkflow(wf)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "output")
}

func TestCronTriggerRequiresExpression(t *testing.T) {
	v := newValidator(t)
	wf := validWorkflow()
	wf.Triggers[0].Cron = ""

	result := v.ValidateWorkflow(wf)
	require.False(t, result.Valid())
	assert.Contains(t, issuePaths(result.Errors), "triggers[0].cron")
}

func TestRetryWarnings(t *testing.T) {
	v := newValidator(t)

	wf := validWorkflow()
	wf.Steps[1].Retry = &schema.RetryPolicy{MaxRetries: 1}
	result := v.ValidateWorkflow(wf)
	assert.True(t, result.Valid())
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0].Message, "ignored")

	wf = validWorkflow()
	wf.Steps[0].Retry.MaxRetries = 20
	result = v.ValidateWorkflow(wf)
	assert.True(t, result.Valid())
	assert.NotEmpty(t, result.Warnings)

	wf = validWorkflow()
	wf.Steps[0].Retry.InitialDelay = "10s"
	wf.Steps[0].Retry.MaxDelay = "1s"
	result = v.ValidateWorkflow(wf)
	assert.True(t, result.Valid())
	assert.NotEmpty(t, result.Warnings)
}

func TestLoopCollectionVariantChecked(t *testing.T) {
	v := newValidator(t)
	wf := validWorkflow()
	wf.Steps = append(wf.Steps, schema.WorkflowStep{
		ID:   "each",
		Type: schema.StepTypeLoop,
		Loop: &schema.LoopConfig{
			Collection:   schema.StepInput{}, // no variant set
			ItemVariable: "item",
			Steps: []schema.WorkflowStep{{
				ID:        "body",
				Type:      schema.StepTypeTransform,
				Input:     schema.VariableInput("item"),
				Output:    "seen",
				Transform: &schema.TransformConfig{Expression: ".input"},
			}},
		},
	})

	result := v.ValidateWorkflow(wf)
	require.False(t, result.Valid())
	assert.Contains(t, issuePaths(result.Errors), "steps[3].loop.collection")
}
