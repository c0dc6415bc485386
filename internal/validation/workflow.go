package validation

import (
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/flowkit/pkg/schema"
)

// WorkflowValidator runs the full validation pipeline: structural JSON Schema
// validation, then the semantic walk. Safe for concurrent use.
type WorkflowValidator struct {
	structural *jsonschema.Schema
}

// NewWorkflowValidator creates a validator with the workflow schema pre-compiled.
func NewWorkflowValidator() (*WorkflowValidator, error) {
	s, err := compileWorkflowSchema()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{structural: s}, nil
}

// ValidateWorkflow validates a workflow definition and returns all issues.
// Structural errors short-circuit the semantic walk, which assumes the shape
// is sound.
func (v *WorkflowValidator) ValidateWorkflow(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if wf == nil {
		result.AddError("/", schema.ErrCodeValidation, "workflow is nil")
		return result
	}

	doc, err := toJSONValue(wf)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, "workflow is not JSON-serializable: "+err.Error())
		return result
	}

	if err := v.structural.Validate(doc); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			result.Errors = append(result.Errors, collectViolations(verr)...)
		} else {
			result.AddError("/", schema.ErrCodeValidation, err.Error())
		}
		return result
	}

	result.Merge(validateSemantic(wf))
	return result
}

var _ Validator = (*WorkflowValidator)(nil)
