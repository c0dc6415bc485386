// Package validation checks workflow definitions before they run: JSON
// Schema Draft 2020-12 for structure, plus a semantic walk for everything the
// schema cannot express (unique step IDs across nesting, input variants,
// per-type config requirements).
package validation

import "github.com/rendis/flowkit/pkg/schema"

// Validator checks workflow definitions for correctness before execution.
type Validator interface {
	// ValidateWorkflow runs the full pipeline and returns all issues found.
	ValidateWorkflow(wf *schema.Workflow) *schema.ValidationResult
}
