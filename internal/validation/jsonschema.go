package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/flowkit/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for Workflow validation.
// Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowkit.dev/schemas/workflow.json",
  "type": "object",
  "required": ["id", "steps"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "name": { "type": "string" },
    "version": { "type": "string" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "triggers": {
      "type": "array",
      "items": { "$ref": "#/$defs/trigger" }
    },
    "timeout": { "$ref": "#/$defs/duration" },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "duration": {
      "type": "string",
      "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
    },
    "trigger": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": { "type": "string", "enum": ["cron"] },
        "cron": { "type": "string" },
        "enabled": { "type": "boolean" }
      },
      "additionalProperties": false
    },
    "step": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": ["agent", "tool", "conditional", "parallel", "loop", "human", "rag", "transform"]
        },
        "input": { "$ref": "#/$defs/step_input" },
        "output": { "type": "string" },
        "timeout": { "$ref": "#/$defs/duration" },
        "retry": { "$ref": "#/$defs/retry" },
        "agent": {
          "type": "object",
          "required": ["agent_id"],
          "properties": { "agent_id": { "type": "string", "minLength": 1 } },
          "additionalProperties": false
        },
        "tool": {
          "type": "object",
          "required": ["name"],
          "properties": { "name": { "type": "string", "minLength": 1 } },
          "additionalProperties": false
        },
        "conditional": {
          "type": "object",
          "required": ["condition", "then"],
          "properties": {
            "condition": { "type": "string", "minLength": 1 },
            "then": { "type": "array", "items": { "$ref": "#/$defs/step" } },
            "else": { "type": "array", "items": { "$ref": "#/$defs/step" } }
          },
          "additionalProperties": false
        },
        "parallel": {
          "type": "object",
          "required": ["branches"],
          "properties": {
            "branches": {
              "type": "array",
              "minItems": 1,
              "items": { "type": "array", "items": { "$ref": "#/$defs/step" } }
            },
            "wait_for_all": { "type": "boolean" }
          },
          "additionalProperties": false
        },
        "loop": {
          "type": "object",
          "required": ["collection", "item_variable", "steps"],
          "properties": {
            "collection": { "$ref": "#/$defs/step_input" },
            "item_variable": { "type": "string", "minLength": 1 },
            "steps": { "type": "array", "minItems": 1, "items": { "$ref": "#/$defs/step" } },
            "max_iterations": { "type": "integer", "minimum": 0 }
          },
          "additionalProperties": false
        },
        "human": {
          "type": "object",
          "properties": {
            "prompt": { "type": "string" },
            "timeout": { "$ref": "#/$defs/duration" }
          },
          "additionalProperties": false
        },
        "rag": {
          "type": "object",
          "required": ["pipeline_id", "query"],
          "properties": {
            "pipeline_id": { "type": "string", "minLength": 1 },
            "query": { "$ref": "#/$defs/step_input" },
            "top_k": { "type": "integer", "minimum": 1 }
          },
          "additionalProperties": false
        },
        "transform": {
          "type": "object",
          "required": ["expression"],
          "properties": { "expression": { "type": "string", "minLength": 1 } },
          "additionalProperties": false
        }
      },
      "additionalProperties": false
    },
    "step_input": {
      "type": "object",
      "properties": {
        "literal": {},
        "variable": { "type": "string" },
        "expression": { "type": "string" }
      },
      "additionalProperties": false
    },
    "retry": {
      "type": "object",
      "required": ["max_retries"],
      "properties": {
        "max_retries": { "type": "integer", "minimum": 0 },
        "initial_delay": { "$ref": "#/$defs/duration" },
        "max_delay": { "$ref": "#/$defs/duration" },
        "backoff_multiplier": { "type": "number", "exclusiveMinimum": 0 },
        "retryable_errors": { "type": "array", "items": { "type": "string" } }
      },
      "additionalProperties": false
    }
  }
}`

// compileWorkflowSchema compiles the embedded workflow schema.
func compileWorkflowSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://flowkit.dev/schemas/workflow.json", doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	return c.Compile("https://flowkit.dev/schemas/workflow.json")
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []schema.ValidationIssue {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []schema.ValidationIssue{{
			Path:     loc,
			Code:     schema.ErrCodeValidation,
			Message:  verr.Error(),
			Severity: schema.SeverityError,
		}}
	}

	var issues []schema.ValidationIssue
	for _, cause := range verr.Causes {
		issues = append(issues, collectViolations(cause)...)
	}
	return issues
}
