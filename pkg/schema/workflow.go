package schema

import "encoding/json"

// Workflow is the JSON-serializable workflow definition.
// It is immutable once loaded; step IDs must be unique across the whole
// definition, including steps nested inside flow-control variants.
type Workflow struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Version  string         `json:"version,omitempty"`
	Steps    []WorkflowStep `json:"steps"`
	Triggers []Trigger      `json:"triggers,omitempty"`
	Timeout  string         `json:"timeout,omitempty"` // overall timeout (e.g. "5m")
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Trigger schedules automatic executions of a workflow.
type Trigger struct {
	Type    string `json:"type"`           // cron
	Cron    string `json:"cron,omitempty"` // cron expression for cron triggers
	Enabled bool   `json:"enabled"`
}

// StepType enumerates the kinds of steps in a workflow.
type StepType string

const (
	StepTypeAgent       StepType = "agent"
	StepTypeTool        StepType = "tool"
	StepTypeConditional StepType = "conditional"
	StepTypeParallel    StepType = "parallel"
	StepTypeLoop        StepType = "loop"
	StepTypeHuman       StepType = "human"
	StepTypeRAG         StepType = "rag"
	StepTypeTransform   StepType = "transform"
)

// WorkflowStep is a tagged variant over the eight step kinds. Exactly one
// config pointer matching Type is set; the step executor dispatches with an
// exhaustive switch on Type.
type WorkflowStep struct {
	ID      string       `json:"id"`
	Type    StepType     `json:"type"`
	Input   *StepInput   `json:"input,omitempty"`   // data-consuming variants
	Output  string       `json:"output,omitempty"`  // variable name to bind the result
	Timeout string       `json:"timeout,omitempty"` // step-level timeout (e.g. "30s")
	Retry   *RetryPolicy `json:"retry,omitempty"`

	Agent       *AgentConfig       `json:"agent,omitempty"`
	Tool        *ToolConfig        `json:"tool,omitempty"`
	Conditional *ConditionalConfig `json:"conditional,omitempty"`
	Parallel    *ParallelConfig    `json:"parallel,omitempty"`
	Loop        *LoopConfig        `json:"loop,omitempty"`
	Human       *HumanConfig       `json:"human,omitempty"`
	RAG         *RAGConfig         `json:"rag,omitempty"`
	Transform   *TransformConfig   `json:"transform,omitempty"`
}

// InputKind identifies which variant of a StepInput is set.
type InputKind string

const (
	InputLiteral    InputKind = "literal"
	InputVariable   InputKind = "variable"
	InputExpression InputKind = "expression"
	InputNone       InputKind = ""
)

// StepInput is a variant over literal / variable reference / expression.
// Exactly one field is set; validation enforces this.
type StepInput struct {
	Literal    json.RawMessage `json:"literal,omitempty"`
	Variable   string          `json:"variable,omitempty"`
	Expression string          `json:"expression,omitempty"`
}

// Kind reports which variant is set. Literal takes precedence if a
// malformed input sets more than one field.
func (i *StepInput) Kind() InputKind {
	switch {
	case i == nil:
		return InputNone
	case len(i.Literal) > 0:
		return InputLiteral
	case i.Variable != "":
		return InputVariable
	case i.Expression != "":
		return InputExpression
	default:
		return InputNone
	}
}

// LiteralInput builds a literal StepInput from any JSON-encodable value.
func LiteralInput(v any) *StepInput {
	raw, _ := json.Marshal(v)
	return &StepInput{Literal: raw}
}

// VariableInput builds a variable-reference StepInput.
func VariableInput(name string) *StepInput {
	return &StepInput{Variable: name}
}

// ExpressionInput builds an expression StepInput.
func ExpressionInput(text string) *StepInput {
	return &StepInput{Expression: text}
}

// RetryPolicy configures retry behavior for a failable step.
// Delay for a 0-based attempt is
// min(max_delay, initial_delay * backoff_multiplier^attempt).
type RetryPolicy struct {
	MaxRetries        int      `json:"max_retries"`
	InitialDelay      string   `json:"initial_delay,omitempty"` // e.g. "100ms"
	MaxDelay          string   `json:"max_delay,omitempty"`     // cap (e.g. "1s")
	BackoffMultiplier float64  `json:"backoff_multiplier,omitempty"`
	RetryableErrors   []string `json:"retryable_errors,omitempty"` // FlowError codes; empty = all retryable
}

// AgentConfig is the config block for agent-type steps.
type AgentConfig struct {
	AgentID string `json:"agent_id"`
}

// ToolConfig is the config block for tool-type steps.
type ToolConfig struct {
	Name string `json:"name"`
}

// ConditionalConfig is the config block for conditional-type steps.
type ConditionalConfig struct {
	Condition string         `json:"condition"` // CEL expression
	Then      []WorkflowStep `json:"then"`
	Else      []WorkflowStep `json:"else,omitempty"`
}

// ParallelConfig is the config block for parallel-type steps.
type ParallelConfig struct {
	Branches   [][]WorkflowStep `json:"branches"`
	WaitForAll bool             `json:"wait_for_all"`
}

// LoopConfig is the config block for loop-type steps.
type LoopConfig struct {
	Collection    StepInput      `json:"collection"`
	ItemVariable  string         `json:"item_variable"`
	Steps         []WorkflowStep `json:"steps"`
	MaxIterations int            `json:"max_iterations,omitempty"` // 0 = unbounded
}

// HumanConfig is the config block for human-in-the-loop steps.
type HumanConfig struct {
	Prompt  string `json:"prompt,omitempty"`
	Timeout string `json:"timeout,omitempty"` // deadline for external input
}

// RAGConfig is the config block for retrieval steps.
type RAGConfig struct {
	PipelineID string    `json:"pipeline_id"`
	Query      StepInput `json:"query"`
	TopK       int       `json:"top_k,omitempty"`
}

// TransformConfig is the config block for transform-type steps.
// The step's resolved input is exposed to the evaluator as "input"
// alongside all current scope variables; the result binds to the step's
// mandatory output variable.
type TransformConfig struct {
	Expression string `json:"expression"` // jq expression
}

// Document is one retrieved item returned by the RAG port.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
