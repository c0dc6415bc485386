package validation

import (
	"fmt"
	"time"

	"github.com/rendis/flowkit/pkg/schema"
)

// validateSemantic performs the checks JSON Schema cannot express:
// step ID uniqueness across all nesting levels, the exactly-one rule for
// step inputs, config blocks matching step types, and retry sanity.
func validateSemantic(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	seen := make(map[string]string) // step ID -> first path seen
	for i := range wf.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		validateStep(&wf.Steps[i], path, true, seen, result)
	}

	for i, t := range wf.Triggers {
		path := fmt.Sprintf("triggers[%d]", i)
		if t.Type == "cron" && t.Cron == "" {
			result.AddError(path+".cron", schema.ErrCodeValidation,
				"cron trigger requires a cron expression")
		}
	}

	return result
}

func validateStep(step *schema.WorkflowStep, path string, topLevel bool, seen map[string]string, result *schema.ValidationResult) {
	if prev, dup := seen[step.ID]; dup {
		result.AddError(path+".id", schema.ErrCodeValidation,
			fmt.Sprintf("duplicate step id %q (first declared at %s)", step.ID, prev))
	} else {
		seen[step.ID] = path
	}

	if step.Input != nil {
		validateInputVariant(step.Input, path+".input", result)
	}

	validateConfigBlock(step, path, result)

	switch step.Type {
	case schema.StepTypeConditional:
		if cfg := step.Conditional; cfg != nil {
			for i := range cfg.Then {
				validateStep(&cfg.Then[i], fmt.Sprintf("%s.conditional.then[%d]", path, i), false, seen, result)
			}
			for i := range cfg.Else {
				validateStep(&cfg.Else[i], fmt.Sprintf("%s.conditional.else[%d]", path, i), false, seen, result)
			}
		}

	case schema.StepTypeParallel:
		if cfg := step.Parallel; cfg != nil {
			for bi := range cfg.Branches {
				for si := range cfg.Branches[bi] {
					validateStep(&cfg.Branches[bi][si],
						fmt.Sprintf("%s.parallel.branches[%d][%d]", path, bi, si), false, seen, result)
				}
			}
		}

	case schema.StepTypeLoop:
		if cfg := step.Loop; cfg != nil {
			validateInputVariant(&cfg.Collection, path+".loop.collection", result)
			for i := range cfg.Steps {
				validateStep(&cfg.Steps[i], fmt.Sprintf("%s.loop.steps[%d]", path, i), false, seen, result)
			}
		}

	case schema.StepTypeHuman:
		// Resume targets the paused step by the execution's current step, so
		// human steps must sit in the top-level sequence.
		if !topLevel {
			result.AddError(path, schema.ErrCodeValidation,
				"human steps cannot be nested inside flow-control steps")
		}

	case schema.StepTypeTransform:
		if step.Output == "" {
			result.AddError(path+".output", schema.ErrCodeValidation,
				"transform steps must declare an output variable")
		}

	case schema.StepTypeRAG:
		if cfg := step.RAG; cfg != nil {
			validateInputVariant(&cfg.Query, path+".rag.query", result)
		}
	}

	validateRetry(step, path, result)
}

// validateConfigBlock checks that exactly the config pointer matching the
// step type is set.
func validateConfigBlock(step *schema.WorkflowStep, path string, result *schema.ValidationResult) {
	configs := map[schema.StepType]bool{
		schema.StepTypeAgent:       step.Agent != nil,
		schema.StepTypeTool:        step.Tool != nil,
		schema.StepTypeConditional: step.Conditional != nil,
		schema.StepTypeParallel:    step.Parallel != nil,
		schema.StepTypeLoop:        step.Loop != nil,
		schema.StepTypeHuman:       step.Human != nil,
		schema.StepTypeRAG:         step.RAG != nil,
		schema.StepTypeTransform:   step.Transform != nil,
	}

	if !configs[step.Type] {
		result.AddError(path, schema.ErrCodeValidation,
			fmt.Sprintf("step of type %q is missing its %q config block", step.Type, step.Type))
	}
	for t, present := range configs {
		if present && t != step.Type {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("step of type %q carries a %q config block", step.Type, t))
		}
	}
}

// validateInputVariant enforces the exactly-one rule on step inputs.
func validateInputVariant(input *schema.StepInput, path string, result *schema.ValidationResult) {
	set := 0
	if len(input.Literal) > 0 {
		set++
	}
	if input.Variable != "" {
		set++
	}
	if input.Expression != "" {
		set++
	}
	switch set {
	case 0:
		result.AddError(path, schema.ErrCodeValidation,
			"input must set exactly one of literal, variable, or expression")
	case 1:
	default:
		result.AddError(path, schema.ErrCodeValidation,
			fmt.Sprintf("input sets %d variants; exactly one of literal, variable, or expression is allowed", set))
	}
}

func validateRetry(step *schema.WorkflowStep, path string, result *schema.ValidationResult) {
	policy := step.Retry
	if policy == nil {
		return
	}

	switch step.Type {
	case schema.StepTypeAgent, schema.StepTypeTool, schema.StepTypeRAG:
	default:
		result.AddWarning(path+".retry", schema.ErrCodeValidation,
			fmt.Sprintf("retry policy on %q step is ignored", step.Type))
	}

	if policy.MaxRetries > 10 {
		result.AddWarning(path+".retry.max_retries", schema.ErrCodeValidation,
			fmt.Sprintf("high retry count (%d) may cause excessive delays", policy.MaxRetries))
	}

	if policy.InitialDelay != "" && policy.MaxDelay != "" {
		initial, ierr := time.ParseDuration(policy.InitialDelay)
		maxDelay, merr := time.ParseDuration(policy.MaxDelay)
		if ierr == nil && merr == nil && initial > maxDelay {
			result.AddWarning(path+".retry.initial_delay", schema.ErrCodeValidation,
				fmt.Sprintf("initial delay (%s) exceeds max delay (%s); every backoff is capped", policy.InitialDelay, policy.MaxDelay))
		}
	}
}
