package validation

import (
	"fmt"

	"github.com/rendis/stepflow/pkg/schema"
)

// ActionLookup answers whether a (module, action) pair can be resolved at
// validation time.
type ActionLookup interface {
	Has(module, action string) bool
}

// validateSemantic performs semantic analysis: unique step IDs, routing
// targets referencing existing steps, registered actions. Cycles in the step
// graph are allowed; the engine caps step invocations at run time.
func validateSemantic(def *schema.WorkflowDefinition, lookup ActionLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	stepIDs := make(map[string]bool, len(def.Steps))
	for i, s := range def.Steps {
		if stepIDs[s.ID] {
			result.AddError(fmt.Sprintf("steps[%d].id", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate step id %q", s.ID))
		}
		stepIDs[s.ID] = true
	}

	for i := range def.Steps {
		validateStepSemantic(&def.Steps[i], fmt.Sprintf("steps[%d]", i), stepIDs, lookup, result)
	}

	for i, rule := range def.FollowUps {
		path := fmt.Sprintf("followUpWorkflows[%d]", i)
		for j, outcome := range rule.OnOutcome {
			if !knownOutcome(outcome) {
				result.AddWarning(fmt.Sprintf("%s.onOutcome[%d]", path, j), schema.ErrCodeValidation,
					fmt.Sprintf("unknown outcome tag %q", outcome))
			}
		}
	}

	return result
}

func validateStepSemantic(step *schema.Step, path string, stepIDs map[string]bool, lookup ActionLookup, result *schema.ValidationResult) {
	if lookup != nil && step.Module != "" && step.Action != "" {
		if !lookup.Has(step.Module, step.Action) {
			result.AddError(path+".action", schema.ErrCodeValidation,
				fmt.Sprintf("action %s.%s not registered", step.Module, step.Action))
		}
	}

	if step.OnSuccess != nil {
		if step.OnSuccess.IsConditional() {
			checkTarget(step.OnSuccess.Then, path+".onSuccess.then", stepIDs, result)
			checkTarget(step.OnSuccess.Else, path+".onSuccess.else", stepIDs, result)
		} else {
			checkTarget(step.OnSuccess.Next, path+".onSuccess", stepIDs, result)
		}
	}
	checkTarget(step.OnFailure, path+".onFailure", stepIDs, result)
}

// checkTarget validates a routing target. Empty targets mean "finish the
// workflow" and are always valid.
func checkTarget(target, path string, stepIDs map[string]bool, result *schema.ValidationResult) {
	if target == "" {
		return
	}
	if !stepIDs[target] {
		result.AddError(path, schema.ErrCodeValidation,
			fmt.Sprintf("references non-existent step %q", target))
	}
}

func knownOutcome(o schema.Outcome) bool {
	switch o {
	case schema.OutcomeNoTasks, schema.OutcomeAllComplete, schema.OutcomeVersionCreated,
		schema.OutcomeFailed, schema.OutcomeCompleted, schema.OutcomeUnknown:
		return true
	}
	return false
}
