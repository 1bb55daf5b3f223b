package outcome

import "github.com/rendis/stepflow/pkg/schema"

// Determine classifies a finished (or partially finished) execution from its
// accumulated state. Signals are checked in priority order: the last step's
// outputs, well-known step ID conventions, a failed last step, then a scan of
// every step. An execution that produced state but matched nothing is plain
// completed; an empty state is unknown.
func Determine(state *schema.ExecutionState, def *schema.WorkflowDefinition) schema.Outcome {
	lastStepID := state.LastStepID()
	lastStep := state.Steps[lastStepID]
	if lastStep == nil {
		return schema.OutcomeUnknown
	}

	if lastStep.Outputs != nil {
		if isZeroCount(lastStep.Outputs["count"]) || isZeroCount(lastStep.Outputs["nextStepsCount"]) {
			return schema.OutcomeNoTasks
		}
		if lastStep.Outputs["allComplete"] == true {
			return schema.OutcomeAllComplete
		}
		if truthyOutput(lastStep.Outputs["versionTag"]) {
			return schema.OutcomeVersionCreated
		}
	}

	switch lastStepID {
	case "no-tasks":
		return schema.OutcomeNoTasks
	case "check-all-complete":
		if lastStep.Outputs != nil && lastStep.Outputs["allComplete"] == true {
			return schema.OutcomeAllComplete
		}
		return schema.OutcomeNoTasks
	case "create-next-version":
		return schema.OutcomeVersionCreated
	}

	if lastStep.Status == schema.StepFailed {
		return schema.OutcomeFailed
	}

	// Scan all steps in invocation order for outcome indicators.
	for _, stepID := range state.Order {
		step := state.Steps[stepID]
		if step == nil || step.Outputs == nil {
			continue
		}
		if isZeroCount(step.Outputs["count"]) || isEmptyList(step.Outputs["nextSteps"]) {
			return schema.OutcomeNoTasks
		}
		if step.Outputs["allComplete"] == true {
			return schema.OutcomeAllComplete
		}
	}

	return schema.OutcomeCompleted
}

// isZeroCount reports whether an output value is the number zero. JSON
// decoding yields float64; actions constructing outputs in Go may use int.
func isZeroCount(v any) bool {
	switch n := v.(type) {
	case float64:
		return n == 0
	case int:
		return n == 0
	case int64:
		return n == 0
	}
	return false
}

// isEmptyList reports whether an output value is a present but empty list.
func isEmptyList(v any) bool {
	list, ok := v.([]any)
	return ok && len(list) == 0
}

// truthyOutput applies loose truthiness to an output signal: nil, false,
// numeric zero and the empty string all count as absent.
func truthyOutput(v any) bool {
	switch n := v.(type) {
	case nil:
		return false
	case bool:
		return n
	case string:
		return n != ""
	case float64:
		return n != 0
	case int:
		return n != 0
	case int64:
		return n != 0
	}
	return true
}
