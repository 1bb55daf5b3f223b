package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/rendis/stepflow/pkg/schema"
)

// RegisterBuiltins installs the built-in "system" module. These actions are
// small utilities usable from any workflow; domain modules are registered by
// the embedding application.
func RegisterBuiltins(r *Registry) error {
	builtins := map[string]ActionFunc{
		"echo":   echoAction,
		"log":    logAction,
		"sleep":  sleepAction,
		"fail":   failAction,
		"decide": decideAction,
		"set":    setAction,
	}
	for name, fn := range builtins {
		if err := r.Register("system", name, fn); err != nil {
			return err
		}
	}
	return nil
}

// echoAction returns its inputs unchanged as outputs.
func echoAction(_ context.Context, inputs map[string]any, _ *ExecutionContext) (map[string]any, error) {
	outputs := make(map[string]any, len(inputs))
	for k, v := range inputs {
		outputs[k] = v
	}
	return outputs, nil
}

// logAction writes a message to the execution log and passes through.
func logAction(_ context.Context, inputs map[string]any, ec *ExecutionContext) (map[string]any, error) {
	msg, _ := inputs["message"].(string)
	if ec.Logger != nil {
		ec.Logger.Info(msg, "step_id", ec.StepID)
	}
	return map[string]any{"logged": true}, nil
}

// sleepAction blocks for the given number of milliseconds, honoring ctx.
func sleepAction(ctx context.Context, inputs map[string]any, _ *ExecutionContext) (map[string]any, error) {
	ms, _ := inputs["ms"].(float64)
	if ms <= 0 {
		return map[string]any{"slept": float64(0)}, nil
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return map[string]any{"slept": ms}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// failAction fails with the configured message. Useful for exercising
// onFailure routes.
func failAction(_ context.Context, inputs map[string]any, _ *ExecutionContext) (map[string]any, error) {
	msg, _ := inputs["message"].(string)
	if msg == "" {
		msg = "step failed"
	}
	return nil, schema.NewError(schema.ErrCodeStepFailed, msg)
}

// decideAction suspends the execution on a decision point, forwarding any
// configured proposals.
func decideAction(_ context.Context, inputs map[string]any, _ *ExecutionContext) (map[string]any, error) {
	outputs := map[string]any{OutputRequiresDecision: true}
	if proposals, ok := inputs["proposals"]; ok {
		outputs[OutputProposals] = proposals
	}
	if prompt, ok := inputs["prompt"]; ok {
		outputs["prompt"] = prompt
	}
	return outputs, nil
}

// setAction publishes the given key/value pairs as outputs, coercing nothing.
func setAction(_ context.Context, inputs map[string]any, _ *ExecutionContext) (map[string]any, error) {
	values, ok := inputs["values"].(map[string]any)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation,
			fmt.Sprintf("system.set requires a %q object input", "values"))
	}
	return values, nil
}
