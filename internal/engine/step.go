package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/registry"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/pkg/schema"
)

// stepResult is the in-memory outcome of one step invocation.
type stepResult struct {
	RowID            string
	Status           schema.StepStatus
	Outputs          map[string]any
	Error            string
	ReturnCode       int
	DurationMs       int64
	RequiresDecision bool
}

func (r *stepResult) runtime() *schema.StepRuntimeState {
	return &schema.StepRuntimeState{
		Status:     r.Status,
		Outputs:    r.Outputs,
		Error:      r.Error,
		ReturnCode: r.ReturnCode,
		DurationMs: r.DurationMs,
	}
}

// resultFromRuntime reconstructs a stepResult from recorded state, used when
// routing onward from a previously executed step.
func resultFromRuntime(st *schema.StepRuntimeState) *stepResult {
	return &stepResult{
		Status:     st.Status,
		Outputs:    st.Outputs,
		Error:      st.Error,
		ReturnCode: st.ReturnCode,
		DurationMs: st.DurationMs,
	}
}

// executeStep resolves inputs, records a running row, invokes the action and
// records its result. Action errors become a failed result, not an error
// return; only persistence failures abort the transition.
func (e *Engine) executeStep(ctx context.Context, ex *store.Execution, def *schema.WorkflowDefinition, step *schema.Step, state *schema.ExecutionState) (*stepResult, error) {
	ctx = logging.WithStepID(ctx, step.ID)
	scope := e.scope(ex, def, state)
	inputs := expressions.ResolveInputs(step.Inputs, scope)

	inputsJSON, err := json.Marshal(inputs)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "serialize step inputs").
			WithStep(step.ID).WithCause(err)
	}

	row := &store.StepExecution{
		ID:          uuid.NewString(),
		ExecutionID: ex.ID,
		StepID:      step.ID,
		Module:      step.Module,
		Action:      step.Action,
		Status:      schema.StepRunning,
		Inputs:      inputsJSON,
		StartedAt:   time.Now().UTC(),
	}
	if err := e.store.RecordStepExecution(ctx, row); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "step started", "module", step.Module, "action", step.Action)
	e.emit(ctx, ex, step.ID, streaming.EventStepStarted, map[string]any{
		"module": step.Module,
		"action": step.Action,
	})

	started := time.Now()
	var outputs map[string]any
	fn, actionErr := e.registry.Resolve(step.Module, step.Action)
	if actionErr == nil {
		ec := &registry.ExecutionContext{
			ExecutionID: ex.ID,
			StepID:      step.ID,
			WorkflowID:  ex.WorkflowID,
			VersionTag:  state.VersionTag,
			WorkDir:     e.cfg.WorkDir,
			// Actions log without a context; hand them a pre-correlated logger.
			Logger: e.logger.With("execution_id", ex.ID, "step_id", step.ID),
		}
		outputs, actionErr = fn(ctx, inputs, ec)
	}
	duration := time.Since(started).Milliseconds()
	now := time.Now().UTC()

	res := &stepResult{RowID: row.ID, Outputs: outputs, DurationMs: duration}

	if actionErr != nil {
		res.Status = schema.StepFailed
		res.Error = actionErr.Error()
		res.ReturnCode = 1

		failedStatus := schema.StepFailed
		rc := 1
		if err := e.store.UpdateStepExecution(ctx, row.ID, store.StepExecutionUpdate{
			Status:      &failedStatus,
			Error:       &res.Error,
			ReturnCode:  &rc,
			CompletedAt: &now,
			DurationMs:  &duration,
		}); err != nil {
			return nil, err
		}
		e.logger.WarnContext(ctx, "step failed", "error", res.Error, "duration_ms", duration)
		e.emit(ctx, ex, step.ID, streaming.EventStepFailed, map[string]any{
			"error":      res.Error,
			"durationMs": duration,
		})
		return res, nil
	}

	outputsJSON, err := json.Marshal(outputs)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "serialize step outputs").
			WithStep(step.ID).WithCause(err)
	}

	if registry.RequiresDecision(outputs) {
		// Keep the row running; Resume completes it with the chosen option.
		res.Status = schema.StepRunning
		res.RequiresDecision = true
		if err := e.store.UpdateStepExecution(ctx, row.ID, store.StepExecutionUpdate{
			Outputs: outputsJSON,
		}); err != nil {
			return nil, err
		}
		e.logger.InfoContext(ctx, "step requested decision", "duration_ms", duration)
		return res, nil
	}

	res.Status = schema.StepCompleted
	completedStatus := schema.StepCompleted
	rc := 0
	if err := e.store.UpdateStepExecution(ctx, row.ID, store.StepExecutionUpdate{
		Status:      &completedStatus,
		Outputs:     outputsJSON,
		ReturnCode:  &rc,
		CompletedAt: &now,
		DurationMs:  &duration,
	}); err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "step completed", "duration_ms", duration)
	e.emit(ctx, ex, step.ID, streaming.EventStepCompleted, map[string]any{
		"outputs":    outputs,
		"durationMs": duration,
	})
	return res, nil
}

// nextStep evaluates routing for a finished step. A missing or empty target
// finishes the workflow; a failed step routes through onFailure only.
func (e *Engine) nextStep(ex *store.Execution, def *schema.WorkflowDefinition, step *schema.Step, res *stepResult, state *schema.ExecutionState) *schema.Step {
	switch res.Status {
	case schema.StepCompleted:
		r := step.OnSuccess
		if r == nil {
			return nil
		}
		if r.IsConditional() {
			if e.conditions.Evaluate(r.Condition, e.scope(ex, def, state)) {
				return def.StepByID(r.Then)
			}
			return def.StepByID(r.Else)
		}
		if r.Next == "" {
			return nil
		}
		return def.StepByID(r.Next)
	case schema.StepFailed:
		if step.OnFailure == "" {
			return nil
		}
		return def.StepByID(step.OnFailure)
	}
	return nil
}

// scope builds the template/condition resolution scope from execution state.
func (e *Engine) scope(ex *store.Execution, def *schema.WorkflowDefinition, state *schema.ExecutionState) map[string]any {
	steps := make(map[string]any, len(state.Steps))
	for id, st := range state.Steps {
		outputs := st.Outputs
		if outputs == nil {
			outputs = map[string]any{}
		}
		steps[id] = map[string]any{
			"outputs":    outputs,
			"status":     string(st.Status),
			"returnCode": st.ReturnCode,
			"error":      st.Error,
		}
	}
	return map[string]any{
		expressions.RootTrigger: state.Trigger,
		expressions.RootSteps:   steps,
		expressions.RootWorkflow: map[string]any{
			"id":          ex.WorkflowID,
			"name":        def.Name,
			"executionId": ex.ID,
			"versionTag":  state.VersionTag,
			"cwd":         e.cfg.WorkDir,
		},
	}
}
