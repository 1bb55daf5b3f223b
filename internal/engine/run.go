package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/outcome"
	"github.com/rendis/stepflow/internal/registry"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/pkg/schema"
)

// runLoop executes steps back to back starting at cur until routing yields
// no successor, a step fails without a failure route, a decision suspends the
// execution, or the invocation cap is hit.
func (e *Engine) runLoop(ctx context.Context, ex *store.Execution, def *schema.WorkflowDefinition, state *schema.ExecutionState, cur *schema.Step) error {
	invocations, err := e.store.CountStepExecutions(ctx, ex.ID)
	if err != nil {
		return err
	}

	for cur != nil {
		if invocations >= e.cfg.MaxStepInvocations {
			return e.failExecution(ctx, ex, def, state, cur.ID,
				schema.NewErrorf(schema.ErrCodeStepLimit,
					"step invocation limit %d reached", e.cfg.MaxStepInvocations).WithStep(cur.ID))
		}

		if err := e.setStatus(ctx, ex, schema.StatusRunning, cur.ID, state); err != nil {
			return err
		}

		res, err := e.executeStep(ctx, ex, def, cur, state)
		if err != nil {
			return err
		}
		invocations++

		if res.RequiresDecision {
			return e.suspendOnDecision(ctx, ex, cur, state, res)
		}

		state.Record(cur.ID, res.runtime())

		if res.Status == schema.StepFailed && cur.OnFailure == "" {
			return e.failExecution(ctx, ex, def, state, cur.ID,
				schema.NewError(schema.ErrCodeStepFailed, res.Error).WithStep(cur.ID))
		}

		cur = e.nextStep(ex, def, cur, res, state)
	}

	return e.finalize(ctx, ex, def, state)
}

// advance runs exactly one step of a step-mode execution and pauses. A step
// failure without a failure route still fails the whole execution.
func (e *Engine) advance(ctx context.Context, ex *store.Execution, def *schema.WorkflowDefinition, state *schema.ExecutionState, cur *schema.Step) (*StepAdvance, error) {
	invocations, err := e.store.CountStepExecutions(ctx, ex.ID)
	if err != nil {
		return nil, err
	}
	if invocations >= e.cfg.MaxStepInvocations {
		limitErr := schema.NewErrorf(schema.ErrCodeStepLimit,
			"step invocation limit %d reached", e.cfg.MaxStepInvocations).WithStep(cur.ID)
		if err := e.failExecution(ctx, ex, def, state, cur.ID, limitErr); err != limitErr {
			return nil, err
		}
		return nil, limitErr
	}

	if err := e.setStatus(ctx, ex, schema.StatusRunning, cur.ID, state); err != nil {
		return nil, err
	}

	res, err := e.executeStep(ctx, ex, def, cur, state)
	if err != nil {
		return nil, err
	}

	if res.RequiresDecision {
		if err := e.suspendOnDecision(ctx, ex, cur, state, res); err != nil {
			return nil, err
		}
		return &StepAdvance{StepID: cur.ID, Waiting: true, Status: schema.StepRunning, Outputs: res.Outputs}, nil
	}

	state.Record(cur.ID, res.runtime())

	if res.Status == schema.StepFailed && cur.OnFailure == "" {
		failErr := schema.NewError(schema.ErrCodeStepFailed, res.Error).WithStep(cur.ID)
		if err := e.failExecution(ctx, ex, def, state, cur.ID, failErr); err != failErr {
			return nil, err
		}
		return &StepAdvance{Done: true, StepID: cur.ID, Status: schema.StepFailed, Error: res.Error}, nil
	}

	if err := e.setStatus(ctx, ex, schema.StatusPaused, cur.ID, state); err != nil {
		return nil, err
	}
	return &StepAdvance{StepID: cur.ID, Status: res.Status, Outputs: res.Outputs, Error: res.Error}, nil
}

// setStatus persists a status transition together with the cursor and state
// snapshot, guarding against illegal transitions.
func (e *Engine) setStatus(ctx context.Context, ex *store.Execution, to schema.ExecutionStatus, currentStep string, state *schema.ExecutionState) error {
	if !canTransition(ex.Status, to) {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"illegal status transition %s -> %s for execution %q", ex.Status, to, ex.ID)
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return schema.NewError(schema.ErrCodeExecution, "serialize execution state").WithCause(err)
	}
	if err := e.store.UpdateExecution(ctx, ex.ID, store.ExecutionUpdate{
		Status:      &to,
		CurrentStep: &currentStep,
		State:       stateJSON,
	}); err != nil {
		return err
	}
	ex.Status = to
	ex.CurrentStep = currentStep
	ex.State = stateJSON
	return nil
}

// suspendOnDecision creates the pending decision row and parks the execution
// in waiting. The step's row stays running until the decision resolves it.
func (e *Engine) suspendOnDecision(ctx context.Context, ex *store.Execution, step *schema.Step, state *schema.ExecutionState, res *stepResult) error {
	ctx = logging.WithStepID(ctx, step.ID)
	var proposals json.RawMessage
	if p, ok := res.Outputs[registry.OutputProposals]; ok {
		if b, err := json.Marshal(p); err == nil {
			proposals = b
		}
	}

	dec := &store.PendingDecision{
		ID:          uuid.NewString(),
		ExecutionID: ex.ID,
		StepID:      step.ID,
		Proposals:   proposals,
		Status:      schema.DecisionPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.CreatePendingDecision(ctx, dec); err != nil {
		return err
	}

	state.Cursor = step.ID
	if err := e.setStatus(ctx, ex, schema.StatusWaiting, step.ID, state); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "execution waiting on decision", "decision_id", dec.ID)
	e.emit(ctx, ex, step.ID, streaming.EventDecisionRequested, map[string]any{
		"decisionId": dec.ID,
		"proposals":  res.Outputs[registry.OutputProposals],
	})
	return nil
}

// finalize classifies the outcome, collects follow-up suggestions, renders
// the summary and marks the execution completed.
func (e *Engine) finalize(ctx context.Context, ex *store.Execution, def *schema.WorkflowDefinition, state *schema.ExecutionState) error {
	tag := outcome.Determine(state, def)
	followUps := outcome.Suggest(tag, def)

	records, err := e.store.GetStepExecutions(ctx, ex.ID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	completed := schema.StatusCompleted
	if !canTransition(ex.Status, completed) {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"illegal status transition %s -> %s for execution %q", ex.Status, completed, ex.ID)
	}

	ex.Status = completed
	ex.Outcome = tag
	ex.CompletedAt = &now
	summary := outcome.Summary(ex, def.Name, state, records)

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return schema.NewError(schema.ErrCodeExecution, "serialize execution state").WithCause(err)
	}
	emptyStep := ""
	if err := e.store.UpdateExecution(ctx, ex.ID, store.ExecutionUpdate{
		Status:      &completed,
		CurrentStep: &emptyStep,
		State:       stateJSON,
		Outcome:     &tag,
		FollowUps:   followUps,
		Summary:     &summary,
		CompletedAt: &now,
	}); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "execution completed",
		"outcome", string(tag), "follow_ups", len(followUps))
	e.emit(ctx, ex, "", streaming.EventExecutionDone, map[string]any{
		"outcome":   string(tag),
		"followUps": followUps,
	})
	return nil
}

// failExecution marks the execution failed, still classifying whatever
// outcome the partial state supports. It returns cause so callers can
// propagate the original error.
func (e *Engine) failExecution(ctx context.Context, ex *store.Execution, def *schema.WorkflowDefinition, state *schema.ExecutionState, stepID string, cause *schema.Error) error {
	ctx = logging.WithStepID(ctx, stepID)
	tag := outcome.Determine(state, def)
	followUps := outcome.Suggest(tag, def)

	records, err := e.store.GetStepExecutions(ctx, ex.ID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	failed := schema.StatusFailed

	ex.Status = failed
	ex.Outcome = tag
	ex.Error = cause.Message
	ex.CompletedAt = &now
	summary := outcome.Summary(ex, def.Name, state, records)

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return schema.NewError(schema.ErrCodeExecution, "serialize execution state").WithCause(err)
	}
	if err := e.store.UpdateExecution(ctx, ex.ID, store.ExecutionUpdate{
		Status:      &failed,
		CurrentStep: &stepID,
		State:       stateJSON,
		Outcome:     &tag,
		FollowUps:   followUps,
		Summary:     &summary,
		Error:       &cause.Message,
		CompletedAt: &now,
	}); err != nil {
		return err
	}

	e.logger.WarnContext(ctx, "execution failed", "error", cause.Message)
	e.emit(ctx, ex, stepID, streaming.EventExecutionFailed, map[string]any{
		"outcome": string(tag),
		"error":   cause.Message,
	})
	return cause
}
