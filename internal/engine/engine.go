package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/registry"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/internal/validation"
	"github.com/rendis/stepflow/pkg/schema"
)

// DefaultMaxStepInvocations caps how many step invocations a single execution
// may perform. Cycles in the step graph are legal; this cap is what stops a
// runaway loop.
const DefaultMaxStepInvocations = 100

// WorkflowSource resolves workflow definitions by logical ID.
type WorkflowSource interface {
	ByID(id string) (*schema.WorkflowDefinition, error)
}

// Config holds engine tunables. Events is optional; when set, the engine
// publishes step and execution lifecycle events to it.
type Config struct {
	MaxStepInvocations int
	WorkDir            string
	Events             streaming.Hub
}

// RunOptions adjust a single submission.
type RunOptions struct {
	Mode       schema.ExecutionMode
	VersionTag string
}

// Resolution carries a submitted decision into Resume.
type Resolution struct {
	DecisionID string
	Choice     string
	Notes      string
}

// StepAdvance reports the result of a single step-mode advance.
type StepAdvance struct {
	Done    bool              `json:"done"`
	Waiting bool              `json:"waiting,omitempty"`
	StepID  string            `json:"stepId,omitempty"`
	Status  schema.StepStatus `json:"status,omitempty"`
	Outputs map[string]any    `json:"outputs,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Engine drives workflow executions: it resolves definitions, runs steps
// through the action registry, persists every transition and suspends on
// decision points.
type Engine struct {
	store      store.Store
	registry   *registry.Registry
	source     WorkflowSource
	validator  *validation.Validator
	conditions *expressions.ConditionEvaluator
	events     streaming.Hub
	logger     *slog.Logger
	cfg        Config
	locks      *keyedLocks
}

// New creates an Engine.
func New(s store.Store, reg *registry.Registry, src WorkflowSource, v *validation.Validator, logger *slog.Logger, cfg Config) *Engine {
	if cfg.MaxStepInvocations <= 0 {
		cfg.MaxStepInvocations = DefaultMaxStepInvocations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      s,
		registry:   reg,
		source:     src,
		validator:  v,
		conditions: expressions.NewConditionEvaluator(),
		events:     cfg.Events,
		logger:     logger,
		cfg:        cfg,
		locks:      newKeyedLocks(),
	}
}

// Submit validates the workflow and persists a pending execution. It returns
// without running any step; drive the execution with Run, or RunNextStep for
// step mode.
func (e *Engine) Submit(ctx context.Context, workflowID string, params map[string]any, opts RunOptions) (*store.Execution, error) {
	def, err := e.source.ByID(workflowID)
	if err != nil {
		return nil, err
	}
	if result := e.validator.Validate(def, e.registry); !result.Valid() {
		return nil, result.ToError()
	}

	id := def.ID
	if id == "" {
		id = workflowID
	}
	if err := e.store.SaveWorkflow(ctx, &store.WorkflowRecord{
		ID:         id,
		Name:       def.Name,
		Version:    def.Version,
		Definition: def,
	}); err != nil {
		return nil, err
	}

	mode := opts.Mode
	if mode == "" {
		mode = def.Mode()
	}

	state := schema.NewExecutionState(params, opts.VersionTag)
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "serialize initial state").WithCause(err)
	}

	ex := &store.Execution{
		ID:         uuid.NewString(),
		WorkflowID: id,
		VersionTag: opts.VersionTag,
		Mode:       mode,
		Status:     schema.StatusPending,
		Params:     params,
		State:      stateJSON,
		StartedAt:  time.Now().UTC(),
	}
	if err := e.store.CreateExecution(ctx, ex); err != nil {
		return nil, err
	}

	ctx = logging.WithWorkflowID(ctx, id)
	ctx = logging.WithExecutionID(ctx, ex.ID)
	e.logger.InfoContext(ctx, "execution submitted", "mode", string(mode))
	return ex, nil
}

// Run drives a pending execution. In auto mode it loops until the workflow
// finishes, fails or suspends on a decision. In step mode it runs exactly the
// first step and pauses.
func (e *Engine) Run(ctx context.Context, executionID string) error {
	unlock := e.locks.acquire(executionID)
	defer unlock()

	ex, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	ctx = logging.WithWorkflowID(ctx, ex.WorkflowID)
	ctx = logging.WithExecutionID(ctx, ex.ID)
	if ex.Status != schema.StatusPending {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"execution %q is %s, expected pending", executionID, ex.Status)
	}

	def, err := e.definition(ctx, ex)
	if err != nil {
		return err
	}
	state, err := decodeState(ex)
	if err != nil {
		return err
	}

	first := def.FirstStep()
	if first == nil {
		return e.finalize(ctx, ex, def, state)
	}

	if ex.Mode == schema.ModeStep {
		_, err := e.advance(ctx, ex, def, state, first)
		return err
	}
	return e.runLoop(ctx, ex, def, state, first)
}

// RunNextStep advances a step-mode execution by exactly one step. When
// routing from the previous step yields no successor, the execution is
// finalized instead and Done is reported.
func (e *Engine) RunNextStep(ctx context.Context, executionID string) (*StepAdvance, error) {
	unlock := e.locks.acquire(executionID)
	defer unlock()

	ex, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithWorkflowID(ctx, ex.WorkflowID)
	ctx = logging.WithExecutionID(ctx, ex.ID)
	switch {
	case ex.Status.Terminal():
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"execution %q already finished with status %s", executionID, ex.Status)
	case ex.Status == schema.StatusWaiting:
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"execution %q is waiting on a pending decision", executionID)
	case ex.Status == schema.StatusRunning:
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"execution %q is currently running", executionID)
	}
	if ex.Mode != schema.ModeStep {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"execution %q is not in step mode", executionID)
	}

	def, err := e.definition(ctx, ex)
	if err != nil {
		return nil, err
	}
	state, err := decodeState(ex)
	if err != nil {
		return nil, err
	}

	var cur *schema.Step
	if ex.Status == schema.StatusPending || ex.CurrentStep == "" {
		cur = def.FirstStep()
	} else {
		last := def.StepByID(ex.CurrentStep)
		if last == nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"current step %q not in workflow definition", ex.CurrentStep)
		}
		recorded := state.Steps[last.ID]
		if recorded == nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"no recorded result for step %q", last.ID)
		}
		cur = e.nextStep(ex, def, last, resultFromRuntime(recorded), state)
	}

	if cur == nil {
		if err := e.finalize(ctx, ex, def, state); err != nil {
			return nil, err
		}
		return &StepAdvance{Done: true}, nil
	}
	return e.advance(ctx, ex, def, state, cur)
}

// Resume completes the decision step of a waiting execution and continues
// routing from it. Earlier steps are never re-run.
func (e *Engine) Resume(ctx context.Context, executionID string, r Resolution) error {
	unlock := e.locks.acquire(executionID)
	defer unlock()

	ex, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	ctx = logging.WithWorkflowID(ctx, ex.WorkflowID)
	ctx = logging.WithExecutionID(ctx, ex.ID)
	if ex.Status != schema.StatusWaiting {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"execution %q is %s, expected waiting", executionID, ex.Status)
	}

	def, err := e.definition(ctx, ex)
	if err != nil {
		return err
	}
	state, err := decodeState(ex)
	if err != nil {
		return err
	}

	stepID := ex.CurrentStep
	if stepID == "" {
		stepID = state.Cursor
	}
	step := def.StepByID(stepID)
	if step == nil {
		return schema.NewErrorf(schema.ErrCodeExecution,
			"waiting step %q not in workflow definition", stepID)
	}
	ctx = logging.WithStepID(ctx, stepID)

	row, err := e.store.LatestStepExecution(ctx, ex.ID, stepID)
	if err != nil {
		return err
	}

	outputs := map[string]any{}
	if len(row.Outputs) > 0 {
		_ = json.Unmarshal(row.Outputs, &outputs)
	}
	outputs["decision"] = r.Choice
	outputs["decisionId"] = r.DecisionID
	outputs["notes"] = r.Notes
	outputs["status"] = "resolved"

	now := time.Now().UTC()
	duration := now.Sub(row.StartedAt).Milliseconds()
	outputsJSON, err := json.Marshal(outputs)
	if err != nil {
		return schema.NewError(schema.ErrCodeExecution, "serialize decision outputs").WithCause(err)
	}
	completed := schema.StepCompleted
	rc := 0
	if err := e.store.UpdateStepExecution(ctx, row.ID, store.StepExecutionUpdate{
		Status:      &completed,
		Outputs:     outputsJSON,
		ReturnCode:  &rc,
		CompletedAt: &now,
		DurationMs:  &duration,
	}); err != nil {
		return err
	}

	state.Record(stepID, &schema.StepRuntimeState{
		Status:     schema.StepCompleted,
		Outputs:    outputs,
		ReturnCode: 0,
		DurationMs: duration,
	})
	state.Cursor = ""

	e.logger.InfoContext(ctx, "decision resolved, resuming execution",
		"decision_id", r.DecisionID)
	e.emit(ctx, ex, stepID, streaming.EventDecisionResolved, map[string]any{
		"decisionId": r.DecisionID,
		"choice":     r.Choice,
	})

	if ex.Mode == schema.ModeStep {
		// Pause at the decision step; RunNextStep routes onward from here.
		return e.setStatus(ctx, ex, schema.StatusPaused, stepID, state)
	}

	// Leave waiting before routing so finalize sees a running execution even
	// when the decision step was the last one.
	if err := e.setStatus(ctx, ex, schema.StatusRunning, stepID, state); err != nil {
		return err
	}

	res := &stepResult{Status: schema.StepCompleted, Outputs: outputs}
	next := e.nextStep(ex, def, step, res, state)
	if next == nil {
		return e.finalize(ctx, ex, def, state)
	}
	return e.runLoop(ctx, ex, def, state, next)
}

// definition loads the cached definition for an execution, falling back to
// the workflow source for executions created before caching existed.
func (e *Engine) definition(ctx context.Context, ex *store.Execution) (*schema.WorkflowDefinition, error) {
	rec, err := e.store.GetWorkflow(ctx, ex.WorkflowID)
	if err == nil && rec.Definition != nil {
		return rec.Definition, nil
	}
	if !schema.IsCode(err, schema.ErrCodeNotFound) {
		return nil, err
	}
	return e.source.ByID(ex.WorkflowID)
}

// emit publishes an execution event when a hub is configured. Delivery is
// best effort; a full subscriber never stalls the execution.
func (e *Engine) emit(ctx context.Context, ex *store.Execution, stepID, eventType string, payload any) {
	if e.events == nil {
		return
	}
	_ = e.events.Publish(ctx, streaming.Event{
		ExecutionID: ex.ID,
		WorkflowID:  ex.WorkflowID,
		StepID:      stepID,
		Type:        eventType,
		Payload:     payload,
	})
}

func decodeState(ex *store.Execution) (*schema.ExecutionState, error) {
	state := schema.NewExecutionState(ex.Params, ex.VersionTag)
	if len(ex.State) > 0 {
		if err := json.Unmarshal(ex.State, state); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"corrupt state for execution %q", ex.ID).WithCause(err)
		}
	}
	if state.Steps == nil {
		state.Steps = make(map[string]*schema.StepRuntimeState)
	}
	return state, nil
}
