package engine

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/registry"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/validation"
	"github.com/rendis/stepflow/pkg/schema"
)

type stubSource map[string]*schema.WorkflowDefinition

func (s stubSource) ByID(id string) (*schema.WorkflowDefinition, error) {
	def, ok := s[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	return def, nil
}

func newTestEngine(t *testing.T, src stubSource, cfg Config) (*Engine, *store.LibSQLStore) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "engine.db")
	st, err := store.NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	reg := registry.NewRegistry()
	require.NoError(t, registry.RegisterBuiltins(reg))

	v, err := validation.NewValidator()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, reg, src, v, logger, cfg), st
}

func linearWorkflow() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:   "linear",
		Name: "Linear",
		Steps: []schema.Step{
			{
				ID: "scan", Module: "system", Action: "echo",
				Inputs:    map[string]any{"count": 2, "project": "{{trigger.project}}"},
				OnSuccess: &schema.Routing{Next: "wrap-up"},
			},
			{
				ID: "wrap-up", Module: "system", Action: "echo",
				Inputs: map[string]any{"from": "{{steps.scan.outputs.project}}"},
			},
		},
	}
}

func submitAndRun(t *testing.T, e *Engine, workflowID string, params map[string]any, opts RunOptions) (*store.Execution, error) {
	t.Helper()
	ctx := context.Background()
	ex, err := e.Submit(ctx, workflowID, params, opts)
	require.NoError(t, err)
	return ex, e.Run(ctx, ex.ID)
}

func TestRun_AutoToCompletion(t *testing.T) {
	src := stubSource{"linear": linearWorkflow()}
	e, st := newTestEngine(t, src, Config{})
	ctx := context.Background()

	ex, err := submitAndRun(t, e, "linear", map[string]any{"project": "stepflow"}, RunOptions{})
	require.NoError(t, err)

	got, err := st.GetExecution(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusCompleted, got.Status)
	assert.Equal(t, schema.OutcomeCompleted, got.Outcome)
	assert.Equal(t, "", got.CurrentStep)
	require.NotNil(t, got.CompletedAt)
	assert.Contains(t, got.Summary, "# Execution Summary: "+ex.ID)

	steps, err := st.GetStepExecutions(ctx, ex.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "scan", steps[0].StepID)
	assert.Equal(t, schema.StepCompleted, steps[0].Status)
	// Template resolution flowed scan's outputs into wrap-up's inputs.
	assert.Contains(t, string(steps[1].Inputs), "stepflow")
}

func TestRun_NonPendingConflicts(t *testing.T) {
	src := stubSource{"linear": linearWorkflow()}
	e, _ := newTestEngine(t, src, Config{})
	ctx := context.Background()

	ex, err := submitAndRun(t, e, "linear", nil, RunOptions{})
	require.NoError(t, err)

	err = e.Run(ctx, ex.ID)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
}

func TestSubmit_UnknownWorkflow(t *testing.T) {
	e, _ := newTestEngine(t, stubSource{}, Config{})
	_, err := e.Submit(context.Background(), "ghost", nil, RunOptions{})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestSubmit_InvalidWorkflowRejected(t *testing.T) {
	src := stubSource{"bad": {
		Name: "Bad",
		Steps: []schema.Step{
			{ID: "a", Module: "system", Action: "echo", OnSuccess: &schema.Routing{Next: "ghost"}},
		},
	}}
	e, _ := newTestEngine(t, src, Config{})
	_, err := e.Submit(context.Background(), "bad", nil, RunOptions{})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestRun_ConditionalRouting(t *testing.T) {
	def := func(cond string) *schema.WorkflowDefinition {
		return &schema.WorkflowDefinition{
			ID:   "branching",
			Name: "Branching",
			Steps: []schema.Step{
				{
					ID: "scan", Module: "system", Action: "echo",
					Inputs:    map[string]any{"count": "{{trigger.count}}"},
					OnSuccess: &schema.Routing{Condition: cond, Then: "busy", Else: "idle"},
				},
				{ID: "busy", Module: "system", Action: "echo", Inputs: map[string]any{"branch": "busy"}},
				{ID: "idle", Module: "system", Action: "echo", Inputs: map[string]any{"branch": "idle"}},
			},
		}
	}

	tests := []struct {
		name     string
		cond     string
		count    any
		wantStep string
	}{
		{"condition true", "{{steps.scan.outputs.count}} > 0", 3, "busy"},
		{"condition false", "{{steps.scan.outputs.count}} > 0", 0, "idle"},
		{"malformed routes to else", "((", 3, "idle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := stubSource{"branching": def(tt.cond)}
			e, st := newTestEngine(t, src, Config{})
			ctx := context.Background()

			ex, err := submitAndRun(t, e, "branching", map[string]any{"count": tt.count}, RunOptions{})
			require.NoError(t, err)

			steps, err := st.GetStepExecutions(ctx, ex.ID)
			require.NoError(t, err)
			require.Len(t, steps, 2)
			assert.Equal(t, tt.wantStep, steps[1].StepID)
		})
	}
}

func TestRun_StepFailureWithoutRouteFailsExecution(t *testing.T) {
	src := stubSource{"fragile": {
		ID:   "fragile",
		Name: "Fragile",
		Steps: []schema.Step{
			{ID: "boom", Module: "system", Action: "fail", Inputs: map[string]any{"message": "broken build"}},
		},
	}}
	e, st := newTestEngine(t, src, Config{})
	ctx := context.Background()

	ex, err := submitAndRun(t, e, "fragile", nil, RunOptions{})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeStepFailed))

	got, err := st.GetExecution(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusFailed, got.Status)
	assert.Equal(t, schema.OutcomeFailed, got.Outcome)
	assert.Contains(t, got.Error, "broken build")
	assert.Equal(t, "boom", got.CurrentStep)
	require.NotNil(t, got.CompletedAt)
	assert.Contains(t, got.Summary, "broken build")
}

func TestRun_OnFailureRoute(t *testing.T) {
	src := stubSource{"resilient": {
		ID:   "resilient",
		Name: "Resilient",
		Steps: []schema.Step{
			{
				ID: "boom", Module: "system", Action: "fail",
				OnSuccess: &schema.Routing{Next: "never"},
				OnFailure: "recover",
			},
			{ID: "never", Module: "system", Action: "echo"},
			{ID: "recover", Module: "system", Action: "echo", Inputs: map[string]any{"recovered": true}},
		},
	}}
	e, st := newTestEngine(t, src, Config{})
	ctx := context.Background()

	ex, err := submitAndRun(t, e, "resilient", nil, RunOptions{})
	require.NoError(t, err)

	got, err := st.GetExecution(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusCompleted, got.Status)

	steps, err := st.GetStepExecutions(ctx, ex.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, schema.StepFailed, steps[0].Status)
	assert.Equal(t, "recover", steps[1].StepID)
}

func TestRun_StepLimit(t *testing.T) {
	src := stubSource{"spin": {
		ID:   "spin",
		Name: "Spin",
		Steps: []schema.Step{
			{ID: "loop", Module: "system", Action: "echo", OnSuccess: &schema.Routing{Next: "loop"}},
		},
	}}
	e, st := newTestEngine(t, src, Config{MaxStepInvocations: 5})
	ctx := context.Background()

	ex, err := submitAndRun(t, e, "spin", nil, RunOptions{})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeStepLimit))

	got, err := st.GetExecution(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "limit 5")

	n, err := st.CountStepExecutions(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func decisionWorkflow() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:   "gated",
		Name: "Gated",
		Steps: []schema.Step{
			{
				ID: "prepare", Module: "system", Action: "echo",
				Inputs:    map[string]any{"candidate": "v2.0.0"},
				OnSuccess: &schema.Routing{Next: "approve"},
			},
			{
				ID: "approve", Module: "system", Action: "decide",
				Inputs: map[string]any{"proposals": []any{"ship", "hold"}},
				OnSuccess: &schema.Routing{
					Condition: `{{steps.approve.outputs.decision}} == "ship"`,
					Then:      "ship",
					Else:      "hold",
				},
			},
			{ID: "ship", Module: "system", Action: "echo", Inputs: map[string]any{"shipped": true}},
			{ID: "hold", Module: "system", Action: "echo", Inputs: map[string]any{"held": true}},
		},
	}
}

func TestRun_DecisionSuspendAndResume(t *testing.T) {
	src := stubSource{"gated": decisionWorkflow()}
	e, st := newTestEngine(t, src, Config{})
	ctx := context.Background()

	ex, err := submitAndRun(t, e, "gated", nil, RunOptions{})
	require.NoError(t, err)

	got, err := st.GetExecution(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusWaiting, got.Status)
	assert.Equal(t, "approve", got.CurrentStep)

	// The decision step's row stays running until the choice lands.
	row, err := st.LatestStepExecution(ctx, ex.ID, "approve")
	require.NoError(t, err)
	assert.Equal(t, schema.StepRunning, row.Status)
	assert.Contains(t, string(row.Outputs), "proposals")

	decs, err := st.GetPendingDecisionsForExecution(ctx, ex.ID)
	require.NoError(t, err)
	require.Len(t, decs, 1)
	assert.Equal(t, schema.DecisionPending, decs[0].Status)
	assert.JSONEq(t, `["ship","hold"]`, string(decs[0].Proposals))

	require.NoError(t, e.Resume(ctx, ex.ID, Resolution{
		DecisionID: decs[0].ID, Choice: "ship", Notes: "go",
	}))

	got, err = st.GetExecution(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusCompleted, got.Status)

	steps, err := st.GetStepExecutions(ctx, ex.ID)
	require.NoError(t, err)
	// prepare, approve, ship: earlier steps never re-run.
	require.Len(t, steps, 3)
	assert.Equal(t, "ship", steps[2].StepID)

	row, err = st.LatestStepExecution(ctx, ex.ID, "approve")
	require.NoError(t, err)
	assert.Equal(t, schema.StepCompleted, row.Status)
	assert.Equal(t, 0, row.ReturnCode)
	assert.Contains(t, string(row.Outputs), `"decision":"ship"`)
	assert.Contains(t, string(row.Outputs), `"status":"resolved"`)
}

func TestRun_DecisionElseBranch(t *testing.T) {
	src := stubSource{"gated": decisionWorkflow()}
	e, st := newTestEngine(t, src, Config{})
	ctx := context.Background()

	ex, err := submitAndRun(t, e, "gated", nil, RunOptions{})
	require.NoError(t, err)

	decs, err := st.GetPendingDecisionsForExecution(ctx, ex.ID)
	require.NoError(t, err)
	require.Len(t, decs, 1)

	require.NoError(t, e.Resume(ctx, ex.ID, Resolution{DecisionID: decs[0].ID, Choice: "hold"}))

	steps, err := st.GetStepExecutions(ctx, ex.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "hold", steps[2].StepID)
}

func TestResume_DecisionAsFinalStep(t *testing.T) {
	src := stubSource{"signoff": {
		ID:   "signoff",
		Name: "Signoff",
		Steps: []schema.Step{
			{
				ID: "prepare", Module: "system", Action: "echo",
				OnSuccess: &schema.Routing{Next: "approve"},
			},
			{
				ID: "approve", Module: "system", Action: "decide",
				Inputs: map[string]any{"proposals": []any{"accept", "reject"}},
			},
		},
	}}
	e, st := newTestEngine(t, src, Config{})
	ctx := context.Background()

	ex, err := submitAndRun(t, e, "signoff", nil, RunOptions{})
	require.NoError(t, err)

	decs, err := st.GetPendingDecisionsForExecution(ctx, ex.ID)
	require.NoError(t, err)
	require.Len(t, decs, 1)

	// No successor after the decision step: resuming must finalize, not leave
	// the execution stranded in waiting.
	require.NoError(t, e.Resume(ctx, ex.ID, Resolution{DecisionID: decs[0].ID, Choice: "accept"}))

	got, err := st.GetExecution(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	row, err := st.LatestStepExecution(ctx, ex.ID, "approve")
	require.NoError(t, err)
	assert.Equal(t, schema.StepCompleted, row.Status)
	assert.Contains(t, string(row.Outputs), `"decision":"accept"`)
}

func TestResume_NotWaitingConflicts(t *testing.T) {
	src := stubSource{"linear": linearWorkflow()}
	e, _ := newTestEngine(t, src, Config{})
	ctx := context.Background()

	ex, err := submitAndRun(t, e, "linear", nil, RunOptions{})
	require.NoError(t, err)

	err = e.Resume(ctx, ex.ID, Resolution{DecisionID: "x", Choice: "ship"})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
}

func TestStepMode_AdvancesOneStepAtATime(t *testing.T) {
	src := stubSource{"linear": linearWorkflow()}
	e, st := newTestEngine(t, src, Config{})
	ctx := context.Background()

	ex, err := e.Submit(ctx, "linear", map[string]any{"project": "stepflow"}, RunOptions{Mode: schema.ModeStep})
	require.NoError(t, err)
	assert.Equal(t, schema.ModeStep, ex.Mode)

	// Run executes only the first step and pauses.
	require.NoError(t, e.Run(ctx, ex.ID))
	got, err := st.GetExecution(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusPaused, got.Status)
	assert.Equal(t, "scan", got.CurrentStep)

	n, err := st.CountStepExecutions(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	adv, err := e.RunNextStep(ctx, ex.ID)
	require.NoError(t, err)
	assert.False(t, adv.Done)
	assert.Equal(t, "wrap-up", adv.StepID)
	assert.Equal(t, schema.StepCompleted, adv.Status)

	got, err = st.GetExecution(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusPaused, got.Status)

	// No successor left: the next advance finalizes.
	adv, err = e.RunNextStep(ctx, ex.ID)
	require.NoError(t, err)
	assert.True(t, adv.Done)

	got, err = st.GetExecution(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusCompleted, got.Status)

	// Advancing a finished execution conflicts.
	_, err = e.RunNextStep(ctx, ex.ID)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
}

func TestStepMode_FailureFailsExecution(t *testing.T) {
	src := stubSource{"fragile": {
		ID:   "fragile",
		Name: "Fragile",
		Steps: []schema.Step{
			{ID: "boom", Module: "system", Action: "fail"},
		},
	}}
	e, st := newTestEngine(t, src, Config{})
	ctx := context.Background()

	ex, err := e.Submit(ctx, "fragile", nil, RunOptions{Mode: schema.ModeStep})
	require.NoError(t, err)
	require.NoError(t, e.Run(ctx, ex.ID))

	got, err := st.GetExecution(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusFailed, got.Status)
}

func TestStepMode_DecisionThenResumePauses(t *testing.T) {
	src := stubSource{"gated": decisionWorkflow()}
	e, st := newTestEngine(t, src, Config{})
	ctx := context.Background()

	ex, err := e.Submit(ctx, "gated", nil, RunOptions{Mode: schema.ModeStep})
	require.NoError(t, err)
	require.NoError(t, e.Run(ctx, ex.ID))

	adv, err := e.RunNextStep(ctx, ex.ID)
	require.NoError(t, err)
	assert.True(t, adv.Waiting)
	assert.Equal(t, "approve", adv.StepID)

	// Waiting executions cannot be advanced past the decision.
	_, err = e.RunNextStep(ctx, ex.ID)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	decs, err := st.GetPendingDecisionsForExecution(ctx, ex.ID)
	require.NoError(t, err)
	require.Len(t, decs, 1)

	// In step mode Resume pauses at the resolved step instead of running on.
	require.NoError(t, e.Resume(ctx, ex.ID, Resolution{DecisionID: decs[0].ID, Choice: "ship"}))
	got, err := st.GetExecution(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusPaused, got.Status)
	assert.Equal(t, "approve", got.CurrentStep)

	adv, err = e.RunNextStep(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, "ship", adv.StepID)
}

func TestRunNextStep_AutoModeConflicts(t *testing.T) {
	src := stubSource{"linear": linearWorkflow()}
	e, _ := newTestEngine(t, src, Config{})
	ctx := context.Background()

	ex, err := e.Submit(ctx, "linear", nil, RunOptions{})
	require.NoError(t, err)

	_, err = e.RunNextStep(ctx, ex.ID)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
}

func TestRun_LogsCarryCorrelationIDs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "engine.db")
	st, err := store.NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	reg := registry.NewRegistry()
	require.NoError(t, registry.RegisterBuiltins(reg))
	v, err := validation.NewValidator()
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(logging.NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))
	e := New(st, reg, stubSource{"linear": linearWorkflow()}, v, logger, Config{})

	ex, err := submitAndRun(t, e, "linear", map[string]any{"project": "stepflow"}, RunOptions{})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"workflow_id":"linear"`)
	assert.Contains(t, out, `"execution_id":"`+ex.ID+`"`)
	assert.Contains(t, out, `"step_id":"scan"`)
	assert.Contains(t, out, `"step_id":"wrap-up"`)
	assert.Contains(t, out, `"msg":"execution completed"`)
}

func TestRun_OutcomeFromOutputs(t *testing.T) {
	src := stubSource{"empty-scan": {
		ID:   "empty-scan",
		Name: "Empty Scan",
		Steps: []schema.Step{
			{ID: "scan", Module: "system", Action: "echo", Inputs: map[string]any{"count": 0}},
		},
	}}
	e, st := newTestEngine(t, src, Config{})
	ctx := context.Background()

	ex, err := submitAndRun(t, e, "empty-scan", nil, RunOptions{})
	require.NoError(t, err)

	got, err := st.GetExecution(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.OutcomeNoTasks, got.Outcome)
	// Built-in follow-up default for a no-tasks run.
	require.Len(t, got.FollowUps, 1)
	assert.Equal(t, "review-self", got.FollowUps[0].WorkflowID)
}

func TestRun_VersionTagOutcomeAndDeclaredFollowUp(t *testing.T) {
	src := stubSource{"versioned": {
		ID:   "versioned",
		Name: "Versioned",
		Steps: []schema.Step{
			{ID: "cut", Module: "system", Action: "echo", Inputs: map[string]any{"versionTag": "v3.1.0"}},
		},
		FollowUps: []schema.FollowUpRule{
			{WorkflowID: "publish", Name: "Publish", OnOutcome: schema.OutcomeList{schema.OutcomeVersionCreated}},
		},
	}}
	e, st := newTestEngine(t, src, Config{})
	ctx := context.Background()

	ex, err := submitAndRun(t, e, "versioned", nil, RunOptions{VersionTag: "v3.1.0"})
	require.NoError(t, err)

	got, err := st.GetExecution(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.OutcomeVersionCreated, got.Outcome)
	require.Len(t, got.FollowUps, 1)
	assert.Equal(t, "publish", got.FollowUps[0].WorkflowID)
	assert.Contains(t, got.Summary, "v3.1.0")
}
