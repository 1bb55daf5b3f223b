package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/stepflow/pkg/schema"
)

// Execution is the durable record of a workflow run.
type Execution struct {
	ID          string                      `json:"id"`
	WorkflowID  string                      `json:"workflow_id"`
	VersionTag  string                      `json:"version_tag,omitempty"`
	Mode        schema.ExecutionMode        `json:"mode"`
	Status      schema.ExecutionStatus      `json:"status"`
	Params      map[string]any              `json:"params,omitempty"`
	CurrentStep string                      `json:"current_step,omitempty"`
	State       json.RawMessage             `json:"state,omitempty"`
	Outcome     schema.Outcome              `json:"outcome,omitempty"`
	FollowUps   []schema.FollowUpSuggestion `json:"follow_up_suggestions,omitempty"`
	Summary     string                      `json:"summary,omitempty"`
	Error       string                      `json:"error,omitempty"`
	StartedAt   time.Time                   `json:"started_at"`
	CompletedAt *time.Time                  `json:"completed_at,omitempty"`
}

// ExecutionUpdate is a partial update of an execution. Nil fields are left
// untouched.
type ExecutionUpdate struct {
	Status      *schema.ExecutionStatus
	CurrentStep *string
	State       json.RawMessage
	Outcome     *schema.Outcome
	FollowUps   []schema.FollowUpSuggestion
	Summary     *string
	Error       *string
	CompletedAt *time.Time
}

// StepExecution is one attempt at running a step. Rows are append-only; a
// step entered twice produces two rows.
type StepExecution struct {
	ID          string            `json:"id"`
	ExecutionID string            `json:"execution_id"`
	StepID      string            `json:"step_id"`
	Module      string            `json:"module"`
	Action      string            `json:"action"`
	Status      schema.StepStatus `json:"status"`
	Inputs      json.RawMessage   `json:"inputs,omitempty"`
	Outputs     json.RawMessage   `json:"outputs,omitempty"`
	Error       string            `json:"error,omitempty"`
	ReturnCode  int               `json:"return_code"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
}

// StepExecutionUpdate is a partial update of a step execution row.
type StepExecutionUpdate struct {
	Status      *schema.StepStatus
	Outputs     json.RawMessage
	Error       *string
	ReturnCode  *int
	CompletedAt *time.Time
	DurationMs  *int64
}

// PendingDecision is a human-in-the-loop decision point blocking an execution.
type PendingDecision struct {
	ID          string                `json:"id"`
	ExecutionID string                `json:"execution_id"`
	StepID      string                `json:"step_id"`
	Proposals   json.RawMessage       `json:"proposals,omitempty"`
	Status      schema.DecisionStatus `json:"status"`
	Choice      string                `json:"choice,omitempty"`
	Notes       string                `json:"notes,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	ResolvedAt  *time.Time            `json:"resolved_at,omitempty"`
}

// WorkflowRecord caches a loaded workflow definition so executions survive
// restarts without the source file.
type WorkflowRecord struct {
	ID         string                     `json:"id"`
	Name       string                     `json:"name"`
	Version    string                     `json:"version,omitempty"`
	Definition *schema.WorkflowDefinition `json:"definition"`
	UpdatedAt  time.Time                  `json:"updated_at"`
}

// ScheduledJob triggers a workflow run on a cron schedule.
type ScheduledJob struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflow_id"`
	CronExpression string         `json:"cron_expression"`
	Params         map[string]any `json:"params,omitempty"`
	Enabled        bool           `json:"enabled"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time     `json:"next_run_at,omitempty"`
	LastRunStatus  string         `json:"last_run_status,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ScheduledJobUpdate is a partial update of a scheduled job.
type ScheduledJobUpdate struct {
	CronExpression *string
	Params         map[string]any
	Enabled        *bool
	LastRunAt      *time.Time
	NextRunAt      *time.Time
	LastRunStatus  *string
}
