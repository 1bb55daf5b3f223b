package store

import "context"

// Store is the persistence boundary for executions, step history, pending
// decisions, cached workflow definitions and scheduled jobs. Implementations
// must be safe for concurrent use.
type Store interface {
	// Workflow definition cache.
	SaveWorkflow(ctx context.Context, rec *WorkflowRecord) error
	GetWorkflow(ctx context.Context, id string) (*WorkflowRecord, error)

	// Executions.
	CreateExecution(ctx context.Context, ex *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	ListExecutionsByWorkflow(ctx context.Context, workflowID string, limit int) ([]*Execution, error)

	// Step executions (append-only history).
	RecordStepExecution(ctx context.Context, rec *StepExecution) error
	UpdateStepExecution(ctx context.Context, id string, update StepExecutionUpdate) error
	GetStepExecutions(ctx context.Context, executionID string) ([]*StepExecution, error)
	CountStepExecutions(ctx context.Context, executionID string) (int, error)
	LatestStepExecution(ctx context.Context, executionID, stepID string) (*StepExecution, error)

	// Pending decisions.
	CreatePendingDecision(ctx context.Context, dec *PendingDecision) error
	GetPendingDecision(ctx context.Context, id string) (*PendingDecision, error)
	GetPendingDecisionsForExecution(ctx context.Context, executionID string) ([]*PendingDecision, error)
	// ResolvePendingDecision marks a decision resolved with the chosen option.
	// Only rows still pending are updated; a Conflict error is returned when
	// the decision was already resolved by a concurrent submit.
	ResolvePendingDecision(ctx context.Context, id, choice, notes string) error

	// Scheduled jobs.
	CreateScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, onlyEnabled bool) ([]*ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, id string) error

	Migrate(ctx context.Context) error
	Close() error
}
