package schema

// ExecutionStatus is the lifecycle state of an execution.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusWaiting   ExecutionStatus = "waiting"
	StatusPaused    ExecutionStatus = "paused"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Suspended reports whether the execution is stopped but resumable.
func (s ExecutionStatus) Suspended() bool {
	return s == StatusWaiting || s == StatusPaused
}

// StepStatus is the state of a single step execution attempt.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Outcome classifies what a finished execution accomplished.
type Outcome string

const (
	OutcomeNoTasks        Outcome = "no-tasks"
	OutcomeAllComplete    Outcome = "all-complete"
	OutcomeVersionCreated Outcome = "version-created"
	OutcomeFailed         Outcome = "failed"
	OutcomeCompleted      Outcome = "completed"
	OutcomeUnknown        Outcome = "unknown"
)

// DecisionStatus is the lifecycle state of a pending decision.
type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "pending"
	DecisionResolved DecisionStatus = "resolved"
)
