package streaming

import "context"

// Event types emitted over the hub during workflow execution.
const (
	EventStepStarted       = "step.started"
	EventStepCompleted     = "step.completed"
	EventStepFailed        = "step.failed"
	EventDecisionRequested = "decision.requested"
	EventDecisionResolved  = "decision.resolved"
	EventExecutionDone     = "execution.completed"
	EventExecutionFailed   = "execution.failed"
)

// Event is a real-time notification emitted while an execution runs.
type Event struct {
	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	StepID      string `json:"step_id,omitempty"`
	Type        string `json:"type"`
	Payload     any    `json:"payload,omitempty"`
}

// Filter specifies which events a subscriber wants to receive. Zero-value
// fields match everything.
type Filter struct {
	ExecutionID string   `json:"execution_id,omitempty"`
	WorkflowID  string   `json:"workflow_id,omitempty"`
	Types       []string `json:"types,omitempty"`
}

// Matches reports whether an event passes the filter.
func (f Filter) Matches(e Event) bool {
	if f.ExecutionID != "" && f.ExecutionID != e.ExecutionID {
		return false
	}
	if f.WorkflowID != "" && f.WorkflowID != e.WorkflowID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}

// Hub provides pub/sub for real-time execution events.
type Hub interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error)
}
