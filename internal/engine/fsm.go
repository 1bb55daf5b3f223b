package engine

import "github.com/rendis/stepflow/pkg/schema"

// validTransitions is the execution status machine. running to running covers
// step-to-step advancement inside a single auto run; waiting to paused covers
// decision resolution in step mode; paused to completed covers step-mode
// finalization when routing yields no successor.
var validTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.StatusPending: {schema.StatusRunning},
	schema.StatusRunning: {
		schema.StatusRunning,
		schema.StatusWaiting,
		schema.StatusPaused,
		schema.StatusCompleted,
		schema.StatusFailed,
	},
	schema.StatusWaiting: {schema.StatusRunning, schema.StatusPaused, schema.StatusFailed},
	schema.StatusPaused: {
		schema.StatusRunning,
		schema.StatusCompleted,
		schema.StatusFailed,
	},
	schema.StatusCompleted: {},
	schema.StatusFailed:    {},
}

// canTransition reports whether from → to is a legal status change.
func canTransition(from, to schema.ExecutionStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
