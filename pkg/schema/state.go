package schema

// StepRuntimeState is the recorded result of a step inside the serialized
// execution state. Only the most recent invocation of a step is kept here;
// the full history lives in the step_executions table.
type StepRuntimeState struct {
	Status     StepStatus     `json:"status"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Error      string         `json:"error,omitempty"`
	ReturnCode int            `json:"returnCode"`
	DurationMs int64          `json:"durationMs,omitempty"`
}

// ExecutionState is the accumulated state of a running execution, serialized
// as JSON into the executions table. Order tracks first-invocation order of
// steps so "last step" is well defined when steps re-enter.
type ExecutionState struct {
	Trigger    map[string]any               `json:"trigger,omitempty"`
	VersionTag string                       `json:"versionTag,omitempty"`
	Steps      map[string]*StepRuntimeState `json:"steps"`
	Order      []string                     `json:"order,omitempty"`
	Cursor     string                       `json:"cursor,omitempty"`
}

// NewExecutionState builds an empty state seeded with trigger parameters.
func NewExecutionState(trigger map[string]any, versionTag string) *ExecutionState {
	return &ExecutionState{
		Trigger:    trigger,
		VersionTag: versionTag,
		Steps:      make(map[string]*StepRuntimeState),
	}
}

// Record stores a step result. A step re-entered later keeps its original
// position in Order; its runtime state is replaced.
func (s *ExecutionState) Record(stepID string, st *StepRuntimeState) {
	if s.Steps == nil {
		s.Steps = make(map[string]*StepRuntimeState)
	}
	if _, seen := s.Steps[stepID]; !seen {
		s.Order = append(s.Order, stepID)
	}
	s.Steps[stepID] = st
}

// LastStepID returns the most recently first-invoked step, or "".
func (s *ExecutionState) LastStepID() string {
	if len(s.Order) == 0 {
		return ""
	}
	return s.Order[len(s.Order)-1]
}
