package schema

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// ExecutionMode controls how the engine advances through steps.
type ExecutionMode string

const (
	// ModeAuto runs steps back to back until the workflow finishes or suspends.
	ModeAuto ExecutionMode = "auto"
	// ModeStep pauses after every step until the caller advances explicitly.
	ModeStep ExecutionMode = "step"
)

// WorkflowDefinition is the declarative description of a workflow: an entry
// step followed by explicit routing between named steps.
type WorkflowDefinition struct {
	ID            string         `yaml:"id,omitempty" json:"id,omitempty"`
	Name          string         `yaml:"name" json:"name"`
	Version       string         `yaml:"version,omitempty" json:"version,omitempty"`
	Description   string         `yaml:"description,omitempty" json:"description,omitempty"`
	ExecutionMode ExecutionMode  `yaml:"executionMode,omitempty" json:"executionMode,omitempty"`
	Steps         []Step         `yaml:"steps" json:"steps"`
	FollowUps     []FollowUpRule `yaml:"followUpWorkflows,omitempty" json:"followUpWorkflows,omitempty"`
}

// FirstStep returns the entry step of the workflow, or nil for an empty one.
func (d *WorkflowDefinition) FirstStep() *Step {
	if len(d.Steps) == 0 {
		return nil
	}
	return &d.Steps[0]
}

// StepByID returns the step with the given ID, or nil.
func (d *WorkflowDefinition) StepByID(id string) *Step {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// Mode returns the definition's execution mode, defaulting to auto.
func (d *WorkflowDefinition) Mode() ExecutionMode {
	if d.ExecutionMode == ModeStep {
		return ModeStep
	}
	return ModeAuto
}

// Step is a single node of the workflow graph. Inputs may contain template
// references resolved against accumulated execution state at run time.
type Step struct {
	ID        string         `yaml:"id" json:"id"`
	Name      string         `yaml:"name,omitempty" json:"name,omitempty"`
	Module    string         `yaml:"module" json:"module"`
	Action    string         `yaml:"action" json:"action"`
	Inputs    map[string]any `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	OnSuccess *Routing       `yaml:"onSuccess,omitempty" json:"onSuccess,omitempty"`
	OnFailure string         `yaml:"onFailure,omitempty" json:"onFailure,omitempty"`
}

// Routing is a step's onSuccess target: either a literal next-step ID, or a
// conditional branch selecting between two targets. An empty target means the
// workflow finishes.
type Routing struct {
	Next      string
	Condition string
	Then      string
	Else      string
}

// IsConditional reports whether the routing carries a condition expression.
func (r *Routing) IsConditional() bool {
	return r != nil && r.Condition != ""
}

type routingBranch struct {
	Condition string `yaml:"condition" json:"condition"`
	Then      string `yaml:"then" json:"then"`
	Else      string `yaml:"else,omitempty" json:"else,omitempty"`
}

// UnmarshalYAML accepts either a scalar step ID or a condition/then/else map.
func (r *Routing) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&r.Next)
	}
	var b routingBranch
	if err := value.Decode(&b); err != nil {
		return err
	}
	r.Condition, r.Then, r.Else = b.Condition, b.Then, b.Else
	return nil
}

// MarshalJSON mirrors the YAML shape so stored definitions round-trip.
func (r Routing) MarshalJSON() ([]byte, error) {
	if r.Condition == "" {
		return json.Marshal(r.Next)
	}
	return json.Marshal(routingBranch{Condition: r.Condition, Then: r.Then, Else: r.Else})
}

func (r *Routing) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.Next)
	}
	var b routingBranch
	if err := json.Unmarshal(data, &b); err != nil {
		return err
	}
	r.Condition, r.Then, r.Else = b.Condition, b.Then, b.Else
	return nil
}

// FollowUpRule declares a follow-up workflow suggested when an execution
// finishes with one of the listed outcomes.
type FollowUpRule struct {
	WorkflowID  string      `yaml:"workflowId" json:"workflowId"`
	Name        string      `yaml:"name,omitempty" json:"name,omitempty"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Reason      string      `yaml:"reason,omitempty" json:"reason,omitempty"`
	OnOutcome   OutcomeList `yaml:"onOutcome" json:"onOutcome"`
}

// OutcomeList accepts a single outcome tag or a list of tags.
type OutcomeList []Outcome

func (l *OutcomeList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var single Outcome
		if err := value.Decode(&single); err != nil {
			return err
		}
		*l = OutcomeList{single}
		return nil
	}
	var many []Outcome
	if err := value.Decode(&many); err != nil {
		return err
	}
	*l = many
	return nil
}

func (l *OutcomeList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var single Outcome
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*l = OutcomeList{single}
		return nil
	}
	var many []Outcome
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// Contains reports whether the list includes the given outcome.
func (l OutcomeList) Contains(o Outcome) bool {
	for _, v := range l {
		if v == o {
			return true
		}
	}
	return false
}

// FollowUpSuggestion is a recommended next workflow attached to a finished
// execution.
type FollowUpSuggestion struct {
	WorkflowID  string `json:"workflowId"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Reason      string `json:"reason,omitempty"`
}
