package diagram

// NodeKind classifies a diagram node by the routing it carries.
type NodeKind string

const (
	NodeKindAction    NodeKind = "action"
	NodeKindCondition NodeKind = "condition"
)

// Model is the intermediate representation used by the renderers.
type Model struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node represents a single workflow step.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for a node when the diagram is built
// from a live execution.
type StatusOverlay struct {
	Status     string // from schema.StepStatus
	DurationMs int64
	Error      string
}

// Edge represents a routing transition between two steps.
type Edge struct {
	From  string
	To    string
	Label string
}
