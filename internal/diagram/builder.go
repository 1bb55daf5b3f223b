package diagram

import "github.com/rendis/stepflow/pkg/schema"

// Build converts a workflow definition into a diagram model. Edges follow the
// declared routing: a plain onSuccess target, the then/else pair of a
// conditional, and the onFailure route. state may be nil; when present, each
// recorded step gets a status overlay.
func Build(def *schema.WorkflowDefinition, state *schema.ExecutionState) *Model {
	model := &Model{Title: def.Name}

	for i := range def.Steps {
		step := &def.Steps[i]

		kind := NodeKindAction
		if step.OnSuccess.IsConditional() {
			kind = NodeKindCondition
		}
		label := step.Name
		if label == "" {
			label = step.ID
		}

		node := &Node{ID: step.ID, Label: label, Kind: kind}
		if state != nil {
			if st := state.Steps[step.ID]; st != nil {
				node.Status = &StatusOverlay{
					Status:     string(st.Status),
					DurationMs: st.DurationMs,
					Error:      st.Error,
				}
			}
		}
		model.Nodes = append(model.Nodes, node)

		if r := step.OnSuccess; r != nil {
			if r.IsConditional() {
				if r.Then != "" {
					model.Edges = append(model.Edges, Edge{From: step.ID, To: r.Then, Label: "yes"})
				}
				if r.Else != "" {
					model.Edges = append(model.Edges, Edge{From: step.ID, To: r.Else, Label: "no"})
				}
			} else if r.Next != "" {
				model.Edges = append(model.Edges, Edge{From: step.ID, To: r.Next})
			}
		}
		if step.OnFailure != "" {
			model.Edges = append(model.Edges, Edge{From: step.ID, To: step.OnFailure, Label: "on failure"})
		}
	}

	return model
}
