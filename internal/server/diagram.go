package server

import (
	"encoding/json"
	"net/http"

	"github.com/rendis/stepflow/internal/diagram"
	"github.com/rendis/stepflow/pkg/schema"
)

// handleWorkflowDiagram renders the step graph of a workflow definition as a
// Mermaid flowchart.
func (s *Server) handleWorkflowDiagram(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	def, err := s.deps.Loader.ByID(id)
	if err != nil {
		writeSchemaError(w, err)
		return
	}
	writeMermaid(w, diagram.RenderMermaid(diagram.Build(def, nil)))
}

// handleExecutionDiagram renders the step graph of an execution with each
// executed step colored by its recorded status.
func (s *Server) handleExecutionDiagram(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ex, err := s.deps.Store.GetExecution(r.Context(), id)
	if err != nil {
		writeSchemaError(w, err)
		return
	}

	rec, err := s.deps.Store.GetWorkflow(r.Context(), ex.WorkflowID)
	if err != nil {
		writeSchemaError(w, err)
		return
	}
	if rec.Definition == nil {
		writeSchemaError(w, schema.NewErrorf(schema.ErrCodeNotFound,
			"no cached definition for workflow %q", ex.WorkflowID))
		return
	}

	var state *schema.ExecutionState
	if len(ex.State) > 0 {
		state = &schema.ExecutionState{}
		if err := json.Unmarshal(ex.State, state); err != nil {
			writeSchemaError(w, schema.NewErrorf(schema.ErrCodeExecution,
				"corrupt state for execution %q", id).WithCause(err))
			return
		}
	}

	writeMermaid(w, diagram.RenderMermaid(diagram.Build(rec.Definition, state)))
}

func writeMermaid(w http.ResponseWriter, rendered string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(rendered))
}
