package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/pkg/schema"
)

// runRequest is the body of POST /api/workflows/{id}/run.
type runRequest struct {
	Params        map[string]any       `json:"params"`
	ExecutionMode schema.ExecutionMode `json:"executionMode,omitempty"`
	VersionTag    string               `json:"versionTag,omitempty"`
}

// decisionRequest is the body of POST /api/decisions/{id}.
type decisionRequest struct {
	Choice string `json:"choice"`
	Notes  string `json:"notes,omitempty"`
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	infos, err := s.deps.Loader.List()
	if err != nil {
		writeSchemaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": infos})
}

func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")

	var req runRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ExecutionMode != "" && req.ExecutionMode != schema.ModeAuto && req.ExecutionMode != schema.ModeStep {
		writeError(w, http.StatusBadRequest, "executionMode must be \"auto\" or \"step\"")
		return
	}

	ex, err := s.deps.Engine.Submit(r.Context(), workflowID, req.Params, engine.RunOptions{
		Mode:       req.ExecutionMode,
		VersionTag: req.VersionTag,
	})
	if err != nil {
		writeSchemaError(w, err)
		return
	}

	if ex.Mode == schema.ModeStep {
		// Step mode runs the first step before responding so the caller sees
		// the paused cursor.
		if err := s.deps.Engine.Run(r.Context(), ex.ID); err != nil && !schema.IsCode(err, schema.ErrCodeStepFailed) {
			writeSchemaError(w, err)
			return
		}
		fresh, err := s.deps.Store.GetExecution(r.Context(), ex.ID)
		if err != nil {
			writeSchemaError(w, err)
			return
		}
		ex = fresh
	} else {
		// Auto mode runs detached; the response only acknowledges submission.
		go func(id string) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
			defer cancel()
			if err := s.deps.Engine.Run(ctx, id); err != nil {
				s.deps.Logger.Warn("detached run finished with error", "execution_id", id, "error", err.Error())
			}
		}(ex.ID)
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"executionId": ex.ID,
		"status":      ex.Status,
		"mode":        ex.Mode,
	})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	workflowID := r.URL.Query().Get("workflowId")
	if workflowID == "" {
		writeError(w, http.StatusBadRequest, "workflowId query parameter is required")
		return
	}
	executions, err := s.deps.Store.ListExecutionsByWorkflow(r.Context(), workflowID, 100)
	if err != nil {
		writeSchemaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": executions})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ex, err := s.deps.Store.GetExecution(r.Context(), id)
	if err != nil {
		writeSchemaError(w, err)
		return
	}
	steps, err := s.deps.Store.GetStepExecutions(r.Context(), id)
	if err != nil {
		writeSchemaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"execution": ex,
		"steps":     steps,
	})
}

func (s *Server) handleExecutionDecisions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.deps.Store.GetExecution(r.Context(), id); err != nil {
		writeSchemaError(w, err)
		return
	}
	decisions, err := s.deps.Decisions.ForExecution(r.Context(), id)
	if err != nil {
		writeSchemaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions})
}

func (s *Server) handleNextStep(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	advance, err := s.deps.Engine.RunNextStep(r.Context(), id)
	if err != nil {
		writeSchemaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, advance)
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	dec, err := s.deps.Decisions.Get(r.Context(), id)
	if err != nil {
		writeSchemaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

func (s *Server) handleSubmitDecision(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req decisionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Choice == "" {
		writeError(w, http.StatusBadRequest, "choice is required")
		return
	}

	dec, err := s.deps.Decisions.Resolve(r.Context(), id, req.Choice, req.Notes)
	if err != nil {
		writeSchemaError(w, err)
		return
	}

	// Resume runs detached; a long tail of auto steps should not block the
	// submitting client.
	go func(executionID, decisionID, choice, notes string) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		if err := s.deps.Engine.Resume(ctx, executionID, engine.Resolution{
			DecisionID: decisionID,
			Choice:     choice,
			Notes:      notes,
		}); err != nil {
			s.deps.Logger.Warn("resume after decision finished with error",
				"execution_id", executionID, "decision_id", decisionID, "error", err.Error())
		}
	}(dec.ExecutionID, dec.ID, req.Choice, req.Notes)

	writeJSON(w, http.StatusOK, map[string]any{
		"decisionId":  dec.ID,
		"executionId": dec.ExecutionID,
		"status":      dec.Status,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid JSON body: %s", err.Error())
	}
	return nil
}
