package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/stepflow/internal/scheduler"
	"github.com/rendis/stepflow/internal/store"
)

// scheduleRequest is the body of POST /api/schedules.
type scheduleRequest struct {
	WorkflowID string         `json:"workflowId"`
	Cron       string         `json:"cron"`
	Params     map[string]any `json:"params,omitempty"`
	Enabled    *bool          `json:"enabled,omitempty"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.WorkflowID == "" {
		writeError(w, http.StatusBadRequest, "workflowId is required")
		return
	}
	if _, err := s.deps.Loader.ByID(req.WorkflowID); err != nil {
		writeSchemaError(w, err)
		return
	}

	now := time.Now().UTC()
	next, err := scheduler.NextRun(req.Cron, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	job := &store.ScheduledJob{
		ID:             uuid.NewString(),
		WorkflowID:     req.WorkflowID,
		CronExpression: req.Cron,
		Params:         req.Params,
		Enabled:        enabled,
		NextRunAt:      &next,
		CreatedAt:      now,
	}
	if err := s.deps.Store.CreateScheduledJob(r.Context(), job); err != nil {
		writeSchemaError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.deps.Store.ListScheduledJobs(r.Context(), false)
	if err != nil {
		writeSchemaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": jobs})
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Store.GetScheduledJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeSchemaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteScheduledJob(r.Context(), r.PathValue("id")); err != nil {
		writeSchemaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}
