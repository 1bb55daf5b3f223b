package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rendis/stepflow/internal/streaming"
)

// handleEvents streams all execution events as Server-Sent Events. The
// stream can be narrowed with the executionId, workflowId and types query
// parameters; types takes a comma-separated list.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := streaming.Filter{
		ExecutionID: q.Get("executionId"),
		WorkflowID:  q.Get("workflowId"),
	}
	if types := q.Get("types"); types != "" {
		filter.Types = strings.Split(types, ",")
	}
	s.serveSSE(w, r, filter)
}

// handleExecutionEvents streams events for a single execution.
func (s *Server) handleExecutionEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.deps.Store.GetExecution(r.Context(), id); err != nil {
		writeSchemaError(w, err)
		return
	}
	s.serveSSE(w, r, streaming.Filter{ExecutionID: id})
}

func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, filter streaming.Filter) {
	if s.deps.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "event streaming is not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel, err := s.deps.Events.Subscribe(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
