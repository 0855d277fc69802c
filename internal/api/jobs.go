// ABOUTME: HTTP handlers for job enqueue and the read-side ops endpoints.
// ABOUTME: Field validation happens here; queue semantics live in internal/queue.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nickskupien/sunset-sunrise-predictor/internal/queue"
)

// enqueueBody is the JSON request body for POST /jobs. RunAfterMS is a
// non-negative delay in milliseconds from now.
type enqueueBody struct {
	Type        string          `json:"type"`
	Key         string          `json:"key"`
	Payload     json.RawMessage `json:"payload"`
	RunAfterMS  *int64          `json:"run_after_ms"`
	MaxAttempts *int            `json:"max_attempts"`
}

// enqueueHandler handles POST /jobs. 201 with the resulting job row; repeat
// calls for the same (type, key) coalesce in the engine.
func (srv *Server) enqueueHandler(w http.ResponseWriter, r *http.Request) {
	var body enqueueBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if body.Type == "" || body.Key == "" {
		writeError(w, http.StatusBadRequest, "invalid_input")
		return
	}
	if body.RunAfterMS != nil && *body.RunAfterMS < 0 {
		writeError(w, http.StatusBadRequest, "invalid_input")
		return
	}
	if body.MaxAttempts != nil && (*body.MaxAttempts < 1 || *body.MaxAttempts > 50) {
		writeError(w, http.StatusBadRequest, "invalid_input")
		return
	}

	params := queue.EnqueueParams{
		Type:    body.Type,
		Key:     body.Key,
		Payload: body.Payload,
	}
	if body.RunAfterMS != nil {
		params.RunAfter = time.Now().Add(time.Duration(*body.RunAfterMS) * time.Millisecond)
	}
	if body.MaxAttempts != nil {
		params.MaxAttempts = *body.MaxAttempts
	}

	job, err := srv.queue.Enqueue(r.Context(), params)
	if err != nil {
		srv.writeQueueError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "job": job})
}

// listJobsHandler handles GET /jobs?status=&limit=.
func (srv *Server) listJobsHandler(w http.ResponseWriter, r *http.Request) {
	var status *queue.Status
	if s := r.URL.Query().Get("status"); s != "" {
		st := queue.Status(s)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_input")
			return
		}
		status = &st
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	jobs, err := srv.queue.ListJobs(r.Context(), status, limit)
	if err != nil {
		srv.writeQueueError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "jobs": jobs})
}

// getJobHandler handles GET /jobs/{id}.
func (srv *Server) getJobHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	job, err := srv.queue.GetJob(r.Context(), id)
	if err != nil {
		srv.writeQueueError(w, r, err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job": job})
}

// listRunsHandler handles GET /jobs/{id}/runs?limit=.
func (srv *Server) listRunsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	runs, err := srv.queue.ListRuns(r.Context(), id, limit)
	if err != nil {
		srv.writeQueueError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "runs": runs})
}

// parseJobID reads the {id} path param as a positive integer, answering 400
// on anything else.
func parseJobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return 0, false
	}
	return id, true
}

// parseLimit reads the limit query param. Absent means 0 — the engine applies
// its default; range clamping is also the engine's concern.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input")
		return 0, false
	}
	return limit, true
}

// writeQueueError maps engine errors onto the response envelope without
// leaking internals.
func (srv *Server) writeQueueError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, queue.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input")
	case errors.Is(err, queue.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, queue.ErrTransient):
		writeError(w, http.StatusServiceUnavailable, "unavailable")
	default:
		slog.ErrorContext(r.Context(), "queue operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal")
	}
}
