// Package api is the thin HTTP surface the host mounts over the scheduler.
// It holds no job state and enforces no invariants of its own.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"transcription-scheduler/internal/models"
	"transcription-scheduler/internal/scheduler"
	"transcription-scheduler/internal/telemetry"
)

// Server wires HTTP handlers over a scheduler instance.
type Server struct {
	sched *scheduler.Scheduler
}

// New constructs the API server.
func New(sched *scheduler.Scheduler) *Server {
	return &Server{sched: sched}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleSubmit)
	r.Get("/jobs/{id}", s.handleStatus)
	r.Get("/jobs/{id}/result", s.handleResult)
	r.Post("/jobs/{id}/cancel", s.handleCancel)
	r.Get("/jobs/{id}/events", s.handleEvents)
	return r
}

type submitRequest struct {
	Input    models.Input   `json:"input"`
	Options  models.Options `json:"options"`
	Priority string         `json:"priority"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	id, err := s.sched.Submit(r.Context(), req.Input, req.Options, req.Priority)
	if err != nil {
		var jerr *models.JobError
		if errors.As(err, &jerr) && jerr.Kind == models.KindInvalidInput {
			http.Error(w, jerr.Message, http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.sched.Status(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := s.sched.Result(id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, scheduler.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, scheduler.ErrNotReady):
		w.Header().Set("Retry-After", "2")
		http.Error(w, err.Error(), http.StatusAccepted)
	case errors.Is(err, scheduler.ErrCancelled):
		http.Error(w, err.Error(), http.StatusGone)
	default:
		var jerr *models.JobError
		if errors.As(err, &jerr) {
			writeJSON(w, http.StatusUnprocessableEntity, jerr)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cancelled, err := s.sched.Cancel(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// handleEvents streams status snapshots as server-sent events until the job
// reaches a terminal state or the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, err := s.sched.Subscribe(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case <-r.Context().Done():
			return
		case job, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(job)
			if err != nil {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"stats":  s.sched.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
