package api

import (
	"net/http"
	"strings"

	"github.com/sells-group/fundscout/internal/model"
)

// jobLimit caps job listings.
const jobLimit = 100

type createJobRequest struct {
	UserID      string `json:"user_id"`
	WebhookURL  string `json:"webhook_url"`
	AutoAnalyze bool   `json:"auto_analyze"`
	// Execute launches the job right after creating it.
	Execute bool `json:"execute"`
}

type jobAccepted struct {
	ID     string          `json:"id"`
	Status model.JobStatus `json:"status"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.WebhookURL != "" && !strings.HasPrefix(req.WebhookURL, "http://") && !strings.HasPrefix(req.WebhookURL, "https://") {
		writeError(w, http.StatusBadRequest, "webhook_url must be an http(s) URL")
		return
	}

	job, err := s.jobs.Create(r.Context(), req.UserID, req.WebhookURL, req.AutoAnalyze)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if req.Execute {
		if err := s.jobs.Launch(r.Context(), job.ID); err != nil {
			writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, jobAccepted{ID: job.ID, Status: model.JobStatusRunning})
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), param(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) executeJob(w http.ResponseWriter, r *http.Request) {
	id := param(r, "id")
	if err := s.jobs.Launch(r.Context(), id); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobAccepted{ID: id, Status: model.JobStatusRunning})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := param(r, "id")
	if err := s.jobs.Cancel(r.Context(), id); err != nil {
		writeFailure(w, r, err)
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
