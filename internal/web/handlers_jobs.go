package web

import (
	"net/http"

	"github.com/JonMunkholm/roster/internal/core"
)

// jobView is a BulkJob with its progress percentage.
type jobView struct {
	core.BulkJob
	Percent int `json:"percent"`
}

func viewJob(j core.BulkJob) jobView {
	return jobView{BulkJob: j, Percent: j.Percent()}
}

// handleStartJob accepts a file for background import and answers 202 with
// the job id. Poll the Location header for progress.
func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	up, err := readUpload(w, r, s.cfg.Import.MaxFileSize)
	if err != nil {
		respondError(w, r, err)
		return
	}

	ticket, err := s.service.StartBulkJob(r.Context(), core.BulkRequest{
		FileName: up.FileName,
		Rows:     up.Rows,
		ActorID:  core.ActorFromContext(r.Context()),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/jobs/"+ticket.JobID.String())
	writeJSON(w, http.StatusAccepted, ticket)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuidParam(r, "jobID")
	if err != nil {
		respondError(w, r, err)
		return
	}
	job, err := s.service.JobStatus(r.Context(), jobID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewJob(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.service.ListJobs(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	views := make([]jobView, len(jobs))
	for i, j := range jobs {
		views[i] = viewJob(j)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":    views,
		"limiter": s.service.JobLimiterStatus(),
	})
}
