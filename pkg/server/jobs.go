package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/voxgate/pkg/job"
)

const (
	defaultJobPageSize  = 50
	maxJobPageSize      = 1000
	defaultCleanupDays  = 30
	defaultExportFormat = job.FormatJSON
)

// jobFilter reads the shared filter query parameters.
func jobFilter(r *http.Request) (job.Filter, error) {
	q := r.URL.Query()
	f := job.Filter{
		TenantID:    q.Get("tenant_id"),
		RequestType: q.Get("request_type"),
		Query:       q.Get("query"),
	}
	if raw := q.Get("status"); raw != "" {
		status, err := job.ParseStatus(raw)
		if err != nil {
			return f, errBadRequest("%v", err)
		}
		f.Status = status
	}

	var err error
	if f.Limit, err = intQuery(r, "limit", defaultJobPageSize); err != nil {
		return f, err
	}
	if f.Limit > maxJobPageSize {
		f.Limit = maxJobPageSize
	}
	if f.Offset, err = intQuery(r, "offset", 0); err != nil {
		return f, err
	}
	return f, nil
}

func (s *HTTPServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	f, err := jobFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := s.jobs.Search(r.Context(), job.Filter{TenantID: f.TenantID, Limit: f.Limit, Offset: f.Offset})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *HTTPServer) handleSearchJobs(w http.ResponseWriter, r *http.Request) {
	f, err := jobFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := s.jobs.Search(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *HTTPServer) handleJobAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := s.jobs.Analytics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *HTTPServer) handleActiveJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.Active(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *HTTPServer) handleExportJobs(w http.ResponseWriter, r *http.Request) {
	format := defaultExportFormat
	if raw := r.URL.Query().Get("format"); raw != "" {
		parsed, err := job.ParseFormat(raw)
		if err != nil {
			writeError(w, errBadRequest("%v", err))
			return
		}
		format = parsed
	}
	f, err := jobFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="jobs-%s.%s"`, time.Now().UTC().Format("20060102-150405"), format))
	if err := s.jobs.Export(r.Context(), w, format, f); err != nil {
		s.logger.Error("Job export failed", "format", format, "error", err)
	}
}

func (s *HTTPServer) handleCleanupJobs(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "days_old", defaultCleanupDays)
	if err != nil {
		writeError(w, err)
		return
	}
	n, err := s.jobs.Cleanup(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n, "days_old": days})
}

func (s *HTTPServer) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *HTTPServer) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.jobs.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "deleted": true})
}
