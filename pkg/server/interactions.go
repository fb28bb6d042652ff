package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

const defaultInteractionLimit = 100

func (s *HTTPServer) handleInteractions(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", defaultInteractionLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	tenantID := chi.URLParam(r, "tenant")
	records, err := s.interactions.Recent(r.Context(), tenantID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":    tenantID,
		"interactions": records,
		"count":        len(records),
		"dropped":      s.interactions.Dropped(),
	})
}

func (s *HTTPServer) handleInteractionSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.interactions.Summary(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
