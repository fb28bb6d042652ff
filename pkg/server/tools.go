package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/voxgate/pkg/dispatch"
)

type dispatchRequest struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

func (s *HTTPServer) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ToolName == "" {
		writeError(w, errBadRequest("tool_name is required"))
		return
	}

	res := s.dispatcher.Dispatch(r.Context(), chi.URLParam(r, "tenant"), req.ToolName, req.Parameters)
	writeResult(w, res)
}

func (s *HTTPServer) handleTestTool(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res := s.dispatcher.Test(r.Context(), chi.URLParam(r, "tenant"), chi.URLParam(r, "tool"), req.Parameters)
	writeResult(w, res)
}

// writeResult writes a dispatch result. Failed results carry the status of
// their error; degraded ones are still a success.
func writeResult(w http.ResponseWriter, res *dispatch.Result) {
	status := http.StatusOK
	if res.Status == dispatch.StatusError {
		status = statusFor(res.Err)
	}
	writeJSON(w, status, res)
}

func (s *HTTPServer) handleListTools(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant")
	tools, err := s.dispatcher.Tools(tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"tools":     tools,
		"count":     len(tools),
	})
}

func (s *HTTPServer) handleReload(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant")
	set, err := s.tenants.Reload(r.Context(), tenantID)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			err = errUnprocessable(err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"version":   set.Version,
		"tools":     set.Len(),
		"loaded_at": set.LoadedAt,
	})
}
