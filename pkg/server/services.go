package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/voxgate/pkg/registry"
)

// maxServiceTimeout bounds registered timeouts, in seconds.
const maxServiceTimeout = 300

// serviceRequest is the registration body. Timeout is in seconds.
type serviceRequest struct {
	Name       string   `json:"service_name"`
	URL        string   `json:"service_url"`
	HealthPath string   `json:"health_path"`
	Timeout    *float64 `json:"timeout"`
	Required   *bool    `json:"required"`
}

type serviceView struct {
	Tenant     string                 `json:"tenant_id"`
	Name       string                 `json:"service_name"`
	URL        string                 `json:"service_url"`
	HealthPath string                 `json:"health_path"`
	Timeout    float64                `json:"timeout"`
	Required   bool                   `json:"required"`
	Source     registry.Source        `json:"source"`
	Health     *registry.HealthResult `json:"health,omitempty"`
}

func (s *HTTPServer) newServiceView(svc *registry.Service) serviceView {
	v := serviceView{
		Tenant:     svc.Tenant,
		Name:       svc.Name,
		URL:        svc.BaseURL,
		HealthPath: svc.HealthPath,
		Timeout:    svc.Timeout.Seconds(),
		Required:   svc.Required,
		Source:     svc.Source,
	}
	if h, ok := s.registry.LastHealth(svc.Tenant, svc.Name); ok {
		v.Health = &h
	}
	return v
}

func (s *HTTPServer) handleRegisterService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var timeout time.Duration
	if req.Timeout != nil {
		secs := *req.Timeout
		if secs <= 0 || secs > maxServiceTimeout {
			writeError(w, errBadRequest("timeout must be greater than 0 and at most %d seconds", maxServiceTimeout))
			return
		}
		timeout = time.Duration(secs * float64(time.Second))
	}

	svc := &registry.Service{
		Tenant:     chi.URLParam(r, "tenant"),
		Name:       req.Name,
		BaseURL:    req.URL,
		HealthPath: req.HealthPath,
		Timeout:    timeout,
		Required:   req.Required == nil || *req.Required,
	}
	svc.SetDefaults()
	if err := svc.Validate(); err != nil {
		writeError(w, errBadRequest("%v", err))
		return
	}

	registered, err := s.registry.Register(r.Context(), svc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.newServiceView(registered))
}

func (s *HTTPServer) handleListServices(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant")
	services := s.registry.Snapshot(tenantID).Services()

	views := make([]serviceView, 0, len(services))
	for _, svc := range services {
		views = append(views, s.newServiceView(svc))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"services":  views,
		"count":     len(views),
	})
}

func (s *HTTPServer) handleUnregisterService(w http.ResponseWriter, r *http.Request) {
	tenantID, name := chi.URLParam(r, "tenant"), chi.URLParam(r, "service")
	if err := s.registry.Unregister(r.Context(), tenantID, name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":    tenantID,
		"service_name": name,
		"deleted":      true,
	})
}

func (s *HTTPServer) handleTestService(w http.ResponseWriter, r *http.Request) {
	result := s.registry.HealthCheck(r.Context(), chi.URLParam(r, "tenant"), chi.URLParam(r, "service"))
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleDeployment(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.DeploymentInfo(chi.URLParam(r, "tenant")))
}
