// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/voxgate"
	"github.com/kadirpekel/voxgate/pkg/config"
	"github.com/kadirpekel/voxgate/pkg/dispatch"
	"github.com/kadirpekel/voxgate/pkg/interaction"
	"github.com/kadirpekel/voxgate/pkg/job"
	"github.com/kadirpekel/voxgate/pkg/observability"
	"github.com/kadirpekel/voxgate/pkg/registry"
	"github.com/kadirpekel/voxgate/pkg/tenant"
)

// DefaultWebhookWorkers bounds concurrent dispatches of one webhook call.
const DefaultWebhookWorkers = 8

// HTTPServer is the voxgate HTTP server.
type HTTPServer struct {
	cfg    *config.ServerConfig
	server *http.Server

	dispatcher   *dispatch.Dispatcher
	registry     *registry.ServiceRegistry
	tenants      *tenant.Manager
	jobs         *job.Tracker
	interactions *interaction.Logger

	// Observability: tracing and metrics
	observability *observability.Manager

	backends Backends
	started  time.Time

	webhookWorkers int
	logger         *slog.Logger
}

// Backends names the storage behind each component, as shown by /status.
type Backends struct {
	Jobs         string `json:"jobs"`
	Interactions string `json:"interactions"`
	ServiceStore string `json:"service_store"`
	Database     string `json:"database,omitempty"`
}

// HTTPServerOption configures the HTTP server.
type HTTPServerOption func(*HTTPServer)

// WithTenantManager enables the tenant reload endpoint.
func WithTenantManager(m *tenant.Manager) HTTPServerOption {
	return func(s *HTTPServer) {
		s.tenants = m
	}
}

// WithJobTracker enables the job management endpoints.
func WithJobTracker(t *job.Tracker) HTTPServerOption {
	return func(s *HTTPServer) {
		s.jobs = t
	}
}

// WithInteractions enables the interaction query endpoints.
func WithInteractions(l *interaction.Logger) HTTPServerOption {
	return func(s *HTTPServer) {
		s.interactions = l
	}
}

// WithObservability sets the observability manager for tracing and metrics.
func WithObservability(obs *observability.Manager) HTTPServerOption {
	return func(s *HTTPServer) {
		s.observability = obs
	}
}

// WithBackends sets the backend names reported by /status.
func WithBackends(b Backends) HTTPServerOption {
	return func(s *HTTPServer) {
		s.backends = b
	}
}

func WithWebhookWorkers(n int) HTTPServerOption {
	return func(s *HTTPServer) {
		if n > 0 {
			s.webhookWorkers = n
		}
	}
}

func WithLogger(logger *slog.Logger) HTTPServerOption {
	return func(s *HTTPServer) {
		s.logger = logger
	}
}

// NewHTTPServer creates a server around the dispatch core.
func NewHTTPServer(cfg *config.ServerConfig, d *dispatch.Dispatcher, reg *registry.ServiceRegistry, opts ...HTTPServerOption) *HTTPServer {
	s := &HTTPServer{
		cfg:            cfg,
		dispatcher:     d,
		registry:       reg,
		webhookWorkers: DefaultWebhookWorkers,
		started:        time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Handler returns the routed handler with the middleware chain applied.
func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()

	// Order: observability -> recover -> logging -> cors -> routes
	if s.observability != nil {
		r.Use(observability.HTTPMiddleware(s.observability.Tracer(), s.observability.Metrics()))
	}
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	if s.observability != nil && s.observability.MetricsEndpoint() != "" {
		r.Handle(s.observability.MetricsEndpoint(), s.observability.Metrics().Handler())
	}

	r.Post("/webhook/{tenant}", s.handleWebhook)

	r.Route("/tenants/{tenant}", func(r chi.Router) {
		r.Post("/dispatch", s.handleDispatch)
		r.Get("/tools", s.handleListTools)
		r.Post("/tools/{tool}/test", s.handleTestTool)
		if s.tenants != nil {
			r.Post("/reload", s.handleReload)
		}

		r.Get("/services", s.handleListServices)
		r.Post("/services", s.handleRegisterService)
		r.Delete("/services/{service}", s.handleUnregisterService)
		r.Post("/services/{service}/test", s.handleTestService)
		r.Get("/deployment", s.handleDeployment)

		if s.interactions != nil {
			r.Get("/interactions", s.handleInteractions)
			r.Get("/interactions/summary", s.handleInteractionSummary)
		}
	})

	if s.jobs != nil {
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/search", s.handleSearchJobs)
		r.Get("/jobs/analytics", s.handleJobAnalytics)
		r.Get("/jobs/active", s.handleActiveJobs)
		r.Get("/jobs/export", s.handleExportJobs)
		r.Post("/jobs/cleanup", s.handleCleanupJobs)
		r.Delete("/jobs/{id}", s.handleDeleteJob)
		r.Get("/job-status/{id}", s.handleJobStatus)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, errNotFound("no route for %s %s", r.Method, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("HTTP server starting", "address", s.cfg.Address())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s.logger.Info("HTTP server shutting down")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}

// Address returns the HTTP server address.
func (s *HTTPServer) Address() string {
	return s.cfg.Address()
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": voxgate.Build().Version,
		"tenants": len(s.registry.Tenants()),
	})
}

type statusView struct {
	Version    string   `json:"version"`
	Uptime     float64  `json:"uptime_seconds"`
	Tenants    int      `json:"tenants"`
	Backends   Backends `json:"backends"`
	ActiveJobs *int     `json:"active_jobs,omitempty"`
	Dropped    *int64   `json:"dropped_interactions,omitempty"`
	JobsError  string   `json:"jobs_error,omitempty"`
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	v := statusView{
		Version:  voxgate.Build().Version,
		Uptime:   time.Since(s.started).Seconds(),
		Tenants:  len(s.registry.Tenants()),
		Backends: s.backends,
	}
	if s.jobs != nil {
		n, err := s.jobs.CountActive(r.Context())
		if err != nil {
			s.logger.Warn("Active job count failed", "error", err)
			v.JobsError = err.Error()
		} else {
			v.ActiveJobs = &n
		}
	}
	if s.interactions != nil {
		dropped := s.interactions.Dropped()
		v.Dropped = &dropped
	}
	writeJSON(w, http.StatusOK, v)
}

// corsMiddleware adds permissive CORS headers for the configuration editor.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs requests (don't wrap ResponseWriter).
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
