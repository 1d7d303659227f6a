// Package gateway serves the browser-facing API: workflow proxying, import
// tracking, health and metrics.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/flowgate/internal/core/config"
	"github.com/vietddude/flowgate/internal/core/trace"
	"github.com/vietddude/flowgate/internal/infra/storage"
	"github.com/vietddude/flowgate/internal/infra/webhook"
)

// Forwarder calls the workflow engine.
type Forwarder interface {
	Call(ctx context.Context, req webhook.Request, policy webhook.Policy) (*webhook.Response, error)
}

// Server provides the gateway HTTP endpoints.
type Server struct {
	forwarder Forwarder
	imports   storage.ImportRepository
	webhook   config.WebhookConfig
	lifecycle Lifecycle
	log       *slog.Logger
	mux       *http.ServeMux
	server    *http.Server
}

// NewServer creates a new gateway server. A nil log uses slog.Default().
func NewServer(
	port int,
	webhookCfg config.WebhookConfig,
	forwarder Forwarder,
	imports storage.ImportRepository,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{
		forwarder: forwarder,
		imports:   imports,
		webhook:   webhookCfg,
		log:       log,
		mux:       mux,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.Handle("POST /api/workflows/{operation}", s.instrument("workflow", s.handleWorkflow))
	mux.Handle("POST /api/imports", s.instrument("import_create", s.handleCreateImport))
	mux.Handle("GET /api/imports/{id}", s.instrument("import_get", s.handleGetImport))
	mux.Handle("POST /api/imports/{id}/retry", s.instrument("import_retry", s.handleRetryImport))
	mux.Handle("GET /health", s.instrument("health", s.handleHealth))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// policyFor builds the retry policy for an operation from configuration.
func (s *Server) policyFor(operation string) webhook.Policy {
	p := webhook.DefaultPolicy()
	if s.webhook.MaxRetries != nil {
		p.MaxRetries = *s.webhook.MaxRetries
	}
	if s.webhook.BaseDelay > 0 {
		p.BaseDelay = s.webhook.BaseDelay
	}
	if s.webhook.MaxDelay > 0 {
		p.MaxDelay = s.webhook.MaxDelay
	}
	if s.webhook.Timeout > 0 {
		p.PerAttemptTimeout = s.webhook.Timeout
	}
	if s.webhook.IsLongRunning(operation) {
		p.PerAttemptTimeout = webhook.LongRunningPolicy().PerAttemptTimeout
		if s.webhook.LongRunningTimeout > 0 {
			p.PerAttemptTimeout = s.webhook.LongRunningTimeout
		}
	}
	return p
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rc, _ := trace.FromContext(r.Context())
	if err := s.imports.Ping(r.Context()); err != nil {
		s.lifecycle.Error(r.Context(), rc, err, http.StatusServiceUnavailable)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "critical"})
		return
	}
	status := "healthy"
	if !s.webhookConfigured() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) webhookConfigured() bool {
	type configured interface{ Configured() bool }
	if c, ok := s.forwarder.(configured); ok {
		return c.Configured()
	}
	return s.webhook.BaseURL != ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, rc *trace.RequestContext, status int, msg string) {
	body := map[string]any{"error": msg}
	if rc != nil {
		body["correlationId"] = rc.CorrelationID
	}
	writeJSON(w, status, body)
}
