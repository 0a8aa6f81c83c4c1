package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/flarestack/flare-relay/internal/config"
	"github.com/flarestack/flare-relay/internal/services"
)

// Server exposes the relay's HTTP API: event ingestion, routing statistics
// and incident lifecycle operations, all speaking the canonical encodings.
type Server struct {
	cfg    config.ServerConfig
	logger *slog.Logger
	hub    *services.Hub
	http   *http.Server
}

// NewServer constructs the HTTP API server. When secret is non-empty, all
// /api/v1 routes require a bearer token signed with it.
func NewServer(cfg config.ServerConfig, hub *services.Hub, logger *slog.Logger, secret string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger, hub: hub}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/events/webhook", s.handleIngestWebhook)
	api.HandleFunc("POST /api/v1/events/prometheus", s.handleIngestPrometheus)
	api.HandleFunc("POST /api/v1/events/cloudwatch", s.handleIngestCloudWatch)
	api.HandleFunc("POST /api/v1/events/manual", s.handleIngestManual)
	api.HandleFunc("GET /api/v1/events/recent", s.handleRecentEvents)
	api.HandleFunc("GET /api/v1/events/{id}", s.handleGetEvent)
	api.HandleFunc("GET /api/v1/routing/stats", s.handleRoutingStats)
	api.HandleFunc("GET /api/v1/routing/history", s.handleRoutingHistory)
	api.HandleFunc("POST /api/v1/incidents", s.handleCreateIncident)
	api.HandleFunc("GET /api/v1/incidents", s.handleListIncidents)
	api.HandleFunc("GET /api/v1/incidents/archive", s.handleArchivedIncidents)
	api.HandleFunc("GET /api/v1/incidents/{id}", s.handleGetIncident)
	api.HandleFunc("GET /api/v1/incidents/{id}/archive", s.handleArchivedIncident)
	api.HandleFunc("POST /api/v1/incidents/{id}/transition", s.handleTransition)
	api.HandleFunc("POST /api/v1/incidents/{id}/gates/{gate}", s.handleCompleteGate)

	var apiHandler http.Handler = api
	if secret != "" {
		apiHandler = BearerAuth(secret)(api)
	}
	mux.Handle("/api/v1/", apiHandler)

	s.http = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves requests until Shutdown is invoked.
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the configured handler for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"ingest_p95_ms": float64(s.hub.IngestP95()) / float64(time.Millisecond),
	})
}
