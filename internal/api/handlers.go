package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/flarestack/flare-relay/internal/cache"
	"github.com/flarestack/flare-relay/internal/lifecycle"
	"github.com/flarestack/flare-relay/internal/models"
	"github.com/flarestack/flare-relay/internal/services"
	"github.com/flarestack/flare-relay/internal/store"
)

func (s *Server) handleIngestWebhook(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}
	ev, err := s.hub.IngestWebhook(r.Context(), payload)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusAccepted, ev)
}

func (s *Server) handleIngestPrometheus(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}
	ev, err := s.hub.IngestPrometheusAlert(r.Context(), payload)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusAccepted, ev)
}

func (s *Server) handleIngestCloudWatch(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}
	ev, err := s.hub.IngestCloudWatchAlarm(r.Context(), payload)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusAccepted, ev)
}

func (s *Server) handleIngestManual(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}
	ev, err := s.hub.IngestManualReport(r.Context(), payload)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusAccepted, ev)
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": s.hub.RecentEvents(limit)})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.hub.CachedEvent(r.Context(), r.PathValue("id"))
	if errors.Is(err, cache.ErrCacheMiss) {
		respondError(w, http.StatusNotFound, errors.New("event not found"))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, ev)
}

func (s *Server) handleRoutingStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.hub.RoutingStats())
}

func (s *Server) handleRoutingHistory(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"decisions": s.hub.RoutingHistory()})
}

type createIncidentRequest struct {
	IncidentID       string         `json:"incident_id"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	Severity         string         `json:"severity"`
	AffectedServices []string       `json:"affected_services"`
	Metadata         map[string]any `json:"metadata"`
}

func (s *Server) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	var req createIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}
	if req.Title == "" {
		respondError(w, http.StatusBadRequest, errors.New("title is required"))
		return
	}
	if req.Severity == "" {
		req.Severity = string(models.Sev2)
	}

	incident, err := s.hub.CreateIncident(services.CreateIncidentInput{
		IncidentID:       req.IncidentID,
		Title:            req.Title,
		Description:      req.Description,
		Severity:         req.Severity,
		AffectedServices: req.AffectedServices,
		Metadata:         req.Metadata,
	})
	if err != nil {
		s.respondIncidentError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, incident)
}

type transitionRequest struct {
	State    string         `json:"state"`
	Reason   string         `json:"reason"`
	Actor    string         `json:"actor"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}
	if req.Actor == "" {
		req.Actor = "api"
	}
	incident, err := s.hub.TransitionIncident(r.PathValue("id"), req.State, req.Reason, req.Actor, req.Metadata)
	if err != nil {
		s.respondIncidentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, incident)
}

func (s *Server) handleCompleteGate(w http.ResponseWriter, r *http.Request) {
	incident, err := s.hub.CompleteGate(r.PathValue("id"), r.PathValue("gate"))
	if err != nil {
		s.respondIncidentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, incident)
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := s.hub.GetIncident(r.PathValue("id"))
	if err != nil {
		s.respondIncidentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, incident)
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := s.hub.ListIncidents(r.URL.Query().Get("state"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if incidents == nil {
		incidents = []*models.Incident{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"incidents": incidents})
}

func (s *Server) handleArchivedIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := s.hub.ArchivedIncident(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondArchiveError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, incident)
}

func (s *Server) handleArchivedIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := s.hub.ArchivedIncidents(r.Context())
	if err != nil {
		s.respondArchiveError(w, err)
		return
	}
	if incidents == nil {
		incidents = []*models.Incident{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"incidents": incidents})
}

func (s *Server) respondArchiveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrNoArchive):
		respondError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, store.ErrNotArchived):
		respondError(w, http.StatusNotFound, err)
	default:
		respondError(w, http.StatusInternalServerError, err)
	}
}

// respondIncidentError maps lifecycle failures onto HTTP statuses: unknown
// ids are 404, rejected transitions 409, everything else a caller mistake.
func (s *Server) respondIncidentError(w http.ResponseWriter, err error) {
	var transitionErr *lifecycle.TransitionError
	switch {
	case errors.Is(err, lifecycle.ErrIncidentNotFound):
		respondError(w, http.StatusNotFound, err)
	case errors.As(err, &transitionErr):
		respondError(w, http.StatusConflict, err)
	case errors.Is(err, lifecycle.ErrIncidentExists):
		respondError(w, http.StatusConflict, err)
	default:
		respondError(w, http.StatusBadRequest, err)
	}
}

func decodePayload(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	defer r.Body.Close()
	var payload map[string]any
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return nil, false
	}
	return payload, true
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("write response", slog.Any("error", err))
	}
}

func respondError(w http.ResponseWriter, status int, err error) {
	msg := "request failed"
	if err != nil {
		msg = err.Error()
	}
	respondJSON(w, status, map[string]string{"error": msg})
}
