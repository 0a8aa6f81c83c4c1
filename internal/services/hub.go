package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flarestack/flare-relay/internal/cache"
	"github.com/flarestack/flare-relay/internal/ingest"
	"github.com/flarestack/flare-relay/internal/lifecycle"
	"github.com/flarestack/flare-relay/internal/metrics"
	"github.com/flarestack/flare-relay/internal/models"
	"github.com/flarestack/flare-relay/internal/routing"
	"github.com/flarestack/flare-relay/internal/store"
	"github.com/flarestack/flare-relay/internal/utils"
)

// Hub ties the normalizer, router and lifecycle machine together: every
// ingested event is cached (claiming its deterministic ID for duplicate
// detection) and then routed; every lifecycle state entry snapshots the
// incident to the cache and archive.
type Hub struct {
	logger      *slog.Logger
	ingester    *ingest.Ingester
	router      *routing.Router
	machine     *lifecycle.Machine
	cache       cache.Provider
	archive     store.Archive
	latencies   *utils.LatencyTracker
	eventTTL    time.Duration
	incidentTTL time.Duration
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithCache plugs in a snapshot/dedup cache with per-keyspace TTLs.
func WithCache(provider cache.Provider, eventTTL, incidentTTL time.Duration) HubOption {
	return func(h *Hub) {
		h.cache = provider
		h.eventTTL = eventTTL
		h.incidentTTL = incidentTTL
	}
}

// WithArchive plugs in durable incident snapshot storage.
func WithArchive(archive store.Archive) HubOption {
	return func(h *Hub) { h.archive = archive }
}

// NewHub wires the pipeline: the ingester's handler chain persists and then
// routes each event, and the machine's state callbacks persist incidents.
func NewHub(logger *slog.Logger, ingester *ingest.Ingester, router *routing.Router, machine *lifecycle.Machine, opts ...HubOption) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		logger:    logger,
		ingester:  ingester,
		router:    router,
		machine:   machine,
		cache:     cache.NoopProvider{},
		latencies: utils.NewLatencyTracker(1024),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.ingester.RegisterHandler(h.persistEvent)
	h.ingester.RegisterHandler(h.routeEvent)

	for _, state := range []models.IncidentState{
		models.StateDetecting, models.StateTriaging, models.StateResponding,
		models.StateRecovering, models.StateResolved, models.StatePostMortem,
		models.StateClosed,
	} {
		h.machine.RegisterCallback(state, h.persistIncident)
	}

	return h
}

// persistEvent claims the event ID and caches the canonical encoding. A
// failed claim means an identical payload subset was already ingested today.
func (h *Hub) persistEvent(ctx context.Context, ev *models.Event) error {
	encoded, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	key := "event:" + ev.EventID
	claimed, err := h.cache.SetNX(ctx, key, encoded, h.eventTTL)
	if err != nil {
		return fmt.Errorf("claim event id: %w", err)
	}
	if !claimed {
		metrics.ObserveDuplicateEvent()
		h.logger.Info("duplicate event id", slog.String("event_id", ev.EventID))
	}
	if err := h.cache.Set(ctx, key, encoded, h.eventTTL); err != nil {
		return fmt.Errorf("cache event: %w", err)
	}
	return nil
}

func (h *Hub) routeEvent(ctx context.Context, ev *models.Event) error {
	agents := h.router.Route(ctx, ev)
	h.logger.Debug("event routed",
		slog.String("event_id", ev.EventID),
		slog.Any("agents", agents))
	return nil
}

func (h *Hub) persistIncident(incident *models.Incident) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	encoded, err := json.Marshal(incident)
	if err != nil {
		h.logger.Warn("encode incident snapshot", slog.Any("error", err))
		return
	}
	if err := h.cache.Set(ctx, "incident:"+incident.IncidentID, encoded, h.incidentTTL); err != nil {
		h.logger.Warn("cache incident snapshot",
			slog.String("incident_id", incident.IncidentID),
			slog.Any("error", err))
	}
	if h.archive != nil {
		if err := h.archive.SaveIncident(ctx, incident); err != nil {
			h.logger.Warn("archive incident snapshot",
				slog.String("incident_id", incident.IncidentID),
				slog.Any("error", err))
		}
	}
}

// ObserveHandlerResults feeds per-handler pipeline outcomes into metrics.
// Register it on the ingester with ingest.WithResultObserver.
func ObserveHandlerResults(_ *models.Event, results []ingest.HandlerResult) {
	for _, result := range results {
		if result.Err != nil {
			metrics.ObserveHandlerFailure()
		}
	}
}

func (h *Hub) observeIngest(source models.Source, start time.Time, err error) {
	duration := time.Since(start)
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
	}
	metrics.ObserveIngest(string(source), duration, outcome)
	if err == nil {
		h.latencies.Observe(duration)
	}
}

// IngestWebhook normalizes and processes a generic webhook payload.
func (h *Hub) IngestWebhook(ctx context.Context, payload map[string]any) (*models.Event, error) {
	start := time.Now()
	ev, err := h.ingester.IngestWebhook(ctx, payload)
	h.observeIngest(models.SourceWebhook, start, err)
	return ev, err
}

// IngestPrometheusAlert normalizes and processes an alertmanager notification.
func (h *Hub) IngestPrometheusAlert(ctx context.Context, notification map[string]any) (*models.Event, error) {
	start := time.Now()
	ev, err := h.ingester.IngestPrometheusAlert(ctx, notification)
	h.observeIngest(models.SourcePrometheus, start, err)
	return ev, err
}

// IngestCloudWatchAlarm normalizes and processes a CloudWatch alarm.
func (h *Hub) IngestCloudWatchAlarm(ctx context.Context, alarm map[string]any) (*models.Event, error) {
	start := time.Now()
	ev, err := h.ingester.IngestCloudWatchAlarm(ctx, alarm)
	h.observeIngest(models.SourceCloudWatch, start, err)
	return ev, err
}

// IngestManualReport normalizes and processes a human-filed report.
func (h *Hub) IngestManualReport(ctx context.Context, report map[string]any) (*models.Event, error) {
	start := time.Now()
	ev, err := h.ingester.IngestManualReport(ctx, report)
	h.observeIngest(models.SourceManual, start, err)
	return ev, err
}

// ErrNoArchive signals that durable incident storage is not configured.
var ErrNoArchive = errors.New("incident archive not configured")

// CachedEvent returns the cached canonical encoding of an event by id. A miss
// means the event was never ingested or its TTL expired.
func (h *Hub) CachedEvent(ctx context.Context, id string) (*models.Event, error) {
	raw, err := h.cache.Get(ctx, "event:"+id)
	if err != nil {
		return nil, err
	}
	var ev models.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode cached event %s: %w", id, err)
	}
	return &ev, nil
}

// ArchivedIncident returns the durable snapshot of an incident, which outlives
// the in-memory machine.
func (h *Hub) ArchivedIncident(ctx context.Context, id string) (*models.Incident, error) {
	if h.archive == nil {
		return nil, ErrNoArchive
	}
	return h.archive.LoadIncident(ctx, id)
}

// ArchivedIncidents returns every archived snapshot, most recently updated
// first.
func (h *Hub) ArchivedIncidents(ctx context.Context) ([]*models.Incident, error) {
	if h.archive == nil {
		return nil, ErrNoArchive
	}
	return h.archive.ListIncidents(ctx)
}

// RecentEvents returns up to limit buffered events in insertion order.
func (h *Hub) RecentEvents(limit int) []*models.Event {
	return h.ingester.Recent(limit)
}

// RoutingStats aggregates the router's decision history.
func (h *Hub) RoutingStats() routing.Stats {
	return h.router.RoutingStats()
}

// RoutingHistory returns the recorded routing decisions.
func (h *Hub) RoutingHistory() []routing.Decision {
	return h.router.History()
}

// CreateIncidentInput carries the fields needed to open an incident.
type CreateIncidentInput struct {
	IncidentID       string
	Title            string
	Description      string
	Severity         string
	AffectedServices []string
	Metadata         map[string]any
}

// CreateIncident opens an incident, generating an identifier when absent.
func (h *Hub) CreateIncident(input CreateIncidentInput) (*models.Incident, error) {
	severity, err := models.ParseIncidentSeverity(input.Severity)
	if err != nil {
		return nil, err
	}
	id := input.IncidentID
	if id == "" {
		id = NewIncidentID()
	}
	incident, err := h.machine.CreateIncident(id, input.Title, input.Description, severity, input.AffectedServices, input.Metadata)
	if err != nil {
		return nil, err
	}
	metrics.ObserveTransition(string(models.StateDetecting))
	return incident, nil
}

// TransitionIncident drives an incident to a new lifecycle state.
func (h *Hub) TransitionIncident(id, newState, reason, actor string, metadata map[string]any) (*models.Incident, error) {
	state, err := models.ParseIncidentState(newState)
	if err != nil {
		return nil, err
	}
	incident, err := h.machine.TransitionTo(id, state, reason, actor, metadata)
	if err != nil {
		return nil, err
	}
	metrics.ObserveTransition(string(state))
	return incident, nil
}

// CompleteGate marks a lifecycle gate done for an incident.
func (h *Hub) CompleteGate(id, gate string) (*models.Incident, error) {
	return h.machine.CompleteGate(id, gate)
}

// GetIncident returns an incident by id.
func (h *Hub) GetIncident(id string) (*models.Incident, error) {
	return h.machine.Get(id)
}

// ListIncidents returns incidents filtered by state, or all active ones when
// state is empty.
func (h *Hub) ListIncidents(state string) ([]*models.Incident, error) {
	if state == "" {
		return h.machine.Active(), nil
	}
	parsed, err := models.ParseIncidentState(state)
	if err != nil {
		return nil, err
	}
	return h.machine.ByState(parsed), nil
}

// IngestP95 reports the 95th percentile ingest latency.
func (h *Hub) IngestP95() time.Duration {
	return h.latencies.Percentile(95)
}

// NewIncidentID generates INC-<UTC date>-<uuid fragment>.
func NewIncidentID() string {
	fragment := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("INC-%s-%s", utils.UTCDate(time.Now()), fragment)
}
