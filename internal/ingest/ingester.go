package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/flarestack/flare-relay/internal/models"
	"github.com/flarestack/flare-relay/internal/utils"
)

// DefaultBufferSize bounds the recent-event buffer unless overridden.
const DefaultBufferSize = 1000

// Handler processes one normalized event. Handlers run strictly in
// registration order within a single ingestion call; a failing handler never
// stops the ones after it.
type Handler func(ctx context.Context, ev *models.Event) error

// HandlerResult reports the outcome of one handler invocation.
type HandlerResult struct {
	Handler int
	Err     error
}

// ResultObserver receives the aggregated per-handler outcomes of a pipeline run.
type ResultObserver func(ev *models.Event, results []HandlerResult)

// Ingester normalizes source payloads into canonical events, buffers them,
// and runs the registered handler chain. All registries are instance state.
type Ingester struct {
	logger   *slog.Logger
	mu       sync.Mutex
	buffer   *Buffer
	handlers []Handler
	observer ResultObserver
	now      func() time.Time
}

// Option customises an Ingester.
type Option func(*Ingester)

// WithBufferSize overrides the recent-event buffer capacity.
func WithBufferSize(n int) Option {
	return func(i *Ingester) { i.buffer = NewBuffer(n) }
}

// WithResultObserver registers a callback receiving handler outcomes.
func WithResultObserver(fn ResultObserver) Option {
	return func(i *Ingester) { i.observer = fn }
}

// NewIngester constructs an event normalizer.
func NewIngester(logger *slog.Logger, opts ...Option) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	ing := &Ingester{
		logger: logger,
		buffer: NewBuffer(DefaultBufferSize),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// RegisterHandler appends a handler to the chain.
func (i *Ingester) RegisterHandler(h Handler) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.handlers = append(i.handlers, h)
}

// EventID derives a deterministic identifier from a caller-chosen subset of
// fields: EVT-<UTC date>-<sha256 of the sort-key JSON encoding, 12 hex>.
// Identical subsets ingested on the same day intentionally share an ID; this
// is a dedup mechanism, not a uniqueness guarantee.
func EventID(fields map[string]any) string {
	return eventIDAt(time.Now(), fields)
}

// eventID derives an identifier using the ingester's clock.
func (i *Ingester) eventID(fields map[string]any) string {
	return eventIDAt(i.now(), fields)
}

func eventIDAt(at time.Time, fields map[string]any) string {
	canonical, err := json.Marshal(fields) // map keys marshal in sorted order
	if err != nil {
		canonical = []byte(fmt.Sprintf("%v", fields))
	}
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("EVT-%s-%s", utils.UTCDate(at), hex.EncodeToString(sum[:])[:12])
}

// IngestWebhook normalizes a generic webhook payload:
// {type, severity, title, description, metadata}.
func (i *Ingester) IngestWebhook(ctx context.Context, payload map[string]any) (*models.Event, error) {
	eventType, err := models.ParseEventType(stringValue(payload, "type", ""))
	if err != nil {
		return nil, fmt.Errorf("webhook payload: %w", err)
	}
	severity, err := models.ParseSeverity(stringValue(payload, "severity", string(models.SeverityMedium)))
	if err != nil {
		return nil, fmt.Errorf("webhook payload: %w", err)
	}

	ev := &models.Event{
		EventID:     i.eventID(payload),
		Type:        eventType,
		Severity:    severity,
		Source:      models.SourceWebhook,
		Timestamp:   i.now().UTC(),
		Title:       stringValue(payload, "title", "Untitled Event"),
		Description: stringValue(payload, "description", ""),
		Metadata:    mapValue(payload, "metadata"),
		SourceData:  payload,
	}
	return i.process(ctx, ev), nil
}

// IngestPrometheusAlert normalizes an alertmanager notification. Only the
// first alert entry is consumed.
func (i *Ingester) IngestPrometheusAlert(ctx context.Context, notification map[string]any) (*models.Event, error) {
	alert := firstAlert(notification)
	labels := mapValue(alert, "labels")
	annotations := mapValue(alert, "annotations")

	alertName := stringValue(labels, "alertname", "")
	eventType := models.EventTypeMetricThreshold
	if strings.Contains(strings.ToLower(alertName), "anomaly") {
		eventType = models.EventTypeMetricAnomaly
	}

	severity := models.SeverityInfo
	if stringValue(alert, "status", "firing") == "firing" {
		switch stringValue(labels, "severity", "") {
		case "critical":
			severity = models.SeverityCritical
		case "warning":
			severity = models.SeverityHigh
		case "info":
			severity = models.SeverityInfo
		default:
			severity = models.SeverityMedium
		}
	}

	timestamp := i.now().UTC()
	if startsAt, err := utils.ParseRFC3339(stringValue(alert, "startsAt", "")); err == nil {
		timestamp = startsAt
	}

	title := stringValue(annotations, "summary", "")
	if title == "" {
		title = alertName
	}

	ev := &models.Event{
		EventID:     i.eventID(alert),
		Type:        eventType,
		Severity:    severity,
		Source:      models.SourcePrometheus,
		Timestamp:   timestamp,
		Title:       title,
		Description: stringValue(annotations, "description", ""),
		Metadata: map[string]any{
			"labels": labels,
			"value":  stringValue(annotations, "value", ""),
		},
		SourceData: notification,
	}
	return i.process(ctx, ev), nil
}

// IngestCloudWatchAlarm normalizes a CloudWatch alarm notification.
func (i *Ingester) IngestCloudWatchAlarm(ctx context.Context, alarm map[string]any) (*models.Event, error) {
	alarmName := stringValue(alarm, "AlarmName", "")
	newState := stringValue(alarm, "NewStateValue", "")
	trigger := mapValue(alarm, "Trigger")

	var severity models.Severity
	switch newState {
	case "ALARM":
		severity = models.SeverityCritical
	case "INSUFFICIENT_DATA":
		severity = models.SeverityMedium
	case "OK":
		severity = models.SeverityInfo
	default:
		severity = models.SeverityLow
	}

	dimensions := trigger["Dimensions"]
	if dimensions == nil {
		dimensions = []any{}
	}

	ev := &models.Event{
		EventID:     i.eventID(alarm),
		Type:        models.EventTypeMetricThreshold,
		Severity:    severity,
		Source:      models.SourceCloudWatch,
		Timestamp:   i.now().UTC(),
		Title:       fmt.Sprintf("%s: %s", alarmName, newState),
		Description: stringValue(alarm, "NewStateReason", ""),
		Metadata: map[string]any{
			"alarm_name": alarmName,
			"metric":     stringValue(trigger, "MetricName", ""),
			"namespace":  stringValue(trigger, "Namespace", ""),
			"dimensions": dimensions,
		},
		SourceData: alarm,
	}
	return i.process(ctx, ev), nil
}

// IngestManualReport normalizes a human-filed report.
func (i *Ingester) IngestManualReport(ctx context.Context, report map[string]any) (*models.Event, error) {
	severity, err := models.ParseSeverity(stringValue(report, "severity", string(models.SeverityMedium)))
	if err != nil {
		return nil, fmt.Errorf("manual report: %w", err)
	}

	ev := &models.Event{
		EventID:     i.eventID(report),
		Type:        models.EventTypeManualReport,
		Severity:    severity,
		Source:      models.SourceManual,
		Timestamp:   i.now().UTC(),
		Title:       stringValue(report, "title", "Manual Event Report"),
		Description: stringValue(report, "description", ""),
		Metadata: map[string]any{
			"reported_by": stringValue(report, "reported_by", "unknown"),
			"impact":      stringValue(report, "impact", ""),
			"urgency":     stringValue(report, "urgency", "normal"),
		},
		SourceData: report,
	}
	return i.process(ctx, ev), nil
}

// Recent returns up to limit buffered events in insertion order.
func (i *Ingester) Recent(limit int) []*models.Event {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.buffer.Recent(limit)
}

// BufferLen reports how many events are currently buffered.
func (i *Ingester) BufferLen() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.buffer.Len()
}

// process runs the uniform pipeline: buffer the event, invoke handlers in
// registration order with failures isolated, then mark it processed. The
// processed flag means the pipeline completed, not that all handlers
// succeeded. The ingester serializes pipeline runs; the components themselves
// assume a single logical writer.
func (i *Ingester) process(ctx context.Context, ev *models.Event) *models.Event {
	i.mu.Lock()
	defer i.mu.Unlock()

	ev.ProcessingAttempts++
	i.buffer.Append(ev)

	results := make([]HandlerResult, 0, len(i.handlers))
	for idx, handler := range i.handlers {
		err := runHandler(ctx, handler, ev)
		if err != nil {
			i.logger.Warn("event handler failed",
				slog.String("event_id", ev.EventID),
				slog.Int("handler", idx),
				slog.Any("error", err))
		}
		results = append(results, HandlerResult{Handler: idx, Err: err})
	}

	ev.Processed = true
	if i.observer != nil {
		i.observer(ev, results)
	}
	return ev
}

func runHandler(ctx context.Context, handler Handler, ev *models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, ev)
}

func firstAlert(notification map[string]any) map[string]any {
	alerts, ok := notification["alerts"].([]any)
	if !ok || len(alerts) == 0 {
		return map[string]any{}
	}
	if alert, ok := alerts[0].(map[string]any); ok {
		return alert
	}
	return map[string]any{}
}

func stringValue(m map[string]any, key, fallback string) string {
	if m == nil {
		return fallback
	}
	v, ok := m[key]
	if !ok || v == nil {
		return fallback
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func mapValue(m map[string]any, key string) map[string]any {
	if m != nil {
		if sub, ok := m[key].(map[string]any); ok {
			return sub
		}
	}
	return map[string]any{}
}
