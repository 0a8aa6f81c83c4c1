package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/flarestack/flare-relay/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIngestWebhook(t *testing.T) {
	ing := NewIngester(testLogger())
	payload := map[string]any{
		"type":        "log.error",
		"severity":    "high",
		"title":       "Payment service errors",
		"description": "Error rate above 5%",
		"metadata":    map[string]any{"service": "payments"},
	}

	ev, err := ing.IngestWebhook(context.Background(), payload)
	if err != nil {
		t.Fatalf("ingest webhook: %v", err)
	}
	if ev.Type != models.EventTypeLogError {
		t.Fatalf("type = %s", ev.Type)
	}
	if ev.Severity != models.SeverityHigh {
		t.Fatalf("severity = %s", ev.Severity)
	}
	if ev.Source != models.SourceWebhook {
		t.Fatalf("source = %s", ev.Source)
	}
	if !strings.HasPrefix(ev.EventID, "EVT-") {
		t.Fatalf("event id = %s", ev.EventID)
	}
	if ev.Metadata["service"] != "payments" {
		t.Fatalf("metadata not carried: %v", ev.Metadata)
	}
	if !ev.Processed {
		t.Fatalf("event not marked processed")
	}
	if ev.ProcessingAttempts != 1 {
		t.Fatalf("processing attempts = %d", ev.ProcessingAttempts)
	}
}

func TestIngestWebhookDefaults(t *testing.T) {
	ing := NewIngester(testLogger())
	ev, err := ing.IngestWebhook(context.Background(), map[string]any{"type": "log.error"})
	if err != nil {
		t.Fatalf("ingest webhook: %v", err)
	}
	if ev.Severity != models.SeverityMedium {
		t.Fatalf("default severity = %s, want medium", ev.Severity)
	}
	if ev.Title != "Untitled Event" {
		t.Fatalf("default title = %q", ev.Title)
	}
}

func TestIngestWebhookRejectsBadPayloads(t *testing.T) {
	ing := NewIngester(testLogger())

	if _, err := ing.IngestWebhook(context.Background(), map[string]any{}); err == nil {
		t.Fatalf("expected error for missing type")
	}
	if _, err := ing.IngestWebhook(context.Background(), map[string]any{"type": "nonsense"}); err == nil {
		t.Fatalf("expected error for unknown type")
	}
	if _, err := ing.IngestWebhook(context.Background(), map[string]any{"type": "log.error", "severity": "extreme"}); err == nil {
		t.Fatalf("expected error for unknown severity")
	}
	if ing.BufferLen() != 0 {
		t.Fatalf("rejected payloads must not be buffered, len = %d", ing.BufferLen())
	}
}

func TestIngestPrometheusAlertClassification(t *testing.T) {
	ing := NewIngester(testLogger())

	cases := []struct {
		name         string
		alertname    string
		status       string
		severity     string
		wantType     models.EventType
		wantSeverity models.Severity
	}{
		{"anomaly name", "CPUAnomalyDetected", "firing", "critical", models.EventTypeMetricAnomaly, models.SeverityCritical},
		{"threshold name", "HighLatency", "firing", "warning", models.EventTypeMetricThreshold, models.SeverityHigh},
		{"unmapped label", "HighLatency", "firing", "page", models.EventTypeMetricThreshold, models.SeverityMedium},
		{"resolved", "HighLatency", "resolved", "critical", models.EventTypeMetricThreshold, models.SeverityInfo},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			notification := map[string]any{
				"alerts": []any{map[string]any{
					"status": tc.status,
					"labels": map[string]any{"alertname": tc.alertname, "severity": tc.severity},
					"annotations": map[string]any{
						"summary": "something happened",
					},
					"startsAt": "2026-08-27T09:30:00Z",
				}},
			}
			ev, err := ing.IngestPrometheusAlert(context.Background(), notification)
			if err != nil {
				t.Fatalf("ingest prometheus: %v", err)
			}
			if ev.Type != tc.wantType {
				t.Fatalf("type = %s, want %s", ev.Type, tc.wantType)
			}
			if ev.Severity != tc.wantSeverity {
				t.Fatalf("severity = %s, want %s", ev.Severity, tc.wantSeverity)
			}
			if ev.Timestamp.Format("2006-01-02T15:04:05Z") != "2026-08-27T09:30:00Z" {
				t.Fatalf("timestamp = %s, want startsAt", ev.Timestamp)
			}
			if ev.Title != "something happened" {
				t.Fatalf("title = %q", ev.Title)
			}
		})
	}
}

func TestIngestPrometheusAlertFallbacks(t *testing.T) {
	ing := NewIngester(testLogger())

	notification := map[string]any{
		"alerts": []any{map[string]any{
			"labels": map[string]any{"alertname": "DiskFull"},
		}},
	}
	ev, err := ing.IngestPrometheusAlert(context.Background(), notification)
	if err != nil {
		t.Fatalf("ingest prometheus: %v", err)
	}
	if ev.Title != "DiskFull" {
		t.Fatalf("title fallback = %q, want alertname", ev.Title)
	}
	if ev.Timestamp.IsZero() {
		t.Fatalf("timestamp should fall back to ingest time")
	}

	// Empty notification still normalizes.
	if _, err := ing.IngestPrometheusAlert(context.Background(), map[string]any{}); err != nil {
		t.Fatalf("empty notification: %v", err)
	}
}

func TestIngestCloudWatchAlarm(t *testing.T) {
	ing := NewIngester(testLogger())

	cases := []struct {
		state string
		want  models.Severity
	}{
		{"ALARM", models.SeverityCritical},
		{"INSUFFICIENT_DATA", models.SeverityMedium},
		{"OK", models.SeverityInfo},
		{"WEIRD", models.SeverityLow},
	}

	for _, tc := range cases {
		alarm := map[string]any{
			"AlarmName":      "HighCPU",
			"NewStateValue":  tc.state,
			"NewStateReason": "threshold crossed",
			"Trigger": map[string]any{
				"MetricName": "CPUUtilization",
				"Namespace":  "AWS/EC2",
			},
		}
		ev, err := ing.IngestCloudWatchAlarm(context.Background(), alarm)
		if err != nil {
			t.Fatalf("ingest cloudwatch: %v", err)
		}
		if ev.Severity != tc.want {
			t.Fatalf("state %s severity = %s, want %s", tc.state, ev.Severity, tc.want)
		}
		if ev.Type != models.EventTypeMetricThreshold {
			t.Fatalf("type = %s", ev.Type)
		}
		if ev.Title != "HighCPU: "+tc.state {
			t.Fatalf("title = %q", ev.Title)
		}
		if ev.Metadata["metric"] != "CPUUtilization" {
			t.Fatalf("metadata = %v", ev.Metadata)
		}
	}
}

func TestIngestManualReport(t *testing.T) {
	ing := NewIngester(testLogger())

	ev, err := ing.IngestManualReport(context.Background(), map[string]any{
		"title":       "Checkout down for EU users",
		"reported_by": "oncall",
	})
	if err != nil {
		t.Fatalf("ingest manual: %v", err)
	}
	if ev.Type != models.EventTypeManualReport {
		t.Fatalf("type = %s", ev.Type)
	}
	if ev.Severity != models.SeverityMedium {
		t.Fatalf("default severity = %s", ev.Severity)
	}
	if ev.Metadata["reported_by"] != "oncall" {
		t.Fatalf("reported_by = %v", ev.Metadata["reported_by"])
	}
	if ev.Metadata["urgency"] != "normal" {
		t.Fatalf("urgency default = %v", ev.Metadata["urgency"])
	}

	if _, err := ing.IngestManualReport(context.Background(), map[string]any{"severity": "catastrophic"}); err == nil {
		t.Fatalf("expected error for unknown severity")
	}
}

func TestEventIDDeterministic(t *testing.T) {
	a := EventID(map[string]any{"alertname": "HighCPU", "instance": "web-1"})
	b := EventID(map[string]any{"instance": "web-1", "alertname": "HighCPU"})
	if a != b {
		t.Fatalf("same fields produced different ids: %s vs %s", a, b)
	}

	c := EventID(map[string]any{"alertname": "HighCPU", "instance": "web-2"})
	if a == c {
		t.Fatalf("different fields produced identical ids")
	}
}

func TestEventIDUsesIngesterClock(t *testing.T) {
	ing := NewIngester(testLogger())
	ing.now = func() time.Time {
		return time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC)
	}

	ev, err := ing.IngestWebhook(context.Background(), map[string]any{"type": "log.error"})
	if err != nil {
		t.Fatalf("ingest webhook: %v", err)
	}
	if !strings.HasPrefix(ev.EventID, "EVT-20240309-") {
		t.Fatalf("event id = %s, want date from ingester clock", ev.EventID)
	}

	// Same payload on a later day claims a fresh id.
	ing.now = func() time.Time {
		return time.Date(2024, 3, 10, 0, 1, 0, 0, time.UTC)
	}
	next, err := ing.IngestWebhook(context.Background(), map[string]any{"type": "log.error"})
	if err != nil {
		t.Fatalf("ingest webhook: %v", err)
	}
	if !strings.HasPrefix(next.EventID, "EVT-20240310-") {
		t.Fatalf("event id = %s, want next-day prefix", next.EventID)
	}
	if next.EventID == ev.EventID {
		t.Fatalf("ids identical across days")
	}
}

func TestHandlersRunInOrderWithFailureIsolation(t *testing.T) {
	var order []string
	ing := NewIngester(testLogger())
	ing.RegisterHandler(func(_ context.Context, _ *models.Event) error {
		order = append(order, "first")
		return errors.New("boom")
	})
	ing.RegisterHandler(func(_ context.Context, _ *models.Event) error {
		order = append(order, "second")
		panic("handler exploded")
	})
	ing.RegisterHandler(func(_ context.Context, _ *models.Event) error {
		order = append(order, "third")
		return nil
	})

	var observed []HandlerResult
	ing.observer = func(_ *models.Event, results []HandlerResult) {
		observed = results
	}

	ev, err := ing.IngestWebhook(context.Background(), map[string]any{"type": "log.error"})
	if err != nil {
		t.Fatalf("ingest webhook: %v", err)
	}

	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("handler order = %v", order)
	}
	if !ev.Processed {
		t.Fatalf("event should be processed despite handler failures")
	}
	if len(observed) != 3 {
		t.Fatalf("observer saw %d results", len(observed))
	}
	if observed[0].Err == nil || observed[1].Err == nil || observed[2].Err != nil {
		t.Fatalf("unexpected result errors: %+v", observed)
	}
}

func TestIngesterBuffersEvents(t *testing.T) {
	ing := NewIngester(testLogger(), WithBufferSize(2))
	for i := 0; i < 3; i++ {
		if _, err := ing.IngestWebhook(context.Background(), map[string]any{
			"type":  "log.error",
			"title": string(rune('a' + i)),
		}); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	recent := ing.Recent(0)
	if len(recent) != 2 {
		t.Fatalf("buffer len = %d, want 2", len(recent))
	}
	if recent[0].Title != "b" || recent[1].Title != "c" {
		t.Fatalf("buffer contents = [%s %s]", recent[0].Title, recent[1].Title)
	}
}
