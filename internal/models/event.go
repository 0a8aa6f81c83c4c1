package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType enumerates the canonical event categories.
type EventType string

const (
	EventTypeMetricAnomaly     EventType = "metric.anomaly"
	EventTypeMetricThreshold   EventType = "metric.threshold"
	EventTypeLogError          EventType = "log.error"
	EventTypeLogAnomaly        EventType = "log.anomaly"
	EventTypeTraceError        EventType = "trace.error"
	EventTypeHealthCheckFailed EventType = "health.failed"
	EventTypeDeploymentFailed  EventType = "deployment.failed"
	EventTypeSecurityEvent     EventType = "security.event"
	EventTypeCustomerReport    EventType = "customer.report"
	EventTypeManualReport      EventType = "manual.report"
)

// ParseEventType validates a raw event type string.
func ParseEventType(value string) (EventType, error) {
	switch EventType(value) {
	case EventTypeMetricAnomaly, EventTypeMetricThreshold, EventTypeLogError,
		EventTypeLogAnomaly, EventTypeTraceError, EventTypeHealthCheckFailed,
		EventTypeDeploymentFailed, EventTypeSecurityEvent,
		EventTypeCustomerReport, EventTypeManualReport:
		return EventType(value), nil
	}
	return "", fmt.Errorf("unknown event type %q", value)
}

// Severity captures event impact levels.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// ParseSeverity validates a raw severity string.
func ParseSeverity(value string) (Severity, error) {
	switch Severity(value) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return Severity(value), nil
	}
	return "", fmt.Errorf("unknown severity %q", value)
}

// Source enumerates where a signal entered the system.
type Source string

const (
	SourceWebhook       Source = "webhook"
	SourcePrometheus    Source = "prometheus"
	SourceCloudWatch    Source = "cloudwatch"
	SourceLoki          Source = "loki"
	SourceElasticsearch Source = "elasticsearch"
	SourceKafka         Source = "kafka"
	SourceSQS           Source = "sqs"
	SourceNATS          Source = "nats"
	SourceManual        Source = "manual"
)

// ParseSource validates a raw source string.
func ParseSource(value string) (Source, error) {
	switch Source(value) {
	case SourceWebhook, SourcePrometheus, SourceCloudWatch, SourceLoki,
		SourceElasticsearch, SourceKafka, SourceSQS, SourceNATS, SourceManual:
		return Source(value), nil
	}
	return "", fmt.Errorf("unknown source %q", value)
}

// Event is the normalized representation of one ingested signal. All sources
// are converted to this shape. Immutable after construction except Processed
// and ProcessingAttempts, which the pipeline updates in place.
type Event struct {
	EventID            string         `json:"event_id"`
	Type               EventType      `json:"event_type"`
	Severity           Severity       `json:"severity"`
	Source             Source         `json:"source"`
	Timestamp          time.Time      `json:"timestamp"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	Metadata           map[string]any `json:"metadata"`
	SourceData         map[string]any `json:"source_data,omitempty"`
	CorrelationID      string         `json:"correlation_id,omitempty"`
	IncidentID         string         `json:"incident_id,omitempty"`
	Processed          bool           `json:"processed"`
	ProcessingAttempts int            `json:"processing_attempts"`
}

// UnmarshalJSON decodes the canonical event encoding and rejects enum values
// outside their domain rather than producing a partially-valid event.
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	if _, err := ParseEventType(string(decoded.Type)); err != nil {
		return err
	}
	if _, err := ParseSeverity(string(decoded.Severity)); err != nil {
		return err
	}
	if _, err := ParseSource(string(decoded.Source)); err != nil {
		return err
	}
	*e = Event(decoded)
	return nil
}
