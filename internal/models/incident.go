package models

import (
	"fmt"
	"time"
)

// IncidentState enumerates the lifecycle states.
type IncidentState string

const (
	StateDetecting  IncidentState = "detecting"
	StateTriaging   IncidentState = "triaging"
	StateResponding IncidentState = "responding"
	StateRecovering IncidentState = "recovering"
	StateResolved   IncidentState = "resolved"
	StatePostMortem IncidentState = "post_mortem"
	StateClosed     IncidentState = "closed"
)

// ParseIncidentState validates a raw lifecycle state string.
func ParseIncidentState(value string) (IncidentState, error) {
	switch IncidentState(value) {
	case StateDetecting, StateTriaging, StateResponding, StateRecovering,
		StateResolved, StatePostMortem, StateClosed:
		return IncidentState(value), nil
	}
	return "", fmt.Errorf("unknown incident state %q", value)
}

// IncidentSeverity grades incident impact.
type IncidentSeverity string

const (
	Sev0 IncidentSeverity = "SEV0"
	Sev1 IncidentSeverity = "SEV1"
	Sev2 IncidentSeverity = "SEV2"
	Sev3 IncidentSeverity = "SEV3"
	Sev4 IncidentSeverity = "SEV4"
)

// ParseIncidentSeverity validates a raw incident severity string.
func ParseIncidentSeverity(value string) (IncidentSeverity, error) {
	switch IncidentSeverity(value) {
	case Sev0, Sev1, Sev2, Sev3, Sev4:
		return IncidentSeverity(value), nil
	}
	return "", fmt.Errorf("unknown incident severity %q", value)
}

// Gate names a lifecycle precondition that must be completed before the
// corresponding transition is allowed.
type Gate string

const (
	GateDetection  Gate = "detection"
	GateTriage     Gate = "triage"
	GateResponse   Gate = "response"
	GateResolution Gate = "resolution"
)

// ParseGate validates a raw gate name.
func ParseGate(value string) (Gate, error) {
	switch Gate(value) {
	case GateDetection, GateTriage, GateResponse, GateResolution:
		return Gate(value), nil
	}
	return "", fmt.Errorf("unknown gate %q", value)
}

// GateStatus tracks the four gate completion flags. Flags are monotonic:
// Complete sets them true and nothing resets them.
type GateStatus struct {
	Detection  bool `json:"detection"`
	Triage     bool `json:"triage"`
	Response   bool `json:"response"`
	Resolution bool `json:"resolution"`
}

// Completed reports whether the named gate has been completed.
func (g GateStatus) Completed(gate Gate) bool {
	switch gate {
	case GateDetection:
		return g.Detection
	case GateTriage:
		return g.Triage
	case GateResponse:
		return g.Response
	case GateResolution:
		return g.Resolution
	}
	return false
}

// Complete marks the named gate as done.
func (g *GateStatus) Complete(gate Gate) {
	switch gate {
	case GateDetection:
		g.Detection = true
	case GateTriage:
		g.Triage = true
	case GateResponse:
		g.Response = true
	case GateResolution:
		g.Resolution = true
	}
}

// Transition is an immutable record of one lifecycle state change.
type Transition struct {
	From      IncidentState  `json:"from"`
	To        IncidentState  `json:"to"`
	Timestamp time.Time      `json:"timestamp"`
	Reason    string         `json:"reason"`
	Actor     string         `json:"actor"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Incident tracks a response lifecycle. Mutation happens only through the
// lifecycle state machine operations; transition history is append-only.
type Incident struct {
	IncidentID       string           `json:"incident_id"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	Severity         IncidentSeverity `json:"severity"`
	State            IncidentState    `json:"state"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	AffectedServices []string         `json:"affected_services"`
	AssignedTo       string           `json:"assigned_to,omitempty"`
	Transitions      []Transition     `json:"transitions"`
	Metadata         map[string]any   `json:"metadata"`
	Gates            GateStatus       `json:"gates"`
}

// Clone returns a copy safe to hand to callers and callbacks without
// exposing the state machine's internal record.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	out := *i
	out.AffectedServices = append([]string(nil), i.AffectedServices...)
	out.Transitions = append([]Transition(nil), i.Transitions...)
	if i.Metadata != nil {
		out.Metadata = make(map[string]any, len(i.Metadata))
		for k, v := range i.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
