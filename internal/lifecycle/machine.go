package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flarestack/flare-relay/internal/models"
)

// ErrIncidentNotFound marks operations referencing an unknown incident.
var ErrIncidentNotFound = errors.New("incident not found")

// ErrIncidentExists marks an attempt to create a duplicate incident.
var ErrIncidentExists = errors.New("incident already exists")

// TransitionError reports a rejected state transition. The incident is left
// unmodified; the caller may complete the missing gate and retry.
type TransitionError struct {
	From   models.IncidentState
	To     models.IncidentState
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %s -> %s rejected: %s", e.From, e.To, e.Reason)
}

// Callback runs when an incident enters a state. Callbacks receive a copy of
// the incident; panics are isolated and never abort the transition.
type Callback func(incident *models.Incident)

// validTransitions is the fixed state-adjacency table. Closed is terminal.
var validTransitions = map[models.IncidentState][]models.IncidentState{
	models.StateDetecting:  {models.StateTriaging, models.StateClosed},
	models.StateTriaging:   {models.StateResponding, models.StateClosed},
	models.StateResponding: {models.StateRecovering, models.StateClosed},
	models.StateRecovering: {models.StateResolved, models.StateResponding},
	models.StateResolved:   {models.StatePostMortem},
	models.StatePostMortem: {models.StateClosed},
	models.StateClosed:     {},
}

// requiredGate names the gate that must be complete before a gated edge, or
// false when the edge has no precondition.
func requiredGate(from, to models.IncidentState) (models.Gate, bool) {
	switch {
	case from == models.StateDetecting && to == models.StateTriaging:
		return models.GateDetection, true
	case from == models.StateTriaging && to == models.StateResponding:
		return models.GateTriage, true
	case from == models.StateRecovering && to == models.StateResolved:
		return models.GateResponse, true
	case from == models.StatePostMortem && to == models.StateClosed:
		return models.GateResolution, true
	}
	return "", false
}

// Machine enforces the incident lifecycle: fixed adjacency, gate
// preconditions, append-only history, per-state entry callbacks. The mutex
// supplies the serialization the components themselves do not assume.
type Machine struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	incidents map[string]*models.Incident
	callbacks map[models.IncidentState][]Callback
	now       func() time.Time
}

// NewMachine constructs an empty incident state machine.
func NewMachine(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		logger:    logger,
		incidents: make(map[string]*models.Incident),
		callbacks: make(map[models.IncidentState][]Callback),
		now:       time.Now,
	}
}

// RegisterCallback adds an entry callback for a state. Multiple callbacks per
// state run in registration order.
func (m *Machine) RegisterCallback(state models.IncidentState, cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[state] = append(m.callbacks[state], cb)
}

// CreateIncident opens a new incident in the detecting state and records the
// initial transition. The initial record carries detecting as its from-state,
// matching the historical encoding of "created".
func (m *Machine) CreateIncident(id, title, description string, severity models.IncidentSeverity, affectedServices []string, metadata map[string]any) (*models.Incident, error) {
	if id == "" {
		return nil, fmt.Errorf("incident id is required")
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	m.mu.Lock()
	if _, exists := m.incidents[id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("incident %s: %w", id, ErrIncidentExists)
	}

	now := m.now().UTC()
	incident := &models.Incident{
		IncidentID:       id,
		Title:            title,
		Description:      description,
		Severity:         severity,
		State:            models.StateDetecting,
		CreatedAt:        now,
		UpdatedAt:        now,
		AffectedServices: append([]string(nil), affectedServices...),
		Metadata:         metadata,
	}
	incident.Transitions = append(incident.Transitions, models.Transition{
		From:      models.StateDetecting,
		To:        models.StateDetecting,
		Timestamp: now,
		Reason:    "Incident created",
		Actor:     "system",
	})
	m.incidents[id] = incident
	snapshot := incident.Clone()
	m.mu.Unlock()

	m.fireCallbacks(models.StateDetecting, snapshot)
	return snapshot, nil
}

// TransitionTo moves an incident to newState after checking the adjacency
// table and the gate precondition for the edge. Rejections leave the
// incident's recorded state untouched.
func (m *Machine) TransitionTo(id string, newState models.IncidentState, reason, actor string, metadata map[string]any) (*models.Incident, error) {
	m.mu.Lock()
	incident, ok := m.incidents[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("incident %s: %w", id, ErrIncidentNotFound)
	}

	oldState := incident.State
	if !transitionAllowed(oldState, newState) {
		m.mu.Unlock()
		return nil, &TransitionError{From: oldState, To: newState, Reason: "not in adjacency table"}
	}
	if gate, gated := requiredGate(oldState, newState); gated && !incident.Gates.Completed(gate) {
		m.mu.Unlock()
		return nil, &TransitionError{From: oldState, To: newState, Reason: fmt.Sprintf("%s gate not complete", gate)}
	}

	now := m.now().UTC()
	incident.State = newState
	incident.UpdatedAt = now
	incident.Transitions = append(incident.Transitions, models.Transition{
		From:      oldState,
		To:        newState,
		Timestamp: now,
		Reason:    reason,
		Actor:     actor,
		Metadata:  metadata,
	})
	snapshot := incident.Clone()
	m.mu.Unlock()

	m.fireCallbacks(newState, snapshot)
	return snapshot, nil
}

// CompleteGate marks the named gate done. Gate flags only ever move from
// false to true; completing a gate does not itself trigger a transition.
func (m *Machine) CompleteGate(id, gateName string) (*models.Incident, error) {
	gate, err := models.ParseGate(gateName)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	incident, ok := m.incidents[id]
	if !ok {
		return nil, fmt.Errorf("incident %s: %w", id, ErrIncidentNotFound)
	}
	incident.Gates.Complete(gate)
	incident.UpdatedAt = m.now().UTC()
	return incident.Clone(), nil
}

// Get returns the incident with the given id.
func (m *Machine) Get(id string) (*models.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	incident, ok := m.incidents[id]
	if !ok {
		return nil, fmt.Errorf("incident %s: %w", id, ErrIncidentNotFound)
	}
	return incident.Clone(), nil
}

// ByState lists incidents currently in the given state.
func (m *Machine) ByState(state models.IncidentState) []*models.Incident {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Incident
	for _, incident := range m.incidents {
		if incident.State == state {
			out = append(out, incident.Clone())
		}
	}
	return out
}

// Active lists all incidents not yet closed.
func (m *Machine) Active() []*models.Incident {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Incident
	for _, incident := range m.incidents {
		if incident.State != models.StateClosed {
			out = append(out, incident.Clone())
		}
	}
	return out
}

func transitionAllowed(from, to models.IncidentState) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (m *Machine) fireCallbacks(state models.IncidentState, incident *models.Incident) {
	m.mu.RLock()
	callbacks := append([]Callback(nil), m.callbacks[state]...)
	m.mu.RUnlock()

	for _, cb := range callbacks {
		m.runCallback(state, incident, cb)
	}
}

func (m *Machine) runCallback(state models.IncidentState, incident *models.Incident, cb Callback) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("state callback panicked",
				slog.String("state", string(state)),
				slog.String("incident_id", incident.IncidentID),
				slog.Any("panic", r))
		}
	}()
	cb(incident)
}
