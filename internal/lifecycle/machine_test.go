package lifecycle

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/flarestack/flare-relay/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newIncident(t *testing.T, m *Machine, id string) *models.Incident {
	t.Helper()
	incident, err := m.CreateIncident(id, "Checkout degraded", "", models.Sev2, []string{"checkout"}, nil)
	if err != nil {
		t.Fatalf("create incident: %v", err)
	}
	return incident
}

func TestCreateIncident(t *testing.T) {
	m := NewMachine(testLogger())
	incident := newIncident(t, m, "INC-1")

	if incident.State != models.StateDetecting {
		t.Fatalf("initial state = %s", incident.State)
	}
	if len(incident.Transitions) != 1 {
		t.Fatalf("transitions = %d, want creation record", len(incident.Transitions))
	}
	created := incident.Transitions[0]
	if created.From != models.StateDetecting || created.To != models.StateDetecting {
		t.Fatalf("creation record = %s -> %s", created.From, created.To)
	}
	if created.Actor != "system" {
		t.Fatalf("creation actor = %s", created.Actor)
	}

	if _, err := m.CreateIncident("INC-1", "dup", "", models.Sev3, nil, nil); !errors.Is(err, ErrIncidentExists) {
		t.Fatalf("duplicate create err = %v", err)
	}
	if _, err := m.CreateIncident("", "no id", "", models.Sev3, nil, nil); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestTransitionGateRejection(t *testing.T) {
	m := NewMachine(testLogger())
	newIncident(t, m, "INC-1")

	_, err := m.TransitionTo("INC-1", models.StateTriaging, "looking into it", "oncall", nil)
	var transitionErr *TransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if transitionErr.From != models.StateDetecting || transitionErr.To != models.StateTriaging {
		t.Fatalf("rejection = %+v", transitionErr)
	}

	// State untouched by the rejection.
	incident, err := m.Get("INC-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if incident.State != models.StateDetecting {
		t.Fatalf("state after rejection = %s", incident.State)
	}
	if len(incident.Transitions) != 1 {
		t.Fatalf("rejected transition recorded in history")
	}

	if _, err := m.CompleteGate("INC-1", "detection"); err != nil {
		t.Fatalf("complete gate: %v", err)
	}
	incident, err = m.TransitionTo("INC-1", models.StateTriaging, "looking into it", "oncall", nil)
	if err != nil {
		t.Fatalf("transition after gate: %v", err)
	}
	if incident.State != models.StateTriaging {
		t.Fatalf("state = %s", incident.State)
	}
	if len(incident.Transitions) != 2 {
		t.Fatalf("transitions = %d, want 2", len(incident.Transitions))
	}
}

func TestTransitionAdjacency(t *testing.T) {
	m := NewMachine(testLogger())
	newIncident(t, m, "INC-1")

	// Skipping states is rejected regardless of gates.
	if _, err := m.CompleteGate("INC-1", "detection"); err != nil {
		t.Fatalf("complete gate: %v", err)
	}
	_, err := m.TransitionTo("INC-1", models.StateResolved, "", "oncall", nil)
	var transitionErr *TransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected TransitionError for skip, got %v", err)
	}

	// Early close is allowed from any pre-recovery state without gates.
	incident, err := m.TransitionTo("INC-1", models.StateClosed, "false positive", "oncall", nil)
	if err != nil {
		t.Fatalf("early close: %v", err)
	}
	if incident.State != models.StateClosed {
		t.Fatalf("state = %s", incident.State)
	}
}

func TestClosedIsTerminal(t *testing.T) {
	m := NewMachine(testLogger())
	newIncident(t, m, "INC-1")
	if _, err := m.TransitionTo("INC-1", models.StateClosed, "noise", "oncall", nil); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, state := range []models.IncidentState{
		models.StateDetecting, models.StateTriaging, models.StateResponding,
		models.StateRecovering, models.StateResolved, models.StatePostMortem,
	} {
		if _, err := m.TransitionTo("INC-1", state, "", "oncall", nil); err == nil {
			t.Fatalf("closed incident transitioned to %s", state)
		}
	}
}

func TestFullLifecycle(t *testing.T) {
	m := NewMachine(testLogger())
	newIncident(t, m, "INC-1")

	steps := []struct {
		gate string
		to   models.IncidentState
	}{
		{"detection", models.StateTriaging},
		{"triage", models.StateResponding},
		{"", models.StateRecovering},
		{"response", models.StateResolved},
		{"", models.StatePostMortem},
		{"resolution", models.StateClosed},
	}

	for _, step := range steps {
		if step.gate != "" {
			if _, err := m.CompleteGate("INC-1", step.gate); err != nil {
				t.Fatalf("complete gate %s: %v", step.gate, err)
			}
		}
		if _, err := m.TransitionTo("INC-1", step.to, "progressing", "oncall", nil); err != nil {
			t.Fatalf("transition to %s: %v", step.to, err)
		}
	}

	incident, err := m.Get("INC-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if incident.State != models.StateClosed {
		t.Fatalf("final state = %s", incident.State)
	}
	if len(incident.Transitions) != 7 {
		t.Fatalf("transitions = %d, want creation + 6", len(incident.Transitions))
	}
}

func TestRecoveringRegression(t *testing.T) {
	m := NewMachine(testLogger())
	newIncident(t, m, "INC-1")
	m.CompleteGate("INC-1", "detection")
	m.TransitionTo("INC-1", models.StateTriaging, "", "oncall", nil)
	m.CompleteGate("INC-1", "triage")
	m.TransitionTo("INC-1", models.StateResponding, "", "oncall", nil)
	m.TransitionTo("INC-1", models.StateRecovering, "", "oncall", nil)

	incident, err := m.TransitionTo("INC-1", models.StateResponding, "mitigation did not hold", "oncall", nil)
	if err != nil {
		t.Fatalf("regression to responding: %v", err)
	}
	if incident.State != models.StateResponding {
		t.Fatalf("state = %s", incident.State)
	}
}

func TestCompleteGateValidation(t *testing.T) {
	m := NewMachine(testLogger())
	newIncident(t, m, "INC-1")

	if _, err := m.CompleteGate("INC-1", "verification"); err == nil {
		t.Fatalf("expected error for unknown gate")
	}
	if _, err := m.CompleteGate("INC-404", "detection"); !errors.Is(err, ErrIncidentNotFound) {
		t.Fatalf("unknown incident err = %v", err)
	}

	// Completing twice stays completed.
	m.CompleteGate("INC-1", "detection")
	incident, err := m.CompleteGate("INC-1", "detection")
	if err != nil {
		t.Fatalf("repeat complete: %v", err)
	}
	if !incident.Gates.Detection {
		t.Fatalf("detection gate not set")
	}
}

func TestCallbacks(t *testing.T) {
	m := NewMachine(testLogger())

	var entered []models.IncidentState
	m.RegisterCallback(models.StateDetecting, func(incident *models.Incident) {
		entered = append(entered, incident.State)
	})
	m.RegisterCallback(models.StateTriaging, func(_ *models.Incident) {
		panic("callback exploded")
	})
	m.RegisterCallback(models.StateTriaging, func(incident *models.Incident) {
		entered = append(entered, incident.State)
	})

	newIncident(t, m, "INC-1")
	m.CompleteGate("INC-1", "detection")
	if _, err := m.TransitionTo("INC-1", models.StateTriaging, "", "oncall", nil); err != nil {
		t.Fatalf("transition: %v", err)
	}

	if len(entered) != 2 || entered[0] != models.StateDetecting || entered[1] != models.StateTriaging {
		t.Fatalf("callbacks ran = %v", entered)
	}

	// Callback mutations never touch machine state.
	m.RegisterCallback(models.StateResponding, func(incident *models.Incident) {
		incident.Title = "mutated"
	})
	m.CompleteGate("INC-1", "triage")
	if _, err := m.TransitionTo("INC-1", models.StateResponding, "", "oncall", nil); err != nil {
		t.Fatalf("transition: %v", err)
	}
	incident, _ := m.Get("INC-1")
	if incident.Title == "mutated" {
		t.Fatalf("callback mutated internal state")
	}
}

func TestByStateAndActive(t *testing.T) {
	m := NewMachine(testLogger())
	newIncident(t, m, "INC-1")
	newIncident(t, m, "INC-2")
	m.TransitionTo("INC-2", models.StateClosed, "noise", "oncall", nil)

	if got := m.ByState(models.StateDetecting); len(got) != 1 || got[0].IncidentID != "INC-1" {
		t.Fatalf("by state detecting = %d entries", len(got))
	}
	if got := m.Active(); len(got) != 1 || got[0].IncidentID != "INC-1" {
		t.Fatalf("active = %d entries", len(got))
	}
	if _, err := m.Get("INC-404"); !errors.Is(err, ErrIncidentNotFound) {
		t.Fatalf("get unknown err = %v", err)
	}
}
