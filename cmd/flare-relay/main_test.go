package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/flarestack/flare-relay/internal/models"
	"github.com/flarestack/flare-relay/internal/routing"
)

func TestRegisterAgentsInstallsLoggingStubs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	router := routing.NewRouter(logger, "event-classifier")
	rules := routing.DefaultRules()
	if err := router.AddRules(rules); err != nil {
		t.Fatalf("add rules: %v", err)
	}
	registerAgents(router, rules, "event-classifier", logger)

	ev := &models.Event{
		EventID:  "EVT-20240309-abc123def456",
		Type:     models.EventTypeLogError,
		Severity: models.SeverityCritical,
		Source:   models.SourceWebhook,
		Title:    "errors spiking",
	}
	agents := router.Route(context.Background(), ev)
	if len(agents) == 0 {
		t.Fatalf("no agents dispatched")
	}

	out := buf.String()
	if !strings.Contains(out, "event delivered") {
		t.Fatalf("stub agent did not log delivery: %s", out)
	}
	if !strings.Contains(out, "event_type=log.error") {
		t.Fatalf("delivery log missing event type: %s", out)
	}
}
