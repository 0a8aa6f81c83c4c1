package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels operations that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels operations that failed.
	OutcomeError = "error"
)

var (
	eventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flare_relay",
			Name:      "events_ingested_total",
			Help:      "Events ingested, partitioned by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	ingestDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "flare_relay",
			Name:      "ingest_seconds",
			Help:      "Ingestion pipeline latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)

	handlerFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flare_relay",
			Name:      "handler_failures_total",
			Help:      "Event handler invocations that returned an error or panicked.",
		},
	)

	duplicateEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flare_relay",
			Name:      "duplicate_events_total",
			Help:      "Ingested events whose deterministic ID was already claimed today.",
		},
	)

	agentDispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flare_relay",
			Name:      "agent_dispatches_total",
			Help:      "Agent dispatch attempts, partitioned by agent and outcome.",
		},
		[]string{"agent", "outcome"},
	)

	routingDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flare_relay",
			Name:      "routing_decisions_total",
			Help:      "Routing decisions, partitioned by matching rule (or default).",
		},
		[]string{"rule"},
	)

	incidentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flare_relay",
			Name:      "incident_transitions_total",
			Help:      "Accepted incident state transitions, partitioned by target state.",
		},
		[]string{"to_state"},
	)
)

// Register attaches flare-relay collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		eventsIngestedTotal,
		ingestDurationSeconds,
		handlerFailuresTotal,
		duplicateEventsTotal,
		agentDispatchesTotal,
		routingDecisionsTotal,
		incidentTransitionsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveIngest records one ingestion attempt.
func ObserveIngest(source string, duration time.Duration, outcome string) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
	}
	eventsIngestedTotal.WithLabelValues(source, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	ingestDurationSeconds.Observe(duration.Seconds())
}

// ObserveHandlerFailure counts a failed event handler invocation.
func ObserveHandlerFailure() {
	handlerFailuresTotal.Inc()
}

// ObserveDuplicateEvent counts a same-day duplicate event ID.
func ObserveDuplicateEvent() {
	duplicateEventsTotal.Inc()
}

// ObserveDispatch counts one agent dispatch attempt.
func ObserveDispatch(agent string, ok bool) {
	outcome := OutcomeSuccess
	if !ok {
		outcome = OutcomeError
	}
	agentDispatchesTotal.WithLabelValues(agent, outcome).Inc()
}

// ObserveRoutingDecision counts one routing decision by winning rule.
func ObserveRoutingDecision(rule string) {
	routingDecisionsTotal.WithLabelValues(rule).Inc()
}

// ObserveTransition counts an accepted lifecycle transition.
func ObserveTransition(toState string) {
	incidentTransitionsTotal.WithLabelValues(toState).Inc()
}
