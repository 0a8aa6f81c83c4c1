package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/flarestack/flare-relay/internal/metrics"
	"github.com/flarestack/flare-relay/internal/models"
)

// AgentFunc handles one routed event. Agent execution itself is an external
// concern; the router only records acceptance or rejection.
type AgentFunc func(ctx context.Context, ev *models.Event) error

// GroupResolver expands a rule target into the ordered set of candidate
// agents for broadcast, sequential and parallel strategies.
type GroupResolver interface {
	Resolve(target string) []string
}

type singleMemberResolver struct{}

func (singleMemberResolver) Resolve(target string) []string { return []string{target} }

// Decision records one routing outcome.
type Decision struct {
	EventID   string           `json:"event_id"`
	EventType models.EventType `json:"event_type"`
	RoutedTo  []string         `json:"routed_to"`
	Rule      string           `json:"matching_rule"`
	Timestamp string           `json:"timestamp"`
}

// Stats aggregates the routing history.
type Stats struct {
	TotalRouted       int            `json:"total_routed"`
	AgentDistribution map[string]int `json:"agent_distribution"`
	MostCommon        string         `json:"most_common,omitempty"`
	MostCommonCount   int            `json:"most_common_count,omitempty"`
}

// Router matches events against prioritized rules and dispatches them to
// registered agents. Rules, agents and history are instance state.
type Router struct {
	logger       *slog.Logger
	mu           sync.Mutex
	rules        []*Rule
	agents       map[string]AgentFunc
	history      []Decision
	defaultAgent string
	resolver     GroupResolver
}

// RouterOption customises a Router.
type RouterOption func(*Router)

// WithGroupResolver plugs in group expansion for rule targets.
func WithGroupResolver(r GroupResolver) RouterOption {
	return func(rt *Router) { rt.resolver = r }
}

// NewRouter constructs a router falling back to defaultAgent when no rule
// matches or a sequential chain rejects everywhere.
func NewRouter(logger *slog.Logger, defaultAgent string, opts ...RouterOption) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultAgent == "" {
		defaultAgent = "event-classifier"
	}
	r := &Router{
		logger:       logger,
		agents:       make(map[string]AgentFunc),
		defaultAgent: defaultAgent,
		resolver:     singleMemberResolver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddRule compiles and inserts a rule, restoring priority-descending order.
// Equal priorities keep their relative insertion order.
func (r *Router) AddRule(rule Rule) error {
	if err := rule.compile(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, &rule)
	sort.SliceStable(r.rules, func(i, j int) bool {
		return r.rules[i].Priority > r.rules[j].Priority
	})
	return nil
}

// AddRules inserts several rules, stopping at the first invalid one.
func (r *Router) AddRules(rules []Rule) error {
	for _, rule := range rules {
		if err := r.AddRule(rule); err != nil {
			return err
		}
	}
	return nil
}

// RegisterAgent associates a name with a handler.
func (r *Router) RegisterAgent(name string, fn AgentFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[name] = fn
}

// Rules returns the rule set in evaluation order.
func (r *Router) Rules() []Rule {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, *rule)
	}
	return out
}

// Route dispatches the event according to the single highest-priority
// matching rule; lower-priority matches are discarded even when they match.
// Events matching no rule go to the default agent. Returns the agent names
// the event was routed to.
func (r *Router) Route(ctx context.Context, ev *models.Event) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var winner *Rule
	for _, rule := range r.rules {
		if rule.Matches(ev) {
			winner = rule
			break
		}
	}

	var routed []string
	ruleName := "default"
	if winner == nil {
		r.dispatch(ctx, ev, r.defaultAgent)
		routed = append(routed, r.defaultAgent)
	} else {
		ruleName = winner.Name
		routed = r.execute(ctx, ev, winner)
	}

	r.history = append(r.history, Decision{
		EventID:   ev.EventID,
		EventType: ev.Type,
		RoutedTo:  routed,
		Rule:      ruleName,
		Timestamp: ev.Timestamp.Format(time.RFC3339Nano),
	})
	metrics.ObserveRoutingDecision(ruleName)

	return routed
}

func (r *Router) execute(ctx context.Context, ev *models.Event, rule *Rule) []string {
	switch rule.Strategy {
	case StrategyBroadcast:
		group := r.resolver.Resolve(rule.Agent)
		for _, agent := range group {
			r.dispatch(ctx, ev, agent)
		}
		return group

	case StrategySequential:
		for _, agent := range r.resolver.Resolve(rule.Agent) {
			if r.dispatch(ctx, ev, agent) {
				return []string{agent}
			}
		}
		r.dispatch(ctx, ev, r.defaultAgent)
		return []string{r.defaultAgent}

	case StrategyParallel:
		group := r.resolver.Resolve(rule.Agent)
		var wg sync.WaitGroup
		for _, agent := range group {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				r.dispatch(ctx, ev, name)
			}(agent)
		}
		wg.Wait()
		return group

	default: // StrategySingle
		r.dispatch(ctx, ev, rule.Agent)
		return []string{rule.Agent}
	}
}

// dispatch invokes a single named agent. An unregistered name or a handler
// error is a soft failure: logged, reported false, never raised.
func (r *Router) dispatch(ctx context.Context, ev *models.Event, name string) bool {
	fn, ok := r.agents[name]
	if !ok {
		r.logger.Warn("agent not registered", slog.String("agent", name), slog.String("event_id", ev.EventID))
		metrics.ObserveDispatch(name, false)
		return false
	}
	if err := invokeAgent(ctx, fn, ev); err != nil {
		r.logger.Warn("agent dispatch failed",
			slog.String("agent", name),
			slog.String("event_id", ev.EventID),
			slog.Any("error", err))
		metrics.ObserveDispatch(name, false)
		return false
	}
	metrics.ObserveDispatch(name, true)
	return true
}

func invokeAgent(ctx context.Context, fn AgentFunc, ev *models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent panic: %v", r)
		}
	}()
	return fn(ctx, ev)
}

// History returns a copy of the routing decisions made so far.
func (r *Router) History() []Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Decision(nil), r.history...)
}

// RoutingStats aggregates the decision history into totals and per-agent counts.
func (r *Router) RoutingStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		TotalRouted:       len(r.history),
		AgentDistribution: make(map[string]int),
	}
	for _, decision := range r.history {
		for _, agent := range decision.RoutedTo {
			stats.AgentDistribution[agent]++
		}
	}
	for agent, count := range stats.AgentDistribution {
		if count > stats.MostCommonCount || (count == stats.MostCommonCount && agent < stats.MostCommon) {
			stats.MostCommon = agent
			stats.MostCommonCount = count
		}
	}
	return stats
}
