package routing

import (
	"fmt"
	"regexp"
	"time"

	"github.com/flarestack/flare-relay/internal/models"
)

// Strategy controls how many of the resolved agents receive a routed event.
type Strategy string

const (
	StrategySingle     Strategy = "single"
	StrategyBroadcast  Strategy = "broadcast"
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
)

// ParseStrategy validates a raw strategy string.
func ParseStrategy(value string) (Strategy, error) {
	switch Strategy(value) {
	case StrategySingle, StrategyBroadcast, StrategySequential, StrategyParallel:
		return Strategy(value), nil
	}
	return "", fmt.Errorf("unknown dispatch strategy %q", value)
}

// StringMatch accepts either an exact value or set membership. In YAML it
// decodes from a scalar or a sequence.
type StringMatch []string

// UnmarshalYAML accepts `severity: critical` and `severity: [high, critical]`.
func (s *StringMatch) UnmarshalYAML(unmarshal func(any) error) error {
	var list []string
	if err := unmarshal(&list); err == nil {
		*s = list
		return nil
	}
	var scalar string
	if err := unmarshal(&scalar); err != nil {
		return err
	}
	*s = StringMatch{scalar}
	return nil
}

// Matches reports whether value equals any of the accepted values.
func (s StringMatch) Matches(value string) bool {
	for _, v := range s {
		if v == value {
			return true
		}
	}
	return false
}

// Conditions narrows a rule beyond its pattern: an optional severity
// constraint plus per-metadata-key constraints.
type Conditions struct {
	Severity StringMatch            `yaml:"severity"`
	Metadata map[string]StringMatch `yaml:"metadata"`
}

// Rule maps matching events to a target agent. Rules are evaluated in
// priority-descending order; equal priorities keep insertion order.
type Rule struct {
	Name       string
	Priority   int
	Pattern    string
	Agent      string
	Strategy   Strategy
	Conditions Conditions
	// Timeout is carried for each rule but not enforced by dispatch.
	// TODO: enforce per-rule timeouts once agent dispatch goes asynchronous.
	Timeout time.Duration

	typeRe  *regexp.Regexp
	titleRe *regexp.Regexp
}

func (r *Rule) compile() error {
	if r.Strategy == "" {
		r.Strategy = StrategySingle
	}
	if _, err := ParseStrategy(string(r.Strategy)); err != nil {
		return fmt.Errorf("rule %q: %w", r.Name, err)
	}
	typeRe, err := regexp.Compile(r.Pattern)
	if err != nil {
		return fmt.Errorf("rule %q: compile pattern: %w", r.Name, err)
	}
	titleRe, err := regexp.Compile("(?i)" + r.Pattern)
	if err != nil {
		return fmt.Errorf("rule %q: compile pattern: %w", r.Name, err)
	}
	r.typeRe = typeRe
	r.titleRe = titleRe
	return nil
}

// Matches reports whether the rule applies to the event: the pattern must
// match the event type or the title (case-insensitively), the severity
// condition must hold, and every metadata condition key must exist with an
// accepted value. A missing metadata key is a non-match.
func (r *Rule) Matches(ev *models.Event) bool {
	if !r.typeRe.MatchString(string(ev.Type)) && !r.titleRe.MatchString(ev.Title) {
		return false
	}

	if len(r.Conditions.Severity) > 0 && !r.Conditions.Severity.Matches(string(ev.Severity)) {
		return false
	}

	for key, want := range r.Conditions.Metadata {
		got, ok := ev.Metadata[key]
		if !ok {
			return false
		}
		if !want.Matches(fmt.Sprintf("%v", got)) {
			return false
		}
	}

	return true
}
