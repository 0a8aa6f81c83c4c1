package routing

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type rulePackFile struct {
	Rules []rulePackEntry `yaml:"rules"`
}

type rulePackEntry struct {
	Name           string     `yaml:"name"`
	Priority       int        `yaml:"priority"`
	Pattern        string     `yaml:"pattern"`
	Agent          string     `yaml:"agent"`
	Strategy       string     `yaml:"strategy"`
	Conditions     Conditions `yaml:"conditions"`
	TimeoutSeconds int        `yaml:"timeout_seconds"`
}

// LoadRules reads a YAML rule pack. A missing file yields nil rules so the
// caller can fall back to the built-in set.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rule pack: %w", err)
	}

	var file rulePackFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rule pack: %w", err)
	}

	rules := make([]Rule, 0, len(file.Rules))
	for _, entry := range file.Rules {
		strategy := entry.Strategy
		if strategy == "" {
			strategy = string(StrategySingle)
		}
		parsed, err := ParseStrategy(strategy)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", entry.Name, err)
		}
		rules = append(rules, Rule{
			Name:       entry.Name,
			Priority:   entry.Priority,
			Pattern:    entry.Pattern,
			Agent:      entry.Agent,
			Strategy:   parsed,
			Conditions: entry.Conditions,
			Timeout:    time.Duration(entry.TimeoutSeconds) * time.Second,
		})
	}
	return rules, nil
}

// DefaultRules returns the stock incident-response rule set used when no
// rule pack is configured.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "critical_to_incident_commander",
			Priority:   100,
			Pattern:    ".*",
			Agent:      "incident-commander",
			Strategy:   StrategySingle,
			Conditions: Conditions{Severity: StringMatch{"critical"}},
			Timeout:    120 * time.Second,
		},
		{
			Name:     "customer_report",
			Priority: 95,
			Pattern:  `customer\.report|customer.*complaint`,
			Agent:    "incident-commander",
			Strategy: StrategySingle,
			Timeout:  300 * time.Second,
		},
		{
			Name:       "security_incident",
			Priority:   90,
			Pattern:    "security|breach|attack|unauthorized",
			Agent:      "security-monitor",
			Strategy:   StrategyParallel,
			Conditions: Conditions{Severity: StringMatch{"high", "critical"}},
			Timeout:    60 * time.Second,
		},
		{
			Name:     "deployment_failure",
			Priority: 85,
			Pattern:  `deployment\.failed|rollback|deploy.*fail`,
			Agent:    "auto-remediator",
			Strategy: StrategySingle,
			Timeout:  60 * time.Second,
		},
		{
			Name:     "metric_anomaly",
			Priority: 80,
			Pattern:  `metric\.anomaly|anomaly.*detected`,
			Agent:    "anomaly-detector",
			Strategy: StrategySingle,
			Timeout:  300 * time.Second,
		},
		{
			Name:     "threshold_breach",
			Priority: 70,
			Pattern:  `metric\.threshold|threshold.*breach`,
			Agent:    "threshold-evaluator",
			Strategy: StrategySingle,
			Timeout:  300 * time.Second,
		},
		{
			Name:     "health_check_failed",
			Priority: 60,
			Pattern:  `health\.failed|health.*check.*fail`,
			Agent:    "health-checker",
			Strategy: StrategySingle,
			Timeout:  120 * time.Second,
		},
		{
			Name:     "manual_report",
			Priority: 50,
			Pattern:  `manual\.report`,
			Agent:    "event-classifier",
			Strategy: StrategySingle,
			Timeout:  300 * time.Second,
		},
		{
			Name:     "log_error",
			Priority: 40,
			Pattern:  `log\.error|error.*log`,
			Agent:    "log-analyzer",
			Strategy: StrategySingle,
			Timeout:  300 * time.Second,
		},
	}
}
