package infra

import (
	"errors"
	"fmt"
)

// ConfigError: фатальная ошибка конфигурации. Движок не стартует.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate проверяет инварианты конфигурации и возвращает все найденные ошибки разом.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	a := c.Autonomy
	t := a.Thresholds

	// Веса не перенормируем: сумма, отличная от 1.0, — ошибка оператора
	w := a.Weights
	for name, val := range map[string]float64{
		"historical": w.Historical, "reliability": w.Reliability, "complexity": w.Complexity,
		"clarity": w.Clarity, "resources": w.Resources, "context": w.Context,
	} {
		if val < 0 {
			add("autonomy.weights."+name, "weight must be non-negative, got %v", val)
		}
	}
	if !w.Balanced() {
		add("autonomy.weights", "weights must sum to 1.0, got %v", w.Sum())
	}

	for name, val := range map[string]float64{
		"autonomous": t.Autonomous, "validated": t.Validated, "minimum": t.Minimum,
		"risk_high": t.RiskHigh, "risk_medium": t.RiskMedium,
	} {
		if val < 0 || val > 1 {
			add("autonomy.thresholds."+name, "must be within [0,1], got %v", val)
		}
	}
	if t.Minimum > t.Validated {
		add("autonomy.thresholds.minimum", "minimum (%v) must not exceed validated (%v)", t.Minimum, t.Validated)
	}
	if t.Validated > t.Autonomous {
		add("autonomy.thresholds.validated", "validated (%v) must not exceed autonomous (%v)", t.Validated, t.Autonomous)
	}
	if t.Minimum > t.Autonomous {
		add("autonomy.thresholds.minimum", "minimum (%v) must not exceed autonomous (%v)", t.Minimum, t.Autonomous)
	}
	if !(t.RiskMedium < t.RiskHigh && t.RiskHigh < a.RiskCritical && a.RiskCritical <= 1) {
		add("autonomy.thresholds.risk_high", "risk cut points must satisfy risk_medium < risk_high < risk_critical <= 1, got %v/%v/%v",
			t.RiskMedium, t.RiskHigh, a.RiskCritical)
	}

	l := a.Learning
	if l.RelaxStep <= 0 || l.TightenStep <= 0 {
		add("autonomy.learning", "steps must be positive, got relax=%v tighten=%v", l.RelaxStep, l.TightenStep)
	}
	if l.TightenStep <= l.RelaxStep {
		add("autonomy.learning.tighten_step", "tighten step (%v) must exceed relax step (%v)", l.TightenStep, l.RelaxStep)
	}
	if l.Floor >= l.Ceiling || l.Floor < 0 || l.Ceiling > 1 {
		add("autonomy.learning", "floor/ceiling must satisfy 0 <= floor < ceiling <= 1, got %v/%v", l.Floor, l.Ceiling)
	}
	if t.Autonomous < l.Floor || t.Autonomous > l.Ceiling {
		add("autonomy.thresholds.autonomous", "initial value %v outside learning bounds [%v, %v]", t.Autonomous, l.Floor, l.Ceiling)
	}

	if a.NeutralConfidence < 0 || a.NeutralConfidence > 1 {
		add("autonomy.neutral_confidence", "must be within [0,1], got %v", a.NeutralConfidence)
	}
	if a.HistoryLimit <= 0 {
		add("autonomy.history_limit", "must be positive, got %d", a.HistoryLimit)
	}
	if a.RulesFile == "" {
		add("autonomy.rules_file", "rules file with mandatory rule definitions is required")
	}
	if a.FinancialCeiling <= 0 {
		add("autonomy.financial_ceiling", "must be positive, got %v", a.FinancialCeiling)
	}

	if c.Engine.TaskTimeout <= 0 {
		add("engine.task_timeout", "must be positive, got %v", c.Engine.TaskTimeout)
	}
	if c.Engine.MaxReassignments < 0 {
		add("engine.max_reassignments", "must be non-negative, got %d", c.Engine.MaxReassignments)
	}

	return errors.Join(errs...)
}
