package policy

import (
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
)

// Встроенные обязательные правила. Конфигурация задает параметры, но не может их отключить.
const (
	RuleNoUnvalidatedFinalization = "no_unvalidated_finalization"
	RuleNoAutonomousDataDeletion  = "no_autonomous_data_deletion"
	RuleBudgetCeiling             = "budget_ceiling"
	RuleExecutorAvailable         = "executor_available"

	// ruleNotLoaded: правила еще не загружены, работаем в режиме fail-closed
	ruleNotLoaded = "rules_not_loaded"
)

// KeyValidated: флаг контекста: результат уже прошел валидацию
const KeyValidated = "validated"

var BuiltinRuleIDs = []string{
	RuleNoUnvalidatedFinalization,
	RuleNoAutonomousDataDeletion,
	RuleBudgetCeiling,
	RuleExecutorAvailable,
}

// MandatoryRule: чистый предикат над ситуацией и анализом.
type MandatoryRule struct {
	ID       string
	Violated func(s *domain.Situation, a domain.SituationAnalysis) bool
}

func compileMandatory(defs []MandatoryDef) []MandatoryRule {
	byID := make(map[string]MandatoryDef, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}

	// Порядок фиксирован, не зависит от порядка в файле
	rules := make([]MandatoryRule, 0, len(BuiltinRuleIDs))
	for _, id := range BuiltinRuleIDs {
		d := byID[id]
		switch id {
		case RuleNoUnvalidatedFinalization:
			rules = append(rules, MandatoryRule{ID: id, Violated: func(s *domain.Situation, _ domain.SituationAnalysis) bool {
				if !d.selects(s.Task) {
					return false
				}
				_, approved := s.HumanApproval()
				return !approved && !s.Flag(KeyValidated)
			}})
		case RuleNoAutonomousDataDeletion:
			rules = append(rules, MandatoryRule{ID: id, Violated: func(s *domain.Situation, _ domain.SituationAnalysis) bool {
				if !d.selects(s.Task) {
					return false
				}
				_, approved := s.HumanApproval()
				authorized := d.AuthorizationKey != "" && s.Flag(d.AuthorizationKey)
				return !approved && !authorized
			}})
		case RuleBudgetCeiling:
			rules = append(rules, MandatoryRule{ID: id, Violated: func(s *domain.Situation, _ domain.SituationAnalysis) bool {
				amount, ok := s.Float(d.AmountKey)
				if !ok {
					return false
				}
				ceiling, ok := s.Float(d.CeilingKey)
				return ok && amount > ceiling
			}})
		case RuleExecutorAvailable:
			rules = append(rules, MandatoryRule{ID: id, Violated: func(_ *domain.Situation, a domain.SituationAnalysis) bool {
				return len(a.AvailableExecutors) == 0
			}})
		}
	}
	return rules
}

func (d MandatoryDef) selects(t *domain.Task) bool {
	if containsFold(d.TaskTypes, t.Type) {
		return true
	}
	for _, tag := range d.Tags {
		if t.HasTag(tag) {
			return true
		}
	}
	return false
}
