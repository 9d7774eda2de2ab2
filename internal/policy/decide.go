package policy

import (
	"fmt"
	"strings"

	"github.com/xela07ax/spaceai-autonomy/internal/domain"
)

// Имена правил решения (попадают в Decision.MatchedRule)
const (
	DecideMandatoryViolation = "mandatory_violation"
	DecideHumanApproved      = "human_approved"
	DecideAlwaysEscalate     = "always_escalate"
	DecideAlwaysAutonomous   = "always_autonomous"
	DecideConfidentLowRisk   = "confident_low_risk"
	DecideConfidentMedRisk   = "confident_medium_risk"
	DecideValidatedLowRisk   = "validated_low_risk"
	DecideSevereRisk         = "severe_risk"
	DecideBelowMinimum       = "below_minimum"
	DecideDefault            = "default_escalation"
)

type decisionInput struct {
	confidence domain.ConfidenceScore
	risk       domain.RiskAssessment
	rules      domain.RulesCheck
	th         domain.Thresholds
}

type outcome struct {
	action domain.Action
	level  domain.AutonomyLevel
}

var (
	autonomous = outcome{domain.ActionExecuteAutonomously, domain.LevelFull}
	validated  = outcome{domain.ActionExecuteWithValidation, domain.LevelValidated}
	consulted  = outcome{domain.ActionExecuteWithValidation, domain.LevelConsult}
	escalate   = outcome{domain.ActionEscalateToHuman, domain.LevelNone}
)

// decisionRule: типизированная пара предикат -> исход.
type decisionRule struct {
	name    string
	when    func(in decisionInput) bool
	then    outcome
	explain func(in decisionInput) string
}

// decisionRules: порядок правил и есть политика: первое совпадение побеждает.
var decisionRules = []decisionRule{
	{
		name: DecideMandatoryViolation,
		when: func(in decisionInput) bool { return !in.rules.Passed },
		then: escalate,
		explain: func(in decisionInput) string {
			return "mandatory rule violated: " + strings.Join(in.rules.Violations, ", ")
		},
	},
	{
		// Одобрение человека снимает эскалацию, но не проверку результата
		name: DecideHumanApproved,
		when: func(in decisionInput) bool { return in.rules.HumanApproval != "" },
		then: consulted,
		explain: func(in decisionInput) string {
			return "approved by human in escalation " + in.rules.HumanApproval
		},
	},
	{
		name: DecideAlwaysEscalate,
		when: func(in decisionInput) bool { return len(in.rules.EscalateMatches) > 0 },
		then: escalate,
		explain: func(in decisionInput) string {
			return "always_escalate rule matched: " + strings.Join(in.rules.EscalateMatches, ", ")
		},
	},
	{
		name: DecideAlwaysAutonomous,
		when: func(in decisionInput) bool {
			return len(in.rules.AutonomousMatches) > 0 && !in.risk.Level.Severe()
		},
		then: autonomous,
		explain: func(in decisionInput) string {
			return "always_autonomous rule matched: " + strings.Join(in.rules.AutonomousMatches, ", ")
		},
	},
	{
		name: DecideConfidentLowRisk,
		when: func(in decisionInput) bool {
			return in.confidence.Score > in.th.Autonomous && in.risk.Level == domain.RiskLow
		},
		then: autonomous,
		explain: func(in decisionInput) string {
			return fmt.Sprintf("confidence %.2f above autonomous threshold %.2f with low risk", in.confidence.Score, in.th.Autonomous)
		},
	},
	{
		name: DecideConfidentMedRisk,
		when: func(in decisionInput) bool {
			return in.confidence.Score > in.th.Autonomous && in.risk.Level == domain.RiskMedium
		},
		then: validated,
		explain: func(in decisionInput) string {
			return fmt.Sprintf("confidence %.2f above autonomous threshold %.2f but risk is medium, result must be validated",
				in.confidence.Score, in.th.Autonomous)
		},
	},
	{
		name: DecideValidatedLowRisk,
		when: func(in decisionInput) bool {
			return in.confidence.Score > in.th.Validated && in.risk.Level == domain.RiskLow
		},
		then: validated,
		explain: func(in decisionInput) string {
			return fmt.Sprintf("confidence %.2f above validated threshold %.2f with low risk, result must be validated",
				in.confidence.Score, in.th.Validated)
		},
	},
	{
		name: DecideSevereRisk,
		when: func(in decisionInput) bool { return in.risk.Level.Severe() },
		then: escalate,
		explain: func(in decisionInput) string {
			return fmt.Sprintf("%s risk %.2f driven by %s", in.risk.Level, in.risk.Score, strings.Join(in.risk.Dominant, ", "))
		},
	},
	{
		name: DecideBelowMinimum,
		when: func(in decisionInput) bool { return in.confidence.Score < in.th.Minimum },
		then: escalate,
		explain: func(in decisionInput) string {
			return fmt.Sprintf("confidence %.2f below minimum threshold %.2f", in.confidence.Score, in.th.Minimum)
		},
	},
	{
		name:    DecideDefault,
		when:    func(decisionInput) bool { return true },
		then:    escalate,
		explain: func(decisionInput) string { return "insufficient confidence or unresolved risk" },
	},
}

// Decide: чистая функция: одинаковые входы дают одинаковое решение.
func Decide(c domain.ConfidenceScore, r domain.RiskAssessment, rc domain.RulesCheck, th domain.Thresholds) domain.Decision {
	in := decisionInput{confidence: c, risk: r, rules: rc, th: th}
	for _, rule := range decisionRules {
		if !rule.when(in) {
			continue
		}
		return domain.Decision{
			Action:             rule.then.action,
			Level:              rule.then.level,
			Confidence:         c,
			Risk:               r,
			Rules:              rc,
			Reason:             rule.explain(in),
			RequiresValidation: rule.then.action == domain.ActionExecuteWithValidation,
			MatchedRule:        rule.name,
		}
	}
	// Недостижимо: последнее правило срабатывает всегда
	panic("policy: decision rules exhausted")
}

// RuleOrder: имена правил решения в порядке проверки.
func RuleOrder() []string {
	names := make([]string, len(decisionRules))
	for i, r := range decisionRules {
		names[i] = r.name
	}
	return names
}
