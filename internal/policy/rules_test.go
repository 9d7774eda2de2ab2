package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"go.uber.org/zap"
)

type staticSource struct {
	rs  *RuleSet
	err error
}

func (s *staticSource) Load(context.Context) (*RuleSet, error) { return s.rs, s.err }

func newEngine(t *testing.T) (*RuleEngine, *staticSource) {
	t.Helper()
	rs, err := ParseRuleSet([]byte(testRules))
	require.NoError(t, err)
	src := &staticSource{rs: rs}
	e := NewRuleEngine(src, nil, zap.NewNop())
	require.NoError(t, e.Refresh(context.Background()))
	return e, src
}

func ready() domain.SituationAnalysis {
	return domain.SituationAnalysis{AvailableExecutors: []string{"w-1"}}
}

func task(taskType string, tags ...string) *domain.Task {
	return &domain.Task{ID: "t", Type: taskType, Tags: tags}
}

func TestCheckFailsClosedBeforeLoad(t *testing.T) {
	e := NewRuleEngine(&staticSource{}, nil, zap.NewNop())
	res := e.Check(&domain.Situation{ID: "s", Task: task("research")}, ready())
	assert.False(t, res.Passed)
	assert.NotEmpty(t, res.Violations)
}

func TestMandatoryRules(t *testing.T) {
	e, _ := newEngine(t)

	tests := []struct {
		name       string
		s          *domain.Situation
		a          domain.SituationAnalysis
		violations []string
	}{
		{"clean", &domain.Situation{ID: "s", Task: task("research")}, ready(), nil},
		{"deletion without authorization", &domain.Situation{ID: "s", Task: task("cleanup", "data_deletion")}, ready(),
			[]string{RuleNoAutonomousDataDeletion}},
		{"deletion authorized", &domain.Situation{ID: "s", Task: task("data_deletion"),
			Context: map[string]any{"deletion_authorized": true}}, ready(), nil},
		{"deletion approved by human", withApproval(&domain.Situation{ID: "s", Task: task("data_deletion")}, "esc-1"), ready(), nil},
		{"approval key in context is just data", &domain.Situation{ID: "s", Task: task("data_deletion"),
			Context: map[string]any{"human_approval": "esc-1"}}, ready(), []string{RuleNoAutonomousDataDeletion}},
		{"finalization not validated", &domain.Situation{ID: "s", Task: task("release")}, ready(),
			[]string{RuleNoUnvalidatedFinalization}},
		{"finalization validated", &domain.Situation{ID: "s", Task: task("release"),
			Context: map[string]any{KeyValidated: "true"}}, ready(), nil},
		{"over budget", &domain.Situation{ID: "s", Task: task("purchase"),
			Context: map[string]any{"amount": 1200.0, "budget_ceiling": 1000.0}}, ready(), []string{RuleBudgetCeiling}},
		{"at budget", &domain.Situation{ID: "s", Task: task("purchase"),
			Context: map[string]any{"amount": 1000.0, "budget_ceiling": 1000.0}}, ready(), nil},
		{"all violated at once", &domain.Situation{ID: "s", Task: task("release", "data_deletion"),
			Context: map[string]any{"amount": 5, "budget_ceiling": 1}}, domain.SituationAnalysis{},
			[]string{RuleNoUnvalidatedFinalization, RuleNoAutonomousDataDeletion, RuleBudgetCeiling, RuleExecutorAvailable}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Check(tt.s, tt.a)
			assert.Equal(t, len(tt.violations) == 0, res.Passed)
			assert.Equal(t, tt.violations, res.Violations)
		})
	}
}

func TestConfigurableRules(t *testing.T) {
	e, _ := newEngine(t)

	res := e.Check(&domain.Situation{ID: "s", Task: task("brand_change")}, ready())
	assert.True(t, res.Passed)
	assert.Equal(t, []string{"brand_review"}, res.EscalateMatches)

	res = e.Check(&domain.Situation{ID: "s", Task: task("research", "brand")}, ready())
	assert.Equal(t, []string{"brand_review"}, res.EscalateMatches)
	assert.Equal(t, []string{"routine_lookup"}, res.AutonomousMatches, "both lists are reported, precedence is the policy's job")

	// Правило отдела применяется только к своему типу задач
	res = e.Check(&domain.Situation{ID: "s", Task: task("marketing", "payout")}, ready())
	assert.Empty(t, res.EscalateMatches)
	res = e.Check(&domain.Situation{ID: "s", Task: task("finance_ops", "payout")}, ready())
	assert.Equal(t, []string{"finance_payouts"}, res.EscalateMatches)

	// После одобрения человеком always_escalate не срабатывает повторно
	res = e.Check(withApproval(&domain.Situation{ID: "s", Task: task("brand_change")}, "esc-9"), ready())
	assert.Empty(t, res.EscalateMatches)
	assert.Equal(t, "esc-9", res.HumanApproval)
}

func TestConfigurableRulesSkippedOnViolation(t *testing.T) {
	e, _ := newEngine(t)
	res := e.Check(&domain.Situation{ID: "s", Task: task("brand_change")}, domain.SituationAnalysis{})
	assert.False(t, res.Passed)
	assert.Empty(t, res.EscalateMatches)
}

func TestRefreshKeepsPreviousOnError(t *testing.T) {
	e, src := newEngine(t)
	src.rs, src.err = nil, errors.New("broken file")

	require.Error(t, e.Refresh(context.Background()))
	res := e.Check(&domain.Situation{ID: "s", Task: task("brand_change")}, ready())
	assert.True(t, res.Passed)
	assert.NotEmpty(t, res.EscalateMatches)
}

func withApproval(s *domain.Situation, escalationID string) *domain.Situation {
	s.MarkApproved(escalationID)
	return s
}
