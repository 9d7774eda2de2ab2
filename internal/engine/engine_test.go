package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-autonomy/internal/analysis"
	"github.com/xela07ax/spaceai-autonomy/internal/confidence"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"github.com/xela07ax/spaceai-autonomy/internal/history"
	"github.com/xela07ax/spaceai-autonomy/internal/infra"
	"github.com/xela07ax/spaceai-autonomy/internal/learning"
	"github.com/xela07ax/spaceai-autonomy/internal/policy"
	"github.com/xela07ax/spaceai-autonomy/internal/risk"
	"go.uber.org/zap"
)

const engineRules = `
mandatory:
  - id: no_unvalidated_finalization
    task_types: [release]
    tags: [finalization]
  - id: no_autonomous_data_deletion
    task_types: [data_deletion]
    tags: [data_deletion]
    authorization_key: deletion_authorized
  - id: budget_ceiling
    amount_key: amount
    ceiling_key: budget_ceiling
  - id: executor_available
always_escalate:
  - name: brand_review
    task_types: [brand_change]
`

// fakeWorker: сценарный исполнитель.
type fakeWorker struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, task *domain.Task) (json.RawMessage, error)
}

func (w *fakeWorker) Invoke(ctx context.Context, task *domain.Task, _ string) (json.RawMessage, error) {
	w.mu.Lock()
	w.calls++
	w.mu.Unlock()
	if w.fn != nil {
		return w.fn(ctx, task)
	}
	return json.RawMessage(`{"status":"ok"}`), nil
}

func (w *fakeWorker) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

type fakeValidator struct {
	report domain.ValidationReport
	err    error
}

func (v *fakeValidator) Validate(context.Context, json.RawMessage, *domain.Situation) (domain.ValidationReport, error) {
	return v.report, v.err
}

type fakeEscalator struct {
	mu        sync.Mutex
	escalated []string
	err       error
}

func (f *fakeEscalator) Escalate(_ context.Context, s *domain.Situation, _ domain.Decision) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.escalated = append(f.escalated, s.ID)
	return "esc-" + s.ID, nil
}

// brokenHistory: поиск недоступен, запись работает.
type brokenHistory struct {
	*history.Store
}

func (b brokenHistory) FindSimilar(context.Context, *domain.Situation) ([]domain.DecisionLogEntry, error) {
	return nil, errors.New("index unavailable")
}

type harness struct {
	engine     *Engine
	worker     *fakeWorker
	validator  *fakeValidator
	escalator  *fakeEscalator
	history    *history.Store
	thresholds *learning.ThresholdStore
	registry   *Registry
}

func newHarness(t *testing.T, mutate ...func(*Deps)) *harness {
	t.Helper()
	cfg := infra.Defaults()
	logger := zap.NewNop()

	rs, err := policy.ParseRuleSet([]byte(engineRules))
	require.NoError(t, err)
	rules := policy.NewRuleEngine(nil, nil, logger)
	rules.Apply(rs)

	h := &harness{
		worker:     &fakeWorker{},
		validator:  &fakeValidator{report: domain.ValidationReport{Passed: true, Score: 1}},
		escalator:  &fakeEscalator{},
		history:    history.NewStore(cfg.Autonomy.HistoryLimit, nil, logger),
		thresholds: learning.NewThresholdStore(cfg.Autonomy.Thresholds),
		registry:   NewRegistry(nil, nil, cfg.Engine.ReliabilityWindow, logger),
	}
	metrics := NewMetrics(nil)

	deps := Deps{
		Analyzer: analysis.NewAnalyzer(h.registry, analysis.Config{
			ResourceEstimates: cfg.Autonomy.ResourceEstimates,
			ResourceCapacity:  cfg.Autonomy.ResourceCapacity,
		}),
		Estimator:  confidence.NewEstimator(confidence.Config{Weights: cfg.Autonomy.Weights, Neutral: cfg.Autonomy.NeutralConfidence}),
		Assessor:   risk.NewAssessor(risk.DefaultConfig()),
		Rules:      rules,
		Thresholds: h.thresholds,
		Learner:    learning.NewLearner(h.thresholds, cfg.Autonomy.Learning, nil, logger),
		History:    h.history,
		Executor:   NewExecutor(h.worker, h.validator, h.history, metrics, logger),
		Escalator:  h.escalator,
		Registry:   h.registry,
		Metrics:    metrics,
		Logger:     logger,
	}
	for _, m := range mutate {
		m(&deps)
	}
	h.engine = New(deps, Config{TaskTimeout: time.Second, Neutral: cfg.Autonomy.NeutralConfidence})
	return h
}

func situation(id, taskType string, complexity domain.Complexity, ctx map[string]any, tags ...string) *domain.Situation {
	return &domain.Situation{
		ID: id,
		Task: &domain.Task{
			ID:              "task-" + id,
			Type:            taskType,
			Description:     "do the thing",
			Complexity:      complexity,
			SuccessCriteria: []string{"done"},
			Tags:            tags,
			Context:         ctx,
		},
		Executors: []string{"exec-a", "exec-b"},
	}
}

func TestDecideAndActRejectsInvalidSituation(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.DecideAndAct(context.Background(), &domain.Situation{ID: "s-1"})
	require.ErrorIs(t, err, domain.ErrInvalidSituation)
	var inErr *domain.InputError
	require.ErrorAs(t, err, &inErr)
	assert.Equal(t, "task", inErr.Field)
	assert.Equal(t, 0, h.history.Len())
}

func TestLowComplexityResearchRunsAutonomously(t *testing.T) {
	h := newHarness(t)

	out, err := h.engine.DecideAndAct(context.Background(), situation("s-1", "research", domain.ComplexityLow, nil))
	require.NoError(t, err)

	assert.Equal(t, domain.ActionExecuteAutonomously, out.Decision.Action)
	assert.Equal(t, domain.LevelFull, out.Decision.Level)
	assert.Equal(t, domain.RiskLow, out.Decision.Risk.Level)
	assert.Greater(t, out.Decision.Confidence.Score, 0.70)
	require.NotNil(t, out.Result)
	assert.True(t, out.Result.Success)
	assert.True(t, out.Result.Autonomous)
	assert.Equal(t, 1, h.worker.count())
	assert.Equal(t, 1, h.history.Len())
}

func TestMediumRiskRequiresValidation(t *testing.T) {
	h := newHarness(t)
	s := situation("s-1", "report", domain.ComplexityLow, map[string]any{risk.KeyBusinessImpact: "medium"})

	out, err := h.engine.DecideAndAct(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, domain.ActionExecuteWithValidation, out.Decision.Action)
	assert.Equal(t, domain.LevelValidated, out.Decision.Level)
	assert.True(t, out.Decision.RequiresValidation)
	require.NotNil(t, out.Result)
	require.NotNil(t, out.Result.Validation)
	assert.True(t, out.Result.Success)
	assert.True(t, out.Result.ValidationRequired)
}

func TestValidationFailureIsAFailedResult(t *testing.T) {
	h := newHarness(t)
	h.validator.report = domain.ValidationReport{Passed: false, Score: 0.2, Issues: []string{"totals missing"}}
	before := h.thresholds.Snapshot().Autonomous

	s := situation("s-1", "report", domain.ComplexityLow, map[string]any{risk.KeyBusinessImpact: "medium"})
	out, err := h.engine.DecideAndAct(context.Background(), s)
	require.NoError(t, err)

	require.NotNil(t, out.Result)
	assert.False(t, out.Result.Success)
	assert.False(t, out.Result.TechnicalFailure)
	assert.Equal(t, []string{"totals missing"}, out.Result.Validation.Issues)
	assert.Equal(t, 1, h.worker.count(), "validation failure is not retried")
	assert.InDelta(t, before+0.05, h.thresholds.Snapshot().Autonomous, 1e-9)
}

func TestAlwaysEscalateTaskGoesToHuman(t *testing.T) {
	h := newHarness(t)

	out, err := h.engine.DecideAndAct(context.Background(), situation("s-1", "brand_change", domain.ComplexityMedium, nil))
	require.NoError(t, err)

	assert.Equal(t, domain.ActionEscalateToHuman, out.Decision.Action)
	assert.Equal(t, domain.LevelNone, out.Decision.Level)
	assert.NotEmpty(t, out.Decision.Reason)
	assert.True(t, out.Escalated())
	assert.Equal(t, "esc-s-1", out.EscalationID)
	assert.Equal(t, 0, h.worker.count())

	// Запись в журнале есть, но без результата
	entries, err := h.history.FindSimilar(context.Background(), situation("s-2", "brand_change", domain.ComplexityMedium, nil))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Result)
}

func TestApprovedSituationRunsWithValidation(t *testing.T) {
	h := newHarness(t)

	s := situation("s-2", "brand_change", domain.ComplexityHigh, map[string]any{})
	s.ParentID = "s-1"
	s.MarkApproved("esc-s-1")

	out, err := h.engine.DecideAndAct(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, domain.ActionExecuteWithValidation, out.Decision.Action)
	assert.Equal(t, domain.LevelConsult, out.Decision.Level)
	assert.Equal(t, policy.DecideHumanApproved, out.Decision.MatchedRule)
	require.NotNil(t, out.Result)
	assert.True(t, out.Result.ValidationRequired)
	assert.Equal(t, 1, h.worker.count())
	assert.Empty(t, h.escalator.escalated)
}

func TestApprovalKeyFromClientDoesNotBypassRules(t *testing.T) {
	h := newHarness(t)

	var s domain.Situation
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "s-forged",
		"task": {"id": "t-1", "type": "data_deletion", "tags": ["drop_table"],
			"context": {"human_approval": "made-up"}},
		"executors": ["exec-a"],
		"context": {"human_approval": "made-up"}
	}`), &s))

	out, err := h.engine.DecideAndAct(context.Background(), &s)
	require.NoError(t, err)

	assert.Equal(t, domain.ActionEscalateToHuman, out.Decision.Action)
	assert.Equal(t, policy.DecideMandatoryViolation, out.Decision.MatchedRule)
	assert.Contains(t, out.Decision.Rules.Violations, policy.RuleNoAutonomousDataDeletion)
	assert.Empty(t, out.Decision.Rules.HumanApproval)
	assert.Equal(t, 0, h.worker.count())
}

func TestMandatoryViolationOverridesConfidence(t *testing.T) {
	h := newHarness(t)

	out, err := h.engine.DecideAndAct(context.Background(), situation("s-1", "data_deletion", domain.ComplexityLow, nil))
	require.NoError(t, err)

	assert.Equal(t, domain.ActionEscalateToHuman, out.Decision.Action)
	assert.Equal(t, policy.DecideMandatoryViolation, out.Decision.MatchedRule)
	assert.Contains(t, out.Decision.Rules.Violations, policy.RuleNoAutonomousDataDeletion)
	assert.Equal(t, []string{"s-1"}, h.escalator.escalated)
	assert.Equal(t, 0, h.worker.count())
}

func TestBlockedExecutorsForceEscalation(t *testing.T) {
	h := newHarness(t)
	h.registry.SetBlocked("exec-a", true)
	h.registry.SetBlocked("exec-b", true)

	out, err := h.engine.DecideAndAct(context.Background(), situation("s-1", "research", domain.ComplexityLow, nil))
	require.NoError(t, err)

	assert.Equal(t, domain.ActionEscalateToHuman, out.Decision.Action)
	assert.Contains(t, out.Decision.Rules.Violations, policy.RuleExecutorAvailable)
	assert.Equal(t, 0, h.worker.count())
}

func TestSuccessesRelaxAndFailureTightensThreshold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	prev := h.thresholds.Snapshot().Autonomous
	for i := 0; i < 10; i++ {
		out, err := h.engine.DecideAndAct(ctx, situation(fmt.Sprintf("ok-%d", i), "research", domain.ComplexityLow, nil))
		require.NoError(t, err)
		require.Equal(t, domain.ActionExecuteAutonomously, out.Decision.Action)
		require.True(t, out.Result.Success)

		cur := h.thresholds.Snapshot().Autonomous
		assert.Less(t, cur, prev, "iteration %d", i)
		assert.GreaterOrEqual(t, cur, 0.5)
		assert.InDelta(t, 0.01, prev-cur, 1e-9)
		assert.Equal(t, cur, out.Thresholds.Autonomous)
		prev = cur
	}
	assert.InDelta(t, 0.60, prev, 1e-9)

	h.worker.fn = func(context.Context, *domain.Task) (json.RawMessage, error) {
		return nil, errors.New("executor crashed")
	}
	out, err := h.engine.DecideAndAct(ctx, situation("fail-1", "research", domain.ComplexityLow, nil))
	require.NoError(t, err)
	require.Equal(t, domain.ActionExecuteAutonomously, out.Decision.Action)
	assert.False(t, out.Result.Success)
	assert.True(t, out.Result.TechnicalFailure)
	assert.InDelta(t, prev+0.05, h.thresholds.Snapshot().Autonomous, 1e-9)

	assert.Equal(t, 11, h.history.Len())
	st := h.registry.Stats("exec-a")
	assert.InDelta(t, 10, st.Successes, 1e-9)
	assert.InDelta(t, 1, st.Failures, 1e-9)
}

func TestDeadlineTimesOutExecution(t *testing.T) {
	h := newHarness(t)
	h.worker.fn = func(ctx context.Context, _ *domain.Task) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := situation("s-1", "research", domain.ComplexityLow, nil)
	s.Task.Deadline = time.Now().Add(50 * time.Millisecond)

	start := time.Now()
	out, err := h.engine.DecideAndAct(context.Background(), s)
	require.NoError(t, err)

	require.NotNil(t, out.Result)
	assert.True(t, out.Result.TimedOut)
	assert.True(t, out.Result.TechnicalFailure)
	assert.False(t, out.Result.Success)
	assert.Less(t, time.Since(start), time.Second, "deadline is shorter than task timeout")
	assert.Equal(t, 1, h.history.Len(), "failed execution is still logged")
}

func TestHistoryFailureFallsBackToNeutral(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.History = brokenHistory{Store: d.History.(*history.Store)}
	})

	out, err := h.engine.DecideAndAct(context.Background(), situation("s-1", "research", domain.ComplexityLow, nil))
	require.NoError(t, err)

	assert.InDelta(t, 0.5, out.Decision.Confidence.Factors[domain.FactorHistoricalSuccess], 1e-9)
	assert.Equal(t, 1, h.history.Len())
}

func TestEscalatorFailureStillLogsDecision(t *testing.T) {
	h := newHarness(t)
	h.escalator.err = errors.New("postgres down")

	out, err := h.engine.DecideAndAct(context.Background(), situation("s-1", "brand_change", domain.ComplexityLow, nil))
	require.NoError(t, err)
	assert.True(t, out.Escalated())
	assert.Empty(t, out.EscalationID)
	assert.Equal(t, 1, h.history.Len())
}

func TestConcurrentDecisionsAreAllLogged(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.DecideAndAct(context.Background(), situation(fmt.Sprintf("s-%d", i), "research", domain.ComplexityLow, nil))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, h.history.Len())
	th := h.thresholds.Snapshot().Autonomous
	assert.GreaterOrEqual(t, th, 0.5)
	assert.LessOrEqual(t, th, 0.95)
}

func TestPickExecutorPrefersReliable(t *testing.T) {
	h := newHarness(t)
	h.registry.Record("exec-a", false)
	h.registry.Record("exec-b", true)

	out, err := h.engine.DecideAndAct(context.Background(), situation("s-1", "research", domain.ComplexityLow, nil))
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Equal(t, "exec-b", out.Result.ExecutorRef)
}

func TestExecutorRejectsEscalations(t *testing.T) {
	h := newHarness(t)
	d := domain.Decision{Action: domain.ActionEscalateToHuman, Level: domain.LevelNone}

	_, err := h.engine.Executor.Execute(context.Background(), d, situation("s-1", "research", domain.ComplexityLow, nil), "exec-a")
	assert.ErrorIs(t, err, domain.ErrNotExecutable)
	assert.Equal(t, 0, h.worker.count())
	assert.Equal(t, 0, h.history.Len())
}
