package engine

import (
	"context"
	"time"

	"github.com/xela07ax/spaceai-autonomy/internal/analysis"
	"github.com/xela07ax/spaceai-autonomy/internal/confidence"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"github.com/xela07ax/spaceai-autonomy/internal/policy"
	"github.com/xela07ax/spaceai-autonomy/internal/risk"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/xela07ax/spaceai-autonomy/internal/engine"

// HistoryStore: журнал решений: поиск похожих и добавление.
type HistoryStore interface {
	HistoryAppender
	FindSimilar(ctx context.Context, s *domain.Situation) ([]domain.DecisionLogEntry, error)
}

// RulesChecker: обязательные и настраиваемые правила.
type RulesChecker interface {
	Check(s *domain.Situation, a domain.SituationAnalysis) domain.RulesCheck
}

// Escalator передает ситуацию человеку и сразу возвращает ID заявки.
type Escalator interface {
	Escalate(ctx context.Context, s *domain.Situation, d domain.Decision) (string, error)
}

// ThresholdSource: текущий снимок порогов.
type ThresholdSource interface {
	Snapshot() domain.Thresholds
}

// Learner: обучение порогов по исходам.
type Learner interface {
	Learn(ctx context.Context, s *domain.Situation, d domain.Decision, r domain.ActionResult) (domain.Thresholds, bool)
}

// Deps: коллабораторы движка.
type Deps struct {
	Analyzer   *analysis.Analyzer
	Estimator  *confidence.Estimator
	Assessor   *risk.Assessor
	Rules      RulesChecker
	Thresholds ThresholdSource
	Learner    Learner
	History    HistoryStore
	Executor   *Executor
	Escalator  Escalator
	Registry   *Registry
	Metrics    *Metrics
	Logger     *zap.Logger
}

type Config struct {
	TaskTimeout time.Duration
	// Neutral: надежность исполнителя без истории при выборе исполнителя
	Neutral float64
}

// Outcome: итог одного цикла decide_and_act.
type Outcome struct {
	SituationID  string               `json:"situation_id"`
	Decision     domain.Decision      `json:"decision"`
	Result       *domain.ActionResult `json:"result,omitempty"` // nil — эскалация
	EscalationID string               `json:"escalation_id,omitempty"`
	Thresholds   domain.Thresholds    `json:"thresholds"` // после обучения
}

// Escalated: решение ушло человеку.
func (o Outcome) Escalated() bool {
	return o.Result == nil
}

type Engine struct {
	Deps
	cfg    Config
	tracer trace.Tracer
	now    func() time.Time
}

func New(deps Deps, cfg Config) *Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	deps.Logger = deps.Logger.Named("engine")
	return &Engine{
		Deps:   deps,
		cfg:    cfg,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
}

// DecideAndAct: полный цикл: анализ, оценка, решение, действие, журнал, обучение.
// Ошибку возвращает только для некорректной ситуации.
func (e *Engine) DecideAndAct(ctx context.Context, s *domain.Situation) (Outcome, error) {
	if err := s.Validate(); err != nil {
		return Outcome{}, err
	}

	ctx, span := e.tracer.Start(ctx, "autonomy.decide_and_act", trace.WithAttributes(
		attribute.String("situation.id", s.ID),
		attribute.String("task.type", s.Task.Type),
	))
	defer span.End()

	start := e.now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout(s, start))
	defer cancel()

	th := e.Thresholds.Snapshot()
	an := e.Analyzer.Analyze(s)

	// Уверенность (с поиском по истории) и риск независимы
	var (
		conf domain.ConfidenceScore
		rk   domain.RiskAssessment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hist, err := e.History.FindSimilar(gctx, s)
		if err != nil {
			e.Logger.Warn("history unavailable, estimating without it", zap.String("situation_id", s.ID), zap.Error(err))
			e.Metrics.ErrorTotal.WithLabelValues("history_unavailable").Inc()
			hist = nil
		}
		conf = e.Estimator.Estimate(s, an, hist)
		return nil
	})
	g.Go(func() error {
		rk = e.Assessor.Assess(s, an, th)
		return nil
	})
	_ = g.Wait()

	rc := e.Rules.Check(s, an)
	d := policy.Decide(conf, rk, rc, th)

	e.Logger.Info("decision made",
		zap.String("situation_id", s.ID),
		zap.String("parent_id", s.ParentID),
		zap.String("task_type", s.Task.Type),
		zap.String("action", string(d.Action)),
		zap.String("level", string(d.Level)),
		zap.String("rule", d.MatchedRule),
		zap.Float64("confidence", conf.Score),
		zap.String("risk_level", string(rk.Level)),
		zap.Float64("risk_score", rk.Score),
		zap.Strings("violations", rc.Violations),
		zap.String("reason", d.Reason),
	)
	span.SetAttributes(
		attribute.String("decision.action", string(d.Action)),
		attribute.String("decision.rule", d.MatchedRule),
		attribute.Float64("decision.confidence", conf.Score),
		attribute.String("risk.level", string(rk.Level)),
	)
	e.Metrics.Decisions.WithLabelValues(string(d.Action), d.MatchedRule).Inc()
	e.Metrics.Confidence.Observe(conf.Score)
	e.Metrics.RiskLevels.WithLabelValues(string(rk.Level)).Inc()
	defer func() {
		e.Metrics.DecisionDuration.WithLabelValues(string(d.Action)).Observe(e.now().Sub(start).Seconds())
	}()

	out := Outcome{SituationID: s.ID, Decision: d, Thresholds: th}

	if !d.Action.Acted() {
		out.EscalationID = e.escalate(ctx, s, d)
		return out, nil
	}

	ref := e.pickExecutor(an)
	res, err := e.Executor.Execute(ctx, d, s, ref)
	if err != nil {
		// Сюда попадают только эскалации, отфильтрованные выше
		return out, err
	}
	out.Result = &res
	span.SetAttributes(attribute.Bool("result.success", res.Success), attribute.String("executor.ref", ref))

	e.Registry.Record(ref, res.Success)

	// Запись в журнал уже сделана исполнителем, теперь обучаемся
	after, changed := e.Learner.Learn(ctx, s, d, res)
	out.Thresholds = after
	if changed {
		e.Metrics.AutonomousThreshold.Set(after.Autonomous)
	}

	e.Logger.Info("decision executed",
		zap.String("situation_id", s.ID),
		zap.String("executor", ref),
		zap.Bool("success", res.Success),
		zap.Bool("technical_failure", res.TechnicalFailure),
		zap.Bool("timed_out", res.TimedOut),
		zap.Int64("duration_ms", res.DurationMs),
		zap.Float64("autonomous_threshold", after.Autonomous),
	)
	return out, nil
}

// escalate не ждет человека: заявка создается, в журнал пишется запись без результата.
func (e *Engine) escalate(ctx context.Context, s *domain.Situation, d domain.Decision) string {
	id, err := e.Escalator.Escalate(ctx, s, d)
	if err != nil {
		e.Logger.Error("failed to create escalation request", zap.String("situation_id", s.ID), zap.Error(err))
		e.Metrics.ErrorTotal.WithLabelValues("escalation_failed").Inc()
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()
	if err := e.History.Append(actx, NewLogEntry(s, d, nil, e.now())); err != nil {
		e.Logger.Error("decision log append failed", zap.String("situation_id", s.ID), zap.Error(err))
		e.Metrics.ErrorTotal.WithLabelValues("log_append_failed").Inc()
	}
	return id
}

// timeout: меньшее из таймаута задачи и времени до дедлайна.
func (e *Engine) timeout(s *domain.Situation, now time.Time) time.Duration {
	timeout := e.cfg.TaskTimeout
	if dl := s.Task.Deadline; !dl.IsZero() {
		if left := dl.Sub(now); left < timeout {
			timeout = left
		}
	}
	return timeout
}

// pickExecutor: самый надежный из доступных; без истории считается нейтральным. При равенстве — первый.
func (e *Engine) pickExecutor(an domain.SituationAnalysis) string {
	best, bestScore := "", -1.0
	for _, ref := range an.AvailableExecutors {
		score, ok := an.ExecutorReliability[ref]
		if !ok {
			score = e.cfg.Neutral
		}
		if score > bestScore {
			best, bestScore = ref, score
		}
	}
	return best
}
