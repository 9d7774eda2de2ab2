package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-autonomy/internal/connectors"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"go.uber.org/zap"
)

// appendTimeout: запись в журнал не должна зависеть от уже истекшего таймаута ситуации.
const appendTimeout = 5 * time.Second

// HistoryAppender: журнал решений.
type HistoryAppender interface {
	Append(ctx context.Context, entry domain.DecisionLogEntry) error
}

// Executor исполняет решения, принятые без человека. Эскалации сюда не попадают.
type Executor struct {
	worker    Worker
	validator Validator
	history   HistoryAppender
	metrics   *Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewExecutor(worker Worker, validator Validator, history HistoryAppender, metrics *Metrics, logger *zap.Logger) *Executor {
	return &Executor{
		worker:    worker,
		validator: validator,
		history:   history,
		metrics:   metrics,
		logger:    logger.Named("executor"),
		now:       time.Now,
	}
}

// Execute выполняет решение на исполнителе executorRef. Ошибку возвращает только для эскалаций;
// любой сбой исполнения превращается в неуспешный ActionResult. Ровно одна запись в журнал.
func (e *Executor) Execute(ctx context.Context, d domain.Decision, s *domain.Situation, executorRef string) (domain.ActionResult, error) {
	if !d.Action.Acted() {
		return domain.ActionResult{}, domain.ErrNotExecutable
	}

	start := e.now()
	res := domain.ActionResult{
		Autonomous:         d.Action == domain.ActionExecuteAutonomously,
		ValidationRequired: d.RequiresValidation,
		ExecutorRef:        executorRef,
	}

	payload, err := e.worker.Invoke(ctx, s.Task, executorRef)
	switch {
	case err != nil:
		e.technicalFailure(ctx, &res, err)
	case d.RequiresValidation:
		report, verr := e.validator.Validate(ctx, payload, s)
		if verr != nil {
			e.technicalFailure(ctx, &res, verr)
			break
		}
		res.Payload = payload
		res.Validation = &report
		res.Success = report.Passed
		if !report.Passed {
			res.Error = "validation failed"
		}
	default:
		res.Payload = payload
		res.Success = true
	}
	res.DurationMs = e.now().Sub(start).Milliseconds()

	e.observe(res)
	e.append(ctx, s, d, &res)
	return res, nil
}

func (e *Executor) technicalFailure(ctx context.Context, res *domain.ActionResult, err error) {
	res.Success = false
	res.TechnicalFailure = true
	res.TimedOut = errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
	res.Error = err.Error()
	if d, ok := connectors.RetryAfter(err); ok {
		res.RetryAfterMs = d.Milliseconds()
	}
}

func (e *Executor) observe(res domain.ActionResult) {
	if e.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case res.TimedOut:
		outcome = "timeout"
	case res.TechnicalFailure:
		outcome = "technical_failure"
	case res.Validation != nil && !res.Validation.Passed:
		outcome = "validation_failed"
	case !res.Success:
		outcome = "failed"
	}
	e.metrics.Executions.WithLabelValues(outcome).Inc()
}

func (e *Executor) append(ctx context.Context, s *domain.Situation, d domain.Decision, res *domain.ActionResult) {
	entry := NewLogEntry(s, d, res, e.now())
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()

	if err := e.history.Append(actx, entry); err != nil {
		// В RAM-индексе запись уже есть, теряется только долговременная копия
		e.logger.Error("decision log append failed", zap.String("situation_id", s.ID), zap.Error(err))
		if e.metrics != nil {
			e.metrics.ErrorTotal.WithLabelValues("log_append_failed").Inc()
		}
	}
}

// NewLogEntry собирает запись журнала. res=nil — эскалация в ожидании решения человека.
func NewLogEntry(s *domain.Situation, d domain.Decision, res *domain.ActionResult, ts time.Time) domain.DecisionLogEntry {
	return domain.DecisionLogEntry{
		ID:          uuid.New().String(),
		Timestamp:   ts,
		SituationID: s.ID,
		ParentID:    s.ParentID,
		TaskType:    s.Task.Type,
		ContextKeys: s.ContextKeys(),
		Decision:    d,
		Result:      res,
	}
}
