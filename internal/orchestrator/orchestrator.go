package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-autonomy/internal/connectors"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"github.com/xela07ax/spaceai-autonomy/internal/engine"
	"github.com/xela07ax/spaceai-autonomy/internal/infra"
	"go.uber.org/zap"
)

// resumeLockTTL: сколько помним, что одобренная эскалация уже возобновлена.
const resumeLockTTL = 24 * time.Hour

// DecisionEngine: ядро: один цикл decide_and_act.
type DecisionEngine interface {
	DecideAndAct(ctx context.Context, s *domain.Situation) (engine.Outcome, error)
}

// EscalationReader: чтение заявок HITL.
type EscalationReader interface {
	GetEscalation(ctx context.Context, id string) (*domain.EscalationRequest, error)
	FindEscalations(ctx context.Context, status domain.EscalationStatus) ([]*domain.EscalationRequest, error)
}

// Orchestrator: внешний контур вокруг ядра: переназначение неудачных задач
// и возобновление ситуаций после одобрения человеком. Ядро об этом контуре не знает.
type Orchestrator struct {
	engine           DecisionEngine
	escalations      EscalationReader
	rdb              *redis.Client // nil — без межинстансной блокировки и подписки
	maxReassignments int
	delay            time.Duration
	logger           *zap.Logger
	now              func() time.Time

	wg sync.WaitGroup
}

type Option func(*Orchestrator)

// WithDelay задает базовую задержку между переназначениями.
func WithDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.delay = d }
}

func New(eng DecisionEngine, escalations EscalationReader, rdb *redis.Client, maxReassignments int, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:           eng,
		escalations:      escalations,
		rdb:              rdb,
		maxReassignments: max(maxReassignments, 0),
		delay:            200 * time.Millisecond,
		logger:           logger.Named("orchestrator"),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// errAttemptFailed: исход неудачный, пробуем снова с новой ситуацией.
var errAttemptFailed = errors.New("attempt failed")

// Submit прогоняет ситуацию через ядро. Неудачное исполнение переназначается новой ситуацией
// (ParentID = предыдущая) не более maxReassignments раз. Эскалация — терминальный исход.
func (o *Orchestrator) Submit(ctx context.Context, s *domain.Situation) (engine.Outcome, error) {
	if err := s.Validate(); err != nil {
		return engine.Outcome{}, err
	}

	var (
		last    engine.Outcome
		current = s
		attempt = 0
	)

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(uint(o.maxReassignments+1)),
		retry.Delay(o.delay),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			// Исполнитель сам сказал, когда приходить
			if d, ok := connectors.RetryAfter(err); ok {
				return d
			}
			return retry.BackOffDelay(n, err, config)
		}),
	)

	err := r.Do(func() error {
		if attempt > 0 {
			current = reassign(current, last, o.now())
			o.logger.Info("reassigning failed situation",
				zap.String("situation_id", current.ID),
				zap.String("parent_id", current.ParentID),
				zap.Int("attempt", attempt),
			)
		}
		attempt++

		out, err := o.engine.DecideAndAct(ctx, current)
		if err != nil {
			return err
		}
		last = out

		if out.Escalated() || out.Result.Success {
			return nil
		}
		if out.Result.RetryAfterMs > 0 {
			return &connectors.ThrottleError{
				RetryAfter: time.Duration(out.Result.RetryAfterMs) * time.Millisecond,
				Cause:      errors.New(out.Result.Error),
			}
		}
		return fmt.Errorf("situation %s: %w", current.ID, errAttemptFailed)
	})

	if err != nil && last.SituationID == "" {
		// Ядро не отработало ни разу (отмена контекста до первого вызова)
		return engine.Outcome{}, err
	}
	if err != nil {
		o.logger.Warn("situation failed after reassignments",
			zap.String("situation_id", last.SituationID),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
	}
	return last, nil
}

// reassign: новая ситуация с той же задачей. Неудачный исполнитель исключается, если есть другие.
func reassign(prev *domain.Situation, out engine.Outcome, now time.Time) *domain.Situation {
	next := &domain.Situation{
		ID:        uuid.New().String(),
		ParentID:  prev.ID,
		Task:      prev.Task,
		Executors: slices.Clone(prev.Executors),
		Context:   maps.Clone(prev.Context),
		CreatedAt: now,
	}
	// Одобрение человека относится к задаче и переживает переназначение
	if id, ok := prev.HumanApproval(); ok {
		next.MarkApproved(id)
	}
	if out.Result != nil && out.Result.ExecutorRef != "" && len(next.Executors) > 1 {
		next.Executors = slices.DeleteFunc(next.Executors, func(ref string) bool {
			return ref == out.Result.ExecutorRef
		})
	}
	return next
}

// Resume превращает одобренную эскалацию в новую ситуацию с отметкой одобрения.
// Отклоненные и еще не рассмотренные заявки игнорируются (nil, nil).
func (o *Orchestrator) Resume(ctx context.Context, escalationID string) (*engine.Outcome, error) {
	req, err := o.escalations.GetEscalation(ctx, escalationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load escalation %s: %w", escalationID, err)
	}
	if req.Status != domain.StatusApproved {
		o.logger.Info("escalation not approved, nothing to resume",
			zap.String("escalation_id", escalationID), zap.String("status", string(req.Status)))
		return nil, nil
	}

	// Решение могли получить несколько инстансов — возобновляет один
	if o.rdb != nil {
		ok, err := o.rdb.SetNX(ctx, infra.RedisKeyLockEscalationResume+escalationID, "resumed", resumeLockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire resume lock: %w", err)
		}
		if !ok {
			return nil, nil
		}
	}

	var prev domain.Situation
	if err := json.Unmarshal(req.Situation, &prev); err != nil {
		return nil, fmt.Errorf("corrupted situation snapshot in escalation %s: %w", escalationID, err)
	}

	next := &domain.Situation{
		ID:        uuid.New().String(),
		ParentID:  prev.ID,
		Task:      prev.Task,
		Executors: prev.Executors,
		Context:   maps.Clone(prev.Context),
		CreatedAt: o.now(),
	}
	next.MarkApproved(escalationID)

	o.logger.Info("resuming approved escalation",
		zap.String("escalation_id", escalationID),
		zap.String("situation_id", next.ID),
		zap.String("parent_id", next.ParentID),
	)
	out, err := o.Submit(ctx, next)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// StartListener возобновляет ситуации по решениям операторов. Блокирует до отмены ctx.
func (o *Orchestrator) StartListener(ctx context.Context) {
	if o.rdb == nil {
		return
	}
	infra.ListenResilient(ctx, o.rdb, o.logger, infra.RedisChanEscalationDecisions,
		o.catchUp,
		func(payload string) {
			var d domain.EscalationDecision
			if err := json.Unmarshal([]byte(payload), &d); err != nil {
				o.logger.Warn("malformed escalation decision", zap.String("payload", payload), zap.Error(err))
				return
			}
			if d.Status != domain.StatusApproved {
				return
			}
			o.resumeAsync(ctx, d.EscalationID)
		},
	)
}

// catchUp: после переподписки подбираем одобрения, пропущенные во время разрыва.
func (o *Orchestrator) catchUp(ctx context.Context) error {
	approved, err := o.escalations.FindEscalations(ctx, domain.StatusApproved)
	if err != nil {
		return err
	}
	horizon := o.now().Add(-resumeLockTTL)
	for _, req := range approved {
		if req.UpdatedAt.After(horizon) {
			o.resumeAsync(ctx, req.ID)
		}
	}
	return nil
}

func (o *Orchestrator) resumeAsync(ctx context.Context, id string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if _, err := o.Resume(ctx, id); err != nil {
			o.logger.Error("failed to resume escalation", zap.String("escalation_id", id), zap.Error(err))
		}
	}()
}

// Wait дожидается фоновых возобновлений (graceful shutdown).
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
