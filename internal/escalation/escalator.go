package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"github.com/xela07ax/spaceai-autonomy/internal/infra"
	"go.uber.org/zap"
)

// Repository: хранилище заявок HITL.
type Repository interface {
	CreateEscalation(ctx context.Context, e *domain.EscalationRequest) error
}

// Notification: то, что уходит в канал новых заявок.
type Notification struct {
	EscalationID string           `json:"escalation_id"`
	SituationID  string           `json:"situation_id"`
	TaskType     string           `json:"task_type"`
	Reason       string           `json:"reason"`
	RiskLevel    domain.RiskLevel `json:"risk_level"`
}

// Escalator передает ситуацию человеку. Ответа не ждет: одобрение придет отдельным сообщением.
type Escalator struct {
	repo    Repository
	rdb     *redis.Client // nil — без уведомлений
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

func New(repo Repository, rdb *redis.Client, timeout time.Duration, logger *zap.Logger) *Escalator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Escalator{repo: repo, rdb: rdb, timeout: timeout, logger: logger.Named("escalator"), now: time.Now}
}

// Escalate сохраняет заявку и публикует уведомление. Ошибка публикации не фатальна:
// заявка уже в БД и видна в консоли.
func (e *Escalator) Escalate(ctx context.Context, s *domain.Situation, d domain.Decision) (string, error) {
	snapshot, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to snapshot situation: %w", err)
	}

	now := e.now()
	req := &domain.EscalationRequest{
		ID:          uuid.New().String(),
		SituationID: s.ID,
		TaskType:    s.Task.Type,
		Reason:      d.Reason,
		Confidence:  d.Confidence.Score,
		RiskLevel:   d.Risk.Level,
		Situation:   snapshot,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Таймаут ситуации мог уже истечь, заявку все равно нужно сохранить
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	if err := e.repo.CreateEscalation(wctx, req); err != nil {
		return "", err
	}

	e.notify(wctx, Notification{
		EscalationID: req.ID,
		SituationID:  req.SituationID,
		TaskType:     req.TaskType,
		Reason:       req.Reason,
		RiskLevel:    req.RiskLevel,
	})

	e.logger.Info("escalated to human",
		zap.String("escalation_id", req.ID),
		zap.String("situation_id", s.ID),
		zap.String("reason", req.Reason),
	)
	return req.ID, nil
}

func (e *Escalator) notify(ctx context.Context, n Notification) {
	if e.rdb == nil {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	if err := e.rdb.Publish(ctx, infra.RedisChanEscalations, payload).Err(); err != nil {
		e.logger.Warn("failed to publish escalation notification",
			zap.String("escalation_id", n.EscalationID), zap.Error(err))
	}
}
