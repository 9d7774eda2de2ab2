package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"github.com/xela07ax/spaceai-autonomy/internal/infra"
	"go.uber.org/zap"
)

// ErrUnknownStatus: фильтр по статусу, которого нет в автомате эскалации.
var ErrUnknownStatus = errors.New("unknown escalation status")

// EscalationRepository описывает требования к хранилищу заявок HITL
type EscalationRepository interface {
	GetEscalation(ctx context.Context, id string) (*domain.EscalationRequest, error)
	FindEscalations(ctx context.Context, status domain.EscalationStatus) ([]*domain.EscalationRequest, error)
	DecideEscalation(ctx context.Context, id string, status domain.EscalationStatus, reviewerID, comment string) (*domain.EscalationRequest, error)
}

type EscalationService struct {
	repo   EscalationRepository
	rdb    *redis.Client
	logger *zap.Logger
}

func NewEscalationService(repo EscalationRepository, rdb *redis.Client, logger *zap.Logger) *EscalationService {
	return &EscalationService{
		repo:   repo,
		rdb:    rdb,
		logger: logger.Named("escalation-service"),
	}
}

func (s *EscalationService) GetEscalation(ctx context.Context, id string) (*domain.EscalationRequest, error) {
	return s.repo.GetEscalation(ctx, id)
}

func (s *EscalationService) ListEscalations(ctx context.Context, status string) ([]*domain.EscalationRequest, error) {
	// Приводим к верхнему регистру, так как в константах PENDING/APPROVED
	st := domain.EscalationStatus(strings.ToUpper(status))
	switch st {
	case domain.StatusPending, domain.StatusApproved, domain.StatusRejected:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}

	list, err := s.repo.FindEscalations(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("service: could not fetch escalations: %w", err)
	}
	if list == nil {
		return []*domain.EscalationRequest{}, nil
	}
	return list, nil
}

// DecideEscalation фиксирует решение оператора и сообщает о нем оркестратору.
// reviewerID сохраняется для подотчетности.
func (s *EscalationService) DecideEscalation(ctx context.Context, id string, approved bool, reviewerID, comment string) (*domain.EscalationRequest, error) {
	status := domain.StatusRejected
	if approved {
		status = domain.StatusApproved
	}

	// 1. Атомарно обновляем БД (только из PENDING)
	req, err := s.repo.DecideEscalation(ctx, id, status, reviewerID, comment)
	if err != nil {
		s.logger.Error("failed to persist escalation decision",
			zap.String("escalation_id", id),
			zap.String("reviewer_id", reviewerID),
			zap.Error(err))
		return nil, err
	}

	// 2. Real-time Signaling
	payload, err := json.Marshal(domain.EscalationDecision{
		EscalationID: req.ID,
		SituationID:  req.SituationID,
		Status:       req.Status,
		ReviewerID:   reviewerID,
	})
	if err != nil {
		return nil, err
	}
	if err := s.rdb.Publish(ctx, infra.RedisChanEscalationDecisions, payload).Err(); err != nil {
		// Решение уже в БД: оркестратор подберет его при переподписке
		s.logger.Error("decision saved but signal not delivered",
			zap.String("escalation_id", id),
			zap.Error(err))
	}

	s.logger.Info("HITL decision processed",
		zap.String("escalation_id", id),
		zap.String("reviewer", reviewerID),
		zap.String("result", string(status)))
	return req, nil
}
