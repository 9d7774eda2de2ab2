package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"github.com/xela07ax/spaceai-autonomy/internal/infra"
	"go.uber.org/zap"
)

// ExecutorRepository: источник истины для kill-switch.
type ExecutorRepository interface {
	UpdateExecutorStatus(ctx context.Context, ref string, status domain.ExecutorStatus) error
	ListExecutors(ctx context.Context) ([]domain.ExecutorRecord, error)
}

type ExecutorService struct {
	repo   ExecutorRepository
	rdb    *redis.Client
	logger *zap.Logger
}

func NewExecutorService(repo ExecutorRepository, rdb *redis.Client, logger *zap.Logger) *ExecutorService {
	return &ExecutorService{
		repo:   repo,
		rdb:    rdb,
		logger: logger.Named("executor-service"),
	}
}

// updateExecutorState: БД, затем Redis set (его читают новые инстансы), затем сигнал живым.
func (s *ExecutorService) updateExecutorState(ctx context.Context, ref string, status domain.ExecutorStatus, actionName string) error {
	// 1. Persistence Layer
	if err := s.repo.UpdateExecutorStatus(ctx, ref, status); err != nil {
		s.logger.Error("failed to update executor status in DB",
			zap.String("executor", ref),
			zap.String("action", actionName),
			zap.Error(err))
		return fmt.Errorf("%s database error: %w", actionName, err)
	}

	// 2. Real-time Signaling
	blocked := status == domain.ExecutorBlocked
	pipe := s.rdb.TxPipeline()
	if blocked {
		pipe.SAdd(ctx, infra.RedisKeyBlockedExecutors, ref)
	} else {
		pipe.SRem(ctx, infra.RedisKeyBlockedExecutors, ref)
	}
	pipe.Publish(ctx, infra.RedisChanKillSwitch, fmt.Sprintf("%s:%t", ref, blocked))
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("runtime signal delivery failed",
			zap.String("action", actionName),
			zap.String("channel", infra.RedisChanKillSwitch),
			zap.Error(err))
		return nil
	}

	s.logger.Info("executor state updated",
		zap.String("executor", ref),
		zap.String("action", actionName),
		zap.String("new_status", string(status)))
	return nil
}

func (s *ExecutorService) BlockExecutor(ctx context.Context, ref string) error {
	return s.updateExecutorState(ctx, ref, domain.ExecutorBlocked, "kill-switch-block")
}

func (s *ExecutorService) UnblockExecutor(ctx context.Context, ref string) error {
	return s.updateExecutorState(ctx, ref, domain.ExecutorActive, "kill-switch-unblock")
}

func (s *ExecutorService) ListExecutors(ctx context.Context) ([]domain.ExecutorRecord, error) {
	list, err := s.repo.ListExecutors(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: could not fetch executors: %w", err)
	}
	if list == nil {
		return []domain.ExecutorRecord{}, nil
	}
	return list, nil
}
