package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-autonomy/internal/infra"
	"github.com/xela07ax/spaceai-autonomy/internal/policy"
	"go.uber.org/zap"
)

type RulesService struct {
	src    policy.RuleSource
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRulesService(src policy.RuleSource, rdb *redis.Client, logger *zap.Logger) *RulesService {
	return &RulesService{src: src, rdb: rdb, logger: logger.Named("rules-service")}
}

// Reload проверяет файл правил и только потом просит инстансы движка перечитать его.
// Битый файл не рассылается, движки продолжают работать на предыдущем наборе.
func (s *RulesService) Reload(ctx context.Context) (*policy.RuleSet, error) {
	rs, err := s.src.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.rdb.Publish(ctx, infra.RedisChanRulesUpdate, "reload").Err(); err != nil {
		return nil, fmt.Errorf("redis signal failure: %w", err)
	}
	s.logger.Info("rule set reload requested",
		zap.Int("mandatory", len(rs.Mandatory)),
		zap.Int("always_escalate", len(rs.AlwaysEscalate)),
		zap.Int("always_autonomous", len(rs.AlwaysAutonomous)))
	return rs, nil
}
