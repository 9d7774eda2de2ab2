package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"github.com/xela07ax/spaceai-autonomy/internal/infra"
	"go.uber.org/zap"
)

const (
	defaultDecisionLimit = 100
	maxDecisionLimit     = 1000
	// statsTTL: агрегат по журналу тяжелый, консоль опрашивает его часто
	statsTTL = time.Minute
)

// DecisionRepository: чтение журнала решений.
type DecisionRepository interface {
	ListDecisions(ctx context.Context, f domain.DecisionFilter) ([]domain.DecisionLogEntry, error)
	DecisionStats(ctx context.Context, since time.Time) (*domain.DecisionStats, error)
}

// StatsCache: кэш сводки по окну. Промах: (nil, nil).
type StatsCache interface {
	Get(ctx context.Context, window time.Duration) (*domain.DecisionStats, error)
	Set(ctx context.Context, window time.Duration, stats *domain.DecisionStats) error
}

type DecisionService struct {
	repo   DecisionRepository
	cache  StatsCache
	logger *zap.Logger
	now    func() time.Time
}

// NewDecisionService: cache может быть nil, тогда сводка всегда считается по журналу.
func NewDecisionService(repo DecisionRepository, cache StatsCache, logger *zap.Logger) *DecisionService {
	return &DecisionService{repo: repo, cache: cache, logger: logger.Named("decision-service"), now: time.Now}
}

func (s *DecisionService) ListDecisions(ctx context.Context, f domain.DecisionFilter) ([]domain.DecisionLogEntry, error) {
	if f.Limit <= 0 {
		f.Limit = defaultDecisionLimit
	}
	f.Limit = min(f.Limit, maxDecisionLimit)

	list, err := s.repo.ListDecisions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("decision_service: failed to fetch decisions: %w", err)
	}
	if list == nil {
		return []domain.DecisionLogEntry{}, nil
	}
	return list, nil
}

// GetStats: сводка за окно window (по умолчанию сутки). Результат живет в кэше statsTTL;
// недоступный Redis только замедляет ответ.
func (s *DecisionService) GetStats(ctx context.Context, window time.Duration) (*domain.DecisionStats, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, window)
		switch {
		case err != nil:
			s.logger.Warn("stats cache read failed", zap.Duration("window", window), zap.Error(err))
		case cached != nil:
			return cached, nil
		}
	}

	stats, err := s.repo.DecisionStats(ctx, s.now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("decision_service: failed to compute stats: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, window, stats); err != nil {
			s.logger.Warn("stats cache write failed", zap.Duration("window", window), zap.Error(err))
		}
	}
	return stats, nil
}

// RedisStatsCache хранит сводку JSON-строкой с TTL.
type RedisStatsCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStatsCache(rdb *redis.Client) *RedisStatsCache {
	return &RedisStatsCache{rdb: rdb, ttl: statsTTL}
}

func statsKey(window time.Duration) string {
	return fmt.Sprintf("%s%d", infra.RedisKeyDecisionStats, int64(window.Seconds()))
}

func (c *RedisStatsCache) Get(ctx context.Context, window time.Duration) (*domain.DecisionStats, error) {
	raw, err := c.rdb.Get(ctx, statsKey(window)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stats domain.DecisionStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, fmt.Errorf("corrupted stats snapshot: %w", err)
	}
	return &stats, nil
}

func (c *RedisStatsCache) Set(ctx context.Context, window time.Duration, stats *domain.DecisionStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, statsKey(window), raw, c.ttl).Err()
}
