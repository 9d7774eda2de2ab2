package learning

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"github.com/xela07ax/spaceai-autonomy/internal/infra"
	"go.uber.org/zap"
)

// SnapshotStore: где переживают рестарт выученные пороги.
type SnapshotStore interface {
	// Load возвращает сохраненный снимок; found=false, если его еще нет (тогда сохраняется initial).
	Load(ctx context.Context, initial domain.Thresholds) (t domain.Thresholds, found bool, err error)
	Save(ctx context.Context, t domain.Thresholds) error
}

// RedisSnapshotStore хранит снимок JSON-строкой под одним ключом.
type RedisSnapshotStore struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisSnapshotStore(rdb *redis.Client, logger *zap.Logger) *RedisSnapshotStore {
	return &RedisSnapshotStore{rdb: rdb, logger: logger.Named("thresholds_store")}
}

func (r *RedisSnapshotStore) Load(ctx context.Context, initial domain.Thresholds) (domain.Thresholds, bool, error) {
	seed, err := json.Marshal(initial)
	if err != nil {
		return initial, false, err
	}
	data, found, err := infra.WarmupValue(ctx, r.rdb, r.logger, infra.RedisKeyThresholds, infra.RedisKeyLockThresholds, seed)
	if err != nil || !found {
		return initial, false, err
	}
	var t domain.Thresholds
	if err := json.Unmarshal(data, &t); err != nil {
		return initial, false, fmt.Errorf("decode thresholds snapshot: %w", err)
	}
	return t, true, nil
}

func (r *RedisSnapshotStore) Save(ctx context.Context, t domain.Thresholds) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, infra.RedisKeyThresholds, data, 0).Err()
}
