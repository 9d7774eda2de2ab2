package infra

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const warmupLockTTL = 30 * time.Second

// WarmupSet: прогрев L1 (RAM) и L2 (Redis set) из источника истины.
// Заливает Redis только один инстанс (SetNX) и только если set пуст.
func WarmupSet(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	ids []string,
	redisKey string,
	lockKey string,
	updateL1 func([]string),
) error {
	updateL1(ids)

	ok, err := rdb.SetNX(ctx, lockKey, "processing", warmupLockTTL).Result()
	if err != nil || !ok {
		return nil // Либо ошибка сети, либо другой уже греет кэш
	}

	count, err := rdb.SCard(ctx, redisKey).Result()
	if err != nil {
		count = 0
		logger.Warn("could not check Redis set size, proceeding with warm-up",
			zap.String("key", redisKey), zap.Error(err))
	}

	if count == 0 && len(ids) > 0 {
		logger.Info("Redis cache is empty, performing warm-up",
			zap.String("key", redisKey), zap.Int("count", len(ids)))

		pipe := rdb.Pipeline()
		for _, id := range ids {
			pipe.SAdd(ctx, redisKey, id)
		}
		_, err = pipe.Exec(ctx)
		return err
	}
	return nil
}

// WarmupValue: то же для одиночного значения: если в Redis уже есть значение, возвращает его,
// иначе под SetNX-блокировкой записывает initial. found=true, если значение пришло из Redis.
func WarmupValue(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	redisKey string,
	lockKey string,
	initial []byte,
) (value []byte, found bool, err error) {
	data, err := rdb.Get(ctx, redisKey).Bytes()
	if err == nil {
		return data, true, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, false, err
	}

	ok, err := rdb.SetNX(ctx, lockKey, "processing", warmupLockTTL).Result()
	if err != nil || !ok {
		return initial, false, nil
	}

	logger.Info("Redis value is empty, seeding from configuration", zap.String("key", redisKey))
	if err := rdb.SetNX(ctx, redisKey, initial, 0).Err(); err != nil {
		return nil, false, err
	}
	return initial, false, nil
}
