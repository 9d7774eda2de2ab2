package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"github.com/xela07ax/spaceai-autonomy/internal/infra"
	"go.uber.org/zap"
)

// BlockedProvider: источник истины для kill-switch (таблица executors).
type BlockedProvider interface {
	GetBlockedExecutors(ctx context.Context) ([]string, error)
}

// Registry: реестр исполнителей: скользящие счетчики успехов и список заблокированных.
// Реализует analysis.ExecutorDirectory.
type Registry struct {
	mu       sync.RWMutex
	blocked  map[string]struct{}
	counters map[string]*domain.ExecutorStats
	window   float64

	repo   BlockedProvider // nil — только Redis/RAM
	rdb    *redis.Client   // nil — без синхронизации между инстансами
	logger *zap.Logger
}

func NewRegistry(repo BlockedProvider, rdb *redis.Client, window int, logger *zap.Logger) *Registry {
	if window <= 0 {
		window = 50
	}
	return &Registry{
		blocked:  make(map[string]struct{}),
		counters: make(map[string]*domain.ExecutorStats),
		window:   float64(window),
		repo:     repo,
		rdb:      rdb,
		logger:   logger.Named("registry"),
	}
}

// Init загружает блокировки из БД и прогревает Redis set.
func (r *Registry) Init(ctx context.Context) error {
	if r.repo == nil {
		return r.resync(ctx)
	}
	ids, err := r.repo.GetBlockedExecutors(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch blocked executors from DB: %w", err)
	}
	if r.rdb == nil {
		r.replaceBlocked(ids)
		return nil
	}
	return infra.WarmupSet(ctx, r.rdb, r.logger, ids, infra.RedisKeyBlockedExecutors, infra.RedisKeyLockBlocked, r.replaceBlocked)
}

// StartListener держит L1 в актуальном состоянии по сигналам консоли. Блокирует до отмены ctx.
func (r *Registry) StartListener(ctx context.Context) {
	if r.rdb == nil {
		return
	}
	infra.ListenResilient(ctx, r.rdb, r.logger, infra.RedisChanKillSwitch,
		r.resync, // после переподписки догоняем пропущенные сигналы
		func(payload string) {
			ref, on, err := infra.ParseSignal(payload)
			if err != nil {
				r.logger.Warn("malformed kill-switch signal", zap.String("payload", payload), zap.Error(err))
				return
			}
			r.SetBlocked(ref, on)
			r.logger.Info("kill-switch signal applied", zap.String("executor", ref), zap.Bool("blocked", on))
		},
	)
}

// resync перечитывает Redis set целиком.
func (r *Registry) resync(ctx context.Context) error {
	if r.rdb == nil {
		return nil
	}
	ids, err := r.rdb.SMembers(ctx, infra.RedisKeyBlockedExecutors).Result()
	if err != nil {
		return err
	}
	r.replaceBlocked(ids)
	return nil
}

func (r *Registry) replaceBlocked(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	r.mu.Lock()
	r.blocked = next
	r.mu.Unlock()
}

// SetBlocked: локальное переключение kill-switch.
func (r *Registry) SetBlocked(ref string, blocked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if blocked {
		r.blocked[ref] = struct{}{}
	} else {
		delete(r.blocked, ref)
	}
}

// Available: исполнитель не заблокирован. Hot path, только RLock.
func (r *Registry) Available(ref string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, blocked := r.blocked[ref]
	return !blocked
}

// Stats: копия счетчиков исполнителя.
func (r *Registry) Stats(ref string) domain.ExecutorStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := domain.ExecutorStats{Ref: ref, Status: domain.ExecutorActive}
	if c, ok := r.counters[ref]; ok {
		st.Successes, st.Failures = c.Successes, c.Failures
	}
	if _, blocked := r.blocked[ref]; blocked {
		st.Status = domain.ExecutorBlocked
	}
	return st
}

// Record учитывает исход. Когда наблюдений больше окна, оба счетчика сжимаются пропорционально,
// так что свежие исходы весят больше старых.
func (r *Registry) Record(ref string, success bool) {
	if ref == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.counters[ref]
	if !ok {
		c = &domain.ExecutorStats{Ref: ref}
		r.counters[ref] = c
	}
	if success {
		c.Successes++
	} else {
		c.Failures++
	}
	if total := c.Samples(); total > r.window {
		scale := r.window / total
		c.Successes *= scale
		c.Failures *= scale
	}
}
