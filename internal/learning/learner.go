package learning

import (
	"context"
	"math"
	"time"

	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"go.uber.org/zap"
)

const saveTimeout = 2 * time.Second

// Learner: единственный писатель ThresholdStore.
// Успех ослабляет порог autonomous на RelaxStep, неудача ужесточает на TightenStep.
type Learner struct {
	store  *ThresholdStore
	cfg    domain.LearningConfig
	snap   SnapshotStore // nil — без персистентности
	dirty  chan struct{}
	logger *zap.Logger
}

func NewLearner(store *ThresholdStore, cfg domain.LearningConfig, snap SnapshotStore, logger *zap.Logger) *Learner {
	return &Learner{
		store:  store,
		cfg:    cfg,
		snap:   snap,
		dirty:  make(chan struct{}, 1),
		logger: logger.Named("learner"),
	}
}

// Learn учитывает исход выполненного решения. Эскалации пропускаются: автономного исхода у них нет.
// Возвращает новые пороги и признак изменения.
func (l *Learner) Learn(_ context.Context, s *domain.Situation, d domain.Decision, r domain.ActionResult) (domain.Thresholds, bool) {
	if !d.Action.Acted() {
		return l.store.Snapshot(), false
	}

	before, after := l.store.update(func(t domain.Thresholds) domain.Thresholds {
		floor := math.Max(l.cfg.Floor, t.Validated)
		if r.Success {
			t.Autonomous = domain.Clamp(t.Autonomous-l.cfg.RelaxStep, floor, l.cfg.Ceiling)
		} else {
			t.Autonomous = domain.Clamp(t.Autonomous+l.cfg.TightenStep, floor, l.cfg.Ceiling)
		}
		return t
	})

	changed := before.Autonomous != after.Autonomous
	l.logger.Debug("threshold adjusted",
		zap.String("situation_id", s.ID),
		zap.Bool("success", r.Success),
		zap.Float64("autonomous_before", before.Autonomous),
		zap.Float64("autonomous_after", after.Autonomous),
	)
	if changed {
		l.markDirty()
	}
	return after, changed
}

// Warmup восстанавливает выученный autonomous после рестарта.
// Остальные пороги берутся из конфигурации.
func (l *Learner) Warmup(ctx context.Context) error {
	if l.snap == nil {
		return nil
	}
	saved, found, err := l.snap.Load(ctx, l.store.Snapshot())
	if err != nil || !found {
		return err
	}
	_, after := l.store.update(func(t domain.Thresholds) domain.Thresholds {
		floor := math.Max(l.cfg.Floor, t.Validated)
		t.Autonomous = domain.Clamp(saved.Autonomous, floor, l.cfg.Ceiling)
		return t
	})
	l.logger.Info("thresholds restored", zap.Float64("autonomous", after.Autonomous))
	return nil
}

// Run сохраняет последний снимок после изменений. Несколько изменений подряд схлопываются в одну запись.
func (l *Learner) Run(ctx context.Context) {
	if l.snap == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			// Финальная запись, основной контекст уже закрыт
			select {
			case <-l.dirty:
				l.save(context.Background())
			default:
			}
			return
		case <-l.dirty:
			l.save(ctx)
		}
	}
}

func (l *Learner) save(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()
	if err := l.snap.Save(ctx, l.store.Snapshot()); err != nil {
		l.logger.Error("failed to persist thresholds", zap.Error(err))
	}
}

func (l *Learner) markDirty() {
	if l.snap == nil {
		return
	}
	select {
	case l.dirty <- struct{}{}:
	default:
	}
}
