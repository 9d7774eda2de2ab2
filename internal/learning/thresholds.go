package learning

import (
	"sync"
	"sync/atomic"

	"github.com/xela07ax/spaceai-autonomy/internal/domain"
)

// ThresholdStore: адаптивные пороги процесса.
// Читатели получают согласованный снимок всех пяти значений, записи сериализованы.
// Писать может только Learner этого пакета.
type ThresholdStore struct {
	cur atomic.Pointer[domain.Thresholds]
	mu  sync.Mutex
}

func NewThresholdStore(initial domain.Thresholds) *ThresholdStore {
	s := &ThresholdStore{}
	s.cur.Store(&initial)
	return s
}

// Snapshot: копия текущих порогов, снимается один раз на цикл решения.
func (s *ThresholdStore) Snapshot() domain.Thresholds {
	return *s.cur.Load()
}

func (s *ThresholdStore) update(fn func(domain.Thresholds) domain.Thresholds) (before, after domain.Thresholds) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before = *s.cur.Load()
	after = fn(before)
	s.cur.Store(&after)
	return before, after
}
