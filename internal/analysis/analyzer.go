package analysis

import (
	"time"

	"github.com/xela07ax/spaceai-autonomy/internal/domain"
)

// Ключи контекста, которые понимает анализатор
const (
	KeyCompletedDependencies = "completed_dependencies"
	KeyEstimatedResources    = "estimated_resources"
	KeyAvailableResources    = "available_resources"
)

// ExecutorDirectory: реестр исполнителей: доступность (kill-switch) и скользящие счетчики.
type ExecutorDirectory interface {
	Available(ref string) bool
	Stats(ref string) domain.ExecutorStats
}

type Config struct {
	// RequiredContext: тип задачи -> ключи контекста, которые для него обычно нужны
	RequiredContext map[string][]string
	// ResourceEstimates: сложность -> условная оценка нужных ресурсов
	ResourceEstimates map[string]float64
	ResourceCapacity  float64
}

// Analyzer строит SituationAnalysis — общие производные данные для оценки уверенности и риска.
type Analyzer struct {
	dir ExecutorDirectory
	cfg Config
	now func() time.Time
}

func NewAnalyzer(dir ExecutorDirectory, cfg Config) *Analyzer {
	return &Analyzer{dir: dir, cfg: cfg, now: time.Now}
}

// WithClock подменяет часы (для тестов дедлайнов).
func (a *Analyzer) WithClock(now func() time.Time) *Analyzer {
	a.now = now
	return a
}

// Analyze не блокируется и не ходит во внешние системы.
func (a *Analyzer) Analyze(s *domain.Situation) domain.SituationAnalysis {
	t := s.Task
	res := domain.SituationAnalysis{
		Complexity:          t.Complexity.Normalize(),
		ExecutorReliability: make(map[string]float64),
	}

	for _, ref := range s.Executors {
		if !a.dir.Available(ref) {
			continue
		}
		res.AvailableExecutors = append(res.AvailableExecutors, ref)
		if r, ok := a.dir.Stats(ref).Reliability(); ok {
			res.ExecutorReliability[ref] = r
		}
	}

	res.PendingDependencies = pendingDependencies(s)

	res.EstimatedResources = a.cfg.ResourceEstimates[string(res.Complexity)]
	if v, ok := s.Float(KeyEstimatedResources); ok {
		res.EstimatedResources = v
	}
	res.AvailableResources = a.cfg.ResourceCapacity
	if v, ok := s.Float(KeyAvailableResources); ok {
		res.AvailableResources = v
	}

	if !t.Deadline.IsZero() {
		res.HasDeadline = true
		res.AvailableTime = t.Deadline.Sub(a.now())
		if res.AvailableTime < 0 {
			res.AvailableTime = 0
		}
	}

	res.RequiredContext = a.cfg.RequiredContext[t.Type]
	for _, key := range res.RequiredContext {
		if _, ok := s.Lookup(key); ok {
			res.PresentContext = append(res.PresentContext, key)
		}
	}

	return res
}

func pendingDependencies(s *domain.Situation) int {
	deps := s.Task.Dependencies
	if len(deps) == 0 {
		return 0
	}
	done := make(map[string]struct{})
	if v, ok := s.Lookup(KeyCompletedDependencies); ok {
		switch list := v.(type) {
		case []string:
			for _, id := range list {
				done[id] = struct{}{}
			}
		case []any:
			for _, id := range list {
				if str, ok := id.(string); ok {
					done[str] = struct{}{}
				}
			}
		}
	}
	pending := 0
	for _, d := range deps {
		if _, ok := done[d]; !ok {
			pending++
		}
	}
	return pending
}
