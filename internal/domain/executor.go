package domain

import "time"

// ExecutorStatus: состояние исполнителя в реестре.
type ExecutorStatus string

const (
	ExecutorActive  ExecutorStatus = "active"  // Доступен для назначения
	ExecutorBlocked ExecutorStatus = "blocked" // Kill-switch, задачи не назначаются
)

// ExecutorStats: скользящие счетчики исполнителя.
// Счетчики дробные: при переполнении окна оба масштабируются вниз.
type ExecutorStats struct {
	Ref       string         `json:"ref"`
	Status    ExecutorStatus `json:"status"`
	Successes float64        `json:"successes"`
	Failures  float64        `json:"failures"`
}

// Samples: сколько наблюдений учтено в окне.
func (s ExecutorStats) Samples() float64 {
	return s.Successes + s.Failures
}

// Reliability: доля успехов. ok=false, если наблюдений нет.
func (s ExecutorStats) Reliability() (float64, bool) {
	total := s.Samples()
	if total <= 0 {
		return 0, false
	}
	return s.Successes / total, true
}

// ExecutorRecord: исполнитель в хранилище (статус kill-switch).
type ExecutorRecord struct {
	Ref       string         `json:"ref"`
	Status    ExecutorStatus `json:"status"`
	UpdatedAt time.Time      `json:"updated_at"`
}
