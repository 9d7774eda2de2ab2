package domain

import (
	"sort"
	"strings"
	"time"
)

// Complexity: заявленная сложность задачи.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Normalize приводит значение к одному из трех бакетов. Неизвестное значение считаем medium.
func (c Complexity) Normalize() Complexity {
	switch Complexity(strings.ToLower(strings.TrimSpace(string(c)))) {
	case ComplexityLow:
		return ComplexityLow
	case ComplexityHigh:
		return ComplexityHigh
	default:
		return ComplexityMedium
	}
}

// Task: единица работы от внешнего декомпозитора. Ядро только читает ее поля.
type Task struct {
	ID              string         `json:"id"`
	Description     string         `json:"description"`
	Type            string         `json:"type"`
	Complexity      Complexity     `json:"complexity"`
	Tags            []string       `json:"tags,omitempty"`
	SuccessCriteria []string       `json:"success_criteria,omitempty"`
	Dependencies    []string       `json:"dependencies,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
	Deadline        time.Time      `json:"deadline,omitempty"`
}

// HasTag проверяет наличие тега (без учета регистра).
func (t *Task) HasTag(tag string) bool {
	for _, v := range t.Tags {
		if strings.EqualFold(v, tag) {
			return true
		}
	}
	return false
}

// Situation: то, о чем принимается решение. После создания не меняется.
type Situation struct {
	ID string `json:"id"`
	// ParentID ссылается на предыдущую ситуацию (повтор оркестратора или одобрение человека)
	ParentID  string         `json:"parent_id,omitempty"`
	Task      *Task          `json:"task"`
	Executors []string       `json:"executors"`
	Context   map[string]any `json:"context,omitempty"`
	CreatedAt time.Time      `json:"created_at"`

	// approval: ID одобренной эскалации. Неэкспортируемое поле, клиент не может его передать
	approval string
}

// Validate: единственная проверка, которая может вернуть ошибку вызывающему коду.
func (s *Situation) Validate() error {
	if s == nil {
		return &InputError{Field: "situation", Message: "situation is nil"}
	}
	if strings.TrimSpace(s.ID) == "" {
		return &InputError{Field: "id", Message: "situation id is required"}
	}
	if s.Task == nil {
		return &InputError{Field: "task", Message: "task reference is required"}
	}
	if strings.TrimSpace(s.Task.ID) == "" {
		return &InputError{Field: "task.id", Message: "task id is required"}
	}
	return nil
}

// Lookup ищет значение сначала в контексте ситуации, затем в контексте задачи.
func (s *Situation) Lookup(key string) (any, bool) {
	if v, ok := s.Context[key]; ok {
		return v, true
	}
	if s.Task != nil {
		if v, ok := s.Task.Context[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// Float достает числовое значение из контекста. JSON-числа приходят как float64.
func (s *Situation) Float(key string) (float64, bool) {
	v, ok := s.Lookup(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// Flag трактует значение контекста как булево: true, "true", "yes", "on".
func (s *Situation) Flag(key string) bool {
	v, ok := s.Lookup(key)
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(b) {
		case "true", "yes", "on", "1":
			return true
		}
	}
	return false
}

// ContextKeys: объединенный отсортированный список ключей контекста ситуации и задачи.
func (s *Situation) ContextKeys() []string {
	seen := make(map[string]struct{})
	for k := range s.Context {
		seen[k] = struct{}{}
	}
	if s.Task != nil {
		for k := range s.Task.Context {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HumanApproval возвращает ID одобренной эскалации, если ситуация пришла после решения человека.
func (s *Situation) HumanApproval() (string, bool) {
	return s.approval, s.approval != ""
}

// MarkApproved ставит отметку одобрения. Вызывается только оркестратором при возобновлении
// одобренной эскалации; из JSON (HTTP, gRPC, снимок в заявке) отметка не читается.
func (s *Situation) MarkApproved(escalationID string) {
	s.approval = escalationID
}

// SituationAnalysis: производные данные, общие для оценки уверенности и риска.
type SituationAnalysis struct {
	Complexity          Complexity         `json:"complexity"`
	AvailableExecutors  []string           `json:"available_executors"`
	ExecutorReliability map[string]float64 `json:"executor_reliability"`
	PendingDependencies int                `json:"pending_dependencies"`
	EstimatedResources  float64            `json:"estimated_resources"`
	AvailableResources  float64            `json:"available_resources"`
	AvailableTime       time.Duration      `json:"available_time"`
	HasDeadline         bool               `json:"has_deadline"`
	RequiredContext     []string           `json:"required_context"`
	PresentContext      []string           `json:"present_context"`
}
