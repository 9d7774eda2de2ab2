package domain

import (
	"encoding/json"
	"time"
)

// Action: что делать с ситуацией.
type Action string

const (
	ActionExecuteAutonomously   Action = "execute_autonomously"
	ActionExecuteWithValidation Action = "execute_with_validation"
	ActionEscalateToHuman       Action = "escalate_to_human"
)

// Acted: действие выполняется без участия человека (с валидацией или без).
func (a Action) Acted() bool {
	return a == ActionExecuteAutonomously || a == ActionExecuteWithValidation
}

// AutonomyLevel: степень самостоятельности.
type AutonomyLevel string

const (
	LevelFull      AutonomyLevel = "full"
	LevelValidated AutonomyLevel = "validated"
	LevelConsult   AutonomyLevel = "consult"
	LevelNone      AutonomyLevel = "none"
)

// Названия факторов уверенности
const (
	FactorHistoricalSuccess    = "historical_success"
	FactorAgentReliability     = "agent_reliability"
	FactorComplexity           = "complexity_factor"
	FactorTaskClarity          = "task_clarity"
	FactorResourceAvailability = "resource_availability"
	FactorContextQuality       = "context_quality"
)

// Названия факторов риска
const (
	RiskBusinessImpact = "business_impact"
	RiskTechnical      = "technical_risk"
	RiskData           = "data_risk"
	RiskBrand          = "brand_risk"
	RiskFinancial      = "financial_risk"
	RiskLegal          = "legal_risk"
)

// ConfidenceScore: оценка вероятности успеха автономного действия.
type ConfidenceScore struct {
	Score       float64            `json:"score"`
	Factors     map[string]float64 `json:"factors"`
	Explanation string             `json:"explanation"`
}

// RiskLevel: категория риска.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Severe: High или Critical.
func (l RiskLevel) Severe() bool {
	return l == RiskHigh || l == RiskCritical
}

// RiskAssessment: цена ошибки. Score всегда равен максимуму по факторам.
type RiskAssessment struct {
	Level       RiskLevel          `json:"level"`
	Score       float64            `json:"score"`
	Factors     map[string]float64 `json:"factors"`
	Dominant    []string           `json:"dominant,omitempty"`
	Mitigations map[string]string  `json:"mitigations,omitempty"`
}

// RulesCheck: результат проверки правил.
type RulesCheck struct {
	Passed            bool     `json:"passed"`
	Violations        []string `json:"violations,omitempty"`
	EscalateMatches   []string `json:"escalate_matches,omitempty"`
	AutonomousMatches []string `json:"autonomous_matches,omitempty"`
	// HumanApproval: id одобренной эскалации, если ситуация пришла после решения человека
	HumanApproval string `json:"human_approval,omitempty"`
}

// Decision: выход политики. Значимый тип, не меняется после создания.
type Decision struct {
	Action             Action          `json:"action"`
	Level              AutonomyLevel   `json:"level"`
	Confidence         ConfidenceScore `json:"confidence"`
	Risk               RiskAssessment  `json:"risk"`
	Rules              RulesCheck      `json:"rules"`
	Reason             string          `json:"reason,omitempty"`
	RequiresValidation bool            `json:"requires_validation"`
	MatchedRule        string          `json:"matched_rule"`
}

// ValidationReport: ответ внешнего валидатора.
type ValidationReport struct {
	Passed bool     `json:"passed"`
	Score  float64  `json:"score"`
	Issues []string `json:"issues,omitempty"`
}

// ActionResult: итог исполнения решения.
type ActionResult struct {
	Success            bool              `json:"success"`
	Payload            json.RawMessage   `json:"payload,omitempty"`
	Autonomous         bool              `json:"autonomous"`
	ValidationRequired bool              `json:"validation_required"`
	Validation         *ValidationReport `json:"validation,omitempty"`
	TechnicalFailure   bool              `json:"technical_failure"`
	TimedOut           bool              `json:"timed_out"`
	Error              string            `json:"error,omitempty"`
	ExecutorRef        string            `json:"executor_ref,omitempty"`
	DurationMs         int64             `json:"duration_ms"`
	// RetryAfterMs: исполнитель попросил паузу перед повтором (троттлинг)
	RetryAfterMs int64 `json:"retry_after_ms,omitempty"`
}

// DecisionLogEntry: запись журнала решений. Только добавление, без изменений.
type DecisionLogEntry struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	SituationID string        `json:"situation_id"`
	ParentID    string        `json:"parent_id,omitempty"`
	TaskType    string        `json:"task_type"`
	ContextKeys []string      `json:"context_keys,omitempty"`
	Decision    Decision      `json:"decision"`
	Result      *ActionResult `json:"result,omitempty"`
}
