package domain

import (
	"errors"
	"time"
)

// Статусы State Machine эскалации
type EscalationStatus string

const (
	StatusPending  EscalationStatus = "PENDING"
	StatusApproved EscalationStatus = "APPROVED"
	StatusRejected EscalationStatus = "REJECTED"
)

var (
	ErrInvalidTransition = errors.New("invalid escalation status transition")
	ErrAlreadyProcessed  = errors.New("escalation request already processed")
)

// EscalationRequest: заявка на решение человека (HITL).
// Ядро не ждет ответа: одобрение порождает новую ситуацию со ссылкой на SituationID.
type EscalationRequest struct {
	ID          string           `json:"id"`
	SituationID string           `json:"situation_id"`
	TaskType    string           `json:"task_type"`
	Reason      string           `json:"reason"`
	Confidence  float64          `json:"confidence"`
	RiskLevel   RiskLevel        `json:"risk_level"`
	Situation   []byte           `json:"situation"` // JSON снимок ситуации для возобновления
	Status      EscalationStatus `json:"status"`

	ReviewerID *string `json:"reviewer_id,omitempty"`
	Comment    *string `json:"comment,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanTransitionTo проверяет правила конечного автомата
func (a *EscalationRequest) CanTransitionTo(next EscalationStatus) error {
	if a.Status != StatusPending {
		return ErrAlreadyProcessed
	}
	if next != StatusApproved && next != StatusRejected {
		return ErrInvalidTransition
	}
	return nil
}

// EscalationDecision: сообщение о решении оператора, которое консоль публикует в Redis.
type EscalationDecision struct {
	EscalationID string           `json:"escalation_id"`
	SituationID  string           `json:"situation_id"`
	Status       EscalationStatus `json:"status"`
	ReviewerID   string           `json:"reviewer_id"`
}
