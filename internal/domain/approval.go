package domain

import (
	"time"
)

// Статусы State Machine
type ApprovalStatus string

const (
	StatusPending   ApprovalStatus = "pending"
	StatusApproved  ApprovalStatus = "approved"
	StatusDenied    ApprovalStatus = "denied"
	StatusFulfilled ApprovalStatus = "fulfilled"
)

// ApprovalRequest — запрос одного агента на доступ к чувствительным данным другого.
// Жизненный цикл: pending -> approved|denied, approved -> fulfilled.
// denied и fulfilled — терминальные состояния, обратных переходов нет.
type ApprovalRequest struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	TurnID         string `json:"-"` // Ссылка на зависший ход (для сигнала пробуждения)

	SourceAgent       string `json:"source_agent"`
	TargetAgent       string `json:"target_agent"`
	DataType          string `json:"data_type"`
	SensitivityReason string `json:"sensitivity_reason,omitempty"`
	Ask               string `json:"ask,omitempty"`

	Status ApprovalStatus `json:"status"`

	// Кто принял решение (Accountability)
	ReviewerID *string `json:"reviewer_id,omitempty"`
	Comment    *string `json:"comment,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	// Данные, которые целевой агент подготовил до одобрения.
	// Намеренно не сериализуются: утечка до решения человека недопустима.
	Payload string `json:"-"`
}

// CanTransitionTo проверяет правила конечного автомата
func (a *ApprovalRequest) CanTransitionTo(next ApprovalStatus) error {
	switch a.Status {
	case StatusPending:
		if next == StatusApproved || next == StatusDenied {
			return nil
		}
	case StatusApproved:
		if next == StatusFulfilled {
			return nil
		}
	}
	return ErrInvalidTransition
}

// Terminal сообщает, принято ли окончательное решение по запросу
func (a *ApprovalRequest) Terminal() bool {
	return a.Status == StatusDenied || a.Status == StatusFulfilled
}
