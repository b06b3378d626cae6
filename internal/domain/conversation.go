package domain

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message — одна реплика в хронологии диалога
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Agent     string    `json:"agent,omitempty"` // Кто из агентов ответил
	CreatedAt time.Time `json:"created_at"`
}

// Conversation — сессия диалога. ID создается на первом ходе и стабилен до конца.
type Conversation struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

// Состояния хода (Turn State Machine)
type TurnState string

const (
	TurnDispatched       TurnState = "dispatched"
	TurnStreaming        TurnState = "streaming"
	TurnAwaitingApproval TurnState = "awaiting_approval"
	TurnResumed          TurnState = "resumed"
	TurnCompleted        TurnState = "completed"
	TurnFailed           TurnState = "failed"
)

// Turn — один цикл запрос/ответ для одного сообщения пользователя.
// Может пересекать паузу на approval. completed и failed — терминальные.
type Turn struct {
	ID             string
	ConversationID string
	TraceID        string
	State          TurnState
	ApprovalID     string // Заполняется при подвисании на awaiting_approval
	StartedAt      time.Time
}

// допустимые переходы конечного автомата хода
var turnTransitions = map[TurnState][]TurnState{
	TurnDispatched:       {TurnStreaming, TurnFailed},
	TurnStreaming:        {TurnAwaitingApproval, TurnCompleted, TurnFailed},
	TurnAwaitingApproval: {TurnResumed, TurnCompleted, TurnFailed},
	TurnResumed:          {TurnCompleted, TurnFailed},
}

// Advance переводит ход в следующее состояние, охраняя порядок переходов
func (t *Turn) Advance(next TurnState) error {
	for _, allowed := range turnTransitions[t.State] {
		if allowed == next {
			t.State = next
			return nil
		}
	}
	return ErrInvalidTransition
}

// Done сообщает, достиг ли ход терминального состояния
func (t *Turn) Done() bool {
	return t.State == TurnCompleted || t.State == TurnFailed
}

// ChatRequest — входной контракт POST /api/chat
type ChatRequest struct {
	Message        string `json:"message"`
	Persona        string `json:"persona"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatResponse — итог завершенного хода
type ChatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
	Agent          string `json:"agent"`
	TraceID        string `json:"trace_id,omitempty"`
}
