package domain

import "time"

type EventType string

// Типы событий прогресса. Формат "agent:<этап>" зафиксирован контрактом стрима.
const (
	EventThinking         EventType = "agent:thinking"
	EventRouting          EventType = "agent:routing"
	EventPermissionCheck  EventType = "agent:permission_check"
	EventAwaitingApproval EventType = "agent:awaiting_approval"
	EventApproved         EventType = "agent:approved"
	EventDenied           EventType = "agent:denied"
	EventFulfilled        EventType = "agent:fulfilled"
	EventResponding       EventType = "agent:responding"
	EventError            EventType = "agent:error"

	// EventKeepalive — синтетический маркер живости транспорта.
	// Не является частью лога диалога и не имеет Seq.
	EventKeepalive EventType = "keepalive"
)

// AgentEvent — неизменяемое событие прогресса мультиагентного хода.
// После публикации в шину событие не мутируется.
type AgentEvent struct {
	Type       EventType `json:"type"`
	Agent      string    `json:"agent"`
	Target     string    `json:"target,omitempty"`
	Message    string    `json:"message,omitempty"`
	ApprovalID string    `json:"approval_id,omitempty"`
	Data       any       `json:"data,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	TraceID    string    `json:"trace_id,omitempty"`

	// Seq — позиция в append-only логе диалога (курсор для переподключения).
	// Проставляется шиной при публикации, начиная с 1.
	Seq uint64 `json:"seq,omitempty"`

	ConversationID string `json:"-"`
}
