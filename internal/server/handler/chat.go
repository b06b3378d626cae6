package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/agentorg/internal/domain"
	"github.com/xela07ax/agentorg/internal/metrics"
)

// ChatService Описываем, что нам нужно от координатора
type ChatService interface {
	HandleMessage(ctx context.Context, conversationID, personaSlug, text string) (*domain.ChatResponse, error)
	Conversation(id string) (*domain.Conversation, error)
}

type ChatHandler struct {
	service ChatService
	metrics *metrics.Metrics
}

func NewChatHandler(s ChatService, m *metrics.Metrics) *ChatHandler {
	return &ChatHandler{service: s, metrics: m}
}

// Send — один ход диалога. Ответ возвращается только после терминального
// состояния хода, включая возможную паузу на approval.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}
	if req.Message == "" {
		writeError(w, fmt.Errorf("%w: message is required", domain.ErrValidation))
		return
	}
	if req.Persona == "" {
		req.Persona = "finance-manager" // Дефолтная точка входа в оргструктуру
	}

	started := time.Now()
	h.metrics.TurnsTotal.WithLabelValues(req.Persona).Inc()

	resp, err := h.service.HandleMessage(r.Context(), req.ConversationID, req.Persona, req.Message)
	if err != nil {
		h.metrics.TurnDuration.WithLabelValues(req.Persona, "error").Observe(time.Since(started).Seconds())
		h.metrics.ErrorTotal.WithLabelValues(errorClass(err)).Inc()
		writeError(w, err)
		return
	}

	h.metrics.TurnDuration.WithLabelValues(req.Persona, "ok").Observe(time.Since(started).Seconds())
	writeJSON(w, http.StatusOK, resp)
}

// GetConversation отдает хронологию сообщений диалога
func (h *ChatHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	conv, err := h.service.Conversation(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}
