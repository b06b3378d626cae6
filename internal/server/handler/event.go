package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/xela07ax/agentorg/internal/domain"
)

// EventLog — живой лог событий в памяти (шина)
type EventLog interface {
	History(conversationID string, cursor uint64) []domain.AgentEvent
}

// EventArchive — долговременная копия лога в Postgres (опциональна)
type EventArchive interface {
	Fetch(ctx context.Context, conversationID string, afterSeq uint64, limit int) ([]domain.AgentEvent, error)
}

type EventHandler struct {
	log     EventLog
	archive EventArchive // nil в dev-режиме без Postgres
}

func NewEventHandler(log EventLog, archive EventArchive) *EventHandler {
	return &EventHandler{log: log, archive: archive}
}

// History отдает события диалога после курсора.
// Живой лог имеет приоритет; архив закрывает случай рестарта сервиса,
// когда память пуста, а история уже лежит в БД.
func (h *EventHandler) History(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		writeError(w, fmt.Errorf("%w: conversation_id is required", domain.ErrValidation))
		return
	}

	var cursor uint64
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, fmt.Errorf("%w: invalid cursor", domain.ErrValidation))
			return
		}
		cursor = parsed
	}

	events := h.log.History(conversationID, cursor)
	if len(events) == 0 && h.archive != nil {
		stored, err := h.archive.Fetch(r.Context(), conversationID, cursor, 1000)
		if err != nil {
			writeError(w, err)
			return
		}
		events = stored
	}
	if events == nil {
		events = []domain.AgentEvent{}
	}

	writeJSON(w, http.StatusOK, events)
}
