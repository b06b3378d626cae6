package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/xela07ax/agentorg/internal/domain"
	"github.com/xela07ax/agentorg/internal/eventbus"
	"github.com/xela07ax/agentorg/internal/metrics"
)

// EventSource Описываем, что нам нужно от шины событий
type EventSource interface {
	Subscribe(conversationID string, cursor uint64) *eventbus.Subscription
}

// StreamHandler раздает события диалога по SSE.
// Кадр события несет id: с номером Seq — это курсор клиента для
// переподключения. Keepalive уходит без id и курсор не двигает.
type StreamHandler struct {
	source  EventSource
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewStreamHandler(source EventSource, m *metrics.Metrics, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		source:  source,
		logger:  logger.Named("sse"),
		metrics: m,
	}
}

func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		writeError(w, fmt.Errorf("%w: conversation_id is required", domain.ErrValidation))
		return
	}

	cursor, err := parseCursor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.source.Subscribe(conversationID, cursor)
	defer sub.Cancel()

	h.metrics.ActiveStreams.Inc()
	defer h.metrics.ActiveStreams.Dec()

	h.logger.Debug("stream opened",
		zap.String("conversation_id", conversationID),
		zap.Uint64("cursor", cursor))

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.C:
			if !open {
				// Шина отсекла подписку (отстающий клиент).
				// Рвем соединение: клиент вернется со своим курсором.
				if sub.Lagged() {
					h.logger.Warn("closing lagged stream",
						zap.String("conversation_id", conversationID))
				}
				return
			}
			if err := writeFrame(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// parseCursor берет курсор из query, затем из стандартного Last-Event-ID
func parseCursor(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("cursor")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	if raw == "" {
		return 0, nil
	}
	cursor, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid cursor %q", domain.ErrValidation, raw)
	}
	return cursor, nil
}

func writeFrame(w http.ResponseWriter, ev domain.AgentEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if ev.Seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", ev.Seq); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
