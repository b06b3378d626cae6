package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/agentorg/internal/domain"
	"github.com/xela07ax/agentorg/internal/infra/auth"
	"github.com/xela07ax/agentorg/internal/metrics"
)

// ApprovalService Описываем, что нам нужно от леджера
type ApprovalService interface {
	Get(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	List(ctx context.Context, statusFilter string) ([]*domain.ApprovalRequest, error)
	Resolve(ctx context.Context, id string, approved bool, reviewerID, comment string) (*domain.ApprovalRequest, error)
	Fulfill(ctx context.Context, id string) (string, *domain.ApprovalRequest, error)
}

type ApprovalHandler struct {
	service ApprovalService
	metrics *metrics.Metrics
}

func NewApprovalHandler(s ApprovalService, m *metrics.Metrics) *ApprovalHandler {
	return &ApprovalHandler{service: s, metrics: m}
}

// List — очередь запросов в порядке создания. ?status=all отдает весь леджер.
func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status") // Достаем из ?status=...
	if status == "" {
		status = string(domain.StatusPending) // Дефолт: очередь на решение
	}

	list, err := h.service.List(r.Context(), status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ApprovalHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	approval, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

type decideRequest struct {
	Comment string `json:"comment"`
}

func (h *ApprovalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

func (h *ApprovalHandler) Deny(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

// decide фиксирует решение оператора. Первый пришедший выигрывает:
// повторное решение вернет 409 (леджер не дает перезаписать терминальный статус).
func (h *ApprovalHandler) decide(w http.ResponseWriter, r *http.Request, approved bool) {
	id := chi.URLParam(r, "id")

	var req decideRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // Комментарий опционален
	}

	// ReviewerID кладет auth middleware (RS256 токен)
	reviewerID := auth.ReviewerFromContext(r.Context())
	if reviewerID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	approval, err := h.service.Resolve(r.Context(), id, approved, reviewerID, req.Comment)
	if err != nil {
		writeError(w, err)
		return
	}

	h.metrics.DecisionsTotal.WithLabelValues(string(approval.Status)).Inc()
	writeJSON(w, http.StatusOK, approval)
}

type fulfillResponse struct {
	Approval *domain.ApprovalRequest `json:"approval"`
	Payload  string                  `json:"payload"`
}

// Fulfill выпускает удержанные данные одобренного запроса.
// В штатном потоке это делает координатор; ручка нужна для ходов,
// упавших по таймауту ожидания и решенных позже.
func (h *ApprovalHandler) Fulfill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	payload, approval, err := h.service.Fulfill(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fulfillResponse{Approval: approval, Payload: payload})
}
