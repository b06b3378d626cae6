package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/agentorg/internal/domain"
)

// writeJSON сериализует ответ с заданным статусом
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError переводит доменную ошибку в HTTP статус.
// Маппинг зафиксирован контрактом API: клиенты различают конфликт
// решений (409) и недоступность внешней сети (502/504).
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrUpstream):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrTimeout):
		status = http.StatusGatewayTimeout
	}

	writeJSON(w, status, errorBody{Error: err.Error()})
}

// errorClass — метка типа ошибки для метрик
func errorClass(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrUpstream):
		return "upstream"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	}
	return "internal"
}
