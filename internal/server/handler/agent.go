package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/agentorg/internal/domain"
	"github.com/xela07ax/agentorg/internal/persona"
)

// PersonaRegistry Описываем, что нам нужно от реестра агентов
type PersonaRegistry interface {
	Get(slug string) (*persona.Spec, error)
	List() []*persona.Spec
	UpdatePermissions(slug string, p persona.Permissions) (*persona.Spec, error)
}

type AgentHandler struct {
	registry PersonaRegistry
}

func NewAgentHandler(r PersonaRegistry) *AgentHandler {
	return &AgentHandler{registry: r}
}

func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.List())
}

func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	spec, err := h.registry.Get(slug)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

// UpdatePermissions меняет права агента на лету (маршруты и типы данных)
func (h *AgentHandler) UpdatePermissions(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	var perms persona.Permissions
	if err := json.NewDecoder(r.Body).Decode(&perms); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}

	spec, err := h.registry.UpdatePermissions(slug, perms)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}
