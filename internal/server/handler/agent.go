package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/server/service"
)

type AgentHandler struct {
	service *service.AgentService
	logger  *zap.Logger
}

func NewAgentHandler(s *service.AgentService, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{service: s, logger: logger.Named("agent-handler")}
}

type registeredAgent struct {
	Agent  *domain.Agent `json:"agent"`
	APIKey string        `json:"api_key"`
}

func (h *AgentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	if req.Name == "" || req.Organization == "" {
		respondError(w, http.StatusBadRequest, "name and organization are required")
		return
	}

	agent, apiKey, err := h.service.Register(r.Context(), req)
	if err != nil {
		h.logger.Error("register failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, registeredAgent{Agent: agent, APIKey: apiKey})
}

func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	agents, err := h.service.List(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agents)
}

func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	agent, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

func (h *AgentHandler) Activate(w http.ResponseWriter, r *http.Request) {
	agent, err := h.service.Activate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

func (h *AgentHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Suspend(r.Context(), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AgentHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Resume(r.Context(), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
