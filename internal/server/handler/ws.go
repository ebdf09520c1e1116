package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/infra/auth"
	"github.com/xela07ax/trustgate/internal/session"
)

type SessionHandler struct {
	manager *session.Manager
	logger  *zap.Logger
}

func NewSessionHandler(m *session.Manager, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{manager: m, logger: logger.Named("ws-handler")}
}

// Attach upgrades to WebSocket. A token opens a channel only for its own
// agent id.
func (h *SessionHandler) Attach(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if agentID == "" {
		respondError(w, http.StatusBadRequest, "agentID is required")
		return
	}

	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || (claims.AgentID != agentID && !claims.Scopes[domain.ScopeAdmin]) {
		respondError(w, http.StatusForbidden, "token does not speak for this agent")
		return
	}

	if _, err := h.manager.Attach(w, r, agentID); err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("ws attach failed", zap.String("agent_id", agentID), zap.Error(err))
	}
}
