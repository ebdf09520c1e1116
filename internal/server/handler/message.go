package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/gateway"
	"github.com/xela07ax/trustgate/internal/infra/auth"
)

type MessageHandler struct {
	gw *gateway.Gateway
}

func NewMessageHandler(gw *gateway.Gateway) *MessageHandler {
	return &MessageHandler{gw: gw}
}

type sendRequest struct {
	From      string            `json:"from_agent_id"`
	To        string            `json:"to_agent_id"`
	Content   string            `json:"content"`
	Kind      string            `json:"kind"`
	AutoReply bool              `json:"auto_reply"`
	Metadata  map[string]string `json:"metadata"`
}

type sendResponse struct {
	Message domain.Message `json:"message"`
	LogID   uint64         `json:"log_id"`
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	if req.Kind == "" {
		req.Kind = string(domain.KindText)
	}

	// A token only speaks for its own agent.
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || (claims.AgentID != req.From && !claims.Scopes[domain.ScopeAdmin]) {
		respondError(w, http.StatusForbidden, "token does not speak for the sending agent")
		return
	}

	msg, entry, err := h.gw.Send(r.Context(), gateway.SendRequest{
		From:      req.From,
		To:        req.To,
		Content:   req.Content,
		Kind:      domain.MessageKind(req.Kind),
		AutoReply: req.AutoReply,
		Metadata:  req.Metadata,
	})
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sendResponse{Message: msg, LogID: entry.ID})
}

func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			respondError(w, http.StatusBadRequest, "agent_id is required")
			return
		}
		agentID = claims.AgentID
	}

	msgs, err := h.gw.History(r.Context(), agentID)
	if err != nil {
		mapError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	respondJSON(w, http.StatusOK, msgs)
}
