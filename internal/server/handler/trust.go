package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/trustgate/internal/audit"
	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/gateway"
)

type TrustHandler struct {
	gw  *gateway.Gateway
	log *audit.Log
}

func NewTrustHandler(gw *gateway.Gateway, log *audit.Log) *TrustHandler {
	return &TrustHandler{gw: gw, log: log}
}

type verifyRequest struct {
	SourceAgentID string `json:"source_agent_id"`
	TargetAgentID string `json:"target_agent_id"`
}

type verifyResponse struct {
	Result domain.Verdict `json:"trust_result"`
	LogID  uint64         `json:"log_id"`
}

func (h *TrustHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request")
		return
	}

	verdict, entry, err := h.gw.VerifyTrust(r.Context(), req.SourceAgentID, req.TargetAgentID)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, verifyResponse{Result: verdict, LogID: entry.ID})
}

func (h *TrustHandler) Logs(w http.ResponseWriter, r *http.Request) {
	filter := audit.ParseFilter(r.URL.Query().Get("filter"))
	respondJSON(w, http.StatusOK, h.log.List(filter))
}
