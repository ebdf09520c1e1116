// Package handler holds the thin HTTP layer: decode, delegate, encode.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/trustgate/internal/gateway"
	"github.com/xela07ax/trustgate/internal/registry"
)

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// mapError translates domain errors to HTTP. A trust denial is not an
// internal failure: the verdict rides along so the caller can see why.
func mapError(w http.ResponseWriter, err error) {
	var denied *gateway.TrustDeniedError
	var unknown *gateway.UnknownAgentError

	switch {
	case errors.As(err, &denied):
		respondJSON(w, http.StatusForbidden, map[string]interface{}{
			"error":        "trust verification failed",
			"trust_result": denied.Verdict,
			"log_id":       denied.LogID,
		})
	case errors.As(err, &unknown):
		respondError(w, http.StatusNotFound, unknown.Error())
	case errors.Is(err, registry.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrAlreadyExists):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrNotVerified):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
