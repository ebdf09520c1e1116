package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/infra/auth"
	"github.com/xela07ax/trustgate/internal/registry"
)

// suspensionGuard rejects traffic from suspended agents at the edge. The
// check is RAM-only against the watcher's L1 cache; the evaluator never
// sees lifecycle status.
func suspensionGuard(watcher *registry.SuspendWatcher, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if ok && watcher.IsSuspended(claims.AgentID) {
				logger.Warn("request from suspended agent rejected",
					zap.String("agent_id", claims.AgentID),
					zap.String("path", r.URL.Path))
				http.Error(w, "agent is suspended", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
