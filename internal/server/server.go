// Package server wires the public HTTP/WS surface: token issuance, agent
// lifecycle, message sends, trust verification and the live channels.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/infra"
	"github.com/xela07ax/trustgate/internal/infra/auth"
	"github.com/xela07ax/trustgate/internal/registry"
	"github.com/xela07ax/trustgate/internal/server/handler"
)

type Server struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	authValidator auth.TokenValidator
	watcher       *registry.SuspendWatcher

	authHandler    *handler.AuthHandler
	agentHandler   *handler.AgentHandler
	messageHandler *handler.MessageHandler
	trustHandler   *handler.TrustHandler
	wsHandler      *handler.SessionHandler
}

func New(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	watcher *registry.SuspendWatcher,
	authH *handler.AuthHandler,
	agentH *handler.AgentHandler,
	messageH *handler.MessageHandler,
	trustH *handler.TrustHandler,
	wsH *handler.SessionHandler,
) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		logger:         logger.Named("api"),
		cfg:            cfg,
		authValidator:  validator,
		watcher:        watcher,
		authHandler:    authH,
		agentHandler:   agentH,
		messageHandler: messageH,
		trustHandler:   trustH,
		wsHandler:      wsH,
	}

	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Public routes. Registration is open: a new agent has no token yet.
	r.Group(func(r chi.Router) {
		r.Post("/auth/token", s.authHandler.Login)
		r.Post("/v1/agents", s.agentHandler.Create)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// Authenticated perimeter (RS256 token required).
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))
		r.Use(suspensionGuard(s.watcher, s.logger))

		r.Get("/v1/agents", s.agentHandler.List)
		r.Get("/v1/agents/{id}", s.agentHandler.Get)
		r.Post("/v1/agents/{id}/activate", s.agentHandler.Activate)
		r.With(auth.RequireScope(domain.ScopeAdmin)).Post("/v1/agents/{id}/suspend", s.agentHandler.Suspend)
		r.With(auth.RequireScope(domain.ScopeAdmin)).Post("/v1/agents/{id}/resume", s.agentHandler.Resume)

		r.With(auth.RequireScope(domain.ScopeSendMessage)).Post("/v1/messages", s.messageHandler.Send)
		r.Get("/v1/messages", s.messageHandler.History)

		r.With(auth.RequireScope(domain.ScopeVerifyTrust)).Post("/v1/trust/verify", s.trustHandler.Verify)
		r.Get("/v1/trust/logs", s.trustHandler.Logs)

		r.With(auth.RequireScope(domain.ScopeOpenSession)).Get("/ws/{agentID}", s.wsHandler.Attach)
	})
}
