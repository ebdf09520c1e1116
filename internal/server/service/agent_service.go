// Package service holds the API-facing orchestration: agent lifecycle on top
// of the registry, credential verification, token issuance. Handlers stay
// thin; everything that touches more than one dependency lives here.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/identity"
	"github.com/xela07ax/trustgate/internal/registry"
)

// RegisterRequest is the registration payload.
type RegisterRequest struct {
	Name         string                 `json:"name"`
	Organization string                 `json:"organization"`
	Description  string                 `json:"description"`
	Credential   map[string]interface{} `json:"credential"`
	Policies     []domain.Policy        `json:"policies"`
	Attributes   map[string]interface{} `json:"attributes"`
}

type AgentService struct {
	repo       registry.Registry
	verifier   identity.Verifier
	rdb        *redis.Client
	logger     *zap.Logger
	bcryptCost int
}

func NewAgentService(repo registry.Registry, verifier identity.Verifier, rdb *redis.Client, bcryptCost int, logger *zap.Logger) *AgentService {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AgentService{
		repo:       repo,
		verifier:   verifier,
		rdb:        rdb,
		logger:     logger.Named("agent-service"),
		bcryptCost: bcryptCost,
	}
}

// Register creates the agent inactive and runs credential verification when
// a credential is attached. The plaintext API key is returned exactly once.
func (s *AgentService) Register(ctx context.Context, req RegisterRequest) (*domain.Agent, string, error) {
	apiKey := uuid.New().String()
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), s.bcryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("service: hash api key: %w", err)
	}

	agent := &domain.Agent{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Organization: req.Organization,
		Description:  req.Description,
		Status:       domain.StatusInactive,
		Credential:   req.Credential,
		Policies:     req.Policies,
		Attributes:   req.Attributes,
		APIKeyHash:   hash,
		CreatedAt:    time.Now().UTC(),
	}

	if len(req.Credential) > 0 {
		v, err := s.verifier.Verify(ctx, agent.ID, req.Credential)
		if err != nil {
			// Registration still succeeds; activation will retry.
			s.logger.Warn("credential verification failed",
				zap.String("agent_id", agent.ID), zap.Error(err))
		} else {
			agent.Verified = v.Verified
			agent.VerificationDetails = v.Details
		}
	}

	if err := s.repo.Create(ctx, agent); err != nil {
		return nil, "", err
	}

	s.logger.Info("agent registered",
		zap.String("agent_id", agent.ID),
		zap.String("organization", agent.Organization),
		zap.Bool("verified", agent.Verified))
	return agent, apiKey, nil
}

// Activate re-checks the credential when the agent is not yet verified, then
// commits the inactive -> active transition.
func (s *AgentService) Activate(ctx context.Context, id string) (*domain.Agent, error) {
	agent, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !agent.Verified && len(agent.Credential) > 0 {
		v, err := s.verifier.Verify(ctx, id, agent.Credential)
		if err != nil {
			return nil, fmt.Errorf("service: verify credential: %w", err)
		}
		if err := s.repo.SetVerification(ctx, id, v.Verified, v.Details); err != nil {
			return nil, err
		}
	}

	if err := s.repo.SetStatus(ctx, id, domain.StatusActive); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Suspend freezes the agent and broadcasts the change so every instance's
// L1 cache rejects its sends immediately.
func (s *AgentService) Suspend(ctx context.Context, id string) error {
	return s.setSuspended(ctx, id, domain.StatusSuspended, true, "suspend")
}

// Resume lifts the suspension.
func (s *AgentService) Resume(ctx context.Context, id string) error {
	return s.setSuspended(ctx, id, domain.StatusActive, false, "resume")
}

func (s *AgentService) setSuspended(ctx context.Context, id string, status domain.AgentStatus, suspended bool, action string) error {
	if err := s.repo.SetStatus(ctx, id, status); err != nil {
		s.logger.Error("status update failed",
			zap.String("agent_id", id),
			zap.String("action", action),
			zap.Error(err))
		return err
	}

	if err := registry.Broadcast(ctx, s.rdb, id, suspended); err != nil {
		// Watchers re-sync on reconnect; the database already holds truth.
		s.logger.Warn("runtime signal delivery failed",
			zap.String("agent_id", id),
			zap.String("action", action),
			zap.Error(err))
	} else {
		s.logger.Info("agent state updated",
			zap.String("agent_id", id),
			zap.String("action", action),
			zap.String("new_status", string(status)))
	}
	return nil
}

func (s *AgentService) Get(ctx context.Context, id string) (*domain.Agent, error) {
	return s.repo.Get(ctx, id)
}

// List never hands the transport a nil slice.
func (s *AgentService) List(ctx context.Context) ([]*domain.Agent, error) {
	agents, err := s.repo.List(ctx)
	if err != nil {
		s.logger.Error("list agents failed", zap.Error(err))
		return nil, fmt.Errorf("service: could not fetch agents: %w", err)
	}
	if agents == nil {
		return []*domain.Agent{}, nil
	}
	return agents, nil
}
