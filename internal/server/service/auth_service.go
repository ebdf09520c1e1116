package service

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/infra/auth"
	"github.com/xela07ax/trustgate/internal/registry"
)

// TokenResponse is the /auth/token reply.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// AuthService authenticates agents by API key and mints their tokens.
// Embedding BaseValidator makes it the TokenValidator for the middleware.
type AuthService struct {
	*auth.BaseValidator
	repo   registry.Registry
	issuer *auth.Issuer
	ttl    time.Duration
}

func NewAuthService(repo registry.Registry, validator *auth.BaseValidator, issuer *auth.Issuer, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AuthService{
		BaseValidator: validator,
		repo:          repo,
		issuer:        issuer,
		ttl:           ttl,
	}
}

// GenerateToken checks the API key against the stored bcrypt hash and signs
// a token with the agent's scopes. It never says which part was wrong.
func (s *AuthService) GenerateToken(ctx context.Context, agentID, apiKey string) (*TokenResponse, error) {
	agent, err := s.repo.Get(ctx, agentID)
	if err != nil || agent == nil {
		return nil, errors.New("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword(agent.APIKeyHash, []byte(apiKey)); err != nil {
		return nil, errors.New("invalid credentials")
	}

	scopes := map[string]bool{
		domain.ScopeSendMessage: true,
		domain.ScopeVerifyTrust: true,
		domain.ScopeOpenSession: true,
	}

	token, err := s.issuer.IssueToken(agent.ID, scopes)
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.ttl.Seconds()),
	}, nil
}
