package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/trustgate/internal/domain"
)

// Memory is the process-local Registry implementation. Safe for concurrent
// access; every returned agent is a deep clone, so callers can never mutate
// internal state through a reference.
type Memory struct {
	mu     sync.RWMutex
	agents map[string]*domain.Agent
}

func NewMemory() *Memory {
	return &Memory{agents: make(map[string]*domain.Agent)}
}

func (m *Memory) Create(_ context.Context, agent *domain.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[agent.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, agent.ID)
	}
	cp := agent.Clone()
	if cp.Status == "" {
		cp.Status = domain.StatusInactive
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.agents[cp.ID] = cp
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*domain.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agent, ok := m.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return agent.Clone(), nil
}

func (m *Memory) List(_ context.Context) ([]*domain.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.Agent, 0, len(m.agents))
	for _, agent := range m.agents {
		out = append(out, agent.Clone())
	}
	return out, nil
}

func (m *Memory) SetStatus(_ context.Context, id string, status domain.AgentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	agent, ok := m.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if agent.Status == status {
		return nil
	}
	if !domain.ValidTransition(agent.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, agent.Status, status)
	}
	// Activation always requires verification, including suspended -> active.
	if status == domain.StatusActive && !agent.Verified {
		return fmt.Errorf("%w: %s", ErrNotVerified, id)
	}
	agent.Status = status
	return nil
}

func (m *Memory) SetVerification(_ context.Context, id string, verified bool, details map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	agent, ok := m.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	agent.Verified = verified
	agent.VerificationDetails = details
	return nil
}

func (m *Memory) TouchLastActive(_ context.Context, ids ...string) error {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if agent, ok := m.agents[id]; ok {
			agent.LastActive = now
		}
	}
	return nil
}

func (m *Memory) SuspendedAgents(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for id, agent := range m.agents {
		if agent.Status == domain.StatusSuspended {
			out = append(out, id)
		}
	}
	return out, nil
}
