// Package registry owns agent identity records: lifecycle status, the
// verification flag, policy sets. The gateway and evaluator only ever read
// from it; the core never deletes an agent.
package registry

import (
	"context"
	"errors"

	"github.com/xela07ax/trustgate/internal/domain"
)

var (
	ErrNotFound          = errors.New("registry: agent not found")
	ErrAlreadyExists     = errors.New("registry: agent already exists")
	ErrInvalidTransition = errors.New("registry: invalid status transition")
	ErrNotVerified       = errors.New("registry: agent credential is not verified")
)

// Registry is the keyed agent store. Implementations must return deep copies
// from Get/List so concurrent policy edits can never land mid-evaluation;
// the gateway snapshots policies simply by reading.
type Registry interface {
	Create(ctx context.Context, agent *domain.Agent) error
	Get(ctx context.Context, id string) (*domain.Agent, error)
	List(ctx context.Context) ([]*domain.Agent, error)

	// SetStatus commits a compare-and-swap style transition: the change
	// applies only if it is legal from the agent's current status, and
	// inactive -> active additionally requires the verification flag.
	SetStatus(ctx context.Context, id string, status domain.AgentStatus) error

	// SetVerification records the external verifier's outcome.
	SetVerification(ctx context.Context, id string, verified bool, details map[string]interface{}) error

	// TouchLastActive bumps the last-active timestamp after successful traffic.
	TouchLastActive(ctx context.Context, ids ...string) error

	// SuspendedAgents feeds the suspension watcher's warmup.
	SuspendedAgents(ctx context.Context) ([]string, error)
}
