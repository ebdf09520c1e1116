package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
)

func newAgent(id string) *domain.Agent {
	return &domain.Agent{
		ID:           id,
		Name:         "Agent " + id,
		Organization: "Org " + id,
		Policies: []domain.Policy{
			{ID: "p1", Name: "Base", Rules: map[string]json.RawMessage{
				"jurisdiction": json.RawMessage(`{"blocked": ["SANCTIONED"]}`),
			}},
		},
	}
}

func TestCreateAndGetReturnsClone(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()
	require.NoError(t, reg.Create(ctx, newAgent("a1")))

	got, err := reg.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInactive, got.Status)

	// Mutating the returned copy must not leak into the registry.
	got.Policies[0].Name = "tampered"
	again, err := reg.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Base", again.Policies[0].Name)
}

func TestCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()
	require.NoError(t, reg.Create(ctx, newAgent("a1")))
	assert.ErrorIs(t, reg.Create(ctx, newAgent("a1")), ErrAlreadyExists)
}

func TestGetUnknown(t *testing.T) {
	_, err := NewMemory().Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActivationRequiresVerification(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()
	require.NoError(t, reg.Create(ctx, newAgent("a1")))

	err := reg.SetStatus(ctx, "a1", domain.StatusActive)
	assert.ErrorIs(t, err, ErrNotVerified)

	require.NoError(t, reg.SetVerification(ctx, "a1", true, map[string]interface{}{"issuer": "GLEIF"}))
	require.NoError(t, reg.SetStatus(ctx, "a1", domain.StatusActive))

	got, err := reg.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.True(t, got.Verified)
}

func TestResumeRequiresVerification(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()
	require.NoError(t, reg.Create(ctx, newAgent("a1")))
	require.NoError(t, reg.SetVerification(ctx, "a1", true, nil))
	require.NoError(t, reg.SetStatus(ctx, "a1", domain.StatusActive))
	require.NoError(t, reg.SetStatus(ctx, "a1", domain.StatusSuspended))

	// Verification revoked while suspended blocks the way back to active.
	require.NoError(t, reg.SetVerification(ctx, "a1", false, nil))
	assert.ErrorIs(t, reg.SetStatus(ctx, "a1", domain.StatusActive), ErrNotVerified)

	require.NoError(t, reg.SetVerification(ctx, "a1", true, nil))
	assert.NoError(t, reg.SetStatus(ctx, "a1", domain.StatusActive))
}

func TestInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()
	require.NoError(t, reg.Create(ctx, newAgent("a1")))

	// inactive -> suspended is not a legal edge.
	assert.ErrorIs(t, reg.SetStatus(ctx, "a1", domain.StatusSuspended), ErrInvalidTransition)

	// Same-status set is a no-op, not an error.
	assert.NoError(t, reg.SetStatus(ctx, "a1", domain.StatusInactive))
}

func TestSuspendResumeAndListing(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()
	require.NoError(t, reg.Create(ctx, newAgent("a1")))
	require.NoError(t, reg.SetVerification(ctx, "a1", true, nil))
	require.NoError(t, reg.SetStatus(ctx, "a1", domain.StatusActive))
	require.NoError(t, reg.SetStatus(ctx, "a1", domain.StatusSuspended))

	ids, err := reg.SuspendedAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, ids)

	require.NoError(t, reg.SetStatus(ctx, "a1", domain.StatusActive))
	ids, err = reg.SuspendedAgents(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestTouchLastActive(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()
	require.NoError(t, reg.Create(ctx, newAgent("a1")))
	require.NoError(t, reg.Create(ctx, newAgent("a2")))

	require.NoError(t, reg.TouchLastActive(ctx, "a1", "a2", "ghost"))

	for _, id := range []string{"a1", "a2"} {
		got, err := reg.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, got.LastActive.IsZero())
	}
}

func TestWatcherSignalParsing(t *testing.T) {
	w := &SuspendWatcher{suspended: make(map[string]struct{}), logger: zap.NewNop()}

	w.processSignal("agent-1:on")
	assert.True(t, w.IsSuspended("agent-1"))

	w.processSignal("agent-1:off")
	assert.False(t, w.IsSuspended("agent-1"))

	// Ids may themselves contain colons (uuid-ish prefixes).
	w.processSignal("org:agent-2:on")
	assert.True(t, w.IsSuspended("org:agent-2"))

	// Garbage is ignored.
	w.processSignal("garbage")
	w.processSignal(":on")
	assert.False(t, w.IsSuspended("garbage"))
}
