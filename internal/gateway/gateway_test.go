package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/audit"
	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/registry"
)

type memStore struct {
	mu   sync.Mutex
	msgs []domain.Message
	fail error
}

func (s *memStore) Save(_ context.Context, msg domain.Message) error {
	if s.fail != nil {
		return s.fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *memStore) ListByAgent(_ context.Context, agentID string) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.msgs {
		if m.FromAgentID == agentID || m.ToAgentID == agentID {
			out = append(out, m)
		}
	}
	return out, nil
}

type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []domain.Message
	online    bool
}

func (d *recordingDeliverer) Deliver(_ string, msg domain.Message) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.online {
		return false
	}
	d.delivered = append(d.delivered, msg)
	return true
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

type fixedGenerator struct {
	reply string
	err   error
}

func (g fixedGenerator) Generate(_ context.Context, _ domain.Message) (string, error) {
	return g.reply, g.err
}

func rawRules(t *testing.T, rules map[string]interface{}) map[string]json.RawMessage {
	t.Helper()
	out := make(map[string]json.RawMessage, len(rules))
	for k, v := range rules {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		out[k] = b
	}
	return out
}

func seedAgents(t *testing.T) registry.Registry {
	t.Helper()
	repo := registry.NewMemory()

	buyer := &domain.Agent{
		ID:   "buyer-1",
		Name: "Acme Buyer",
		Policies: []domain.Policy{{
			Name: "ESG Compliance",
			Rules: rawRules(t, map[string]interface{}{
				"esg_score":    map[string]interface{}{"min": 80},
				"jurisdiction": map[string]interface{}{"allowed": []string{"EU", "US"}},
			}),
		}},
	}
	supplier := &domain.Agent{
		ID:   "supplier-1",
		Name: "Good Supplier",
		Attributes: map[string]interface{}{
			"esg_score":    92,
			"jurisdiction": "EU",
		},
	}
	shady := &domain.Agent{
		ID:   "supplier-2",
		Name: "Shady Supplier",
		Attributes: map[string]interface{}{
			"esg_score":    55,
			"jurisdiction": "XX",
		},
	}

	require.NoError(t, repo.Create(context.Background(), buyer))
	require.NoError(t, repo.Create(context.Background(), supplier))
	require.NoError(t, repo.Create(context.Background(), shady))
	return repo
}

func newTestGateway(t *testing.T, repo registry.Registry, store *memStore, del *recordingDeliverer, gen fixedGenerator) (*Gateway, *audit.Log) {
	t.Helper()
	log := audit.NewLog(nil)
	gw := New(repo, log, store, del, gen, NewMetrics(nil), zap.NewNop(), Config{ReplyTimeout: time.Second})
	return gw, log
}

func TestSendAllowedPersistsAndDelivers(t *testing.T) {
	store := &memStore{}
	del := &recordingDeliverer{online: true}
	gw, log := newTestGateway(t, seedAgents(t), store, del, fixedGenerator{})

	msg, entry, err := gw.Send(context.Background(), SendRequest{
		From:    "buyer-1",
		To:      "supplier-1",
		Content: "Can you fulfill order 42?",
		Kind:    domain.KindText,
	})
	require.NoError(t, err)

	assert.True(t, msg.TrustVerified)
	assert.True(t, msg.Processed)
	assert.NotEmpty(t, msg.ID)
	assert.True(t, entry.Result.Allowed)
	assert.Equal(t, 1, log.Len())
	assert.Equal(t, 1, del.count())

	hist, err := gw.History(context.Background(), "supplier-1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, msg.ID, hist[0].ID)
}

func TestSendDeniedNeverReachesStoreOrChannel(t *testing.T) {
	store := &memStore{}
	del := &recordingDeliverer{online: true}
	gw, log := newTestGateway(t, seedAgents(t), store, del, fixedGenerator{})

	_, entry, err := gw.Send(context.Background(), SendRequest{
		From:    "buyer-1",
		To:      "supplier-2",
		Content: "hello",
		Kind:    domain.KindText,
	})
	require.Error(t, err)

	var denied *TrustDeniedError
	require.True(t, errors.As(err, &denied))
	assert.False(t, denied.Verdict.Allowed)
	assert.Equal(t, entry.ID, denied.LogID)

	// The denial itself is audited; nothing else happened.
	assert.Equal(t, 1, log.Len())
	assert.Empty(t, store.msgs)
	assert.Equal(t, 0, del.count())
}

func TestSendUnknownSource(t *testing.T) {
	gw, log := newTestGateway(t, seedAgents(t), &memStore{}, &recordingDeliverer{}, fixedGenerator{})

	_, _, err := gw.Send(context.Background(), SendRequest{
		From: "ghost", To: "supplier-1", Content: "x", Kind: domain.KindText,
	})

	var unknown *UnknownAgentError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "ghost", unknown.AgentID)
	assert.True(t, errors.Is(err, registry.ErrNotFound))
	assert.Equal(t, 0, log.Len())
}

func TestSendUnknownTargetIsAudited(t *testing.T) {
	gw, log := newTestGateway(t, seedAgents(t), &memStore{}, &recordingDeliverer{}, fixedGenerator{})

	_, entry, err := gw.Send(context.Background(), SendRequest{
		From: "buyer-1", To: "ghost", Content: "x", Kind: domain.KindText,
	})

	var unknown *UnknownAgentError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "ghost", unknown.AgentID)

	// Fail-closed evaluation of the missing target still lands in the log.
	require.Equal(t, 1, log.Len())
	assert.False(t, entry.Result.Allowed)
}

func TestSendRejectsInvalidKind(t *testing.T) {
	gw, log := newTestGateway(t, seedAgents(t), &memStore{}, &recordingDeliverer{}, fixedGenerator{})

	_, _, err := gw.Send(context.Background(), SendRequest{
		From: "buyer-1", To: "supplier-1", Content: "x", Kind: "carrier_pigeon",
	})
	require.Error(t, err)
	assert.Equal(t, 0, log.Len())
}

func TestSendOfflineRecipientStillPersists(t *testing.T) {
	store := &memStore{}
	gw, _ := newTestGateway(t, seedAgents(t), store, &recordingDeliverer{online: false}, fixedGenerator{})

	msg, _, err := gw.Send(context.Background(), SendRequest{
		From: "buyer-1", To: "supplier-1", Content: "x", Kind: domain.KindText,
	})
	require.NoError(t, err)
	assert.False(t, msg.Processed)
	assert.Len(t, store.msgs, 1)
}

func TestAutoReplyRunsPipelineInReverse(t *testing.T) {
	store := &memStore{}
	del := &recordingDeliverer{online: true}
	gw, log := newTestGateway(t, seedAgents(t), store, del, fixedGenerator{reply: "On it."})

	orig, _, err := gw.Send(context.Background(), SendRequest{
		From:      "buyer-1",
		To:        "supplier-1",
		Content:   "Can you fulfill order 42?",
		Kind:      domain.KindText,
		AutoReply: true,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.msgs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	store.mu.Lock()
	reply := store.msgs[1]
	store.mu.Unlock()

	assert.Equal(t, domain.KindGeneratedReply, reply.Kind)
	assert.Equal(t, "supplier-1", reply.FromAgentID)
	assert.Equal(t, "buyer-1", reply.ToAgentID)
	assert.Equal(t, "On it.", reply.Content)
	assert.Equal(t, orig.ID, reply.Metadata["in_reply_to"])

	// Both directions were evaluated and audited.
	assert.Equal(t, 2, log.Len())
}

func TestSendDeniedByThresholdAlone(t *testing.T) {
	repo := seedAgents(t)
	require.NoError(t, repo.Create(context.Background(), &domain.Agent{
		ID:   "supplier-3",
		Name: "Low Score Supplier",
		Attributes: map[string]interface{}{
			"esg_score":    41,
			"jurisdiction": "EU",
		},
	}))
	gw, _ := newTestGateway(t, repo, &memStore{}, &recordingDeliverer{online: true}, fixedGenerator{})

	_, entry, err := gw.Send(context.Background(), SendRequest{
		From: "buyer-1", To: "supplier-3", Content: "x", Kind: domain.KindText,
	})

	var denied *TrustDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, []string{"ESG Compliance/esg_score"}, entry.Result.PoliciesFailed)
	assert.Equal(t, []string{"ESG Compliance/jurisdiction"}, entry.Result.PoliciesPassed)
}

func TestAutoReplySkippedForNonTextKinds(t *testing.T) {
	store := &memStore{}
	gw, log := newTestGateway(t, seedAgents(t), store, &recordingDeliverer{online: true},
		fixedGenerator{reply: "should never be sent"})

	_, _, err := gw.Send(context.Background(), SendRequest{
		From:      "buyer-1",
		To:        "supplier-1",
		Content:   `{"credential": "lei"}`,
		Kind:      domain.KindCredentialRequest,
		AutoReply: true,
	})
	require.NoError(t, err)

	// No reply worker runs for structured kinds.
	time.Sleep(50 * time.Millisecond)
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.msgs, 1)
	assert.Equal(t, 1, log.Len())
}

func TestAutoReplyFailureDoesNotAffectOriginal(t *testing.T) {
	store := &memStore{}
	gw, log := newTestGateway(t, seedAgents(t), store, &recordingDeliverer{online: true},
		fixedGenerator{err: errors.New("model down")})

	_, _, err := gw.Send(context.Background(), SendRequest{
		From:      "buyer-1",
		To:        "supplier-1",
		Content:   "hi",
		Kind:      domain.KindText,
		AutoReply: true,
	})
	require.NoError(t, err)

	// Give the worker a chance to fail; the original message stands alone.
	time.Sleep(50 * time.Millisecond)
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.msgs, 1)
	assert.Equal(t, 1, log.Len())
}

func TestVerifyTrustLogsWithoutSending(t *testing.T) {
	store := &memStore{}
	gw, log := newTestGateway(t, seedAgents(t), store, &recordingDeliverer{online: true}, fixedGenerator{})

	verdict, entry, err := gw.VerifyTrust(context.Background(), "buyer-1", "supplier-2")
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Equal(t, entry.ID, log.List(audit.FilterBlocked)[0].ID)
	assert.Empty(t, store.msgs)
}

func TestVerifyTrustUnknownTarget(t *testing.T) {
	gw, log := newTestGateway(t, seedAgents(t), &memStore{}, &recordingDeliverer{}, fixedGenerator{})

	verdict, _, err := gw.VerifyTrust(context.Background(), "buyer-1", "ghost")
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Equal(t, 1, log.Len())
}
