package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/audit"
	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/gateway"
	"github.com/xela07ax/trustgate/internal/identity"
	"github.com/xela07ax/trustgate/internal/infra"
	"github.com/xela07ax/trustgate/internal/infra/auth"
	"github.com/xela07ax/trustgate/internal/registry"
	"github.com/xela07ax/trustgate/internal/server/handler"
	"github.com/xela07ax/trustgate/internal/server/service"
	"github.com/xela07ax/trustgate/internal/session"
)

type memMessages struct {
	msgs []domain.Message
}

func (s *memMessages) Save(_ context.Context, msg domain.Message) error {
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *memMessages) ListByAgent(_ context.Context, agentID string) ([]domain.Message, error) {
	var out []domain.Message
	for _, m := range s.msgs {
		if m.FromAgentID == agentID || m.ToAgentID == agentID {
			out = append(out, m)
		}
	}
	return out, nil
}

type testEnv struct {
	srv     *httptest.Server
	repo    registry.Registry
	issuer  *auth.Issuer
	watcher *registry.SuspendWatcher
	log     *audit.Log
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := registry.NewMemory()
	trustLog := audit.NewLog(nil)
	manager := session.NewManager(session.Config{}, logger)
	gw := gateway.New(repo, trustLog, &memMessages{}, manager, nil, nil, logger, gateway.Config{})

	// Redis is unreachable in tests: broadcasts degrade to warnings and the
	// watcher runs on its registry warmup alone.
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	watcher := registry.NewSuspendWatcher(rdb, repo, logger)

	validator := auth.NewBaseValidator(&key.PublicKey)
	issuer := auth.NewIssuer(key, time.Hour)
	agentSvc := service.NewAgentService(repo, identity.Static{}, rdb, 4, logger)
	authSvc := service.NewAuthService(repo, validator, issuer, time.Hour)

	s := New(
		&infra.Config{},
		logger,
		authSvc,
		watcher,
		handler.NewAuthHandler(authSvc),
		handler.NewAgentHandler(agentSvc, logger),
		handler.NewMessageHandler(gw),
		handler.NewTrustHandler(gw, trustLog),
		handler.NewSessionHandler(manager, logger),
	)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, repo: repo, issuer: issuer, watcher: watcher, log: trustLog}
}

func (e *testEnv) seedAgent(t *testing.T, id string, policies []domain.Policy, attrs map[string]interface{}) {
	t.Helper()
	require.NoError(t, e.repo.Create(context.Background(), &domain.Agent{
		ID:         id,
		Name:       id,
		Policies:   policies,
		Attributes: attrs,
		Verified:   true,
		Status:     domain.StatusActive,
	}))
}

func (e *testEnv) token(t *testing.T, agentID string, scopes map[string]bool) string {
	t.Helper()
	token, err := e.issuer.IssueToken(agentID, scopes)
	require.NoError(t, err)
	return token
}

func doJSON(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func agentScopes() map[string]bool {
	return map[string]bool{
		domain.ScopeSendMessage: true,
		domain.ScopeVerifyTrust: true,
		domain.ScopeOpenSession: true,
	}
}

func TestRegisterAndIssueToken(t *testing.T) {
	env := newTestEnv(t)

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/v1/agents", "", map[string]interface{}{
		"name":         "Acme Agent",
		"organization": "Acme Corp",
		"credential": map[string]interface{}{
			"credentialSubject": map[string]interface{}{"lei": "LEI-ACME-1"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Agent  domain.Agent `json:"agent"`
		APIKey string       `json:"api_key"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.NotEmpty(t, created.APIKey)
	assert.True(t, created.Agent.Verified)
	assert.Equal(t, domain.StatusInactive, created.Agent.Status)

	resp = doJSON(t, http.MethodPost, env.srv.URL+"/auth/token", "", map[string]string{
		"agent_id": created.Agent.ID,
		"api_key":  created.APIKey,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var token struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&token))
	assert.Equal(t, "Bearer", token.TokenType)
	assert.NotEmpty(t, token.AccessToken)
}

func TestTokenRejectsWrongKey(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgent(t, "agent-x", nil, nil)

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/auth/token", "", map[string]string{
		"agent_id": "agent-x",
		"api_key":  "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	resp := doJSON(t, http.MethodPost, env.srv.URL+"/v1/messages", "", map[string]string{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendAllowedAndHistory(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgent(t, "buyer", nil, nil)
	env.seedAgent(t, "seller", nil, map[string]interface{}{"esg_score": 90})
	token := env.token(t, "buyer", agentScopes())

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/v1/messages", token, map[string]interface{}{
		"from_agent_id": "buyer",
		"to_agent_id":   "seller",
		"content":       "hello",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sent struct {
		Message domain.Message `json:"message"`
		LogID   uint64         `json:"log_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sent))
	assert.True(t, sent.Message.TrustVerified)
	assert.NotZero(t, sent.LogID)

	resp = doJSON(t, http.MethodGet, env.srv.URL+"/v1/messages?agent_id=seller", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msgs []domain.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestSendDeniedReturnsVerdict(t *testing.T) {
	env := newTestEnv(t)
	rules := map[string]json.RawMessage{"esg_score": json.RawMessage(`{"min": 80}`)}
	env.seedAgent(t, "buyer", []domain.Policy{{Name: "ESG", Rules: rules}}, nil)
	env.seedAgent(t, "seller", nil, map[string]interface{}{"esg_score": 40})
	token := env.token(t, "buyer", agentScopes())

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/v1/messages", token, map[string]interface{}{
		"from_agent_id": "buyer",
		"to_agent_id":   "seller",
		"content":       "hello",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	var body struct {
		Result domain.Verdict `json:"trust_result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Result.Allowed)
	assert.NotEmpty(t, body.Result.PoliciesFailed)

	// Denials are audited too.
	assert.Len(t, env.log.List(audit.FilterBlocked), 1)
}

func TestSendForOtherAgentForbidden(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgent(t, "buyer", nil, nil)
	env.seedAgent(t, "seller", nil, nil)
	token := env.token(t, "seller", agentScopes())

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/v1/messages", token, map[string]interface{}{
		"from_agent_id": "buyer",
		"to_agent_id":   "seller",
		"content":       "spoofed",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestVerifyTrustAndLogs(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgent(t, "buyer", nil, nil)
	env.seedAgent(t, "seller", nil, nil)
	token := env.token(t, "buyer", agentScopes())

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/v1/trust/verify", token, map[string]string{
		"source_agent_id": "buyer",
		"target_agent_id": "seller",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Result domain.Verdict `json:"trust_result"`
		LogID  uint64         `json:"log_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Result.Allowed)
	require.NotZero(t, body.LogID)

	resp = doJSON(t, http.MethodGet, env.srv.URL+"/v1/trust/logs?filter=allowed", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []domain.TrustLogEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, body.LogID, entries[0].ID)
}

func TestSuspendedAgentRejectedAtEdge(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgent(t, "buyer", nil, nil)
	env.seedAgent(t, "seller", nil, nil)

	require.NoError(t, env.repo.SetStatus(context.Background(), "buyer", domain.StatusSuspended))
	require.NoError(t, env.watcher.Init(context.Background()))

	token := env.token(t, "buyer", agentScopes())
	resp := doJSON(t, http.MethodPost, env.srv.URL+"/v1/messages", token, map[string]interface{}{
		"from_agent_id": "buyer",
		"to_agent_id":   "seller",
		"content":       "hello",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Nothing reached the pipeline, so nothing was audited.
	assert.Equal(t, 0, env.log.Len())
}

func TestSuspendEndpointRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgent(t, "buyer", nil, nil)
	token := env.token(t, "buyer", agentScopes())

	resp := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/v1/agents/%s/suspend", env.srv.URL, "buyer"), token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	admin := env.token(t, "ops", map[string]bool{domain.ScopeAdmin: true})
	resp = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/v1/agents/%s/suspend", env.srv.URL, "buyer"), admin, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	agent, err := env.repo.Get(context.Background(), "buyer")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuspended, agent.Status)
}
