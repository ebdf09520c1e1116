// Command trustgate-sim drives a running gateway through the demo scenario:
// two organizations register agents with real policies, open live channels
// and exchange messages, one of which the trust evaluator must block.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/session"
)

type apiClient struct {
	base   string
	token  string
	http   *http.Client
	logger *zap.Logger
}

func (c *apiClient) post(path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errBody map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("%s %s: status %d: %v", http.MethodPost, path, resp.StatusCode, errBody)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

type registered struct {
	Agent  domain.Agent `json:"agent"`
	APIKey string       `json:"api_key"`
}

func registerAgent(c *apiClient, name, org, lei string, policies []domain.Policy, attrs map[string]interface{}) (registered, error) {
	var out registered
	err := c.post("/v1/agents", map[string]interface{}{
		"name":         name,
		"organization": org,
		"credential": map[string]interface{}{
			"credentialSubject": map[string]interface{}{"lei": lei},
		},
		"policies":   policies,
		"attributes": attrs,
	}, &out)
	return out, err
}

func fetchToken(c *apiClient, agentID, apiKey string) (string, error) {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	err := c.post("/auth/token", map[string]string{
		"agent_id": agentID,
		"api_key":  apiKey,
	}, &out)
	return out.AccessToken, err
}

func rules(raw map[string]interface{}) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		b, _ := json.Marshal(v)
		out[k] = b
	}
	return out
}

func main() {
	base := flag.String("addr", "http://localhost:8080", "gateway base URL")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	api := &apiClient{base: *base, http: &http.Client{Timeout: 10 * time.Second}, logger: logger}

	// The buyer demands ESG compliance and an allowed jurisdiction of its
	// counterparts; the supplier satisfies both.
	buyerPolicies := []domain.Policy{{
		Name:        "ESG Compliance",
		Description: "Counterparts must meet ESG and jurisdiction requirements",
		Rules: rules(map[string]interface{}{
			"esg_score":    map[string]interface{}{"min": 80},
			"jurisdiction": map[string]interface{}{"allowed": []string{"EU", "US", "UK"}},
		}),
	}}

	buyer, err := registerAgent(api, "Procurement Agent", "Acme Industries", "LEI-ACME-001",
		buyerPolicies, map[string]interface{}{
			"esg_score": 88, "jurisdiction": "EU", "sector": "manufacturing",
		})
	if err != nil {
		logger.Fatal("register buyer", zap.Error(err))
	}

	supplier, err := registerAgent(api, "Sales Agent", "GreenParts GmbH", "LEI-GREEN-002",
		nil, map[string]interface{}{
			"esg_score": 92, "jurisdiction": "EU", "sector": "manufacturing",
		})
	if err != nil {
		logger.Fatal("register supplier", zap.Error(err))
	}

	shady, err := registerAgent(api, "Sales Agent", "Murky Exports Ltd", "LEI-MURKY-003",
		nil, map[string]interface{}{
			"esg_score": 41, "jurisdiction": "XX",
		})
	if err != nil {
		logger.Fatal("register shady supplier", zap.Error(err))
	}

	buyerToken, err := fetchToken(api, buyer.Agent.ID, buyer.APIKey)
	if err != nil {
		logger.Fatal("buyer token", zap.Error(err))
	}
	supplierToken, err := fetchToken(api, supplier.Agent.ID, supplier.APIKey)
	if err != nil {
		logger.Fatal("supplier token", zap.Error(err))
	}

	// Activate both parties (verifier-gated inactive -> active).
	api.token = buyerToken
	if err := api.post("/v1/agents/"+buyer.Agent.ID+"/activate", nil, nil); err != nil {
		logger.Fatal("activate buyer", zap.Error(err))
	}
	api.token = supplierToken
	if err := api.post("/v1/agents/"+supplier.Agent.ID+"/activate", nil, nil); err != nil {
		logger.Fatal("activate supplier", zap.Error(err))
	}

	// Supplier listens on a live channel.
	wsURL := fmt.Sprintf("%s/ws/%s?token=%s",
		wsBase(*base), supplier.Agent.ID, supplierToken)
	wsClient := session.NewClient(wsURL, nil, session.ClientConfig{}, logger)
	wsClient.OnMessage(func(msg domain.Message) {
		logger.Info("supplier received",
			zap.String("from", msg.FromAgentID),
			zap.String("kind", string(msg.Kind)),
			zap.String("content", msg.Content))
	})
	if err := wsClient.Connect(context.Background()); err != nil {
		logger.Fatal("ws connect", zap.Error(err))
	}
	defer wsClient.Close()

	api.token = buyerToken

	// Allowed: GreenParts passes the ESG policy.
	var sent struct {
		Message domain.Message `json:"message"`
		LogID   uint64         `json:"log_id"`
	}
	err = api.post("/v1/messages", map[string]interface{}{
		"from_agent_id": buyer.Agent.ID,
		"to_agent_id":   supplier.Agent.ID,
		"content":       "Requesting quote for 500 units of part A-113.",
		"auto_reply":    true,
	}, &sent)
	if err != nil {
		logger.Fatal("send to supplier", zap.Error(err))
	}
	logger.Info("message accepted", zap.String("id", sent.Message.ID), zap.Uint64("log_id", sent.LogID))

	// Blocked: Murky Exports fails both rules; the error carries the verdict.
	err = api.post("/v1/messages", map[string]interface{}{
		"from_agent_id": buyer.Agent.ID,
		"to_agent_id":   shady.Agent.ID,
		"content":       "Requesting quote.",
	}, nil)
	if err != nil {
		logger.Info("send to shady supplier blocked as expected", zap.String("detail", err.Error()))
	} else {
		logger.Error("send to shady supplier unexpectedly passed")
		os.Exit(1)
	}

	// Give the auto-reply a moment to arrive on the supplier's channel.
	time.Sleep(2 * time.Second)
	logger.Info("demo finished")
}

func wsBase(httpBase string) string {
	if len(httpBase) > 4 && httpBase[:5] == "https" {
		return "wss" + httpBase[5:]
	}
	return "ws" + httpBase[4:]
}
