// Package identity talks to the external identity registry that verifies
// organizational credentials. The core consumes only the boolean outcome and
// a details payload: cryptographic verification itself is the registry's
// business, never this service's.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Verification is the registry's answer.
type Verification struct {
	Verified bool                   `json:"verified"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

type Verifier interface {
	Verify(ctx context.Context, agentID string, credential map[string]interface{}) (Verification, error)
}

// RegistryClient verifies credentials against the external registry's HTTP
// API. Called only on registration and on inactive -> active transitions,
// never on the evaluation hot path.
type RegistryClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewRegistryClient(baseURL string, timeout time.Duration, logger *zap.Logger) *RegistryClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RegistryClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(zap.String("mod", "identity")),
	}
}

func (c *RegistryClient) Verify(ctx context.Context, agentID string, credential map[string]interface{}) (Verification, error) {
	body, err := json.Marshal(map[string]interface{}{
		"agent_id":   agentID,
		"credential": credential,
	})
	if err != nil {
		return Verification{}, fmt.Errorf("identity: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return Verification{}, fmt.Errorf("identity: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Verification{}, fmt.Errorf("identity: registry unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Verification{}, fmt.Errorf("identity: registry returned %d", resp.StatusCode)
	}

	var out struct {
		IsValid bool                   `json:"is_valid"`
		Details map[string]interface{} `json:"details"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Verification{}, fmt.Errorf("identity: decode response: %w", err)
	}

	c.logger.Debug("credential verified",
		zap.String("agent_id", agentID),
		zap.Bool("is_valid", out.IsValid))

	return Verification{Verified: out.IsValid, Details: out.Details}, nil
}

// Static is the offline verifier for demos and tests: a credential passes
// when it carries a credentialSubject with an LEI. No network.
type Static struct{}

func (Static) Verify(_ context.Context, _ string, credential map[string]interface{}) (Verification, error) {
	subj, ok := credential["credentialSubject"].(map[string]interface{})
	if !ok {
		return Verification{
			Verified: false,
			Details:  map[string]interface{}{"mode": "static", "reason": "missing credentialSubject"},
		}, nil
	}
	lei, hasLEI := subj["lei"].(string)
	if !hasLEI || lei == "" {
		return Verification{
			Verified: false,
			Details:  map[string]interface{}{"mode": "static", "reason": "missing lei"},
		}, nil
	}

	details := map[string]interface{}{"mode": "static", "lei": lei}
	for k, v := range subj {
		if k != "lei" {
			details[k] = v
		}
	}
	return Verification{Verified: true, Details: details}, nil
}
