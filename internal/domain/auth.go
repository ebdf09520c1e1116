package domain

import "github.com/golang-jwt/jwt/v5"

// CustomClaims is the RS256 token payload agents present to the API.
// Scopes name the operations the token grants ("message:send",
// "trust:verify", "session:open", ...).
type CustomClaims struct {
	AgentID string          `json:"agent_id"`
	Scopes  map[string]bool `json:"scopes"`
	jwt.RegisteredClaims
}

// Scope constants recognized by the HTTP layer.
const (
	ScopeSendMessage = "message:send"
	ScopeVerifyTrust = "trust:verify"
	ScopeOpenSession = "session:open"
	ScopeAdmin       = "admin"
)
