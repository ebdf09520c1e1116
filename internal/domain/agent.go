package domain

import "time"

type AgentStatus string

const (
	StatusInactive  AgentStatus = "inactive"  // Registered, not yet admitted to messaging
	StatusActive    AgentStatus = "active"    // Verified and allowed to exchange messages
	StatusSuspended AgentStatus = "suspended" // Operator-frozen, sends rejected at the edge
)

// Agent is the organizational identity a software actor communicates under.
// The registry owns it exclusively; the gateway and evaluator only read it
// (and touch LastActive on successful traffic).
type Agent struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Organization string      `json:"organization"`
	Description  string      `json:"description,omitempty"`
	Status       AgentStatus `json:"status"`

	// Credential is the raw payload presented at registration. Verification
	// happens against the external identity registry; this core only stores
	// the outcome.
	Credential          map[string]interface{} `json:"credential,omitempty"`
	Verified            bool                   `json:"verified"`
	VerificationDetails map[string]interface{} `json:"verification_details,omitempty"`

	// Policies the agent's organization requires of any counterpart,
	// in definition order.
	Policies []Policy `json:"policies"`

	// Attributes is the organizational profile counterpart policies evaluate
	// against (esg_score, jurisdiction, sector, ...).
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active,omitzero"`

	// APIKeyHash is the bcrypt hash the token endpoint checks. Never serialized.
	APIKeyHash []byte `json:"-"`
}

// ProfileValue resolves a policy-relevant attribute of the agent's profile.
// Lookup order: explicit attributes, then verification details, then the
// credential subject. No defaults: a missing attribute stays missing so
// threshold rules can fail closed.
func (a *Agent) ProfileValue(field string) (interface{}, bool) {
	if v, ok := a.Attributes[field]; ok {
		return v, true
	}
	if v, ok := a.VerificationDetails[field]; ok {
		return v, true
	}
	if subj, ok := a.Credential["credentialSubject"].(map[string]interface{}); ok {
		if v, ok := subj[field]; ok {
			return v, true
		}
	}
	return nil, false
}

// Clone deep-copies the agent so a caller can never mutate registry state
// through a returned reference. Policy snapshots taken at evaluation time
// rely on this.
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Credential = cloneMap(a.Credential)
	cp.VerificationDetails = cloneMap(a.VerificationDetails)
	cp.Attributes = cloneMap(a.Attributes)
	if a.Policies != nil {
		cp.Policies = make([]Policy, len(a.Policies))
		for i, p := range a.Policies {
			cp.Policies[i] = p.Clone()
		}
	}
	if a.APIKeyHash != nil {
		cp.APIKeyHash = append([]byte(nil), a.APIKeyHash...)
	}
	return &cp
}

// ValidTransition reports whether a status change is legal. The
// inactive -> active edge additionally requires Verified, which the registry
// checks against the credential verifier before committing.
func ValidTransition(from, to AgentStatus) bool {
	switch from {
	case StatusInactive:
		return to == StatusActive
	case StatusActive:
		return to == StatusSuspended || to == StatusInactive
	case StatusSuspended:
		return to == StatusActive
	}
	return false
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	cp := make(map[string]interface{}, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]interface{}); ok {
			cp[k] = cloneMap(nested)
			continue
		}
		cp[k] = v
	}
	return cp
}
