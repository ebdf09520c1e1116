package domain

import "time"

// Verdict is the immutable outcome of evaluating one agent's policies
// against another's profile. Allowed is gated by strict AND over every
// evaluated rule; Score is informational (passed / evaluated).
type Verdict struct {
	Allowed        bool                   `json:"allowed"`
	Score          float64                `json:"score"`
	Reason         string                 `json:"reason"`
	PoliciesPassed []string               `json:"policies_passed"`
	PoliciesFailed []string               `json:"policies_failed"`
	Details        map[string]interface{} `json:"verification_details"`
}

// TrustLogEntry is one append-only audit record of a verdict computation.
// ID is the allocation sequence number, so ascending ID is creation order
// and breaks timestamp ties.
type TrustLogEntry struct {
	ID              uint64    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	SourceAgentID   string    `json:"source_agent_id"`
	TargetAgentID   string    `json:"target_agent_id"`
	Result          Verdict   `json:"trust_result"`
	PoliciesApplied []Policy  `json:"policies_applied"`
}
