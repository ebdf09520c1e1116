package domain

import "time"

type MessageKind string

const (
	KindText               MessageKind = "text"
	KindCredentialRequest  MessageKind = "credential_request"
	KindCredentialResponse MessageKind = "credential_response"
	KindPolicyCheck        MessageKind = "policy_check"
	KindGeneratedReply     MessageKind = "generated_reply"
)

// ValidKind reports whether k is one of the wire-level message kinds.
func ValidKind(k MessageKind) bool {
	switch k {
	case KindText, KindCredentialRequest, KindCredentialResponse,
		KindPolicyCheck, KindGeneratedReply:
		return true
	}
	return false
}

// Message is one delivered unit of agent communication. The gateway creates
// it only after a passing verdict; a generated reply is a distinct message
// with from/to swapped, never an edit of the original.
type Message struct {
	ID            string            `json:"id"`
	FromAgentID   string            `json:"from_agent_id"`
	ToAgentID     string            `json:"to_agent_id"`
	Content       string            `json:"content"`
	Kind          MessageKind       `json:"kind"`
	Timestamp     time.Time         `json:"timestamp"`
	TrustVerified bool              `json:"trust_verified"`
	Processed     bool              `json:"processed"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}
