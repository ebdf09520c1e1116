package gateway

import (
	"fmt"

	"github.com/xela07ax/trustgate/internal/domain"
)

// UnknownAgentError marks a send or verification referencing an agent id the
// registry cannot resolve. A registry timeout surfaces through Unwrap.
type UnknownAgentError struct {
	AgentID string
	Err     error
}

func (e *UnknownAgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway: unknown agent %s: %v", e.AgentID, e.Err)
	}
	return fmt.Sprintf("gateway: unknown agent %s", e.AgentID)
}

func (e *UnknownAgentError) Unwrap() error { return e.Err }

// TrustDeniedError carries the full verdict of a blocked send. LogID points
// at the audit entry that recorded the denial.
type TrustDeniedError struct {
	Verdict domain.Verdict
	LogID   uint64
}

func (e *TrustDeniedError) Error() string {
	return fmt.Sprintf("gateway: trust denied (log %d): %s", e.LogID, e.Verdict.Reason)
}
