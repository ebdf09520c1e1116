package domain

import (
	"encoding/json"
	"time"
)

// Policy is a named set of rules an agent's organization requires of any
// counterpart. Rules are keyed by category ("minimum", "jurisdiction",
// "sector", ...); the raw JSON shape is interpreted by the trust evaluator's
// closed set of rule variants.
//
// A policy is immutable once attached to an evaluation: the registry hands
// out deep copies, so later edits never retroactively change historical logs.
type Policy struct {
	ID          string                     `json:"id"`
	Name        string                     `json:"name"`
	Description string                     `json:"description,omitempty"`
	Rules       map[string]json.RawMessage `json:"rules"`
	CreatedAt   time.Time                  `json:"created_at"`
}

func (p Policy) Clone() Policy {
	cp := p
	if p.Rules != nil {
		cp.Rules = make(map[string]json.RawMessage, len(p.Rules))
		for k, v := range p.Rules {
			cp.Rules[k] = append(json.RawMessage(nil), v...)
		}
	}
	return cp
}

// ClonePolicies snapshots a policy slice preserving definition order.
func ClonePolicies(ps []Policy) []Policy {
	if ps == nil {
		return nil
	}
	cp := make([]Policy, len(ps))
	for i, p := range ps {
		cp[i] = p.Clone()
	}
	return cp
}
