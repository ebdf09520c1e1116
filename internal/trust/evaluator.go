// Package trust implements the deterministic policy evaluation engine.
// Evaluate is a pure function with no I/O, clock, or randomness: identical
// inputs always produce an identical verdict, and every input shape resolves
// to a verdict rather than an error.
package trust

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xela07ax/trustgate/internal/domain"
)

const (
	ReasonPassed         = "trust verification passed"
	ReasonOpenPolicy     = "no restrictions configured"
	ReasonTargetNotFound = "target agent not found"
)

// Evaluate applies the source agent's policy set to the target profile.
//
// Policies run in definition order; rule categories inside one policy run in
// sorted order, since a JSON rule map carries no ordering of its own and the
// verdict must be stable. Allowed is a strict AND over every evaluated rule;
// the score (passed / evaluated) is informational only. Zero evaluated rules
// means an open policy: allowed, score 1.0.
func Evaluate(source, target *domain.Agent, policies []domain.Policy) domain.Verdict {
	passed := []string{}
	failed := []string{}
	details := map[string]interface{}{}

	if target == nil {
		return domain.Verdict{
			Allowed:        false,
			Score:          0,
			Reason:         ReasonTargetNotFound,
			PoliciesPassed: passed,
			PoliciesFailed: failed,
			Details:        details,
		}
	}

	evaluated := 0
	firstFailure := ""

	for i, policy := range policies {
		for _, category := range sortedCategories(policy.Rules) {
			res := evaluateRule(category, policy.Rules[category], target)
			label := ruleLabel(policy, category)

			switch res.outcome {
			case outcomePass:
				evaluated++
				passed = append(passed, label)
			case outcomeFail:
				evaluated++
				failed = append(failed, label)
				if firstFailure == "" {
					firstFailure = res.reason
				}
			case outcomeIgnored:
				// Not counted either way, but visible in the details map.
			}

			// Same-named policies carrying the same category must not clobber
			// each other's recorded inputs.
			key := label
			if _, taken := details[key]; taken {
				key = fmt.Sprintf("%s#%d", label, i)
			}
			details[key] = res.detail
		}
	}

	score := 1.0
	if evaluated > 0 {
		score = float64(len(passed)) / float64(evaluated)
	}

	verdict := domain.Verdict{
		Allowed:        len(failed) == 0,
		Score:          score,
		PoliciesPassed: passed,
		PoliciesFailed: failed,
		Details:        details,
	}
	switch {
	case !verdict.Allowed:
		verdict.Reason = firstFailure
	case evaluated == 0:
		verdict.Reason = ReasonOpenPolicy
	default:
		verdict.Reason = ReasonPassed
	}
	return verdict
}

// ruleLabel qualifies a rule category with its owning policy's name, so the
// passed/failed lists stay readable when several policies carry the same
// category.
func ruleLabel(p domain.Policy, category string) string {
	if p.Name == "" {
		return category
	}
	return p.Name + "/" + category
}

func sortedCategories(rules map[string]json.RawMessage) []string {
	cats := make([]string, 0, len(rules))
	for c := range rules {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}
