package trust

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/xela07ax/trustgate/internal/domain"
)

// The evaluator interprets policy rules as a closed set of typed variants.
// The category key selects the variant; anything outside the table falls
// through to the unrecognized variant, which passes without being counted
// (forward compatibility).
type ruleKind int

const (
	kindThreshold ruleKind = iota
	kindList
	kindUnrecognized
)

var ruleKinds = map[string]ruleKind{
	"minimum":           kindThreshold,
	"esg_score":         kindThreshold,
	"compliance_score":  kindThreshold,
	"jurisdiction":      kindList,
	"sector":            kindList,
	"organization_size": kindList,
}

// thresholdRule passes iff the target attribute is numeric and >= Min
// (and <= Max when configured). Field selects the attribute; empty Field
// means the category name doubles as the attribute, which is how the
// shorthand categories (esg_score, compliance_score) are written.
type thresholdRule struct {
	Field string   `json:"field"`
	Min   float64  `json:"min"`
	Max   *float64 `json:"max,omitempty"`
}

// listRule passes by membership. A configured blocked list wins
// unconditionally; allowed and preferred are both treated as allow lists.
// Present-but-empty allow lists fail everything; no lists at all means the
// rule is trivially satisfied.
type listRule struct {
	Allowed   []string `json:"allowed"`
	Preferred []string `json:"preferred"`
	Blocked   []string `json:"blocked"`
}

type outcome int

const (
	outcomePass outcome = iota
	outcomeFail
	outcomeIgnored // unrecognized: recorded in details, never counted
)

type ruleResult struct {
	outcome outcome
	reason  string
	detail  map[string]interface{}
}

func evaluateRule(category string, raw json.RawMessage, target *domain.Agent) ruleResult {
	kind, known := ruleKinds[category]
	if !known {
		return ruleResult{
			outcome: outcomeIgnored,
			reason:  fmt.Sprintf("unrecognized rule category %q skipped", category),
			detail: map[string]interface{}{
				"skipped": true,
				"reason":  "unrecognized rule category",
			},
		}
	}

	switch kind {
	case kindThreshold:
		return evaluateThreshold(category, raw, target)
	default:
		return evaluateList(category, raw, target)
	}
}

func evaluateThreshold(category string, raw json.RawMessage, target *domain.Agent) ruleResult {
	var cfg thresholdRule
	if err := strictUnmarshal(raw, &cfg); err != nil {
		return malformed(category, err)
	}

	field := cfg.Field
	if field == "" {
		field = category
	}

	detail := map[string]interface{}{"field": field, "min": cfg.Min}
	if cfg.Max != nil {
		detail["max"] = *cfg.Max
	}

	rawVal, ok := target.ProfileValue(field)
	if !ok {
		// Fail closed: a profile that does not carry the attribute cannot
		// satisfy a minimum requirement.
		detail["missing"] = true
		return ruleResult{
			outcome: outcomeFail,
			reason:  fmt.Sprintf("target profile has no %q attribute", field),
			detail:  detail,
		}
	}

	val, ok := toFloat(rawVal)
	if !ok {
		detail["value"] = rawVal
		return ruleResult{
			outcome: outcomeFail,
			reason:  fmt.Sprintf("target %q attribute is not numeric", field),
			detail:  detail,
		}
	}
	detail["value"] = val

	if val < cfg.Min {
		return ruleResult{
			outcome: outcomeFail,
			reason:  fmt.Sprintf("%s %v is below the required minimum %v", field, val, cfg.Min),
			detail:  detail,
		}
	}
	if cfg.Max != nil && val > *cfg.Max {
		return ruleResult{
			outcome: outcomeFail,
			reason:  fmt.Sprintf("%s %v exceeds the allowed maximum %v", field, val, *cfg.Max),
			detail:  detail,
		}
	}
	return ruleResult{
		outcome: outcomePass,
		reason:  fmt.Sprintf("%s %v meets the required minimum %v", field, val, cfg.Min),
		detail:  detail,
	}
}

func evaluateList(category string, raw json.RawMessage, target *domain.Agent) ruleResult {
	var cfg listRule
	if err := strictUnmarshal(raw, &cfg); err != nil {
		return malformed(category, err)
	}

	detail := map[string]interface{}{"field": category}

	value := ""
	if rawVal, ok := target.ProfileValue(category); ok {
		value, ok = toString(rawVal)
		if !ok {
			detail["value"] = rawVal
			return ruleResult{
				outcome: outcomeFail,
				reason:  fmt.Sprintf("target %q attribute is not a string", category),
				detail:  detail,
			}
		}
		detail["value"] = value
	}

	// Block takes precedence over any allow list.
	if cfg.Blocked != nil && contains(cfg.Blocked, value) {
		detail["blocked"] = cfg.Blocked
		return ruleResult{
			outcome: outcomeFail,
			reason:  fmt.Sprintf("%s %q is blocked", category, value),
			detail:  detail,
		}
	}

	if cfg.Allowed != nil || cfg.Preferred != nil {
		allow := append(append([]string(nil), cfg.Allowed...), cfg.Preferred...)
		detail["allowed"] = allow
		if !contains(allow, value) || value == "" {
			return ruleResult{
				outcome: outcomeFail,
				reason:  fmt.Sprintf("%s %q is not in the allowed list", category, value),
				detail:  detail,
			}
		}
	}

	return ruleResult{
		outcome: outcomePass,
		reason:  fmt.Sprintf("%s %q is acceptable", category, value),
		detail:  detail,
	}
}

// malformed turns a bad rule shape into a failing result instead of an error:
// evaluation is total, anomalies land in verdict details.
func malformed(category string, err error) ruleResult {
	return ruleResult{
		outcome: outcomeFail,
		reason:  fmt.Sprintf("rule %q has a malformed configuration", category),
		detail: map[string]interface{}{
			"malformed": true,
			"error":     err.Error(),
		},
	}
}

// strictUnmarshal rejects keys outside the variant's schema. A threshold
// configured under a misspelled key would otherwise decode to the zero value
// and let the gate fail open.
func strictUnmarshal(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty rule configuration")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func toString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
