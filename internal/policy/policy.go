// Package policy evaluates whether a sensitive tool call is already covered
// by a standing approval rule, purely deterministically, with no LLM
// involvement — generalized from internal/gitai/policy/engine.go's
// Gosuto-capability evaluator from (mcp_server, tool) glob rules to
// (butler, tool, arg_sensitivities) glob rules feeding approval_required
// (spec.md §7).
package policy

import "fmt"

// Decision is the outcome of evaluating a tool call against standing rules.
type Decision int

const (
	// DecisionRequireApproval is the default: no standing rule covers this
	// call, so a fresh approval request must be created.
	DecisionRequireApproval Decision = iota
	// DecisionAllow means a standing rule grants automatic approval.
	DecisionAllow
	// DecisionDeny means a standing rule explicitly blocks this call; no
	// approval request should even be offered.
	DecisionDeny
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionDeny:
		return "deny"
	default:
		return "require_approval"
	}
}

// Rule is one standing rule: butler/tool glob plus exact-match constraints
// against the call's JSON arguments.
type Rule struct {
	Name        string
	Butler      string // "*" or exact butler name
	Tool        string // "*" or exact tool name
	Allow       bool   // false + matched => DecisionDeny
	Constraints map[string]string
}

// Engine evaluates a tool call against an ordered, first-match-wins rule
// set.
type Engine struct {
	rules []Rule
}

// New builds an Engine over rules, evaluated in the given order.
func New(rules []Rule) *Engine {
	return &Engine{rules: rules}
}

// Evaluate returns the matched rule's decision, or DecisionRequireApproval
// if nothing matches (the safe default: no call is auto-approved by
// omission).
func (e *Engine) Evaluate(butler, tool string, args map[string]interface{}) (Decision, string) {
	for _, r := range e.rules {
		if !matchesGlob(r.Butler, butler) || !matchesGlob(r.Tool, tool) {
			continue
		}
		if !constraintsSatisfied(r.Constraints, args) {
			continue
		}
		if !r.Allow {
			return DecisionDeny, r.Name
		}
		return DecisionAllow, r.Name
	}
	return DecisionRequireApproval, "<default>"
}

func constraintsSatisfied(constraints map[string]string, args map[string]interface{}) bool {
	for key, expected := range constraints {
		actual, ok := args[key]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", actual) != expected {
			return false
		}
	}
	return true
}

func matchesGlob(pattern, value string) bool {
	return pattern == "*" || pattern == value
}
