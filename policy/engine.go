// Package policy evaluates OPA rules that gate tool calls.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by Evaluate.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.decision"),
		rego.Module("tool_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadEngine builds an engine from a rego file, or from DefaultPolicy when
// path is empty.
func LoadEngine(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate checks the tool policy.
// Input is a map with keys tool_name and args.
// The rule may produce a plain decision string or an object
// {"decision": ..., "reason": ...}. A policy that produces nothing allows.
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, "default", nil
	}

	switch val := results[0].Expressions[0].Value.(type) {
	case string:
		return val, "", nil
	case map[string]interface{}:
		decision, _ := val["decision"].(string)
		reason, _ := val["reason"].(string)
		if decision == "" {
			return "", "", fmt.Errorf("policy object has no decision")
		}
		return decision, reason, nil
	default:
		return "", "", fmt.Errorf("unexpected policy result type %T", val)
	}
}

// DefaultPolicy blocks queries that reach credential tables.
const DefaultPolicy = `
package tool_policy

default decision = {"decision": "allow"}

decision = {"decision": "block", "reason": "query references a credential table"} {
	input.tool_name == "sql_query"
	regex.match("(?i)\\b(oauth_[a-z0-9_]+|api_access_tokens|contact_password_resets|contact_login_codes)\\b", input.args.query)
}
`
