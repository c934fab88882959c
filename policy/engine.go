package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Decision actions.
const (
	ActionAllow = "allow"
	ActionBlock = "block"
)

// Decision is the outcome of evaluating an inbound message.
type Decision struct {
	Action string
	Reason string
}

// Allowed reports whether the message may proceed.
func (d Decision) Allowed() bool {
	return d.Action != ActionBlock
}

// MessageInput is the policy input for one chat message.
type MessageInput struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	MaxChars  int    `json:"max_chars"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.relay_policy.decision"),
		rego.Module("relay_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadEngine reads the policy from path, or uses DefaultPolicy when path is
// empty.
func LoadEngine(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate checks a message against the policy. The policy's decision may be
// a string action or an object {action, reason}.
func (e *Engine) Evaluate(ctx context.Context, input MessageInput) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	// An undefined decision allows.
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Action: ActionAllow}, nil
	}

	switch v := results[0].Expressions[0].Value.(type) {
	case string:
		return Decision{Action: v}, nil
	case map[string]interface{}:
		d := Decision{Action: ActionAllow}
		if action, ok := v["action"].(string); ok {
			d.Action = action
		}
		if reason, ok := v["reason"].(string); ok {
			d.Reason = reason
		}
		return d, nil
	default:
		return Decision{}, fmt.Errorf("unexpected policy result type %T", v)
	}
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package relay_policy

default decision = {"action": "allow", "reason": ""}

decision = {"action": "block", "reason": "Message cannot be empty"} {
	trim_space(input.message) == ""
}

decision = {"action": "block", "reason": reason} {
	input.max_chars > 0
	count(input.message) > input.max_chars
	reason := sprintf("Message exceeds %d characters", [input.max_chars])
}
`
