package flags

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

//go:embed policy.rego
var policySource string

// Policy wraps a prepared OPA query deciding whether an actor may
// write the flag snapshot.
type Policy struct {
	query rego.PreparedEvalQuery
}

// NewPolicy compiles the embedded policy module once at startup.
func NewPolicy(ctx context.Context) (*Policy, error) {
	r := rego.New(
		rego.Query("data.arre.flags.allow"),
		rego.Module("policy.rego", policySource),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("flags: compile policy: %w", err)
	}
	return &Policy{query: query}, nil
}

// Allow evaluates the policy against the given actor.
func (p *Policy) Allow(ctx context.Context, actor Actor) (bool, error) {
	input := map[string]any{
		"role":      actor.Role,
		"suspended": actor.Suspended,
	}

	results, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}

	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected policy result type %T", results[0].Expressions[0].Value)
	}
	return allowed, nil
}
