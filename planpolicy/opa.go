/*
Logic:       Compiles the tier table into a rego policy once at
             startup and evaluates "is this content kind within quota"
             as a data-driven rule rather than a hardcoded Go
             conditional, per spec §4.C. Grounded on the teacher's
             policy/opa.go Decide(input) Decision shape, but backed by
             open-policy-agent/opa's in-process rego.Eval instead of a
             REST sidecar call — the tier table has no business being
             a separate deployed service.
*/

package planpolicy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

const limitModule = `
package planpolicy

default allow = false

allow {
	input.limit == -1
}

allow {
	input.limit > 0
	input.used < input.limit
}
`

// limitEvaluator wraps a prepared rego query for the monthly-limit rule.
type limitEvaluator struct {
	query rego.PreparedEvalQuery
}

func newLimitEvaluator(ctx context.Context) (*limitEvaluator, error) {
	query, err := rego.New(
		rego.Query("data.planpolicy.allow"),
		rego.Module("planpolicy.rego", limitModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile plan policy rules: %w", err)
	}
	return &limitEvaluator{query: query}, nil
}

// allow evaluates whether used/limit passes the monthly-limit rule.
func (e *limitEvaluator) allow(ctx context.Context, used, limit int) (bool, error) {
	input := map[string]interface{}{"used": used, "limit": limit}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("evaluate plan policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := results[0].Expressions[0].Value.(bool)
	return allowed, nil
}
