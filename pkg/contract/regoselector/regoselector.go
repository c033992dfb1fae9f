// Package regoselector compiles Rego policies into contract.Predicate
// functions, as an alternative to celselector for operators who already
// author their admission policies as Rego (e.g. reused from an existing
// OPA-based gatekeeping layer).
package regoselector

import (
	"context"

	"github.com/open-policy-agent/opa/v1/rego"

	flerrors "github.com/flowforge/core/internal/errors"
	"github.com/flowforge/core/pkg/contract"
	"github.com/flowforge/core/pkg/flowtypes"
)

// DefaultQuery is the Rego query every compiled policy must expose: a
// top-level boolean `data.flowforge.selector.allow`.
const DefaultQuery = "data.flowforge.selector.allow"

// Compile compiles a Rego module (expected to define `package
// flowforge.selector` and an `allow` rule) into a contract.Predicate.
func Compile(ctx context.Context, module string) (contract.Predicate, error) {
	query, err := rego.New(
		rego.Query(DefaultQuery),
		rego.Module("selector.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, flerrors.Wrap(err, flerrors.ErrorTypeValidation, "regoselector: failed to prepare policy")
	}

	return func(opts *flowtypes.RequestOptions, attrs map[string]string) bool {
		input := map[string]any{
			"variants": variantsOf(opts),
			"userId":   userIDOf(opts),
			"request":  attrs,
		}
		results, err := query.Eval(context.Background(), rego.EvalInput(input))
		if err != nil || len(results) == 0 || len(results[0].Expressions) == 0 {
			return false
		}
		allow, _ := results[0].Expressions[0].Value.(bool)
		return allow
	}, nil
}

func variantsOf(opts *flowtypes.RequestOptions) map[string]string {
	if opts == nil {
		return map[string]string{}
	}
	if opts.Variants == nil {
		return map[string]string{}
	}
	return opts.Variants
}

func userIDOf(opts *flowtypes.RequestOptions) string {
	if opts == nil {
		return ""
	}
	return opts.UserID
}
