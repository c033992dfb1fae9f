// Package celselector compiles CEL boolean expressions into
// contract.Predicate functions, so a SelectorRegistry can be assembled from
// declarative expressions ("variants.rollout == 'on' && request.region in
// ['us', 'eu']") instead of only hand-written Go closures.
package celselector

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"

	flerrors "github.com/flowforge/core/internal/errors"
	"github.com/flowforge/core/pkg/contract"
	"github.com/flowforge/core/pkg/flowtypes"
)

var baseEnv = mustEnv()

func mustEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("variants", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("request", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("userId", cel.StringType),
	)
	if err != nil {
		panic(flerrors.Wrap(err, flerrors.ErrorTypeInternal, "celselector: failed to build base CEL environment").Error())
	}
	return env
}

// Compile compiles a single CEL expression into a contract.Predicate. The
// expression must evaluate to a bool; compile-time type or syntax errors are
// returned immediately (this runs at blueprint-registration time, never
// per-request).
func Compile(expr string) (contract.Predicate, error) {
	ast, issues := baseEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, flerrors.Wrapf(issues.Err(), flerrors.ErrorTypeValidation, "celselector: invalid expression %q", expr)
	}
	prg, err := baseEnv.Program(ast)
	if err != nil {
		return nil, flerrors.Wrapf(err, flerrors.ErrorTypeInternal, "celselector: failed to plan program for %q", expr)
	}

	return func(opts *flowtypes.RequestOptions, attrs map[string]string) bool {
		vars := map[string]any{
			"variants": safeMap(variantsOf(opts)),
			"request":  safeMap(attrs),
			"userId":   userIDOf(opts),
		}
		out, _, err := prg.Eval(vars)
		if err != nil {
			return false
		}
		return asBool(out)
	}, nil
}

// CompileAll compiles a name->expression map into a predicate map suitable
// for contract.SelectorRegistry.Merge.
func CompileAll(exprs map[string]string) (map[string]contract.Predicate, error) {
	out := make(map[string]contract.Predicate, len(exprs))
	for name, expr := range exprs {
		p, err := Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("selector %q: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

func variantsOf(opts *flowtypes.RequestOptions) map[string]string {
	if opts == nil {
		return nil
	}
	return opts.Variants
}

func userIDOf(opts *flowtypes.RequestOptions) string {
	if opts == nil {
		return ""
	}
	return opts.UserID
}

func safeMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func asBool(v ref.Val) bool {
	b, ok := v.Value().(bool)
	return ok && b
}
