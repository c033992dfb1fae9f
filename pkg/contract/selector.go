package contract

import "github.com/flowforge/core/pkg/flowtypes"

// Predicate is a host-provided named predicate: given the request's
// FlowContext inputs, does the selector admit the request? Implementations
// must be pure and fast — selectors are evaluated synchronously on every
// gate check.
type Predicate func(opts *flowtypes.RequestOptions, attrs map[string]string) bool

// SelectorRegistry maps a selector name to its predicate. Two concrete
// builders are provided alongside hand-written Go predicates:
// pkg/contract/celselector (CEL expressions) and pkg/contract/regoselector
// (Rego policies) — see the SelectorRegistry definition, which leaves
// the predicate's origin unspecified.
type SelectorRegistry struct {
	predicates map[string]Predicate
}

// NewSelectorRegistry builds a registry from a fixed name->predicate map.
func NewSelectorRegistry(predicates map[string]Predicate) *SelectorRegistry {
	return &SelectorRegistry{predicates: predicates}
}

// Lookup returns the predicate registered under name, and whether it exists.
func (r *SelectorRegistry) Lookup(name string) (Predicate, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.predicates[name]
	return p, ok
}

// Merge returns a new registry containing r's predicates overridden/extended
// by extra. Used to compose hand-written, CEL- and Rego-backed predicates
// into one registry at startup.
func (r *SelectorRegistry) Merge(extra map[string]Predicate) *SelectorRegistry {
	out := make(map[string]Predicate, len(r.predicates)+len(extra))
	for k, v := range r.predicates {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return NewSelectorRegistry(out)
}
