// Package gate implements the gate expression tagged sum —
// all/any/not/request/variant/selector — parsed from JSON and evaluated
// short-circuit against a request's variants, attributes and the
// blueprint's SelectorRegistry.
package gate

import (
	"encoding/json"
	"fmt"

	"github.com/flowforge/core/pkg/contract"
	"github.com/flowforge/core/pkg/flowtypes"
)

// Kind is the closed set of gate expression shapes.
type Kind string

const (
	KindAll      Kind = "all"
	KindAny      Kind = "any"
	KindNot      Kind = "not"
	KindRequest  Kind = "request"
	KindVariant  Kind = "variant"
	KindSelector Kind = "selector"
)

// Expr is a parsed gate expression node.
type Expr struct {
	Kind Kind

	// all/any
	Children []*Expr
	// not
	Child *Expr
	// request
	Field string
	In    []string
	// variant
	Layer  string
	Equals string
	// selector
	SelectorName string
}

// wireExpr is the raw JSON shape: a single-key object whose key names the
// kind, e.g. {"all":{"children":[...]}}.
type wireExpr struct {
	All *struct {
		Children []json.RawMessage `json:"children"`
	} `json:"all"`
	Any *struct {
		Children []json.RawMessage `json:"children"`
	} `json:"any"`
	Not *struct {
		Child json.RawMessage `json:"child"`
	} `json:"not"`
	Request *struct {
		Field string   `json:"field"`
		In    []string `json:"in"`
	} `json:"request"`
	Variant *struct {
		Layer  string `json:"layer"`
		Equals string `json:"equals"`
	} `json:"variant"`
	Selector *struct {
		Name string `json:"name"`
	} `json:"selector"`
}

// ParseError carries a stable CFG_GATE_* code, matching the Validator's
// finding vocabulary.
type ParseError struct {
	Code    string
	Message string
}

func (e *ParseError) Error() string { return e.Code + ": " + e.Message }

func parseErr(code, format string, args ...any) error {
	return &ParseError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Parse parses a raw gate expression. An empty/nil raw is not a gate (the
// caller should treat "no gate" specially, as the module always executes
// unless other checks reject it); Parse is only called on a non-empty gate
// field.
func Parse(raw json.RawMessage) (*Expr, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var w wireExpr
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, parseErr("CFG_GATE_INVALID_JSON", "gate: %v", err)
	}

	set := 0
	var result *Expr
	var err error

	if w.All != nil {
		set++
		result, err = parseChildren(KindAll, w.All.Children)
	}
	if w.Any != nil {
		set++
		result, err = parseChildren(KindAny, w.Any.Children)
	}
	if w.Not != nil {
		set++
		var child *Expr
		child, err = Parse(w.Not.Child)
		if err == nil {
			if child == nil {
				err = parseErr("CFG_GATE_EMPTY_NOT", "gate: not{} requires a child")
			} else {
				result = &Expr{Kind: KindNot, Child: child}
			}
		}
	}
	if w.Request != nil {
		set++
		if w.Request.Field == "" {
			err = parseErr("CFG_GATE_REQUEST_FIELD_REQUIRED", "gate: request{} requires field")
		} else {
			result = &Expr{Kind: KindRequest, Field: w.Request.Field, In: w.Request.In}
		}
	}
	if w.Variant != nil {
		set++
		if w.Variant.Layer == "" {
			err = parseErr("CFG_GATE_VARIANT_LAYER_REQUIRED", "gate: variant{} requires layer")
		} else {
			result = &Expr{Kind: KindVariant, Layer: w.Variant.Layer, Equals: w.Variant.Equals}
		}
	}
	if w.Selector != nil {
		set++
		if w.Selector.Name == "" {
			err = parseErr("CFG_GATE_SELECTOR_NAME_REQUIRED", "gate: selector{} requires name")
		} else {
			result = &Expr{Kind: KindSelector, SelectorName: w.Selector.Name}
		}
	}

	if err != nil {
		return nil, err
	}
	if set == 0 {
		return nil, parseErr("CFG_GATE_UNKNOWN_SHAPE", "gate: no recognized variant in %s", string(raw))
	}
	if set > 1 {
		return nil, parseErr("CFG_GATE_AMBIGUOUS_SHAPE", "gate: more than one variant key present")
	}
	return result, nil
}

func parseChildren(kind Kind, raws []json.RawMessage) (*Expr, error) {
	if len(raws) == 0 {
		return nil, parseErr("CFG_GATE_EMPTY_"+string(kind), "gate: %s{} requires at least one child", kind)
	}
	children := make([]*Expr, 0, len(raws))
	for i, raw := range raws {
		child, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		if child == nil {
			return nil, parseErr("CFG_GATE_EMPTY_CHILD", "gate: %s{} child[%d] is empty", kind, i)
		}
		children = append(children, child)
	}
	return &Expr{Kind: kind, Children: children}, nil
}

// Decision is the outcome of evaluating a gate against a request.
type Decision struct {
	Allowed      bool
	Code         string
	ReasonCode   string
	SelectorName string
}

func allow(code, reason string) Decision  { return Decision{Allowed: true, Code: code, ReasonCode: reason} }
func deny(code, reason string) Decision   { return Decision{Allowed: false, Code: code, ReasonCode: reason} }

// Eval evaluates expr against the request's variants/attributes and the
// SelectorRegistry. A nil expr always allows (no gate present).
// Evaluation is short-circuit: all{} returns on first deny, any{} returns on
// first allow; not{} flips allow/deny but preserves the child's code/reason.
func Eval(expr *Expr, opts *flowtypes.RequestOptions, selectors *contract.SelectorRegistry) Decision {
	if expr == nil {
		return allow("GATE_ABSENT", "no gate present")
	}
	switch expr.Kind {
	case KindAll:
		for _, c := range expr.Children {
			d := Eval(c, opts, selectors)
			if !d.Allowed {
				return d
			}
		}
		return allow("GATE_ALL_TRUE", "all children allowed")
	case KindAny:
		var last Decision
		for _, c := range expr.Children {
			d := Eval(c, opts, selectors)
			if d.Allowed {
				return d
			}
			last = d
		}
		return last
	case KindNot:
		d := Eval(expr.Child, opts, selectors)
		return Decision{Allowed: !d.Allowed, Code: d.Code, ReasonCode: d.ReasonCode, SelectorName: d.SelectorName}
	case KindRequest:
		val, ok := requestAttr(opts, expr.Field)
		if !ok {
			return deny("GATE_FALSE", "request attribute not present: "+expr.Field)
		}
		for _, want := range expr.In {
			if val == want {
				return allow("GATE_TRUE", "request."+expr.Field+" matched")
			}
		}
		return deny("GATE_FALSE", "request."+expr.Field+" not in allowed set")
	case KindVariant:
		val, ok := opts.Variant(expr.Layer)
		if !ok || val != expr.Equals {
			return deny("GATE_FALSE", "variant mismatch for layer "+expr.Layer)
		}
		return allow("GATE_TRUE", "variant matched for layer "+expr.Layer)
	case KindSelector:
		pred, ok := selectors.Lookup(expr.SelectorName)
		if !ok {
			return deny("GATE_FALSE", "unknown selector: "+expr.SelectorName)
		}
		attrs := attrsOf(opts)
		if pred(opts, attrs) {
			d := allow("GATE_TRUE", "selector allowed")
			d.SelectorName = expr.SelectorName
			return d
		}
		d := deny("GATE_FALSE", "selector denied")
		d.SelectorName = expr.SelectorName
		return d
	default:
		return deny("GATE_FALSE", "unrecognized gate kind")
	}
}

func requestAttr(opts *flowtypes.RequestOptions, field string) (string, bool) {
	if opts == nil || opts.RequestAttributes == nil {
		return "", false
	}
	v, ok := opts.RequestAttributes[field]
	return v, ok
}

func attrsOf(opts *flowtypes.RequestOptions) map[string]string {
	if opts == nil {
		return nil
	}
	return opts.RequestAttributes
}
