// Package validator implements the Validator: a single pass
// over a parsed patch document that produces a stable ValidationReport of
// findings with error codes and JSONPath locations. It never panics on
// malformed JSON or a missing blueprint entry — both become findings.
package validator

import (
	"sort"

	"github.com/agnivade/levenshtein"
	"github.com/valyala/fastjson"

	"github.com/flowforge/core/pkg/contract"
	"github.com/flowforge/core/pkg/findings"
)

// topLevelFields are the only fields a patch document may declare.
var topLevelFields = map[string]bool{"schemaVersion": true, "flows": true, "limits": true}

// flowFields are the only fields a flow patch may declare.
var flowFields = map[string]bool{"params": true, "stages": true, "experiments": true, "qos": true, "emergency": true}

// Blueprint bundles the registered blueprint objects the Validator checks a
// patch against.
type Blueprint struct {
	Registry  *contract.FlowRegistry
	Catalog   *contract.ModuleCatalog
	Selectors *contract.SelectorRegistry
}

// Validate runs the full single-pass algorithm  over raw
// patch JSON.
func Validate(raw []byte, bp Blueprint) *findings.Report {
	report := &findings.Report{}

	var p fastjson.Parser
	val, err := p.ParseBytes(raw)
	if err != nil {
		report.Add(findings.Errorf("CFG_PARSE_ERROR", "$", "failed to parse patch JSON: %v", err))
		return report
	}
	if val.Type() != fastjson.TypeObject {
		report.Add(findings.Errorf("CFG_PARSE_ERROR", "$", "patch document must be a JSON object"))
		return report
	}
	root := val.GetObject()

	checkUnknownFields(report, findings.Root(), root, topLevelFields)

	schemaVersion := string(val.GetStringBytes("schemaVersion"))
	if schemaVersion != "v1" {
		report.Add(findings.Errorf("CFG_SCHEMA_VERSION_UNSUPPORTED", "$.schemaVersion",
			"schemaVersion must be \"v1\", got %q", schemaVersion))
	}

	if limits := val.Get("limits"); limits != nil {
		validateLimits(report, limits)
	}

	if flows := val.Get("flows"); flows != nil {
		if flows.Type() != fastjson.TypeObject {
			report.Add(findings.Errorf("CFG_PARSE_ERROR", "$.flows", "flows must be an object"))
		} else {
			flows.GetObject().Visit(func(key []byte, v *fastjson.Value) {
				validateFlow(report, bp, string(key), v)
			})
		}
	}

	return report
}

// checkUnknownFields emits CFG_UNKNOWN_FIELD for any key of obj not present
// in allowed, with a levenshtein-based "did you mean" suggestion appended
// when a close match exists.
func checkUnknownFields(report *findings.Report, path *findings.PathBuilder, obj *fastjson.Object, allowed map[string]bool) {
	obj.Visit(func(key []byte, _ *fastjson.Value) {
		k := string(key)
		if allowed[k] {
			return
		}
		msg := "unknown field: " + k
		if suggestion := didYouMean(k, allowed); suggestion != "" {
			msg += "; did you mean \"" + suggestion + "\"?"
		}
		report.Add(findings.Errorf("CFG_UNKNOWN_FIELD", path.Field(k).String(), "%s", msg))
	})
}

// didYouMean returns the closest allowed key within a small edit-distance
// budget, or "" if nothing is close enough to be worth suggesting.
func didYouMean(got string, allowed map[string]bool) string {
	best := ""
	bestDist := 1 << 30
	for candidate := range allowed {
		d := levenshtein.ComputeDistance(got, candidate)
		if d < bestDist {
			bestDist = d
			best = candidate
		}
	}
	threshold := len(got)/2 + 1
	if bestDist > threshold {
		return ""
	}
	return best
}

func validateLimits(report *findings.Report, limits *fastjson.Value) {
	path := findings.Root().Field("limits")
	if limits.Type() != fastjson.TypeObject {
		report.Add(findings.Errorf("CFG_PARSE_ERROR", path.String(), "limits must be an object"))
		return
	}
	checkUnknownFields(report, path, limits.GetObject(), map[string]bool{"maxInFlight": true, "moduleConcurrency": true})

	validatePositiveIntMap(report, path, limits, "maxInFlight", "CFG_LIMITS_KEY_INVALID", "CFG_LIMITS_VALUE_INVALID", "maxInFlight value must be a positive int32")
	validateModuleConcurrency(report, path, limits)
}

// validateModuleConcurrency checks the optional `limits.moduleConcurrency`
// object: a map from module id to its per-process concurrency cap, with the
// same key/value shape as maxInFlight.
func validateModuleConcurrency(report *findings.Report, limitsPath *findings.PathBuilder, limits *fastjson.Value) {
	validatePositiveIntMap(report, limitsPath, limits, "moduleConcurrency",
		"CFG_MODULE_CONCURRENCY_KEY_INVALID", "CFG_MODULE_CONCURRENCY_VALUE_INVALID",
		"moduleConcurrency value must be a positive int32")
}

// validatePositiveIntMap validates the optional field named fieldName on obj
// as an object whose keys are non-empty, length <=128, free of whitespace or
// control characters, and whose values are positive int32s. maxInFlight and
// moduleConcurrency share this exact shape.
func validatePositiveIntMap(report *findings.Report, basePath *findings.PathBuilder, obj *fastjson.Value, fieldName, keyCode, valueCode, valueMsg string) {
	field := obj.Get(fieldName)
	if field == nil {
		return
	}
	fieldPath := basePath.Field(fieldName)
	if field.Type() != fastjson.TypeObject {
		report.Add(findings.Errorf("CFG_PARSE_ERROR", fieldPath.String(), "%s must be an object", fieldName))
		return
	}
	field.GetObject().Visit(func(key []byte, v *fastjson.Value) {
		k := string(key)
		kp := fieldPath.Field(k)
		if k == "" || len(k) > 128 || hasWhitespaceOrControl(k) {
			report.Add(findings.Errorf(keyCode, kp.String(), "limit key %q is invalid", k))
		}
		n, err := v.Int()
		if err != nil || n <= 0 {
			report.Add(findings.Errorf(valueCode, kp.String(), "%s", valueMsg))
		}
	})
}

func hasWhitespaceOrControl(s string) bool {
	for _, r := range s {
		if r <= 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}

// sortedFindingCodes is a small helper used by tests to assert a stable
// subset of codes appeared in a report, independent of full-message text.
func sortedFindingCodes(r *findings.Report) []string {
	out := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		out = append(out, f.Code)
	}
	sort.Strings(out)
	return out
}
