// Package explain implements the deterministic Explain/Diff/Preview
// serializers: sorted-key JSON envelopes, a universal
// property redactor, uppercase hex hash formatting, and RFC6902 diffs.
package explain

import "regexp"

// redactKeyPattern matches any object property name that should have its
// value replaced wholesale. Matching is case-insensitive substring, not
// word-boundary, so e.g. "sessionId" and "apikey2" both match.
var redactKeyPattern = regexp.MustCompile(`(?i)token|password|secret|api_key|apikey|authorization|cookie|credential|session`)

// Redacted is the literal replacement value for a redacted property.
const Redacted = "[REDACTED]"

// Redact walks v (a decoded JSON tree of map[string]any/[]any/scalars) and
// replaces the value of any object property whose name matches
// redactKeyPattern with Redacted. It mutates and returns nested maps in
// place; callers that need the original untouched should deep-copy first.
func Redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if redactKeyPattern.MatchString(k) {
				t[k] = Redacted
				continue
			}
			t[k] = Redact(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = Redact(val)
		}
		return t
	default:
		return v
	}
}

// RedactAllLeaves replaces every leaf scalar under v with Redacted, used for
// the params.effective tree specifically.
func RedactAllLeaves(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = RedactAllLeaves(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = RedactAllLeaves(val)
		}
		return t
	case nil:
		return nil
	default:
		return Redacted
	}
}
