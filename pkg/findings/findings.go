// Package findings implements the Validator's diagnostic vocabulary: a
// closed Severity enum, the Finding record, and the stable ordering rule
// every serializer in pkg/explain relies on.
package findings

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonpointer"
)

// Severity is a closed sum type; treat it as sealed — switch statements over
// it should not have a default case that silently swallows a new value.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
	SeverityInfo  Severity = "info"
)

// rank gives Severity its sort precedence: errors first, then warnings, then
// info, matching the order operators scan a report in.
func (s Severity) rank() int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarn:
		return 1
	case SeverityInfo:
		return 2
	default:
		return 3
	}
}

// Finding is a single validator diagnostic.
type Finding struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	JSONPath string   `json:"jsonPath"`
	Message  string   `json:"message"`
}

// New constructs a Finding. path should be a dotted/bracketed JSONPath like
// "$.flows.F.stages.s1.modules[2].id". New stores path as given and does
// not check it; PathBuilder.JSONPointer is where a builder-made path is
// checked against RFC6901.
func New(sev Severity, code, path, message string) Finding {
	return Finding{Severity: sev, Code: code, JSONPath: path, Message: message}
}

// Errorf is a convenience constructor for SeverityError findings.
func Errorf(code, path, format string, args ...any) Finding {
	return New(SeverityError, code, path, fmt.Sprintf(format, args...))
}

// Warnf is a convenience constructor for SeverityWarn findings.
func Warnf(code, path, format string, args ...any) Finding {
	return New(SeverityWarn, code, path, fmt.Sprintf(format, args...))
}

// Infof is a convenience constructor for SeverityInfo findings.
func Infof(code, path, format string, args ...any) Finding {
	return New(SeverityInfo, code, path, fmt.Sprintf(format, args...))
}

// Report is a sequence of findings produced by a single Validator run.
type Report struct {
	Findings []Finding
}

// Add appends f to the report.
func (r *Report) Add(f Finding) { r.Findings = append(r.Findings, f) }

// IsValid reports whether the report has no SeverityError findings.
func (r *Report) IsValid() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Sorted returns a copy of the findings in the canonical
// (severity, code, path, message) codepoint order, so validate output is
// stable across runs.
func (r *Report) Sorted() []Finding {
	out := make([]Finding, len(r.Findings))
	copy(out, r.Findings)
	sort.SliceStable(out, func(i, j int) bool {
		return Less(out[i], out[j])
	})
	return out
}

// Less implements the canonical ordering so other serializers (e.g. diff,
// which interleaves findings with other record kinds) can reuse it.
func Less(a, b Finding) bool {
	if a.Severity.rank() != b.Severity.rank() {
		return a.Severity.rank() < b.Severity.rank()
	}
	if a.Code != b.Code {
		return a.Code < b.Code
	}
	if a.JSONPath != b.JSONPath {
		return a.JSONPath < b.JSONPath
	}
	return a.Message < b.Message
}

// PathBuilder accumulates dotted/bracketed JSONPath segments while a
// validator walks a patch tree, and can render the accumulated path both as
// the `$.a.b[2].c` form findings use and as an RFC6901 JSON Pointer (used
// internally to double-check the path is well-formed before it's attached to
// a Finding — a malformed pointer here means the validator itself has a bug,
// not the operator's patch).
type PathBuilder struct {
	segments []string
}

// Root returns an empty PathBuilder, rendering as "$".
func Root() *PathBuilder { return &PathBuilder{} }

// Field returns a new builder with a `.name` segment appended.
func (p *PathBuilder) Field(name string) *PathBuilder {
	next := append(append([]string{}, p.segments...), field(name))
	return &PathBuilder{segments: next}
}

// Index returns a new builder with a `[i]` segment appended.
func (p *PathBuilder) Index(i int) *PathBuilder {
	next := append(append([]string{}, p.segments...), fmt.Sprintf("[%d]", i))
	return &PathBuilder{segments: next}
}

func field(name string) string {
	if name == "" {
		return ".\"\""
	}
	return "." + name
}

// String renders the JSONPath form, e.g. "$.flows.F.stages.s1.modules[2]".
func (p *PathBuilder) String() string {
	var b strings.Builder
	b.WriteString("$")
	for _, s := range p.segments {
		if strings.HasPrefix(s, "[") {
			b.WriteString(s)
			continue
		}
		b.WriteString(s)
	}
	return b.String()
}

// JSONPointer renders an RFC6901 pointer equivalent of the accumulated path,
// validating it via xeipuuv/gojsonpointer. It panics only on a programmer
// error (an unescapable segment), never on operator input, since segments
// here are always validator-controlled field/index names.
func (p *PathBuilder) JSONPointer() string {
	var tokens []string
	for _, s := range p.segments {
		if strings.HasPrefix(s, "[") {
			tokens = append(tokens, strings.TrimSuffix(strings.TrimPrefix(s, "["), "]"))
			continue
		}
		name := strings.TrimPrefix(s, ".")
		name = strings.Trim(name, "\"")
		tokens = append(tokens, escapePointerToken(name))
	}
	ptr := "/" + strings.Join(tokens, "/")
	if len(tokens) == 0 {
		ptr = ""
	}
	if _, err := gojsonpointer.NewJsonPointer(ptr); err != nil {
		panic("findings: built an invalid JSON pointer: " + err.Error())
	}
	return ptr
}

func escapePointerToken(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	s = strings.ReplaceAll(s, "/", "~1")
	return s
}
