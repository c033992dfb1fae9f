package explain

import (
	"encoding/json"
	"sort"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/tidwall/gjson"
)

// DiffOperation is one RFC6902 operation in canonical wire shape.
type DiffOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// DiffEnvelope is the `diff` tool output: an RFC6902 patch between two
// evaluated-config renderings (two explain envelopes, two preview_matrix
// cells, or any two canonical JSON documents), plus a human summary line
// count per flow/stage/module so callers don't have to parse the ops.
type DiffEnvelope struct {
	Kind               string          `json:"kind"`
	ToolingJSONVersion string          `json:"tooling_json_version"`
	Operations         []DiffOperation `json:"operations"`
	Summary            DiffSummary     `json:"summary"`
}

// DiffSummary is a coarse counts-by-kind rollup of Operations: add ops count
// as Added, remove ops as Removed, and every other op as Changed.
type DiffSummary struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Changed int `json:"changed"`
}

// BuildDiff computes an RFC6902 patch from before to after (both must be
// canonical JSON documents, e.g. from an explain envelope or a resolved
// params tree) and wraps it as the `diff` tool kind. Values embedded in add
// and replace operations are redacted the same way explain output is,
// since a diff of two explain envelopes would otherwise leak secrets the
// envelopes themselves withheld.
func BuildDiff(before, after []byte) (*DiffEnvelope, error) {
	patch, err := jsonpatch.CreatePatch(before, after)
	if err != nil {
		return nil, err
	}

	type sortableOp struct {
		rec                           DiffOperation
		flowName, stageName, moduleID string
	}
	sortable := make([]sortableOp, 0, len(patch))
	for _, op := range patch {
		path, _ := op.Path()
		rec := DiffOperation{Op: op.Kind(), Path: path}
		if raw, err := op.Value(); err == nil && raw != nil {
			rec.Value = redactDiffValue(*raw)
			for _, seg := range pointerSegments(path) {
				if redactKeyPattern.MatchString(seg) {
					rec.Value = Redacted
					break
				}
			}
		}
		flowName, stageName, moduleID := diffSortKey(path, before, after)
		sortable = append(sortable, sortableOp{rec: rec, flowName: flowName, stageName: stageName, moduleID: moduleID})
	}

	// Canonical diff ordering per spec: (flowName, stageName, moduleId, kind,
	// path). moduleId is resolved from the modules array index via the
	// module's own `id` field, preferring the "after" document (present for
	// add/replace) and falling back to "before" (present for remove).
	sort.SliceStable(sortable, func(i, j int) bool {
		a, b := sortable[i], sortable[j]
		if a.flowName != b.flowName {
			return a.flowName < b.flowName
		}
		if a.stageName != b.stageName {
			return a.stageName < b.stageName
		}
		if a.moduleID != b.moduleID {
			return a.moduleID < b.moduleID
		}
		if a.rec.Op != b.rec.Op {
			return a.rec.Op < b.rec.Op
		}
		return a.rec.Path < b.rec.Path
	})

	ops := make([]DiffOperation, 0, len(sortable))
	for _, s := range sortable {
		ops = append(ops, s.rec)
	}

	env := &DiffEnvelope{Kind: KindDiff, ToolingJSONVersion: ToolingJSONVersionV1, Operations: ops}
	for _, rec := range ops {
		switch rec.Op {
		case "add":
			env.Summary.Added++
		case "remove":
			env.Summary.Removed++
		default:
			env.Summary.Changed++
		}
	}
	return env, nil
}

// pointerSegments splits an RFC6901 JSON Pointer into its unescaped
// segments. "" and "/" both mean the document root and yield nil.
func pointerSegments(path string) []string {
	if path == "" || path == "/" {
		return nil
	}
	raw := strings.Split(strings.TrimPrefix(path, "/"), "/")
	out := make([]string, len(raw))
	for i, s := range raw {
		s = strings.ReplaceAll(s, "~1", "/")
		s = strings.ReplaceAll(s, "~0", "~")
		out[i] = s
	}
	return out
}

// gjsonPath joins pointer segments into a gjson dotted path, escaping any
// literal dots the segments themselves contain.
func gjsonPath(segments []string) string {
	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = strings.ReplaceAll(s, ".", `\.`)
	}
	return strings.Join(parts, ".")
}

// diffSortKey resolves the (flowName, stageName, moduleId) sort prefix for
// an operation's path by walking its pointer segments for "flows/<name>",
// "stages/<name>" and "modules/<index>" landmarks. moduleId is read out of
// the module's own "id" field via gjson, since the patch path only carries
// an array index — preferring the after document (present for add/replace)
// and falling back to before (present for remove).
func diffSortKey(path string, before, after []byte) (flowName, stageName, moduleID string) {
	segs := pointerSegments(path)
	for i := 0; i+1 < len(segs); i++ {
		switch segs[i] {
		case "flows":
			flowName = segs[i+1]
		case "stages":
			stageName = segs[i+1]
		case "modules":
			idPath := gjsonPath(append(append([]string{}, segs[:i+2]...), "id"))
			if v := gjson.GetBytes(after, idPath); v.Exists() {
				moduleID = v.String()
			} else if v := gjson.GetBytes(before, idPath); v.Exists() {
				moduleID = v.String()
			} else {
				moduleID = segs[i+1]
			}
		}
	}
	return flowName, stageName, moduleID
}

// redactDiffValue applies the same key-substring redaction rule as the
// rest of the package's output to an op's raw embedded value.
func redactDiffValue(raw json.RawMessage) any {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}
	return Redact(decoded)
}
