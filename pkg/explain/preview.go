package explain

import (
	"sort"
	"strings"
)

// PreviewCell is one point in the preview matrix: a QoS tier crossed with
// one fixed assignment of experiment variants, plus the resulting stage
// decisions and params hash for that combination. Building the cross
// product itself (re-running overlay.Evaluate/stagedecision.Decide per
// combination) is the caller's job, since it needs the request-options
// plumbing explain.Build* deliberately stays free of.
type PreviewCell struct {
	QoSTier    string
	Variants   map[string]string
	Stages     []StageRecord
	ParamsHash string
}

// PreviewMatrixEnvelope is the `preview_matrix` tool output: every combination
// the caller asked to preview, ordered (qosTier, variant assignment) so the
// output is stable across runs.
type PreviewMatrixEnvelope struct {
	Kind               string        `json:"kind"`
	ToolingJSONVersion string        `json:"tooling_json_version"`
	FlowName           string        `json:"flowName"`
	Cells              []PreviewCellRecord `json:"cells"`
}

// PreviewCellRecord is PreviewCell's wire shape.
type PreviewCellRecord struct {
	QoSTier    string            `json:"qosTier"`
	Variants   map[string]string `json:"variants,omitempty"`
	Stages     []StageRecord     `json:"stages"`
	ParamsHash string            `json:"paramsHash"`
}

// BuildPreviewMatrix assembles the preview_matrix envelope from precomputed
// cells, sorting them into a deterministic order.
func BuildPreviewMatrix(flowName string, cells []PreviewCell) *PreviewMatrixEnvelope {
	sorted := append([]PreviewCell(nil), cells...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].QoSTier != sorted[j].QoSTier {
			return sorted[i].QoSTier < sorted[j].QoSTier
		}
		return variantKey(sorted[i].Variants) < variantKey(sorted[j].Variants)
	})

	out := &PreviewMatrixEnvelope{Kind: KindPreviewMatrix, ToolingJSONVersion: ToolingJSONVersionV1, FlowName: flowName}
	for _, c := range sorted {
		out.Cells = append(out.Cells, PreviewCellRecord{
			QoSTier: c.QoSTier, Variants: c.Variants, Stages: c.Stages, ParamsHash: c.ParamsHash,
		})
	}
	return out
}

// variantKey renders a variant assignment as a sorted "layer=variant,..."
// string so cells with different assignments sort deterministically.
func variantKey(variants map[string]string) string {
	if len(variants) == 0 {
		return ""
	}
	layers := make([]string, 0, len(variants))
	for layer := range variants {
		layers = append(layers, layer)
	}
	sort.Strings(layers)
	var b strings.Builder
	for i, layer := range layers {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(layer)
		b.WriteByte('=')
		b.WriteString(variants[layer])
	}
	return b.String()
}

// ExecExplainEnvelope is the `exec_explain` tool output: a single node's
// runtime outcome plus the stage decision context that produced it, for
// post-hoc "why did this node run/not run" debugging.
type ExecExplainEnvelope struct {
	Kind               string      `json:"kind"`
	ToolingJSONVersion string      `json:"tooling_json_version"`
	FlowName           string      `json:"flowName"`
	NodeName           string      `json:"nodeName"`
	Outcome            string      `json:"outcome"`
	Stage              *StageRecord `json:"stage,omitempty"`
}

// BuildExecExplain assembles the exec_explain envelope for one node's
// recorded outcome (flowtypes.FlowContext.NodeOutcome) plus the stage
// decision it belongs to, if the node corresponds to a module decision.
func BuildExecExplain(flowName, nodeName, outcome string, stage *StageDecisionLookup) *ExecExplainEnvelope {
	env := &ExecExplainEnvelope{
		Kind: KindExecExplain, ToolingJSONVersion: ToolingJSONVersionV1,
		FlowName: flowName, NodeName: nodeName, Outcome: outcome,
	}
	if stage != nil {
		rec := stageRecordFromLookup(stage)
		env.Stage = &rec
	}
	return env
}

// StageDecisionLookup is the minimal view exec_explain needs of a stage
// decision; defined locally so this file doesn't need to import
// pkg/stagedecision just for one optional field.
type StageDecisionLookup struct {
	StageName       string
	FanoutEffective int
	Modules         []ModuleDecisionRecord
	ShadowModules   []ModuleDecisionRecord
}

func stageRecordFromLookup(s *StageDecisionLookup) StageRecord {
	return StageRecord{
		StageName: s.StageName, FanoutEffective: s.FanoutEffective,
		Modules: s.Modules, ShadowModules: s.ShadowModules,
	}
}
