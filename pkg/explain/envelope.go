package explain

import (
	"encoding/json"
	"sort"

	flerrors "github.com/flowforge/core/internal/errors"
	"github.com/flowforge/core/pkg/findings"
	"github.com/flowforge/core/pkg/overlay"
	"github.com/flowforge/core/pkg/paramsresolver"
	"github.com/flowforge/core/pkg/stagedecision"
)

// ToolingJSONVersion is the envelope version every tool output currently
// declares. "v3" is reserved for explain_patch_rich, which carries
// provenance sources the plain versions omit.
const (
	ToolingJSONVersionV1 = "v1"
	ToolingJSONVersionV3 = "v3"
)

// Kind enumerates the recognized top-level tool output kinds.
const (
	KindValidate         = "validate"
	KindExplain          = "explain"
	KindExplainPatch     = "explain_patch"
	KindExplainPatchRich = "explain_patch_rich"
	KindPreviewMatrix    = "preview_matrix"
	KindDiff             = "diff"
	KindExecExplain      = "exec_explain"
)

// FindingRecord is a Finding's wire shape.
type FindingRecord struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	JSONPath string `json:"jsonPath"`
	Message  string `json:"message"`
}

func findingRecords(r *findings.Report) []FindingRecord {
	sorted := r.Sorted()
	out := make([]FindingRecord, 0, len(sorted))
	for _, f := range sorted {
		out = append(out, FindingRecord{Severity: string(f.Severity), Code: f.Code, JSONPath: f.JSONPath, Message: f.Message})
	}
	return out
}

// ValidateEnvelope is the `validate` tool output.
type ValidateEnvelope struct {
	Kind                string          `json:"kind"`
	ToolingJSONVersion  string          `json:"tooling_json_version"`
	IsValid             bool            `json:"is_valid"`
	Findings            []FindingRecord `json:"findings"`
}

// BuildValidate renders a ValidationReport as the `validate` tool kind.
func BuildValidate(report *findings.Report) *ValidateEnvelope {
	return &ValidateEnvelope{
		Kind:               KindValidate,
		ToolingJSONVersion: ToolingJSONVersionV1,
		IsValid:            report.IsValid(),
		Findings:           findingRecords(report),
	}
}

// ExitCode implements the "validator-only commands return exit 2
// on any error-severity finding, else 0".
func (e *ValidateEnvelope) ExitCode() int {
	if e.IsValid {
		return 0
	}
	return 2
}

// ModuleDecisionRecord is one module's explain-facing outcome.
type ModuleDecisionRecord struct {
	ModuleID     string `json:"moduleId"`
	Outcome      string `json:"outcome"`
	GateCode     string `json:"gateCode,omitempty"`
	GateReason   string `json:"gateReasonCode,omitempty"`
	SelectorName string `json:"selectorName,omitempty"`
}

// StageRecord is one stage's merged module set plus its decisions.
type StageRecord struct {
	StageName       string                 `json:"stageName"`
	FanoutEffective int                    `json:"fanoutEffective"`
	Modules         []ModuleDecisionRecord `json:"modules"`
	ShadowModules   []ModuleDecisionRecord `json:"shadowModules"`
}

func stageRecord(d *stagedecision.StageDecision) StageRecord {
	return StageRecord{
		StageName:       d.StageName,
		FanoutEffective: d.FanoutEffective,
		Modules:         moduleRecords(d.Modules),
		ShadowModules:   moduleRecords(d.ShadowModules),
	}
}

func moduleRecords(decisions []stagedecision.ModuleDecision) []ModuleDecisionRecord {
	out := make([]ModuleDecisionRecord, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, ModuleDecisionRecord{
			ModuleID: d.ModuleID, Outcome: d.Outcome, GateCode: d.GateCode,
			GateReason: d.GateReason, SelectorName: d.SelectorName,
		})
	}
	return out
}

// AppliedOverlayRecord is one entry of overlaysApplied.
type AppliedOverlayRecord struct {
	Layer             string `json:"layer"`
	ExperimentLayer   string `json:"experimentLayer,omitempty"`
	ExperimentVariant string `json:"experimentVariant,omitempty"`
	QoSTier           string `json:"qosTier,omitempty"`
}

// ParamsRecord is the effective-params sub-object.
type ParamsRecord struct {
	Effective  any                `json:"effective"`
	Hash       string             `json:"hash"`
	Sources    []ProvenanceRecord `json:"sources,omitempty"`
}

// ProvenanceRecord is one leaf's winning-layer attribution.
type ProvenanceRecord struct {
	Path              string `json:"path"`
	Layer             string `json:"layer"`
	ExperimentLayer   string `json:"experimentLayer,omitempty"`
	ExperimentVariant string `json:"experimentVariant,omitempty"`
	QoSTier           string `json:"qosTier,omitempty"`
}

// ExplainEnvelope is the `explain`/`explain_patch`/`explain_patch_rich`
// tool output. Rich mode additionally carries params.sources.
type ExplainEnvelope struct {
	Kind                              string        `json:"kind"`
	ToolingJSONVersion                string        `json:"tooling_json_version"`
	FlowName                          string        `json:"flowName"`
	ConfigVersion                     uint64        `json:"configVersion"`
	OverlaysApplied                   []AppliedOverlayRecord `json:"overlaysApplied"`
	EmergencyOverlayIgnoredReasonCode string        `json:"emergencyOverlayIgnoredReasonCode,omitempty"`
	Stages                            []StageRecord `json:"stages"`
	Params                            ParamsRecord  `json:"params"`
}

// BuildExplain assembles the explain envelope. kind must be one of
// KindExplain, KindExplainPatch, KindExplainPatchRich; rich determines
// whether provenance sources are included (only explain_patch_rich does).
func BuildExplain(kind string, eval *overlay.FlowPatchEvaluation, decisions []*stagedecision.StageDecision, params *paramsresolver.Result) *ExplainEnvelope {
	rich := kind == KindExplainPatchRich
	version := ToolingJSONVersionV1
	if rich {
		version = ToolingJSONVersionV3
	}

	stages := make([]StageRecord, 0, len(decisions))
	for _, d := range decisions {
		stages = append(stages, stageRecord(d))
	}

	overlays := make([]AppliedOverlayRecord, 0, len(eval.OverlaysApplied))
	for _, o := range eval.OverlaysApplied {
		overlays = append(overlays, AppliedOverlayRecord{
			Layer: string(o.Layer), ExperimentLayer: o.ExperimentLayer,
			ExperimentVariant: o.ExperimentVariant, QoSTier: string(o.QoSTier),
		})
	}

	pr := ParamsRecord{Hash: X16(params.Hash)}
	pr.Effective = RedactAllLeaves(deepCopy(params.Effective))
	if rich {
		sorted := append([]paramsresolver.Provenance(nil), params.Provenance...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
		for _, p := range sorted {
			pr.Sources = append(pr.Sources, ProvenanceRecord{
				Path: p.Path, Layer: p.Layer, ExperimentLayer: p.ExperimentLayer,
				ExperimentVariant: p.ExperimentVariant, QoSTier: p.QoSTier,
			})
		}
	}

	return &ExplainEnvelope{
		Kind: kind, ToolingJSONVersion: version,
		FlowName: eval.FlowName, ConfigVersion: eval.ConfigVersion,
		OverlaysApplied: overlays, EmergencyOverlayIgnoredReasonCode: eval.EmergencyOverlayIgnoredReasonCode,
		Stages: stages, Params: pr,
	}
}

// deepCopy round-trips v through JSON so Redact/RedactAllLeaves never
// mutate a caller-owned tree (params.Effective is shared with the resolver
// result, which callers may reuse for the non-redacted hash).
func deepCopy(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return Redact(out)
}

// ErrorBody and ErrorEnvelope are the wire shape of the two tooling error
// envelopes (InputError, InternalError) every flowctl command can emit.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// InputError builds the exit-2 envelope for a caller-attributable bad input.
func InputError(prefix, message string) *ErrorEnvelope {
	return &ErrorEnvelope{Error: ErrorBody{Code: flerrors.InputCode(prefix), Message: message}}
}

// InternalError builds the exit-1 envelope for an unexpected failure.
func InternalError(prefix, message string) *ErrorEnvelope {
	return &ErrorEnvelope{Error: ErrorBody{Code: flerrors.InternalCode(prefix), Message: message}}
}
