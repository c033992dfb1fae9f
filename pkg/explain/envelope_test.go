package explain

import (
	"github.com/flowforge/core/pkg/findings"
	"github.com/flowforge/core/pkg/overlay"
	"github.com/flowforge/core/pkg/paramsresolver"
	"github.com/flowforge/core/pkg/stagedecision"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BuildValidate", func() {
	It("is valid with an exit code of 0 when the report has no errors", func() {
		report := &findings.Report{}
		env := BuildValidate(report)
		Expect(env.IsValid).To(BeTrue())
		Expect(env.ExitCode()).To(Equal(0))
		Expect(env.Findings).To(BeEmpty())
	})

	It("is invalid with an exit code of 2 once an error finding is added", func() {
		report := &findings.Report{}
		report.Add(findings.Errorf("CFG_PARSE_ERROR", "$", "bad input"))

		env := BuildValidate(report)
		Expect(env.IsValid).To(BeFalse())
		Expect(env.ExitCode()).To(Equal(2))
		Expect(env.Findings).To(HaveLen(1))
		Expect(env.Findings[0].Code).To(Equal("CFG_PARSE_ERROR"))
	})
})

var _ = Describe("BuildExplain", func() {
	It("redacts params.effective down to [REDACTED] leaves regardless of key name", func() {
		eval := &overlay.FlowPatchEvaluation{FlowName: "checkout", ConfigVersion: 7}
		params := &paramsresolver.Result{
			Effective: map[string]any{"region": "us", "timeoutMs": float64(500)},
			Hash:      0xFF,
		}

		env := BuildExplain(KindExplain, eval, nil, params)
		Expect(env.Kind).To(Equal(KindExplain))
		Expect(env.ToolingJSONVersion).To(Equal(ToolingJSONVersionV1))
		Expect(env.Params.Hash).To(Equal("00000000000000FF"))

		effective := env.Params.Effective.(map[string]any)
		Expect(effective["region"]).To(Equal(Redacted))
		Expect(effective["timeoutMs"]).To(Equal(Redacted))
	})

	It("only includes params.sources for explain_patch_rich", func() {
		eval := &overlay.FlowPatchEvaluation{FlowName: "checkout"}
		params := &paramsresolver.Result{
			Effective:  map[string]any{},
			Provenance: []paramsresolver.Provenance{{Path: "$.timeoutMs", Layer: "base"}},
		}

		plain := BuildExplain(KindExplain, eval, nil, params)
		Expect(plain.ToolingJSONVersion).To(Equal(ToolingJSONVersionV1))
		Expect(plain.Params.Sources).To(BeEmpty())

		rich := BuildExplain(KindExplainPatchRich, eval, nil, params)
		Expect(rich.ToolingJSONVersion).To(Equal(ToolingJSONVersionV3))
		Expect(rich.Params.Sources).To(HaveLen(1))
		Expect(rich.Params.Sources[0].Path).To(Equal("$.timeoutMs"))
	})

	It("carries stage decisions through into the envelope", func() {
		eval := &overlay.FlowPatchEvaluation{FlowName: "checkout"}
		decisions := []*stagedecision.StageDecision{
			{
				StageName:       "enrich",
				FanoutEffective: 1,
				Modules:         []stagedecision.ModuleDecision{{ModuleID: "m1", Outcome: "executed"}},
			},
		}
		params := &paramsresolver.Result{Effective: map[string]any{}}

		env := BuildExplain(KindExplain, eval, decisions, params)
		Expect(env.Stages).To(HaveLen(1))
		Expect(env.Stages[0].StageName).To(Equal("enrich"))
		Expect(env.Stages[0].Modules[0].ModuleID).To(Equal("m1"))
	})
})

var _ = Describe("InputError and InternalError", func() {
	It("builds an input-error envelope with the FLOWCTL_ prefix convention", func() {
		env := InputError("FLOWCTL_BIND", "bad patch")
		Expect(env.Error.Message).To(Equal("bad patch"))
		Expect(env.Error.Code).NotTo(BeEmpty())
	})

	It("builds an internal-error envelope distinct from the input-error code", func() {
		inputEnv := InputError("FLOWCTL_BIND", "x")
		internalEnv := InternalError("FLOWCTL_BIND", "x")
		Expect(internalEnv.Error.Code).NotTo(Equal(inputEnv.Error.Code))
	})
})
