// Package stagedecision implements the Stage Decision Computer: given one stage's merged module set plus its StageContract, decide
// which primary modules execute, which shadow modules are sampled, and why.
package stagedecision

import (
	"sort"

	"github.com/flowforge/core/internal/numeric"
	"github.com/flowforge/core/pkg/contract"
	"github.com/flowforge/core/pkg/flowtypes"
	"github.com/flowforge/core/pkg/gate"
	"github.com/flowforge/core/pkg/overlay"
)

// Outcome names the closed set of per-module results. These strings are
// part of the public contract and must not change.
const (
	Selected                           = "SELECTED"
	Disabled                           = "DISABLED"
	StageContractDynamicModulesForbidden = "STAGE_CONTRACT_DYNAMIC_MODULES_FORBIDDEN"
	StageContractModuleTypeForbidden   = "STAGE_CONTRACT_MODULE_TYPE_FORBIDDEN"
	GateFalse                          = "GATE_FALSE"
	FanoutTrim                         = "FANOUT_TRIM"
	StageContractMaxModulesHardExceeded = "STAGE_CONTRACT_MAX_MODULES_HARD_EXCEEDED"
	ShadowNotSampled                   = "SHADOW_NOT_SAMPLED"
	StageContractMaxShadowModulesHardExceeded = "STAGE_CONTRACT_MAX_SHADOW_MODULES_HARD_EXCEEDED"
)

// ModuleDecision is one module's outcome within a stage.
type ModuleDecision struct {
	ModuleID     string
	Outcome      string
	GateCode     string
	GateReason   string
	SelectorName string
}

// StageDecision is the full per-stage decision: which primary modules are
// selected/skipped and which shadow modules are sampled/not, in the order
// the decisions were made: disabled/dynamic/type/gate skips in declared
// order, then the survivors in (priority desc, declared index asc) order;
// sampled shadow survivors come before SHADOW_NOT_SAMPLED ones.
type StageDecision struct {
	StageName       string
	FanoutEffective int
	Modules         []ModuleDecision // one entry per primary module, decision order
	ShadowModules   []ModuleDecision // one entry per shadow module, decision order
}

// Input bundles what Decide needs for one stage.
type Input struct {
	Options   *flowtypes.RequestOptions
	Selectors *contract.SelectorRegistry
	Contract  *contract.StageContract
}

// Decide runs the procedure against one evaluated stage.
func Decide(stage *overlay.StageEvaluation, in Input) *StageDecision {
	out := &StageDecision{StageName: stage.StageName}
	sc := in.Contract
	if sc == nil {
		sc = &contract.StageContract{MaxFanoutMax: contract.MaxAllowedFanoutMax}
	}

	primary := gatedCandidates(stage.Modules, sc, in, out, false)
	fanoutMax := effectiveFanoutMax(stage, sc)
	selectPrimary(primary, sc, fanoutMax, out)

	shadow := gatedCandidates(stage.ShadowModules, sc, in, out, true)
	selectShadow(shadow, sc, in.Options, out)

	return out
}

// candidate is a surviving (pre-gate-reject) module plus its declared index,
// needed for the stable (priority desc, index asc) sort.
type candidate struct {
	module *flowtypes.ModulePatch
	index  int
}

// gatedCandidates runs the disabled/dynamic/type/gate checks in declared
// order, appending a skip decision to out immediately for anything that
// doesn't survive, and returning the survivors for sorting/trimming.
func gatedCandidates(modules []*flowtypes.ModulePatch, sc *contract.StageContract, in Input, out *StageDecision, shadow bool) []candidate {
	var survivors []candidate
	for i, m := range modules {
		if !m.IsEnabled() {
			appendDecision(out, shadow, m.ID, Disabled, "", "")
			continue
		}
		if !sc.AllowsDynamicModules {
			appendDecision(out, shadow, m.ID, StageContractDynamicModulesForbidden, "", "")
			continue
		}
		if m.Use != "" && !sc.AllowsModuleType(m.Use) {
			appendDecision(out, shadow, m.ID, StageContractModuleTypeForbidden, "", "")
			continue
		}
		if len(m.Gate) > 0 {
			expr, err := gate.Parse(m.Gate)
			if err == nil && expr != nil {
				d := gate.Eval(expr, in.Options, in.Selectors)
				if !d.Allowed {
					appendGateSkip(out, shadow, m.ID, d)
					continue
				}
			}
		}
		survivors = append(survivors, candidate{module: m, index: i})
	}
	return survivors
}

func appendDecision(out *StageDecision, shadow bool, id, outcome, gateCode, gateReason string) {
	d := ModuleDecision{ModuleID: id, Outcome: outcome, GateCode: gateCode, GateReason: gateReason}
	if shadow {
		out.ShadowModules = append(out.ShadowModules, d)
	} else {
		out.Modules = append(out.Modules, d)
	}
}

// appendGateSkip records a GATE_FALSE skip, carrying the selector name (if
// any) through to explain so it can attribute the denial to the selector
// that rejected it.
func appendGateSkip(out *StageDecision, shadow bool, id string, dec gate.Decision) {
	d := ModuleDecision{ModuleID: id, Outcome: GateFalse, GateCode: dec.Code, GateReason: dec.ReasonCode, SelectorName: dec.SelectorName}
	if shadow {
		out.ShadowModules = append(out.ShadowModules, d)
	} else {
		out.Modules = append(out.Modules, d)
	}
}

// stableSortByPriorityThenIndex sorts survivors by (priority desc, declared
// index asc), stably — ties preserve declared order regardless, but the
// index key makes the sort deterministic even with an unstable sort.Slice.
func stableSortByPriorityThenIndex(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].module.Priority != cands[j].module.Priority {
			return cands[i].module.Priority > cands[j].module.Priority
		}
		return cands[i].index < cands[j].index
	})
}

func selectPrimary(survivors []candidate, sc *contract.StageContract, fanoutMax int, out *StageDecision) {
	stableSortByPriorityThenIndex(survivors)

	hardCut := len(survivors)
	if sc.MaxModulesHard > 0 && sc.MaxModulesHard < hardCut {
		hardCut = sc.MaxModulesHard
	}
	selectCount := numeric.MinInt(fanoutMax, hardCut)
	if selectCount < 0 {
		selectCount = 0
	}

	for i, c := range survivors {
		switch {
		case i < selectCount:
			appendDecision(out, false, c.module.ID, Selected, "", "")
		case i < hardCut:
			appendDecision(out, false, c.module.ID, FanoutTrim, "", "")
		default:
			appendDecision(out, false, c.module.ID, StageContractMaxModulesHardExceeded, "", "")
		}
	}
	out.FanoutEffective = selectCount
}

func selectShadow(survivors []candidate, sc *contract.StageContract, opts *flowtypes.RequestOptions, out *StageDecision) {
	stableSortByPriorityThenIndex(survivors)

	var sampled []candidate
	var notSampled []candidate
	userID := ""
	if opts != nil {
		userID = opts.UserID
	}
	for _, c := range survivors {
		effectiveBps := numeric.ClampBps(numeric.MinInt(c.module.Shadow.SampleBps(), sc.MaxShadowSampleBps))
		if isSampled(userID, c.module.ID, effectiveBps) {
			sampled = append(sampled, c)
		} else {
			notSampled = append(notSampled, c)
		}
	}

	hardCut := len(sampled)
	if sc.MaxShadowModulesHard > 0 && sc.MaxShadowModulesHard < hardCut {
		hardCut = sc.MaxShadowModulesHard
	}
	for i, c := range sampled {
		if i < hardCut {
			appendDecision(out, true, c.module.ID, Selected, "", "")
		} else {
			appendDecision(out, true, c.module.ID, StageContractMaxShadowModulesHardExceeded, "", "")
		}
	}
	for _, c := range notSampled {
		appendDecision(out, true, c.module.ID, ShadowNotSampled, "", "")
	}
}

// isSampled implements the deterministic bucket sampler.
func isSampled(userID, moduleID string, effectiveBps int) bool {
	if effectiveBps <= 0 {
		return false
	}
	if effectiveBps >= 10000 {
		return true
	}
	bucket, never := numeric.ShadowBucketMod10000(userID, moduleID)
	if never {
		return false
	}
	return bucket < effectiveBps
}

// effectiveFanoutMax implements the "clamp to
// [0, stageContract.maxFanoutMax]; if the stage patch omitted fanoutMax,
// treat as +inf before clamping."
func effectiveFanoutMax(stage *overlay.StageEvaluation, sc *contract.StageContract) int {
	hi := sc.MaxFanoutMax
	if hi <= 0 || hi > contract.MaxAllowedFanoutMax {
		hi = contract.MaxAllowedFanoutMax
	}
	if !stage.HasFanoutMax {
		return hi
	}
	return numeric.ClampInt(stage.FanoutMax, 0, hi)
}
