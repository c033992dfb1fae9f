package validator

import (
	"github.com/valyala/fastjson"

	"github.com/flowforge/core/pkg/contract"
	"github.com/flowforge/core/pkg/findings"
)

var recognizedTiers = map[string]bool{"full": true, "conserve": true, "emergency": true, "fallback": true}

var qosFields = map[string]bool{"tiers": true}
var qosTierFields = map[string]bool{"patch": true}

// validateQoS checks the rule: only the four recognized tiers
// are accepted, and a tier patch may never increase fanoutMax, enable a
// base-disabled module, or raise a module's shadow sample rate relative to
// the flow's base stages patch.
func validateQoS(report *findings.Report, def *contract.FlowDefinition, flowPath *findings.PathBuilder, qos *fastjson.Value, flowVal *fastjson.Value) {
	path := flowPath.Field("qos")
	if qos.Type() != fastjson.TypeObject {
		report.Add(findings.Errorf("CFG_PARSE_ERROR", path.String(), "qos must be an object"))
		return
	}
	checkUnknownFields(report, path, qos.GetObject(), qosFields)

	tiers := qos.Get("tiers")
	if tiers == nil || tiers.Type() != fastjson.TypeObject {
		return
	}
	tiersPath := path.Field("tiers")
	baseStages := flowVal.Get("stages")

	tiers.GetObject().Visit(func(key []byte, tierVal *fastjson.Value) {
		tierName := string(key)
		tp := tiersPath.Field(tierName)
		if !recognizedTiers[tierName] {
			report.Add(findings.Errorf("CFG_QOS_TIER_UNRECOGNIZED", tp.String(), "unrecognized QoS tier %q", tierName))
			return
		}
		if tierVal.Type() != fastjson.TypeObject {
			report.Add(findings.Errorf("CFG_PARSE_ERROR", tp.String(), "qos tier entry must be an object"))
			return
		}
		checkUnknownFields(report, tp, tierVal.GetObject(), qosTierFields)

		patch := tierVal.Get("patch")
		if patch == nil || patch.Type() != fastjson.TypeObject {
			return
		}
		patchPath := tp.Field("patch")
		checkUnknownFields(report, patchPath, patch.GetObject(), flowFields)

		stages := patch.Get("stages")
		if stages == nil || stages.Type() != fastjson.TypeObject || baseStages == nil {
			return
		}
		stagesPath := patchPath.Field("stages")
		stages.GetObject().Visit(func(stageKey []byte, tierStage *fastjson.Value) {
			stageName := string(stageKey)
			baseStage := baseStages.Get(stageName)
			validateQoSStageRestriction(report, stagesPath.Field(stageName), tierStage, baseStage)
		})
	})
}

func validateQoSStageRestriction(report *findings.Report, path *findings.PathBuilder, tierStage, baseStage *fastjson.Value) {
	if tierStage.Type() != fastjson.TypeObject {
		return
	}
	if tierStage.Exists("fanoutMax") && baseStage != nil && baseStage.Exists("fanoutMax") {
		tierMax, err1 := tierStage.Get("fanoutMax").Int()
		baseMax, err2 := baseStage.Get("fanoutMax").Int()
		if err1 == nil && err2 == nil && tierMax > baseMax {
			report.Add(findings.Errorf("CFG_QOS_FANOUT_INCREASE_FORBIDDEN", path.Field("fanoutMax").String(),
				"qos tier patch may not raise fanoutMax above the base stage's %d", baseMax))
		}
	}

	tierModules := tierStage.Get("modules")
	if tierModules == nil {
		return
	}
	arr, err := tierModules.Array()
	if err != nil {
		return
	}
	baseModulesByID := map[string]*fastjson.Value{}
	if baseStage != nil {
		if bm := baseStage.Get("modules"); bm != nil {
			if barr, err := bm.Array(); err == nil {
				for _, m := range barr {
					baseModulesByID[string(m.GetStringBytes("id"))] = m
				}
			}
		}
	}

	for i, m := range arr {
		id := string(m.GetStringBytes("id"))
		mp := path.Field("modules").Index(i)
		baseModule, hasBase := baseModulesByID[id]
		if !hasBase {
			continue
		}
		baseEnabled := !baseModule.Exists("enabled") || baseModule.GetBool("enabled")
		if m.Exists("enabled") && m.GetBool("enabled") && !baseEnabled {
			report.Add(findings.Errorf("CFG_QOS_MODULE_ENABLE_FORBIDDEN", mp.Field("enabled").String(),
				"qos tier patch may not enable module %q, which base disables", id))
		}
		if tierShadow := m.Get("shadow"); tierShadow != nil {
			if baseShadow := baseModule.Get("shadow"); baseShadow != nil {
				tierSample, err1 := tierShadow.Get("sample").Float64()
				baseSample, err2 := baseShadow.Get("sample").Float64()
				if err1 == nil && err2 == nil && tierSample > baseSample {
					report.Add(findings.Errorf("CFG_QOS_SHADOW_INCREASE_FORBIDDEN", mp.Field("shadow").Field("sample").String(),
						"qos tier patch may not raise module %q's shadow sample above base's %.4f", id, baseSample))
				}
			}
		}
	}
}
