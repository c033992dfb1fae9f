package validator

import (
	"github.com/valyala/fastjson"

	"github.com/flowforge/core/pkg/findings"
)

var emergencyFields = map[string]bool{"reason": true, "operator": true, "ttl_minutes": true, "patch": true}
var emergencyPatchFields = map[string]bool{"params": true, "stages": true}

// validateEmergency checks the rule: the inner patch may only
// set params and may only disable existing modules / adjust fanoutMax.
func validateEmergency(report *findings.Report, flowPath *findings.PathBuilder, emergency *fastjson.Value) {
	path := flowPath.Field("emergency")
	if emergency.Type() != fastjson.TypeObject {
		report.Add(findings.Errorf("CFG_PARSE_ERROR", path.String(), "emergency must be an object"))
		return
	}
	checkUnknownFields(report, path, emergency.GetObject(), emergencyFields)

	if len(emergency.GetStringBytes("reason")) == 0 {
		report.Add(findings.Errorf("CFG_EMERGENCY_REASON_REQUIRED", path.Field("reason").String(), "emergency.reason is required"))
	}
	if len(emergency.GetStringBytes("operator")) == 0 {
		report.Add(findings.Errorf("CFG_EMERGENCY_OPERATOR_REQUIRED", path.Field("operator").String(), "emergency.operator is required"))
	}
	if !emergency.Exists("ttl_minutes") {
		report.Add(findings.Errorf("CFG_EMERGENCY_TTL_INVALID", path.Field("ttl_minutes").String(), "emergency.ttl_minutes is required"))
	} else if ttl, err := emergency.Get("ttl_minutes").Int(); err != nil || ttl <= 0 {
		report.Add(findings.Errorf("CFG_EMERGENCY_TTL_INVALID", path.Field("ttl_minutes").String(), "emergency.ttl_minutes must be a positive integer"))
	}

	patch := emergency.Get("patch")
	if patch == nil || patch.Type() != fastjson.TypeObject {
		report.Add(findings.Errorf("CFG_EMERGENCY_PATCH_REQUIRED", path.Field("patch").String(), "emergency.patch is required"))
		return
	}
	patchPath := path.Field("patch")
	checkUnknownFields(report, patchPath, patch.GetObject(), emergencyPatchFields)

	stages := patch.Get("stages")
	if stages == nil || stages.Type() != fastjson.TypeObject {
		return
	}
	stagesPath := patchPath.Field("stages")
	stages.GetObject().Visit(func(key []byte, stageVal *fastjson.Value) {
		stageName := string(key)
		sp := stagesPath.Field(stageName)
		if stageVal.Type() != fastjson.TypeObject {
			return
		}
		checkUnknownFields(report, sp, stageVal.GetObject(), stageFields)

		modules := stageVal.Get("modules")
		if modules == nil {
			return
		}
		arr, arrErr := modules.Array()
		if arrErr != nil {
			return
		}
		for i, m := range arr {
			mp := sp.Field("modules").Index(i)
			allowed := map[string]bool{"id": true, "enabled": true}
			if m.Type() == fastjson.TypeObject {
				checkUnknownFields(report, mp, m.GetObject(), allowed)
			}
			if m.Exists("enabled") && m.GetBool("enabled") {
				report.Add(findings.Errorf("CFG_EMERGENCY_MODULE_ENABLE_FORBIDDEN", mp.Field("enabled").String(),
					"emergency patch may only disable modules, not enable them"))
			}
		}
	})
}
