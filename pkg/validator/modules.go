package validator

import (
	"encoding/json"
	"regexp"

	"github.com/valyala/fastjson"

	"github.com/flowforge/core/internal/numeric"
	"github.com/flowforge/core/pkg/contract"
	"github.com/flowforge/core/pkg/findings"
	"github.com/flowforge/core/pkg/gate"
)

var moduleIDPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

var stageFields = map[string]bool{"fanoutMax": true, "modules": true}

// idSeen records where a module id was declared, for the cross-stage
// duplicate-id bookkeeping validateFlow shares across its stages.
type idSeen struct {
	stageIndex int
	path       string
}

func validateFlow(report *findings.Report, bp Blueprint, flowName string, flowVal *fastjson.Value) {
	flowPath := findings.Root().Field("flows").Field(flowName)
	def := bp.Registry.Lookup(flowName)
	if def == nil {
		report.Add(findings.Errorf("CFG_FLOW_NOT_REGISTERED", flowPath.String(), "flow %q is not registered in the blueprint", flowName))
	}

	if flowVal.Type() != fastjson.TypeObject {
		report.Add(findings.Errorf("CFG_PARSE_ERROR", flowPath.String(), "flow patch must be an object"))
		return
	}
	checkUnknownFields(report, flowPath, flowVal.GetObject(), flowFields)

	if params := flowVal.Get("params"); params != nil {
		validateParams(report, def, flowPath.Field("params"), params)
	}

	globalSeen := map[string]idSeen{}
	if stages := flowVal.Get("stages"); stages != nil {
		if stages.Type() != fastjson.TypeObject {
			report.Add(findings.Errorf("CFG_PARSE_ERROR", flowPath.Field("stages").String(), "stages must be an object"))
		} else {
			stages.GetObject().Visit(func(key []byte, v *fastjson.Value) {
				name := string(key)
				validateStage(report, bp, def, flowPath.Field("stages").Field(name), name, v, globalSeen)
			})
		}
	}

	if experiments := flowVal.Get("experiments"); experiments != nil {
		validateExperiments(report, def, flowPath, experiments)
	}

	if qos := flowVal.Get("qos"); qos != nil {
		validateQoS(report, def, flowPath, qos, flowVal)
	}

	if emergency := flowVal.Get("emergency"); emergency != nil {
		validateEmergency(report, flowPath, emergency)
	}
}

// validateParams compares the patch's params object shape against the
// blueprint's default params tree, flagging any key absent from the
// defaults as CFG_PARAMS_UNKNOWN_FIELD. There is no static per-flow Go type
// to bind params into, so unknown-field detection walks the default-params
// shape instead, which is the structurally equivalent check.
func validateParams(report *findings.Report, def *contract.FlowDefinition, path *findings.PathBuilder, params *fastjson.Value) {
	if params.Type() != fastjson.TypeObject {
		report.Add(findings.Errorf("CFG_PARAMS_BIND_FAILED", path.String(), "params must be an object"))
		return
	}
	if def == nil || def.DefaultParams == nil {
		return
	}
	defaults, ok := def.DefaultParams.(map[string]any)
	if !ok {
		return
	}
	walkParamsUnknownFields(report, path, params.GetObject(), defaults)
}

func walkParamsUnknownFields(report *findings.Report, path *findings.PathBuilder, obj *fastjson.Object, defaults map[string]any) {
	obj.Visit(func(key []byte, v *fastjson.Value) {
		k := string(key)
		def, ok := defaults[k]
		if !ok {
			report.Add(findings.Errorf("CFG_PARAMS_UNKNOWN_FIELD", path.Field(k).String(), "unknown params field: %s", k))
			return
		}
		if v.Type() == fastjson.TypeObject {
			if nested, ok := def.(map[string]any); ok {
				walkParamsUnknownFields(report, path.Field(k), v.GetObject(), nested)
			}
		}
	})
}

func validateStage(report *findings.Report, bp Blueprint, def *contract.FlowDefinition, path *findings.PathBuilder, stageName string, stageVal *fastjson.Value, globalSeen map[string]idSeen) {
	if stageVal.Type() != fastjson.TypeObject {
		report.Add(findings.Errorf("CFG_PARSE_ERROR", path.String(), "stage patch must be an object"))
		return
	}
	checkUnknownFields(report, path, stageVal.GetObject(), stageFields)

	var sc *contract.StageContract
	if def != nil {
		if _, known := stageContractKnown(def, stageName); !known {
			report.Add(findings.Errorf("CFG_STAGE_NOT_IN_BLUEPRINT", path.String(), "stage %q is not declared by the flow's blueprint", stageName))
		}
		sc = def.StageContracts[stageName]
	}

	hasFanoutMax := stageVal.Exists("fanoutMax")
	if hasFanoutMax {
		n, err := stageVal.Get("fanoutMax").Int()
		fanoutPath := path.Field("fanoutMax")
		if err != nil || n < 0 || n > contract.MaxAllowedFanoutMax {
			report.Add(findings.Errorf("CFG_FANOUT_MAX_OUT_OF_RANGE", fanoutPath.String(), "fanoutMax must be within [0,%d]", contract.MaxAllowedFanoutMax))
		} else if sc != nil && (n < sc.MinFanoutMax || n > sc.MaxFanoutMax) {
			report.Add(findings.Errorf("CFG_FANOUT_MAX_OUT_OF_RANGE", fanoutPath.String(), "fanoutMax must be within the stage contract's [%d,%d]", sc.MinFanoutMax, sc.MaxFanoutMax))
		}
	}

	modules := stageVal.Get("modules")
	if modules == nil {
		return
	}
	if sc != nil && !sc.AllowsDynamicModules {
		report.Add(findings.Errorf("CFG_STAGE_DYNAMIC_MODULES_FORBIDDEN", path.Field("modules").String(), "stage %q does not allow dynamic modules", stageName))
	}
	arr, err := modules.Array()
	if err != nil {
		report.Add(findings.Errorf("CFG_PARSE_ERROR", path.Field("modules").String(), "modules must be an array"))
		return
	}

	stageSeen := map[string]int{}
	flaggedFirst := map[string]bool{}
	enabledPrimaryCount := 0
	shadowCount := 0

	for i, m := range arr {
		mp := path.Field("modules").Index(i)
		id := string(m.GetStringBytes("id"))
		idPath := mp.Field("id")

		if id == "" || !moduleIDPattern.MatchString(id) || len(id) > 64 {
			report.Add(findings.Errorf("CFG_MODULE_ID_INVALID", idPath.String(), "module id %q must match [a-z0-9_]+ and be 1..64 chars", id))
		} else {
			if firstIdx, dup := stageSeen[id]; dup {
				if !flaggedFirst[id] {
					report.Add(findings.Errorf("CFG_MODULE_ID_DUPLICATE", path.Field("modules").Index(firstIdx).Field("id").String(), "duplicate module id %q", id))
					flaggedFirst[id] = true
				}
				report.Add(findings.Errorf("CFG_MODULE_ID_DUPLICATE", idPath.String(), "duplicate module id %q", id))
			} else {
				stageSeen[id] = i
				if _, seenBefore := globalSeen[id]; seenBefore {
					report.Add(findings.Errorf("CFG_MODULE_ID_DUPLICATE", idPath.String(), "duplicate module id %q (also declared in another stage)", id))
				}
			}
		}

		enabled := !m.Exists("enabled") || m.GetBool("enabled")
		isShadow := m.Exists("shadow")

		validateModuleUse(report, bp, sc, mp, m)
		validateModulePriority(report, mp, m)
		validateModuleGate(report, bp, mp, m, enabled)
		if isShadow {
			shadowCount++
			validateModuleShadow(report, sc, mp, m)
		} else if enabled {
			enabledPrimaryCount++
		}
	}

	for id, idx := range stageSeen {
		globalSeen[id] = idSeen{stageIndex: idx, path: path.Field("modules").Index(idx).String()}
	}

	if sc != nil {
		if sc.MaxShadowModulesHard > 0 && shadowCount > sc.MaxShadowModulesHard {
			report.Add(findings.Errorf("CFG_SHADOW_MODULES_HARD_EXCEEDED", path.Field("modules").String(),
				"stage %q has %d shadow modules, exceeding maxShadowModulesHard=%d", stageName, shadowCount, sc.MaxShadowModulesHard))
		}
		if sc.MaxModulesWarn > 0 && enabledPrimaryCount > sc.MaxModulesWarn {
			report.Add(findings.Warnf("CFG_MODULES_BUDGET_WARN", path.Field("modules").String(),
				"stage %q has %d enabled modules, exceeding maxModulesWarn=%d", stageName, enabledPrimaryCount, sc.MaxModulesWarn))
		}
		if sc.MaxModulesHard > 0 && enabledPrimaryCount > sc.MaxModulesHard {
			report.Add(findings.Errorf("CFG_MODULES_BUDGET_HARD_EXCEEDED", path.Field("modules").String(),
				"stage %q has %d enabled modules, exceeding maxModulesHard=%d", stageName, enabledPrimaryCount, sc.MaxModulesHard))
		}
	}
	if hasFanoutMax {
		n, err := stageVal.Get("fanoutMax").Int()
		if err == nil && enabledPrimaryCount > n {
			report.Add(findings.Warnf("CFG_FANOUT_TRIM_LIKELY", path.Field("modules").String(),
				"stage %q has %d enabled modules but fanoutMax=%d; some will be trimmed", stageName, enabledPrimaryCount, n))
		}
	}
}

func stageContractKnown(def *contract.FlowDefinition, stageName string) (*contract.StageContract, bool) {
	for _, n := range def.StageNames {
		if n == stageName {
			return def.StageContracts[stageName], true
		}
	}
	return nil, false
}

func validateModuleUse(report *findings.Report, bp Blueprint, sc *contract.StageContract, mp *findings.PathBuilder, m *fastjson.Value) {
	use := string(m.GetStringBytes("use"))
	usePath := mp.Field("use")
	if use == "" {
		report.Add(findings.Errorf("CFG_MODULE_USE_REQUIRED", usePath.String(), "module.use is required"))
		return
	}
	if sc != nil && !sc.AllowsModuleType(use) {
		report.Add(findings.Errorf("CFG_MODULE_TYPE_FORBIDDEN", usePath.String(), "module type %q is not permitted by this stage", use))
	}
	entry := bp.Catalog.Lookup(use)
	if entry == nil {
		report.Add(findings.Errorf("CFG_MODULE_TYPE_UNKNOWN", usePath.String(), "module type %q is not registered in the catalog", use))
		return
	}
	var with json.RawMessage
	if w := m.Get("with"); w != nil {
		with = json.RawMessage(w.String())
	}
	withPath := mp.Field("with")
	for _, af := range entry.ValidateArgs(with) {
		p := withPath
		if af.Path != "" {
			p = withPath.Field(af.Path)
		}
		if af.UnknownField {
			report.Add(findings.Errorf("CFG_MODULE_ARGS_UNKNOWN_FIELD", p.String(), "unknown args field: %s", af.Path))
		} else {
			report.Add(findings.Errorf("CFG_MODULE_ARGS_INVALID", p.String(), "%s", af.SchemaMessage))
		}
	}
}

// modulePriorityMin and modulePriorityMax mirror flowtypes.ModulePatch's
// `validate:"gte=-1000,lte=1000"` tag so an out-of-range priority is caught
// here as a finding instead of surfacing later as a bind failure.
const (
	modulePriorityMin = -1000
	modulePriorityMax = 1000
)

// validateModulePriority checks an explicit priority against the range
// flowtypes.Bind enforces at struct-tag level, so a schema-legal but
// out-of-range priority is reported as a caller-attributable finding rather
// than failing to bind after the Validator already reported "valid".
func validateModulePriority(report *findings.Report, mp *findings.PathBuilder, m *fastjson.Value) {
	if !m.Exists("priority") {
		return
	}
	priorityPath := mp.Field("priority")
	n, err := m.Get("priority").Int()
	if err != nil || n < modulePriorityMin || n > modulePriorityMax {
		report.Add(findings.Errorf("CFG_MODULE_PRIORITY_RANGE", priorityPath.String(),
			"priority must be within [%d,%d]", modulePriorityMin, modulePriorityMax))
	}
}

// validateModuleGate parses and checks the optional gate expression: parse
// errors, redundant-on-disabled, and unknown selector references. Gate
// evaluation itself is request-dependent and out of the validator's scope.
func validateModuleGate(report *findings.Report, bp Blueprint, mp *findings.PathBuilder, m *fastjson.Value, enabled bool) {
	g := m.Get("gate")
	if g == nil {
		return
	}
	gatePath := mp.Field("gate")
	raw := json.RawMessage(g.String())
	expr, err := gate.Parse(raw)
	if err != nil {
		if pe, ok := err.(*gate.ParseError); ok {
			report.Add(findings.Errorf(pe.Code, gatePath.String(), "%s", pe.Message))
		} else {
			report.Add(findings.Errorf("CFG_GATE_INVALID_JSON", gatePath.String(), "%v", err))
		}
		return
	}
	if !enabled {
		report.Add(findings.New(findings.SeverityInfo, "CFG_GATE_REDUNDANT", gatePath.String(), "gate is redundant on a disabled module"))
	}
	for _, name := range selectorNamesIn(expr) {
		if _, ok := bp.Selectors.Lookup(name); !ok {
			report.Add(findings.Errorf("CFG_GATE_UNKNOWN_SELECTOR", gatePath.String(), "unknown selector: %s", name))
		}
	}
}

func selectorNamesIn(e *gate.Expr) []string {
	if e == nil {
		return nil
	}
	switch e.Kind {
	case gate.KindSelector:
		return []string{e.SelectorName}
	case gate.KindNot:
		return selectorNamesIn(e.Child)
	case gate.KindAll, gate.KindAny:
		var out []string
		for _, c := range e.Children {
			out = append(out, selectorNamesIn(c)...)
		}
		return out
	default:
		return nil
	}
}

func validateModuleShadow(report *findings.Report, sc *contract.StageContract, mp *findings.PathBuilder, m *fastjson.Value) {
	shadow := m.Get("shadow")
	shadowPath := mp.Field("shadow")
	sampleVal := shadow.Get("sample")
	if sampleVal == nil {
		report.Add(findings.Errorf("CFG_SHADOW_SAMPLE_REQUIRED", shadowPath.Field("sample").String(), "shadow.sample is required"))
		return
	}
	sample, err := sampleVal.Float64()
	if err != nil || sample < 0 || sample > 1 {
		report.Add(findings.Errorf("CFG_SHADOW_SAMPLE_OUT_OF_RANGE", shadowPath.Field("sample").String(), "shadow.sample must be within [0,1]"))
		return
	}
	if sc == nil {
		return
	}
	bps := numeric.SampleToBps(sample)
	if sc.MaxShadowSampleBps > 0 && bps > sc.MaxShadowSampleBps {
		report.Add(findings.Errorf("CFG_SHADOW_SAMPLE_TOO_HIGH", shadowPath.Field("sample").String(),
			"shadow.sample=%.4f (%d bps) exceeds maxShadowSampleBps=%d", sample, bps, sc.MaxShadowSampleBps))
	}
}
