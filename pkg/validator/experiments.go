package validator

import (
	"github.com/valyala/fastjson"

	"github.com/flowforge/core/pkg/contract"
	"github.com/flowforge/core/pkg/findings"
)

var experimentFields = map[string]bool{"layer": true, "variant": true, "patch": true}

// experimentPatchFields is deliberately stricter than flowFields: an
// experiment's inner patch may only touch params/stages.
var experimentPatchFields = map[string]bool{"params": true, "stages": true}

// touch records one (layer, jsonPath) contribution to a conflict-detection
// key, so CFG_LAYER_CONFLICT can be raised on every participating
// occurrence once a key is touched by more than one distinct layer.
type touch struct {
	layer string
	path  string
}

func validateExperiments(report *findings.Report, def *contract.FlowDefinition, flowPath *findings.PathBuilder, experiments *fastjson.Value) {
	path := flowPath.Field("experiments")
	arr, err := experiments.Array()
	if err != nil {
		report.Add(findings.Errorf("CFG_PARSE_ERROR", path.String(), "experiments must be an array"))
		return
	}

	seenPairs := map[string]bool{}
	conflicts := map[string][]touch{}

	for i, exp := range arr {
		ep := path.Index(i)
		if exp.Type() != fastjson.TypeObject {
			report.Add(findings.Errorf("CFG_PARSE_ERROR", ep.String(), "experiment entry must be an object"))
			continue
		}
		checkUnknownFields(report, ep, exp.GetObject(), experimentFields)

		layer := string(exp.GetStringBytes("layer"))
		variant := string(exp.GetStringBytes("variant"))
		if layer == "" {
			report.Add(findings.Errorf("CFG_EXPERIMENT_LAYER_REQUIRED", ep.Field("layer").String(), "experiments[%d].layer is required", i))
		}
		if variant == "" {
			report.Add(findings.Errorf("CFG_EXPERIMENT_VARIANT_REQUIRED", ep.Field("variant").String(), "experiments[%d].variant is required", i))
		}
		if layer != "" && variant != "" {
			key := layer + "\x00" + variant
			if seenPairs[key] {
				report.Add(findings.Errorf("CFG_EXPERIMENT_DUPLICATE", ep.String(), "duplicate (layer,variant) = (%s,%s)", layer, variant))
			}
			seenPairs[key] = true
		}

		patch := exp.Get("patch")
		if patch == nil || patch.Type() != fastjson.TypeObject {
			report.Add(findings.Errorf("CFG_EXPERIMENT_PATCH_REQUIRED", ep.Field("patch").String(), "experiments[%d].patch must be an object", i))
			continue
		}
		patchPath := ep.Field("patch")
		checkUnknownFields(report, patchPath, patch.GetObject(), experimentPatchFields)

		var ownership *contract.OwnershipContract
		if def != nil {
			ownership = def.Ownership
		}

		if params := patch.Get("params"); params != nil && params.Type() == fastjson.TypeObject {
			walkExperimentParams(report, ownership, layer, patchPath.Field("params"), params, conflicts)
		}
		if stages := patch.Get("stages"); stages != nil && stages.Type() == fastjson.TypeObject {
			walkExperimentStages(report, ownership, layer, patchPath.Field("stages"), stages, conflicts)
		}
	}

	for _, touches := range conflicts {
		layers := map[string]bool{}
		for _, t := range touches {
			layers[t.layer] = true
		}
		if len(layers) > 1 {
			for _, t := range touches {
				report.Add(findings.Errorf("CFG_LAYER_CONFLICT", t.path, "multiple experiment layers touch the same target"))
			}
		}
	}
}

func walkExperimentParams(report *findings.Report, ownership *contract.OwnershipContract, layer string, path *findings.PathBuilder, node *fastjson.Value, conflicts map[string][]touch) {
	walkLeafPaths(node, "", func(leafPath string, jp *findings.PathBuilder) {
		if ownership != nil && !ownership.OwnsParamPath(layer, leafPath) {
			report.Add(findings.Errorf("CFG_LAYER_PARAM_LEAK", jp.String(), "layer %q does not own params.%s", layer, leafPath))
		}
		key := "param:" + leafPath
		conflicts[key] = append(conflicts[key], touch{layer: layer, path: jp.String()})
	}, path)
}

// walkLeafPaths visits every leaf (non-object) value under node, invoking fn
// with the dotted path relative to the params root and the full findings
// path for that leaf.
func walkLeafPaths(node *fastjson.Value, prefix string, fn func(dottedPath string, jp *findings.PathBuilder), jsonPath *findings.PathBuilder) {
	if node.Type() != fastjson.TypeObject {
		if prefix != "" {
			fn(prefix, jsonPath)
		}
		return
	}
	node.GetObject().Visit(func(key []byte, v *fastjson.Value) {
		k := string(key)
		dotted := k
		if prefix != "" {
			dotted = prefix + "." + k
		}
		if v.Type() == fastjson.TypeObject {
			walkLeafPaths(v, dotted, fn, jsonPath.Field(k))
		} else {
			fn(dotted, jsonPath.Field(k))
		}
	})
}

func walkExperimentStages(report *findings.Report, ownership *contract.OwnershipContract, layer string, path *findings.PathBuilder, stages *fastjson.Value, conflicts map[string][]touch) {
	stages.GetObject().Visit(func(key []byte, v *fastjson.Value) {
		stageName := string(key)
		sp := path.Field(stageName)
		if v.Type() != fastjson.TypeObject {
			return
		}
		if v.Exists("fanoutMax") {
			key := "fanout:" + stageName
			conflicts[key] = append(conflicts[key], touch{layer: layer, path: sp.Field("fanoutMax").String()})
		}
		modules := v.Get("modules")
		if modules == nil {
			return
		}
		arr, err := modules.Array()
		if err != nil {
			return
		}
		for i, m := range arr {
			id := string(m.GetStringBytes("id"))
			mp := sp.Field("modules").Index(i).Field("id")
			if id == "" {
				continue
			}
			if ownership != nil && !ownership.OwnsModule(layer, id) {
				report.Add(findings.Errorf("CFG_LAYER_MODULE_LEAK", mp.String(), "layer %q does not own module %q", layer, id))
			}
			key := "module:" + id
			conflicts[key] = append(conflicts[key], touch{layer: layer, path: mp.String()})
		}
	})
}
