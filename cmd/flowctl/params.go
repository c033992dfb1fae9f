package main

import (
	"encoding/json"

	"github.com/flowforge/core/pkg/contract"
	"github.com/flowforge/core/pkg/flowtypes"
	"github.com/flowforge/core/pkg/overlay"
	"github.com/flowforge/core/pkg/paramsresolver"
)

// buildParamsInput reconstructs the Params Resolver's layered input from an
// already-evaluated flow patch: the Overlay evaluator tells us which
// layers applied (eval.OverlaysApplied), so we only need to pull each
// layer's `params` sub-object back out of the raw flow patch.
func buildParamsInput(def *contract.FlowDefinition, eval *overlay.FlowPatchEvaluation, qosTier flowtypes.QoSTier) (paramsresolver.Input, error) {
	in := paramsresolver.Input{QoSTier: string(qosTier)}

	if def != nil && def.DefaultParams != nil {
		raw, err := json.Marshal(def.DefaultParams)
		if err != nil {
			return in, err
		}
		in.DefaultParams = raw
	}

	flowPatch := eval.RawFlowPatch
	if flowPatch == nil {
		return in, nil
	}
	in.BaseParams = flowPatch.Params

	for _, applied := range eval.OverlaysApplied {
		switch applied.Layer {
		case overlay.LayerExperiment:
			for _, exp := range flowPatch.Experiments {
				if exp == nil || exp.Patch == nil {
					continue
				}
				if exp.Layer == applied.ExperimentLayer && exp.Variant == applied.ExperimentVariant {
					in.Experiments = append(in.Experiments, paramsresolver.ActiveExperiment{
						Layer: exp.Layer, Variant: exp.Variant, Params: exp.Patch.Params,
					})
				}
			}
		case overlay.LayerQoS:
			if flowPatch.QoS != nil && flowPatch.QoS.Tiers != nil {
				if tierPatch, ok := flowPatch.QoS.Tiers[applied.QoSTier]; ok && tierPatch != nil && tierPatch.Patch != nil {
					in.QoSParams = tierPatch.Patch.Params
				}
			}
		case overlay.LayerEmergency:
			if flowPatch.Emergency != nil && flowPatch.Emergency.Patch != nil {
				in.EmergencyParams = flowPatch.Emergency.Patch.Params
			}
		}
	}
	return in, nil
}
