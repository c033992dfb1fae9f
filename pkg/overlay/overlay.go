// Package overlay implements the Overlay evaluator: given a
// structurally-valid patch document plus a request's variants/QoS tier/now,
// produce an immutable FlowPatchEvaluation describing, per stage, the
// merged module list and which overlays were applied.
//
// The evaluator assumes the Validator has already run; it never panics on a
// malformed shape, it just skips the offending field.
package overlay

import (
	"time"

	"github.com/flowforge/core/pkg/flowtypes"
)

// LayerKind names the kind of overlay recorded in OverlaysApplied.
type LayerKind string

const (
	LayerBase       LayerKind = "base"
	LayerExperiment LayerKind = "experiment"
	LayerQoS        LayerKind = "qos"
	LayerEmergency  LayerKind = "emergency"
)

// AppliedOverlay records one overlay layer that contributed to the
// evaluation, in application order.
type AppliedOverlay struct {
	Layer             LayerKind
	ExperimentLayer   string
	ExperimentVariant string
	QoSTier           flowtypes.QoSTier
}

// EmergencyTTLExpiredReason is the reason code recorded when an emergency
// overlay is dropped for being past its TTL.
const EmergencyTTLExpiredReason = "EMERGENCY_TTL_EXPIRED"

// StageEvaluation is one stage's merged, ordered module set.
type StageEvaluation struct {
	StageName      string
	HasFanoutMax   bool
	FanoutMax      int
	Modules        []*flowtypes.ModulePatch // primary (non-shadow), declared order
	ShadowModules  []*flowtypes.ModulePatch // shadow, declared order
}

// FlowPatchEvaluation is the immutable result of evaluating one flow's
// patch for one request.
type FlowPatchEvaluation struct {
	FlowName                          string
	ConfigVersion                     uint64
	Stages                            []*StageEvaluation
	OverlaysApplied                   []AppliedOverlay
	EmergencyOverlayIgnoredReasonCode string

	// RawFlowPatch is the flow-patch handle params.Resolve needs to compute
	// the effective-params tree.
	RawFlowPatch *flowtypes.FlowPatch
}

// StageOrder returns the stage names in the evaluation's stage order: base
// stages sorted by name, then stages added by overlays.
func (e *FlowPatchEvaluation) StageOrder() []string {
	out := make([]string, 0, len(e.Stages))
	for _, s := range e.Stages {
		out = append(out, s.StageName)
	}
	return out
}

// Stage returns the evaluation for name, or nil.
func (e *FlowPatchEvaluation) Stage(name string) *StageEvaluation {
	for _, s := range e.Stages {
		if s.StageName == name {
			return s
		}
	}
	return nil
}

// Input bundles everything Evaluate needs.
type Input struct {
	FlowName         string
	ConfigVersion    uint64
	Patch            *flowtypes.PatchDocument
	Options          *flowtypes.RequestOptions
	QoSTier          flowtypes.QoSTier
	ConfigTimestamp  time.Time // zero value means "no emergency TTL tracking"
	Now              time.Time
}

// Evaluate runs the procedure 
func Evaluate(in Input) *FlowPatchEvaluation {
	result := &FlowPatchEvaluation{FlowName: in.FlowName, ConfigVersion: in.ConfigVersion}

	if in.Patch == nil || in.Patch.Flows == nil {
		return result
	}
	flowPatch, ok := in.Patch.Flows[in.FlowName]
	if !ok || flowPatch == nil {
		return result
	}
	result.RawFlowPatch = flowPatch

	working := newWorkingStages(flowPatch.Stages)
	result.OverlaysApplied = append(result.OverlaysApplied, AppliedOverlay{Layer: LayerBase})

	// Experiments, in array order, only if the request's variant assignment
	// matches.
	for _, exp := range flowPatch.Experiments {
		if exp == nil || exp.Patch == nil {
			continue
		}
		variant, has := in.Options.Variant(exp.Layer)
		if !has || variant != exp.Variant {
			continue
		}
		working.mergeStages(exp.Patch.Stages)
		result.OverlaysApplied = append(result.OverlaysApplied, AppliedOverlay{
			Layer: LayerExperiment, ExperimentLayer: exp.Layer, ExperimentVariant: exp.Variant,
		})
	}

	// QoS tier.
	if flowPatch.QoS != nil && flowPatch.QoS.Tiers != nil {
		if tierPatch, ok := flowPatch.QoS.Tiers[in.QoSTier]; ok && tierPatch != nil && tierPatch.Patch != nil {
			working.mergeStages(tierPatch.Patch.Stages)
			result.OverlaysApplied = append(result.OverlaysApplied, AppliedOverlay{Layer: LayerQoS, QoSTier: in.QoSTier})
		}
	}

	// Emergency, subject to TTL.
	if em := flowPatch.Emergency; em != nil && em.Patch != nil {
		if emergencyExpired(em, in.ConfigTimestamp, in.Now) {
			result.EmergencyOverlayIgnoredReasonCode = EmergencyTTLExpiredReason
		} else {
			working.mergeEmergencyStages(em.Patch.Stages)
			result.OverlaysApplied = append(result.OverlaysApplied, AppliedOverlay{Layer: LayerEmergency})
		}
	}

	result.Stages = working.finalize()
	return result
}

// emergencyExpired implements "configTimestampUtc + ttl_minutes <= now". A
// zero ConfigTimestamp means the caller didn't supply one; in that case we
// never expire (there's nothing to measure elapsed time from).
func emergencyExpired(em *flowtypes.EmergencyPatch, configTimestamp, now time.Time) bool {
	if configTimestamp.IsZero() {
		return false
	}
	deadline := configTimestamp.Add(time.Duration(em.TTLMinutes) * time.Minute)
	return !now.Before(deadline)
}
