package overlay

import "github.com/flowforge/core/pkg/flowtypes"

// workingStage accumulates one stage's modules across overlay layers while
// preserving the ordering rule: base-declared modules keep their
// declared order; overlay-added modules appear in first-observed order,
// appended after base modules.
type workingStage struct {
	name         string
	hasFanoutMax bool
	fanoutMax    int
	order        []string // module ids, in final declared order
	byID         map[string]*flowtypes.ModulePatch
}

// workingStages is the per-flow set of in-progress stage merges, keyed by
// stage name, plus the output stage order: base stages in sorted-name
// order, then each stage an overlay adds, appended in sorted-name order
// within that overlay.
type workingStages struct {
	order []string
	byID  map[string]*workingStage
}

func newWorkingStages(base map[string]*flowtypes.StagePatch) *workingStages {
	ws := &workingStages{byID: make(map[string]*workingStage)}
	// map iteration order is nondeterministic; stage declaration order in
	// the authored JSON isn't recoverable from a decoded Go map, so stages
	// are emitted in sorted-name order for determinism. Module order
	// *within* a stage is preserved because StagePatch.Modules is a slice.
	names := sortedKeys(base)
	for _, name := range names {
		sp := base[name]
		w := &workingStage{name: name, byID: make(map[string]*flowtypes.ModulePatch)}
		if sp != nil {
			w.hasFanoutMax = sp.HasFanoutMax
			w.fanoutMax = sp.FanoutMax
			for _, m := range sp.Modules {
				if m == nil || m.ID == "" {
					continue
				}
				w.order = append(w.order, m.ID)
				copy := *m
				w.byID[m.ID] = &copy
			}
		}
		ws.order = append(ws.order, name)
		ws.byID[name] = w
	}
	return ws
}

func sortedKeys(m map[string]*flowtypes.StagePatch) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// simple insertion sort keeps this allocation-light for the small
	// per-flow stage counts this core deals with.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// mergeStages applies an overlay's stage patches using the module-patch
// merge rule : add new ids (appended, first-observed
// order), or override enabled/priority/gate/shadow/limitKey/memoKey on an
// existing id. `use` is never changed by a non-base layer.
func (ws *workingStages) mergeStages(overlay map[string]*flowtypes.StagePatch) {
	for _, name := range sortedKeys(overlay) {
		sp := overlay[name]
		if sp == nil {
			continue
		}
		w, ok := ws.byID[name]
		if !ok {
			w = &workingStage{name: name, byID: make(map[string]*flowtypes.ModulePatch)}
			ws.order = append(ws.order, name)
			ws.byID[name] = w
		}
		if sp.HasFanoutMax {
			w.hasFanoutMax = true
			w.fanoutMax = sp.FanoutMax
		}
		for _, m := range sp.Modules {
			if m == nil || m.ID == "" {
				continue
			}
			w.applyOverlayModule(m)
		}
	}
}

// mergeEmergencyStages is mergeStages restricted to the emergency overlay's
// legal shape: only fanoutMax and disabling existing modules. Anything else
// the validator should already have rejected; this is the evaluator's own
// defense-in-depth in case it's run without validation first.
func (ws *workingStages) mergeEmergencyStages(overlay map[string]*flowtypes.StagePatch) {
	for name, sp := range overlay {
		if sp == nil {
			continue
		}
		w, ok := ws.byID[name]
		if !ok {
			continue // emergency may not introduce new stages
		}
		if sp.HasFanoutMax {
			w.hasFanoutMax = true
			w.fanoutMax = sp.FanoutMax
		}
		for _, m := range sp.Modules {
			if m == nil || m.ID == "" {
				continue
			}
			existing, ok := w.byID[m.ID]
			if !ok {
				continue // emergency may not introduce new modules
			}
			if m.Enabled != nil && !*m.Enabled {
				disabled := false
				existing.Enabled = &disabled
				existing.DisabledByEmergency = true
			}
		}
	}
}

func (w *workingStage) applyOverlayModule(m *flowtypes.ModulePatch) {
	existing, ok := w.byID[m.ID]
	if !ok {
		copy := *m
		w.byID[m.ID] = &copy
		w.order = append(w.order, m.ID)
		return
	}
	if m.Enabled != nil {
		existing.Enabled = m.Enabled
	}
	if m.HasPriority {
		existing.Priority = m.Priority
		existing.HasPriority = true
	}
	if m.Gate != nil {
		existing.Gate = m.Gate
	}
	if m.Shadow != nil {
		existing.Shadow = m.Shadow
	}
	if m.LimitKey != "" {
		existing.LimitKey = m.LimitKey
	}
	if m.MemoKey != "" {
		existing.MemoKey = m.MemoKey
	}
	// `use` is intentionally never copied from a non-base overlay.
}

// finalize partitions each stage's merged modules into primary/shadow sets
// and returns them in workingStages' stage order.
func (ws *workingStages) finalize() []*StageEvaluation {
	out := make([]*StageEvaluation, 0, len(ws.order))
	for _, name := range ws.order {
		w := ws.byID[name]
		se := &StageEvaluation{StageName: w.name, HasFanoutMax: w.hasFanoutMax, FanoutMax: w.fanoutMax}
		for _, id := range w.order {
			m := w.byID[id]
			if m.IsShadow() {
				se.ShadowModules = append(se.ShadowModules, m)
			} else {
				se.Modules = append(se.Modules, m)
			}
		}
		out = append(out, se)
	}
	return out
}
