// Package paramsresolver implements the Params Resolver: a
// deterministic deep-merge of default -> base -> experiments -> qos ->
// emergency parameter objects into one effective parameter tree, with a
// stable 64-bit FNV-1a hash and per-leaf provenance.
package paramsresolver

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/flowforge/core/internal/numeric"
)

// Layer names the five precedence tiers, lowest to highest. These strings
// appear verbatim in Provenance.Layer and are part of the explain contract.
const (
	LayerDefault    = "default"
	LayerBase       = "base"
	LayerExperiment = "experiment"
	LayerQoS        = "qos"
	LayerEmergency  = "emergency"
)

// Provenance records which overlay layer supplied the winning value for one
// leaf path.
type Provenance struct {
	Path              string
	Layer             string
	ExperimentLayer   string
	ExperimentVariant string
	QoSTier           string
}

// ActiveExperiment is one experiment whose variant matched the request, in
// application order.
type ActiveExperiment struct {
	Layer   string
	Variant string
	Params  json.RawMessage
}

// Input bundles everything Resolve needs.
type Input struct {
	DefaultParams json.RawMessage
	BaseParams    json.RawMessage
	Experiments   []ActiveExperiment
	QoSTier       string
	QoSParams     json.RawMessage
	// EmergencyParams is nil both when there's no emergency overlay and when
	// one existed but was TTL-expired; the caller (overlay evaluator) makes
	// that determination, this package only sees the result.
	EmergencyParams json.RawMessage
}

// Result is the resolver's full output.
type Result struct {
	Effective   any
	EffectiveJSON []byte
	Hash        uint64
	Provenance  []Provenance
}

// valueLayer pairs a decoded JSON value with the layer metadata that
// produced it.
type valueLayer struct {
	value any
	meta  Provenance
}

// Resolve runs the default -> base -> experiment -> qos -> emergency merge.
func Resolve(in Input) (*Result, error) {
	layers, err := buildLayers(in)
	if err != nil {
		return nil, err
	}

	merged, prov := mergeNode("", layers)
	sort.Slice(prov, func(i, j int) bool { return prov[i].Path < prov[j].Path })

	out, err := CanonicalEncode(merged)
	if err != nil {
		return nil, err
	}

	return &Result{
		Effective:     merged,
		EffectiveJSON: out,
		Hash:          numeric.FNV64aUTF8(out),
		Provenance:    prov,
	}, nil
}

func buildLayers(in Input) ([]valueLayer, error) {
	var layers []valueLayer

	add := func(raw json.RawMessage, meta Provenance) error {
		if len(raw) == 0 {
			return nil
		}
		v, err := decode(raw)
		if err != nil {
			return err
		}
		layers = append(layers, valueLayer{value: v, meta: meta})
		return nil
	}

	if err := add(in.DefaultParams, Provenance{Layer: LayerDefault}); err != nil {
		return nil, err
	}
	if err := add(in.BaseParams, Provenance{Layer: LayerBase}); err != nil {
		return nil, err
	}
	for _, exp := range in.Experiments {
		meta := Provenance{Layer: LayerExperiment, ExperimentLayer: exp.Layer, ExperimentVariant: exp.Variant}
		if err := add(exp.Params, meta); err != nil {
			return nil, err
		}
	}
	if err := add(in.QoSParams, Provenance{Layer: LayerQoS, QoSTier: in.QoSTier}); err != nil {
		return nil, err
	}
	if err := add(in.EmergencyParams, Provenance{Layer: LayerEmergency}); err != nil {
		return nil, err
	}
	return layers, nil
}

// decode preserves number literals via json.Number so re-serialization is
// byte-stable for values the source never round-trips through float64.
func decode(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// mergeNode implements the merge semantics : union of keys
// in sorted order; a non-object overlay value at a key is a "reset" that
// replaces the whole subtree and discards lower contributions; an object
// value recurses, but only over the contiguous run of object-valued layers
// since the last reset.
func mergeNode(path string, layers []valueLayer) (any, []Provenance) {
	var objectLayers []valueLayer
	var scalarWinner *valueLayer

	for i := range layers {
		l := layers[i]
		if obj, ok := l.value.(map[string]any); ok {
			_ = obj
			objectLayers = append(objectLayers, l)
			scalarWinner = nil
		} else {
			scalarWinner = &layers[i]
			objectLayers = nil
		}
	}

	if scalarWinner != nil {
		meta := scalarWinner.meta
		meta.Path = path
		return scalarWinner.value, []Provenance{meta}
	}

	if len(objectLayers) == 0 {
		return nil, nil
	}

	keys := unionKeys(objectLayers)
	result := make(map[string]any, len(keys))
	var prov []Provenance
	for _, k := range keys {
		var childLayers []valueLayer
		for _, l := range objectLayers {
			m := l.value.(map[string]any)
			if v, ok := m[k]; ok {
				childLayers = append(childLayers, valueLayer{value: v, meta: l.meta})
			}
		}
		childPath := k
		if path != "" {
			childPath = path + "." + k
		}
		val, p := mergeNode(childPath, childLayers)
		result[k] = val
		prov = append(prov, p...)
	}
	return result, prov
}

func unionKeys(layers []valueLayer) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, l := range layers {
		m := l.value.(map[string]any)
		for k := range m {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}
