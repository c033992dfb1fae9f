// Package patchio converts operator-authored YAML overlays into the JSON
// patch documents the Validator, Overlay evaluator and Params resolver
// operate on. In practice operators in this domain author YAML, so this is
// the natural front door ahead of pkg/validator.
package patchio

import (
	"fmt"

	sigyaml "sigs.k8s.io/yaml"
)

// ToJSON converts a YAML-authored patch document to canonical JSON via
// sigs.k8s.io/yaml, which round-trips through JSON marshaling internally
// (so map keys come out as plain strings, never interface{} map keys).
func ToJSON(yamlDoc []byte) ([]byte, error) {
	raw, err := sigyaml.YAMLToJSON(yamlDoc)
	if err != nil {
		return nil, fmt.Errorf("patchio: invalid YAML patch document: %w", err)
	}
	return raw, nil
}

// FromJSON renders a JSON patch document back to YAML, for operators who
// want to review or hand-edit an existing patch (e.g. `flowctl` re-emitting
// the LKG-persisted patch JSON as YAML for inspection).
func FromJSON(jsonDoc []byte) ([]byte, error) {
	yamlDoc, err := sigyaml.JSONToYAML(jsonDoc)
	if err != nil {
		return nil, fmt.Errorf("patchio: failed to render patch document as YAML: %w", err)
	}
	return yamlDoc, nil
}

// Load reads raw bytes that may be either YAML or JSON (sigs.k8s.io/yaml's
// YAMLToJSON accepts valid JSON unchanged, since JSON is a YAML subset) and
// returns the canonical JSON form.
func Load(raw []byte) ([]byte, error) {
	return ToJSON(raw)
}
