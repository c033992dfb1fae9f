package explain

import (
	"bytes"
	"encoding/json"

	"github.com/flowforge/core/pkg/paramsresolver"
)

// CanonicalJSON marshals v (any envelope struct from this package, or any
// other JSON-marshalable value) and rewrites the result with every object's
// keys sorted in codepoint order, the universal serializer rule spec.md
// requires of every tool-output envelope. Plain struct field order from
// json.Marshal is not good enough on its own: Go preserves declaration
// order, not codepoint order, so this round-trips through a generic decode
// (with UseNumber so numeric values survive byte-for-byte) before
// re-encoding with the params resolver's canonical encoder.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return paramsresolver.CanonicalEncode(generic)
}
