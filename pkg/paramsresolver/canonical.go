package paramsresolver

import (
	"encoding/json"
	"sort"

	"github.com/go-faster/jx"
)

// CanonicalEncode writes v (a decoded JSON tree of map[string]any/[]any/
// scalars, as produced by a json.Decoder with UseNumber) as canonical JSON:
// object keys sorted in codepoint order at every level, the universal
// serializer rule every pkg/explain envelope follows. Exported so
// pkg/explain can canonicalize its tool-output envelopes with the same
// encoder the params resolver uses for params.effective/hash.
//
// mergeNode already returns map[string]any with no ordering guarantee from
// Go's map iteration, so this encoder re-sorts keys itself rather than
// relying on the merge step having produced anything already in order.
func CanonicalEncode(v any) ([]byte, error) {
	w := jx.Writer{}
	if err := encodeValue(&w, v); err != nil {
		return nil, err
	}
	return append([]byte(nil), w.Buf...), nil
}

func encodeValue(w *jx.Writer, v any) error {
	switch t := v.(type) {
	case nil:
		w.Null()
	case bool:
		w.Bool(t)
	case json.Number:
		w.Raw([]byte(t.String()))
	case string:
		w.Str(t)
	case map[string]any:
		return encodeObject(w, t)
	case []any:
		return encodeArray(w, t)
	default:
		// Defensive: the resolver only ever constructs the value kinds above
		// from decode's json.Number/UseNumber parsing, but fall back to the
		// standard encoder rather than panic if something else slips in.
		raw, err := json.Marshal(t)
		if err != nil {
			return err
		}
		w.Raw(raw)
	}
	return nil
}

func encodeObject(w *jx.Writer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w.ObjStart()
	for _, k := range keys {
		w.FieldStart(k)
		if err := encodeValue(w, m[k]); err != nil {
			return err
		}
	}
	w.ObjEnd()
	return nil
}

func encodeArray(w *jx.Writer, arr []any) error {
	w.ArrStart()
	for _, elem := range arr {
		if err := encodeValue(w, elem); err != nil {
			return err
		}
	}
	w.ArrEnd()
	return nil
}
