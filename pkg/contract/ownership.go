package contract

import (
	"strings"

	"github.com/tchap/go-patricia/v2/patricia"
)

// OwnershipContract answers two questions per experiment layer: does it own
// a given dotted param path, and does it own a given module id. Param-path
// ownership is prefix-based ("a.b" owns "a.b" and "a.b.c" but not "a.bx"),
// so it's backed by a patricia trie keyed on the dotted path with a
// trailing separator to make prefix matches unambiguous at label
// boundaries.
type OwnershipContract struct {
	paramPrefixes map[string]*patricia.Trie
	moduleIDs     map[string]map[string]struct{}
}

// NewOwnershipContract builds a contract from layer -> (param path prefixes,
// owned module ids).
func NewOwnershipContract(byLayer map[string]struct {
	ParamPathPrefixes []string
	OwnedModuleIDs    []string
}) *OwnershipContract {
	oc := &OwnershipContract{
		paramPrefixes: make(map[string]*patricia.Trie),
		moduleIDs:     make(map[string]map[string]struct{}),
	}
	for layer, spec := range byLayer {
		trie := patricia.NewTrie()
		for _, prefix := range spec.ParamPathPrefixes {
			trie.Set(patricia.Prefix(withBoundary(prefix)), true)
		}
		oc.paramPrefixes[layer] = trie

		ids := make(map[string]struct{}, len(spec.OwnedModuleIDs))
		for _, id := range spec.OwnedModuleIDs {
			ids[id] = struct{}{}
		}
		oc.moduleIDs[layer] = ids
	}
	return oc
}

// withBoundary appends a separator so that a stored prefix "a.b" only
// matches "a.b" itself or "a.b." + anything, never "a.bx".
func withBoundary(prefix string) string { return prefix + "." }

// OwnsParamPath reports whether layer owns dotted path: true if some
// registered prefix equals path itself, or is a dotted ancestor of it
// ("a.b" owns "a.b" and "a.b.c" but not "a.bx"). Walking path's own
// ancestor chain (at most len(segments) trie lookups) is what makes this
// O(depth) instead of a linear scan over every registered prefix.
func (oc *OwnershipContract) OwnsParamPath(layer, path string) bool {
	trie, ok := oc.paramPrefixes[layer]
	if !ok {
		return false
	}
	segments := strings.Split(path, ".")
	for end := len(segments); end >= 1; end-- {
		candidate := strings.Join(segments[:end], ".")
		if trie.Get(patricia.Prefix(withBoundary(candidate))) != nil {
			return true
		}
	}
	return false
}

// OwnsModule reports whether layer owns moduleID.
func (oc *OwnershipContract) OwnsModule(layer, moduleID string) bool {
	ids, ok := oc.moduleIDs[layer]
	if !ok {
		return false
	}
	_, found := ids[moduleID]
	return found
}
