// Package contract models the blueprint-side objects the core consumes
// read-only: StageContract, ModuleCatalog, SelectorRegistry,
// OwnershipContract (experiment-layer ownership) and FlowRegistry. Every type
// here is built once at host startup and is safe for concurrent reads
// thereafter; nothing in this package mutates a contract after construction.
package contract

import (
	"github.com/gobwas/glob"
)

// MaxAllowedFanoutMax is the hard ceiling on any stage's fanoutMax,
// independent of what an individual StageContract configures.
const MaxAllowedFanoutMax = 8

// StageContract is the blueprint's declared shape for one stage.
type StageContract struct {
	AllowsDynamicModules bool
	AllowsShadowModules  bool
	AllowedModuleTypes   []string // empty = any type allowed
	MaxModulesWarn       int
	MaxModulesHard       int
	MaxShadowModulesHard int
	MaxShadowSampleBps   int // 0..10000
	MinFanoutMax         int
	MaxFanoutMax         int

	globs []glob.Glob // compiled lazily from AllowedModuleTypes entries containing '*'
}

// compileGlobs lazily compiles any wildcard entries in AllowedModuleTypes.
// Plain entries (no '*') are matched by exact string comparison in
// AllowsModuleType and never touch the glob package, keeping the common case
// allocation-free.
func (c *StageContract) compileGlobs() []glob.Glob {
	if c.globs != nil || !c.hasWildcard() {
		return c.globs
	}
	for _, t := range c.AllowedModuleTypes {
		if containsWildcard(t) {
			if g, err := glob.Compile(t); err == nil {
				c.globs = append(c.globs, g)
			}
		}
	}
	return c.globs
}

func (c *StageContract) hasWildcard() bool {
	for _, t := range c.AllowedModuleTypes {
		if containsWildcard(t) {
			return true
		}
	}
	return false
}

func containsWildcard(s string) bool {
	for _, r := range s {
		if r == '*' || r == '?' || r == '[' {
			return true
		}
	}
	return false
}

// AllowsModuleType reports whether moduleType is permitted by this stage's
// allowlist. An empty AllowedModuleTypes allows every type. Entries may be
// exact module-type ids or glob patterns (e.g. "http.*").
func (c *StageContract) AllowsModuleType(moduleType string) bool {
	if len(c.AllowedModuleTypes) == 0 {
		return true
	}
	for _, t := range c.AllowedModuleTypes {
		if !containsWildcard(t) && t == moduleType {
			return true
		}
	}
	for _, g := range c.compileGlobs() {
		if g.Match(moduleType) {
			return true
		}
	}
	return false
}

// ClampFanoutMax applies the stage's own [Min,Max] window and the global
// hard ceiling.
func (c *StageContract) ClampFanoutMax(requested int) int {
	hi := c.MaxFanoutMax
	if hi <= 0 || hi > MaxAllowedFanoutMax {
		hi = MaxAllowedFanoutMax
	}
	lo := c.MinFanoutMax
	if requested < lo {
		requested = lo
	}
	if requested > hi {
		requested = hi
	}
	return requested
}

// FlowDefinition is a single flow's full blueprint.
type FlowDefinition struct {
	StageNames       []string
	NodeNames        []string
	StageContracts   map[string]*StageContract
	DefaultParams    any
	Ownership        *OwnershipContract
}

// FlowRegistry maps flow name to its blueprint definition.
type FlowRegistry struct {
	flows map[string]*FlowDefinition
}

// NewFlowRegistry builds a registry from a fixed set of flow definitions.
func NewFlowRegistry(flows map[string]*FlowDefinition) *FlowRegistry {
	return &FlowRegistry{flows: flows}
}

// Lookup returns the definition for name, or nil if the flow isn't
// registered.
func (r *FlowRegistry) Lookup(name string) *FlowDefinition {
	if r == nil {
		return nil
	}
	return r.flows[name]
}

// Names returns the registered flow names.
func (r *FlowRegistry) Names() []string {
	out := make([]string, 0, len(r.flows))
	for n := range r.flows {
		out = append(out, n)
	}
	return out
}
