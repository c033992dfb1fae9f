package contract

import (
	"encoding/json"

	"github.com/getkin/kin-openapi/openapi3"

	flerrors "github.com/flowforge/core/internal/errors"
)

// ModuleEntry is one module type's registration: its args schema, a
// human-readable output type label (purely descriptive — the core never
// inspects module output), and whether unmapped fields are tolerated.
//
// Per the Design Notes, this replaces runtime reflection over a Go
// struct's JSON tags with a schema table built once at startup: an
// *openapi3.Schema already encodes property names, property types and
// "additionalProperties" (our AllowsUnmapped) without any reflection.
type ModuleEntry struct {
	ArgsSchema     *openapi3.Schema
	OutputTypeName string
	AllowsUnmapped bool
}

// ModuleCatalog maps a module type id to its registration.
type ModuleCatalog struct {
	entries map[string]*ModuleEntry
}

// NewModuleCatalog builds a catalog from a fixed set of entries.
func NewModuleCatalog(entries map[string]*ModuleEntry) *ModuleCatalog {
	return &ModuleCatalog{entries: entries}
}

// Lookup returns the entry for moduleType, or nil if unregistered.
func (c *ModuleCatalog) Lookup(moduleType string) *ModuleEntry {
	if c == nil {
		return nil
	}
	return c.entries[moduleType]
}

// KnownTypes returns the registered module type ids.
func (c *ModuleCatalog) KnownTypes() []string {
	out := make([]string, 0, len(c.entries))
	for t := range c.entries {
		out = append(out, t)
	}
	return out
}

// ArgsFinding describes one problem found while validating a module's
// `with` object against its catalog schema.
type ArgsFinding struct {
	// Path is relative to the `with` object root, e.g. "timeout" or
	// "retries.max". Empty means the finding applies to the object itself.
	Path          string
	UnknownField  bool
	SchemaMessage string
}

// ValidateArgs binds `with` (raw JSON, possibly empty/nil meaning `{}`)
// against the module's OpenAPI schema, returning both schema violations and
// (when !AllowsUnmapped) any property not declared on the schema. It never
// panics on malformed JSON; a decode failure is reported as a single
// ArgsFinding on the root path.
func (e *ModuleEntry) ValidateArgs(with json.RawMessage) []ArgsFinding {
	if e == nil || e.ArgsSchema == nil {
		return nil
	}
	if len(with) == 0 {
		with = []byte("{}")
	}

	var decoded any
	if err := json.Unmarshal(with, &decoded); err != nil {
		return []ArgsFinding{{SchemaMessage: "with: invalid JSON: " + err.Error()}}
	}

	var findings []ArgsFinding
	if err := e.ArgsSchema.VisitJSON(decoded, openapi3.MultiErrors()); err != nil {
		findings = append(findings, flattenSchemaError(err)...)
	}

	if !e.AllowsUnmapped {
		if obj, ok := decoded.(map[string]any); ok {
			for key := range obj {
				if !schemaHasProperty(e.ArgsSchema, key) {
					findings = append(findings, ArgsFinding{Path: key, UnknownField: true})
				}
			}
		}
	}
	return findings
}

func schemaHasProperty(schema *openapi3.Schema, key string) bool {
	if schema == nil {
		return false
	}
	_, ok := schema.Properties[key]
	return ok
}

func flattenSchemaError(err error) []ArgsFinding {
	if me, ok := err.(openapi3.MultiError); ok {
		out := make([]ArgsFinding, 0, len(me))
		for _, sub := range me {
			out = append(out, ArgsFinding{SchemaMessage: sub.Error()})
		}
		return out
	}
	return []ArgsFinding{{SchemaMessage: err.Error()}}
}

// MustBuildSchema is a startup-time helper that panics on an invalid inline
// schema definition — acceptable only because it runs once, at host
// registration time, never per-request (see the AppError used for any
// runtime equivalent).
func MustBuildSchema(raw []byte) *openapi3.Schema {
	var schema openapi3.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		panic(flerrors.Wrap(err, flerrors.ErrorTypeInternal, "contract: invalid module args schema").Error())
	}
	return &schema
}
