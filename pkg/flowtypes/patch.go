// Package flowtypes holds the read-only patch document data model. Types
// here do no I/O. pkg/validator walks the raw JSON tree directly so it can
// attach JSONPath locations to findings; Bind decodes raw JSON into these
// struct forms, the *bound* representation used once a patch (or a
// sub-tree of one) is known to be structurally valid.
package flowtypes

import (
	"encoding/json"

	"github.com/flowforge/core/internal/numeric"
)

// SchemaVersion is the only value the Validator currently accepts for
// PatchDocument.SchemaVersion.
const SchemaVersion = "v1"

// QoSTier enumerates the coarse service-quality buckets a request can be
// evaluated under.
type QoSTier string

const (
	QoSFull      QoSTier = "full"
	QoSConserve  QoSTier = "conserve"
	QoSEmergency QoSTier = "emergency"
	QoSFallback  QoSTier = "fallback"
)

// ValidQoSTiers lists the recognized tiers in a stable order, used by the
// validator and by tooling that needs to enumerate them (e.g. preview_matrix).
var ValidQoSTiers = []QoSTier{QoSFull, QoSConserve, QoSEmergency, QoSFallback}

func (t QoSTier) Valid() bool {
	for _, v := range ValidQoSTiers {
		if v == t {
			return true
		}
	}
	return false
}

// PatchDocument is the top-level JSON object an operator publishes.
type PatchDocument struct {
	SchemaVersion string                `json:"schemaVersion" validate:"required,eq=v1"`
	Flows         map[string]*FlowPatch `json:"flows,omitempty" validate:"omitempty,dive"`
	Limits        *Limits               `json:"limits,omitempty"`
}

// Limits carries the optional top-level `limits` block.
type Limits struct {
	MaxInFlight       map[string]int32 `json:"maxInFlight,omitempty" validate:"omitempty,dive,gt=0"`
	ModuleConcurrency map[string]int32 `json:"moduleConcurrency,omitempty" validate:"omitempty,dive,gt=0"`
}

// FlowPatch is the optional set of overlays for a single flow.
type FlowPatch struct {
	Params      json.RawMessage        `json:"params,omitempty"`
	Stages      map[string]*StagePatch `json:"stages,omitempty" validate:"omitempty,dive"`
	Experiments []*ExperimentMapping   `json:"experiments,omitempty"`
	QoS         *QoSPatch              `json:"qos,omitempty"`
	Emergency   *EmergencyPatch        `json:"emergency,omitempty"`
}

// StagePatch overlays one stage's fanout and module set.
type StagePatch struct {
	HasFanoutMax bool           `json:"-"`
	FanoutMax    int            `json:"fanoutMax,omitempty" validate:"gte=0,lte=8"`
	Modules      []*ModulePatch `json:"modules,omitempty" validate:"omitempty,dive"`
}

// UnmarshalJSON distinguishes an absent fanoutMax from an explicit 0, which
// encoding/json's zero-value default can't: the Overlay evaluator treats
// "omitted" as "no stage-level cap", a different effective value than an
// explicit fanoutMax of 0.
func (s *StagePatch) UnmarshalJSON(data []byte) error {
	var aux struct {
		FanoutMax *int            `json:"fanoutMax"`
		Modules   []*ModulePatch  `json:"modules"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.Modules = aux.Modules
	if aux.FanoutMax != nil {
		s.HasFanoutMax = true
		s.FanoutMax = *aux.FanoutMax
	}
	return nil
}

// MarshalJSON round-trips HasFanoutMax so re-encoding a bound StagePatch
// (e.g. the LKG persistence layer re-serializing an accepted candidate)
// doesn't silently drop an explicit fanoutMax: 0.
func (s StagePatch) MarshalJSON() ([]byte, error) {
	aux := struct {
		FanoutMax *int           `json:"fanoutMax,omitempty"`
		Modules   []*ModulePatch `json:"modules,omitempty"`
	}{Modules: s.Modules}
	if s.HasFanoutMax {
		v := s.FanoutMax
		aux.FanoutMax = &v
	}
	return json.Marshal(aux)
}

// ModulePatch describes one module entry within a stage.
type ModulePatch struct {
	ID          string          `json:"id" validate:"required,max=64"`
	Use         string          `json:"use,omitempty"`
	With        json.RawMessage `json:"with,omitempty"`
	Enabled     *bool           `json:"enabled,omitempty"`
	HasPriority bool            `json:"-"`
	Priority    int             `json:"priority,omitempty" validate:"gte=-1000,lte=1000"`
	Gate        json.RawMessage `json:"gate,omitempty"`
	Shadow      *ShadowSpec     `json:"shadow,omitempty"`
	LimitKey    string          `json:"limitKey,omitempty"`
	MemoKey     string          `json:"memoKey,omitempty"`

	// DisabledByEmergency is set by the Overlay evaluator, never by a patch
	// author; it records that an emergency overlay turned this module off so
	// Explain can attribute the skip correctly.
	DisabledByEmergency bool `json:"-"`
}

// UnmarshalJSON distinguishes an absent priority from an explicit 0: an
// overlay that sets `priority: 0` must override a nonzero base priority
// rather than being treated as "field not present", the same distinction
// StagePatch draws for fanoutMax.
func (m *ModulePatch) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID       string          `json:"id"`
		Use      string          `json:"use"`
		With     json.RawMessage `json:"with"`
		Enabled  *bool           `json:"enabled"`
		Priority *int            `json:"priority"`
		Gate     json.RawMessage `json:"gate"`
		Shadow   *ShadowSpec     `json:"shadow"`
		LimitKey string          `json:"limitKey"`
		MemoKey  string          `json:"memoKey"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.ID, m.Use, m.With = aux.ID, aux.Use, aux.With
	m.Enabled, m.Gate, m.Shadow = aux.Enabled, aux.Gate, aux.Shadow
	m.LimitKey, m.MemoKey = aux.LimitKey, aux.MemoKey
	if aux.Priority != nil {
		m.HasPriority = true
		m.Priority = *aux.Priority
	}
	return nil
}

// MarshalJSON round-trips HasPriority so re-encoding a bound ModulePatch
// doesn't silently drop an explicit priority: 0.
func (m ModulePatch) MarshalJSON() ([]byte, error) {
	aux := struct {
		ID       string          `json:"id"`
		Use      string          `json:"use,omitempty"`
		With     json.RawMessage `json:"with,omitempty"`
		Enabled  *bool           `json:"enabled,omitempty"`
		Priority *int            `json:"priority,omitempty"`
		Gate     json.RawMessage `json:"gate,omitempty"`
		Shadow   *ShadowSpec     `json:"shadow,omitempty"`
		LimitKey string          `json:"limitKey,omitempty"`
		MemoKey  string          `json:"memoKey,omitempty"`
	}{
		ID: m.ID, Use: m.Use, With: m.With, Enabled: m.Enabled, Gate: m.Gate,
		Shadow: m.Shadow, LimitKey: m.LimitKey, MemoKey: m.MemoKey,
	}
	if m.HasPriority {
		v := m.Priority
		aux.Priority = &v
	}
	return json.Marshal(aux)
}

// IsEnabled returns the module's effective enabled flag, defaulting to true.
func (m *ModulePatch) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// IsShadow reports whether this module entry is a shadow module (sampled for
// observation only, never counted toward fanout).
func (m *ModulePatch) IsShadow() bool {
	return m.Shadow != nil
}

// ShadowSpec is the `shadow` sub-object of a module patch.
type ShadowSpec struct {
	Sample float64 `json:"sample" validate:"gte=0,lte=1"`
}

// SampleBps converts the 0..1 sample rate to basis points using round-half-up
// decimal rounding rather than naive float64 multiplication, so that values
// like 0.0001 round the same way on every platform.
func (s *ShadowSpec) SampleBps() int {
	return numeric.SampleToBps(s.Sample)
}

// ExperimentMapping is one entry of `flows.<f>.experiments`.
type ExperimentMapping struct {
	Layer   string     `json:"layer" validate:"required"`
	Variant string     `json:"variant" validate:"required"`
	Patch   *FlowPatch `json:"patch" validate:"required"`
}

// QoSPatch is the `qos` sub-object of a flow patch.
type QoSPatch struct {
	Tiers map[QoSTier]*QoSTierPatch `json:"tiers,omitempty"`
}

// QoSTierPatch is `qos.tiers.<tier>`.
type QoSTierPatch struct {
	Patch *FlowPatch `json:"patch"`
}

// EmergencyPatch is the `emergency` sub-object of a flow patch.
type EmergencyPatch struct {
	Reason      string     `json:"reason" validate:"required"`
	Operator    string     `json:"operator" validate:"required"`
	TTLMinutes  int        `json:"ttl_minutes" validate:"required,gt=0"`
	Patch       *FlowPatch `json:"patch" validate:"required"`

	// ConfigTimestampUtc is supplied out-of-band by the caller — it is not
	// part of the patch JSON itself.
	ConfigTimestampUtcUnix int64 `json:"-"`
}
