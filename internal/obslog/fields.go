// Package obslog provides a small chainable structured-logging field
// builder, with renderers for logrus.Fields (used by the older
// validator/overlay code paths), zap.Field slices, and flat key/value lists
// (used by the LKG wrapper, which logs through a go-logr/logr.Logger backed
// by zap via zapr).
package obslog

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// Fields is a chainable map of structured log attributes.
type Fields map[string]any

// NewFields returns an empty Fields map.
func NewFields() Fields { return Fields{} }

func (f Fields) Component(name string) Fields { f["component"] = name; return f }
func (f Fields) Operation(name string) Fields { f["operation"] = name; return f }

func (f Fields) Resource(kind, name string) Fields {
	f["resource_type"] = kind
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) UserID(id string) Fields {
	if id != "" {
		f["user_id"] = id
	}
	return f
}

func (f Fields) RequestID(id string) Fields {
	if id != "" {
		f["request_id"] = id
	}
	return f
}

func (f Fields) FlowName(name string) Fields { f["flow_name"] = name; return f }
func (f Fields) ConfigVersion(v uint64) Fields {
	f["config_version"] = v
	return f
}
func (f Fields) Count(n int) Fields { f["count"] = n; return f }
func (f Fields) Custom(key string, value any) Fields {
	f[key] = value
	return f
}

// ToLogrus renders Fields as logrus.Fields for the older call sites.
func (f Fields) ToLogrus() logrus.Fields {
	out := make(logrus.Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// ToZap renders Fields as a []zap.Field slice for structured zap logging.
func (f Fields) ToZap() []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// KeysAndValues renders Fields as a flat "key1", value1, "key2", value2, ...
// slice, sorted by key for deterministic output, the shape go-logr/logr's
// Info/Error variadic args expect.
func (f Fields) KeysAndValues() []any {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		out = append(out, k, f[k])
	}
	return out
}

// ValidatorFields is the convenience constructor for the validator's log
// lines.
func ValidatorFields(flowName string, findingCount int) Fields {
	return NewFields().Component("validator").FlowName(flowName).Count(findingCount)
}

// OverlayFields is the equivalent convenience constructor for the overlay
// evaluator's log lines.
func OverlayFields(flowName string, configVersion uint64) Fields {
	return NewFields().Component("overlay").FlowName(flowName).ConfigVersion(configVersion)
}

// LKGFields is the convenience constructor for the LKG wrapper's log lines.
func LKGFields(op string) Fields {
	return NewFields().Component("lkg").Operation(op)
}
