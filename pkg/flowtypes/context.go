package flowtypes

import (
	"sync"

	"github.com/google/uuid"
)

// RequestOptions is the caller-supplied per-request data the Overlay
// evaluator and Stage Decision Computer need: variant assignments, the
// user identity used for shadow sampling, and free-form request attributes
// consulted by `request{field, in:[...]}` gates.
type RequestOptions struct {
	Variants          map[string]string
	UserID            string
	RequestAttributes map[string]string
}

// Variant returns the variant assigned to layer, and whether one was set.
func (r *RequestOptions) Variant(layer string) (string, bool) {
	if r == nil || r.Variants == nil {
		return "", false
	}
	v, ok := r.Variants[layer]
	return v, ok
}

// outcomeState is the CAS state of one FlowContext node-outcome slot.
type outcomeState int32

const (
	outcomeIdle outcomeState = iota
	outcomeInFlight
	outcomeReady
)

// FlowContext is the request-scoped scratchpad a flow execution writes
// node outcomes into. It is owned by exactly one request; each node-outcome
// slot may be written
// exactly once (idle -> ready), enforced with one context-wide mutex
// rather than true lock-free CAS because outcomes are arbitrary values, not
// machine words.
type FlowContext struct {
	RequestID string
	Options   *RequestOptions

	mu            sync.Mutex
	nodeState     map[int]outcomeState
	nodeOutcome   map[int]any
	paramsCache   map[string]any // keyed by flow name, memoized effective-params result
	configSnapMu  sync.Mutex
	configSnap    any
	configSnapSet bool
}

// NewFlowContext builds a FlowContext for one request. RequestID is always
// a freshly generated random UUID, so downstream tracing has something
// stable to key off of within the request.
func NewFlowContext(opts *RequestOptions) *FlowContext {
	if opts == nil {
		opts = &RequestOptions{}
	}
	return &FlowContext{
		RequestID:   uuid.NewString(),
		Options:     opts,
		nodeState:   make(map[int]outcomeState),
		nodeOutcome: make(map[int]any),
		paramsCache: make(map[string]any),
	}
}

// SetNodeOutcome records the outcome for a node index exactly once. A second
// write for the same index is an error.
func (c *FlowContext) SetNodeOutcome(nodeIndex int, outcome any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nodeState[nodeIndex] == outcomeReady {
		return ErrOutcomeAlreadySet
	}
	c.nodeState[nodeIndex] = outcomeReady
	c.nodeOutcome[nodeIndex] = outcome
	return nil
}

// NodeOutcome returns the outcome previously recorded for nodeIndex, if any.
func (c *FlowContext) NodeOutcome(nodeIndex int) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.nodeOutcome[nodeIndex]
	return v, ok
}

// CachedParams returns a memoized effective-params result for flowName,
// computing it via compute exactly once per FlowContext.
func (c *FlowContext) CachedParams(flowName string, compute func() any) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.paramsCache[flowName]; ok {
		return v
	}
	v := compute()
	c.paramsCache[flowName] = v
	return v
}

// ConfigSnapshot returns the memoized config snapshot for this request, or
// nil if none has been set yet.
func (c *FlowContext) ConfigSnapshot() (any, bool) {
	c.configSnapMu.Lock()
	defer c.configSnapMu.Unlock()
	return c.configSnap, c.configSnapSet
}

// SetConfigSnapshot memoizes the config snapshot used for this request. It
// is idempotent: once set, later calls are ignored (first writer wins).
func (c *FlowContext) SetConfigSnapshot(snap any) {
	c.configSnapMu.Lock()
	defer c.configSnapMu.Unlock()
	if !c.configSnapSet {
		c.configSnap = snap
		c.configSnapSet = true
	}
}

// flowContextError is a tiny sentinel error type so FlowContext doesn't need
// to import the heavier internal/errors AppError machinery for one case.
type flowContextError string

func (e flowContextError) Error() string { return string(e) }

// ErrOutcomeAlreadySet is returned by SetNodeOutcome when a slot has already
// been written.
const ErrOutcomeAlreadySet = flowContextError("flowtypes: node outcome already set")
