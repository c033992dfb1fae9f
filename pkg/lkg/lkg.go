// Package lkg implements the persisted last-known-good config wrapper: an
// IConfigProvider decorator that validates every upstream candidate before
// accepting it, falls back to the last accepted snapshot on any failure, and
// remembers rejected versions so a flapping upstream isn't re-validated
// every call.
package lkg

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/flowforge/core/internal/obslog"
	"github.com/flowforge/core/pkg/contract"
	"github.com/flowforge/core/pkg/flowtypes"
	"github.com/flowforge/core/pkg/overlay"
	"github.com/flowforge/core/pkg/validator"
)

// ConfigSnapshot is one fetched config candidate.
type ConfigSnapshot struct {
	ConfigVersion uint64
	PatchJSON     []byte
	Meta          SnapshotMeta
}

// SnapshotMeta carries the snapshot's provenance.
type SnapshotMeta struct {
	Source              string
	TimestampUtc        time.Time
	Overlays            []string
	LKGFallbackEvidence string // empty unless this snapshot is itself a fallback
}

// IConfigProvider is the upstream config source the wrapper decorates. The
// real implementation (polling a config service, watching a file, etc.) is
// out of scope per the Non-goals; only the interface is specified.
type IConfigProvider interface {
	Fetch(ctx context.Context) (*ConfigSnapshot, error)
}

// Store is the abstract persistence backend behind the LKG layout:
// tryLoad/tryStore over a single JSON blob. pkg/lkgstore provides concrete
// Postgres and SQLite implementations.
type Store interface {
	TryLoad(ctx context.Context) (*ConfigSnapshot, bool, error)
	TryStore(ctx context.Context, snap *ConfigSnapshot) error
}

// RejectionCache remembers candidate versions that failed validation, so a
// flapping upstream serving the same bad version repeatedly isn't
// re-validated every call. pkg/lkgstore/rejectioncache backs this with
// Redis for multi-instance dedup; a single-process map works too.
type RejectionCache interface {
	IsRejected(ctx context.Context, configVersion uint64) (bool, error)
	MarkRejected(ctx context.Context, configVersion uint64) error
	Clear(ctx context.Context) error
}

// TelemetrySink is the explain-facing telemetry hook; no concrete exporter
// is implemented against it — callers wire their own.
type TelemetrySink interface {
	ConfigLKGFallback(reason string)
	ConfigLKGSnapshotPersistFailure(err error)
}

// NopTelemetrySink discards every event; used when the caller doesn't wire
// one.
type NopTelemetrySink struct{}

func (NopTelemetrySink) ConfigLKGFallback(string)             {}
func (NopTelemetrySink) ConfigLKGSnapshotPersistFailure(error) {}

// ValidationBlueprint is what Wrapper needs to run the Validator and
// Overlay evaluator against a candidate, for every flow the registry knows.
type ValidationBlueprint struct {
	Registry  *contract.FlowRegistry
	Catalog   *contract.ModuleCatalog
	Selectors *contract.SelectorRegistry
}

// Wrapper decorates an IConfigProvider with the LKG fallback's five-step
// fetch/validate/swap procedure.
type Wrapper struct {
	upstream  IConfigProvider
	store     Store
	rejected  RejectionCache
	telemetry TelemetrySink
	blueprint ValidationBlueprint
	breaker   *gobreaker.CircuitBreaker

	lkg atomic.Pointer[ConfigSnapshot]

	mu           sync.Mutex
	localRejected map[uint64]bool

	// logger carries the fetch/swap procedure's own structured log lines
	// (step failures, persist failures). logrusLog carries the Validator and
	// Overlay evaluator's log lines, matching how those older call sites log
	// elsewhere in this module.
	logger    logr.Logger
	logrusLog *logrus.Logger
}

// Option configures a Wrapper at construction time.
type Option func(*Wrapper)

// WithRejectionCache replaces the default in-process rejection tracking
// with a shared backend (e.g. Redis, for multi-instance dedup).
func WithRejectionCache(c RejectionCache) Option { return func(w *Wrapper) { w.rejected = c } }

// WithTelemetry installs the explain-facing telemetry sink.
func WithTelemetry(t TelemetrySink) Option { return func(w *Wrapper) { w.telemetry = t } }

// WithCircuitBreaker overrides the default upstream-fetch circuit breaker.
func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) Option { return func(w *Wrapper) { w.breaker = cb } }

// WithLogger overrides the Wrapper's fetch/swap procedure logger, typically
// a zapr.NewLogger(...) wrapping the host process's own zap.Logger.
func WithLogger(l logr.Logger) Option { return func(w *Wrapper) { w.logger = l } }

// WithLogrusLogger overrides the logger used for the Validator/Overlay
// evaluator call sites inside validateCandidate.
func WithLogrusLogger(l *logrus.Logger) Option { return func(w *Wrapper) { w.logrusLog = l } }

// NewWrapper builds a Wrapper. store may be nil, in which case accepted
// snapshots are never persisted (useful for tests or a purely in-memory
// deployment).
func NewWrapper(upstream IConfigProvider, store Store, blueprint ValidationBlueprint, opts ...Option) *Wrapper {
	zapLog, err := zap.NewProduction()
	if err != nil {
		zapLog = zap.NewNop()
	}
	w := &Wrapper{
		upstream:      upstream,
		store:         store,
		blueprint:     blueprint,
		telemetry:     NopTelemetrySink{},
		localRejected: make(map[uint64]bool),
		logger:        zapr.NewLogger(zapLog),
		logrusLog:     logrus.New(),
	}
	w.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "lkg-upstream-fetch",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
	})
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Seed installs snap as the current LKG without validating it, for startup
// from a previously persisted snapshot.
func (w *Wrapper) Seed(snap *ConfigSnapshot) {
	w.lkg.Store(snap)
}

// Current returns the wrapper's current LKG snapshot, or nil if none has
// ever been accepted or seeded.
func (w *Wrapper) Current() *ConfigSnapshot {
	return w.lkg.Load()
}

// Fetch runs the five-step LKG procedure.
func (w *Wrapper) Fetch(ctx context.Context) (*ConfigSnapshot, error) {
	log := obslog.LKGFields("fetch")

	candidate, err := w.fetchUpstream(ctx)
	if err != nil {
		// Step 1: upstream failed, fall back to cached LKG.
		w.telemetry.ConfigLKGFallback("upstream_fetch_failed")
		w.logger.Error(err, "lkg: upstream fetch failed, falling back to cached snapshot", log.KeysAndValues()...)
		return w.requireLKG()
	}

	current := w.lkg.Load()

	// Step 2: candidate matches the current LKG version, nothing to do.
	if current != nil && candidate.ConfigVersion == current.ConfigVersion {
		return current, nil
	}

	// Step 3: this version was already rejected once.
	rejected, err := w.isRejected(ctx, candidate.ConfigVersion)
	if err == nil && rejected {
		w.telemetry.ConfigLKGFallback("candidate_previously_rejected")
		return w.requireLKG()
	}

	// Step 4: validate the candidate against every known flow.
	if failure := w.validateCandidate(candidate); failure != "" {
		_ = w.markRejected(ctx, candidate.ConfigVersion)
		w.telemetry.ConfigLKGFallback("candidate_validation_failed: " + failure)
		return w.requireLKG()
	}

	// Step 5: accept. Swap the LKG, clear the rejection cache, persist
	// best-effort.
	w.lkg.Store(candidate)
	w.logger.Info("lkg: accepted new candidate", log.Custom("config_version", candidate.ConfigVersion).KeysAndValues()...)
	if err := w.clearRejections(ctx); err != nil {
		w.logger.Error(err, "lkg: failed to clear rejection cache after accepting candidate", log.KeysAndValues()...)
	}
	if w.store != nil {
		if err := w.store.TryStore(ctx, candidate); err != nil {
			w.telemetry.ConfigLKGSnapshotPersistFailure(err)
			w.logger.Error(err, "lkg: failed to persist accepted candidate", log.KeysAndValues()...)
		}
	}
	return candidate, nil
}

// fetchUpstream runs the upstream fetch through the circuit breaker; the
// breaker's own open-state error is treated identically to an upstream
// failure (step 1 falls back either way).
func (w *Wrapper) fetchUpstream(ctx context.Context) (*ConfigSnapshot, error) {
	result, err := w.breaker.Execute(func() (interface{}, error) {
		return fetchWithRetry(ctx, w.upstream)
	})
	if err != nil {
		return nil, err
	}
	return result.(*ConfigSnapshot), nil
}

func (w *Wrapper) requireLKG() (*ConfigSnapshot, error) {
	if current := w.lkg.Load(); current != nil {
		return current, nil
	}
	if w.store != nil {
		if snap, ok, err := w.store.TryLoad(context.Background()); err == nil && ok {
			w.lkg.Store(snap)
			return snap, nil
		}
	}
	return nil, errNoLKGAvailable
}

// validateCandidate runs the Validator then the Overlay evaluator against
// every flow in the blueprint's registry, returning the first failure
// description, or "" if the candidate is fully acceptable.
func (w *Wrapper) validateCandidate(candidate *ConfigSnapshot) string {
	bp := validator.Blueprint{Registry: w.blueprint.Registry, Catalog: w.blueprint.Catalog, Selectors: w.blueprint.Selectors}
	report := validator.Validate(candidate.PatchJSON, bp)
	w.logrusLog.WithFields(obslog.ValidatorFields("", len(report.Sorted())).ToLogrus()).
		Debug("lkg: validator ran against candidate")
	if !report.IsValid() {
		return "validator rejected candidate"
	}

	patch, err := flowtypes.Bind(candidate.PatchJSON)
	if err != nil {
		return "candidate patch failed to bind: " + err.Error()
	}
	now := time.Now()
	for _, name := range w.blueprint.Registry.Names() {
		eval := overlay.Evaluate(overlay.Input{
			FlowName: name, ConfigVersion: candidate.ConfigVersion, Patch: patch,
			Options: &flowtypes.RequestOptions{}, ConfigTimestamp: candidate.Meta.TimestampUtc, Now: now,
		})
		if eval == nil {
			return "overlay evaluator produced no result for flow " + name
		}
		w.logrusLog.WithFields(obslog.OverlayFields(name, candidate.ConfigVersion).ToLogrus()).
			Debug("lkg: overlay evaluator ran against candidate")
	}
	return ""
}

func (w *Wrapper) isRejected(ctx context.Context, version uint64) (bool, error) {
	if w.rejected != nil {
		return w.rejected.IsRejected(ctx, version)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.localRejected[version], nil
}

func (w *Wrapper) markRejected(ctx context.Context, version uint64) error {
	if w.rejected != nil {
		return w.rejected.MarkRejected(ctx, version)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.localRejected[version] = true
	return nil
}

func (w *Wrapper) clearRejections(ctx context.Context) error {
	if w.rejected != nil {
		return w.rejected.Clear(ctx)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.localRejected = make(map[uint64]bool)
	return nil
}
