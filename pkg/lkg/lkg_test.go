package lkg

import (
	"context"
	"errors"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/flowforge/core/pkg/contract"
)

// fakeProvider returns snap/err in sequence from results, repeating the
// last entry once exhausted.
type fakeProvider struct {
	results []providerResult
	calls   int32
}

type providerResult struct {
	snap *ConfigSnapshot
	err  error
}

func (p *fakeProvider) Fetch(ctx context.Context) (*ConfigSnapshot, error) {
	i := int(atomic.AddInt32(&p.calls, 1)) - 1
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	r := p.results[i]
	return r.snap, r.err
}

type fakeStore struct {
	stored    *ConfigSnapshot
	storeErr  error
	loadFound bool
}

func (s *fakeStore) TryLoad(ctx context.Context) (*ConfigSnapshot, bool, error) {
	if !s.loadFound {
		return nil, false, nil
	}
	return s.stored, true, nil
}

func (s *fakeStore) TryStore(ctx context.Context, snap *ConfigSnapshot) error {
	if s.storeErr != nil {
		return s.storeErr
	}
	s.stored = snap
	return nil
}

type fakeRejectionCache struct {
	rejected map[uint64]bool
}

func newFakeRejectionCache() *fakeRejectionCache {
	return &fakeRejectionCache{rejected: make(map[uint64]bool)}
}

func (c *fakeRejectionCache) IsRejected(ctx context.Context, v uint64) (bool, error) {
	return c.rejected[v], nil
}
func (c *fakeRejectionCache) MarkRejected(ctx context.Context, v uint64) error {
	c.rejected[v] = true
	return nil
}
func (c *fakeRejectionCache) Clear(ctx context.Context) error {
	c.rejected = make(map[uint64]bool)
	return nil
}

type fakeTelemetry struct {
	fallbackReasons []string
	persistFailures int
}

func (t *fakeTelemetry) ConfigLKGFallback(reason string)        { t.fallbackReasons = append(t.fallbackReasons, reason) }
func (t *fakeTelemetry) ConfigLKGSnapshotPersistFailure(error) { t.persistFailures++ }

func emptyBlueprint() ValidationBlueprint {
	registry := contract.NewFlowRegistry(map[string]*contract.FlowDefinition{})
	catalog := contract.NewModuleCatalog(map[string]*contract.ModuleEntry{})
	selectors := contract.NewSelectorRegistry(nil)
	return ValidationBlueprint{Registry: registry, Catalog: catalog, Selectors: selectors}
}

func validCandidate(version uint64) *ConfigSnapshot {
	return &ConfigSnapshot{ConfigVersion: version, PatchJSON: []byte(`{"schemaVersion":"v1"}`)}
}

var _ = Describe("Wrapper.Fetch", func() {
	var (
		store     *fakeStore
		rejected  *fakeRejectionCache
		telemetry *fakeTelemetry
	)

	BeforeEach(func() {
		store = &fakeStore{}
		rejected = newFakeRejectionCache()
		telemetry = &fakeTelemetry{}
	})

	It("accepts a valid first candidate and stores it as the LKG", func() {
		provider := &fakeProvider{results: []providerResult{{snap: validCandidate(1)}}}
		w := NewWrapper(provider, store, emptyBlueprint(), WithRejectionCache(rejected), WithTelemetry(telemetry))

		snap, err := w.Fetch(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.ConfigVersion).To(Equal(uint64(1)))
		Expect(w.Current().ConfigVersion).To(Equal(uint64(1)))
		Expect(store.stored.ConfigVersion).To(Equal(uint64(1)))
	})

	It("short-circuits when the candidate matches the current LKG version", func() {
		provider := &fakeProvider{results: []providerResult{{snap: validCandidate(1)}}}
		w := NewWrapper(provider, store, emptyBlueprint(), WithRejectionCache(rejected), WithTelemetry(telemetry))
		w.Seed(validCandidate(1))

		snap, err := w.Fetch(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.ConfigVersion).To(Equal(uint64(1)))
		Expect(store.stored).To(BeNil(), "an unchanged version should never be re-persisted")
	})

	It("falls back to the current LKG when the upstream fetch fails", func() {
		provider := &fakeProvider{results: []providerResult{
			{err: errors.New("upstream down")},
			{err: errors.New("upstream down")},
			{err: errors.New("upstream down")},
		}}
		w := NewWrapper(provider, store, emptyBlueprint(), WithRejectionCache(rejected), WithTelemetry(telemetry))
		w.Seed(validCandidate(9))

		snap, err := w.Fetch(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.ConfigVersion).To(Equal(uint64(9)))
		Expect(telemetry.fallbackReasons).To(ContainElement("upstream_fetch_failed"))
	})

	It("returns an error when the upstream fails and no LKG has ever been seeded", func() {
		provider := &fakeProvider{results: []providerResult{
			{err: errors.New("upstream down")},
			{err: errors.New("upstream down")},
			{err: errors.New("upstream down")},
		}}
		w := NewWrapper(provider, store, emptyBlueprint(), WithRejectionCache(rejected), WithTelemetry(telemetry))

		_, err := w.Fetch(context.Background())
		Expect(err).To(MatchError(errNoLKGAvailable))
	})

	It("falls back and marks a structurally invalid candidate as rejected", func() {
		provider := &fakeProvider{results: []providerResult{
			{snap: &ConfigSnapshot{ConfigVersion: 2, PatchJSON: []byte(`{"schemaVersion":"v2"}`)}},
		}}
		w := NewWrapper(provider, store, emptyBlueprint(), WithRejectionCache(rejected), WithTelemetry(telemetry))
		w.Seed(validCandidate(1))

		snap, err := w.Fetch(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.ConfigVersion).To(Equal(uint64(1)), "should still be serving the old LKG")

		ok, _ := rejected.IsRejected(context.Background(), 2)
		Expect(ok).To(BeTrue())
	})

	It("does not re-validate a version that was already rejected", func() {
		rejected.rejected[2] = true
		provider := &fakeProvider{results: []providerResult{{snap: validCandidate(2)}}}
		w := NewWrapper(provider, store, emptyBlueprint(), WithRejectionCache(rejected), WithTelemetry(telemetry))
		w.Seed(validCandidate(1))

		snap, err := w.Fetch(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.ConfigVersion).To(Equal(uint64(1)))
		Expect(telemetry.fallbackReasons).To(ContainElement("candidate_previously_rejected"))
	})

	It("records a persist failure via telemetry without failing the Fetch call", func() {
		store.storeErr = errors.New("disk full")
		provider := &fakeProvider{results: []providerResult{{snap: validCandidate(1)}}}
		w := NewWrapper(provider, store, emptyBlueprint(), WithRejectionCache(rejected), WithTelemetry(telemetry))

		snap, err := w.Fetch(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.ConfigVersion).To(Equal(uint64(1)))
		Expect(telemetry.persistFailures).To(Equal(1))
	})
})

var _ = Describe("Wrapper without an injected RejectionCache", func() {
	It("tracks rejections in-process across calls", func() {
		store := &fakeStore{}
		provider := &fakeProvider{results: []providerResult{
			{snap: &ConfigSnapshot{ConfigVersion: 2, PatchJSON: []byte(`{"schemaVersion":"bad"}`)}},
			{snap: &ConfigSnapshot{ConfigVersion: 2, PatchJSON: []byte(`{"schemaVersion":"bad"}`)}},
		}}
		w := NewWrapper(provider, store, emptyBlueprint())
		w.Seed(validCandidate(1))

		_, err := w.Fetch(context.Background())
		Expect(err).NotTo(HaveOccurred())

		rejected, _ := w.isRejected(context.Background(), 2)
		Expect(rejected).To(BeTrue())
	})
})

var _ = Describe("Seed and Current", func() {
	It("returns nil before anything has been seeded or accepted", func() {
		w := NewWrapper(&fakeProvider{}, nil, emptyBlueprint())
		Expect(w.Current()).To(BeNil())
	})
})
