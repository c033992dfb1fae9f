package flowtypes

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func boolPtr(b bool) *bool { return &b }

var _ = Describe("StagePatch presence tracking", func() {
	It("parses an omitted fanoutMax as absent", func() {
		var sp StagePatch
		Expect(json.Unmarshal([]byte(`{"modules":[]}`), &sp)).To(Succeed())
		Expect(sp.HasFanoutMax).To(BeFalse())
	})

	It("parses an explicit fanoutMax: 0 as present", func() {
		var sp StagePatch
		Expect(json.Unmarshal([]byte(`{"fanoutMax":0}`), &sp)).To(Succeed())
		Expect(sp.HasFanoutMax).To(BeTrue())
		Expect(sp.FanoutMax).To(Equal(0))
	})

	It("round-trips an explicit fanoutMax: 0 through MarshalJSON", func() {
		sp := StagePatch{HasFanoutMax: true, FanoutMax: 0}
		raw, err := json.Marshal(sp)
		Expect(err).NotTo(HaveOccurred())

		var decoded StagePatch
		Expect(json.Unmarshal(raw, &decoded)).To(Succeed())
		Expect(decoded.HasFanoutMax).To(BeTrue())
		Expect(decoded.FanoutMax).To(Equal(0))
	})

	It("drops fanoutMax from the wire entirely when absent", func() {
		sp := StagePatch{}
		raw, err := json.Marshal(sp)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).NotTo(ContainSubstring("fanoutMax"))
	})
})

var _ = Describe("ModulePatch presence tracking", func() {
	It("parses an omitted priority as absent", func() {
		var mp ModulePatch
		Expect(json.Unmarshal([]byte(`{"id":"m1"}`), &mp)).To(Succeed())
		Expect(mp.HasPriority).To(BeFalse())
	})

	It("parses an explicit priority: 0 as present", func() {
		var mp ModulePatch
		Expect(json.Unmarshal([]byte(`{"id":"m1","priority":0}`), &mp)).To(Succeed())
		Expect(mp.HasPriority).To(BeTrue())
		Expect(mp.Priority).To(Equal(0))
	})

	It("round-trips an explicit priority: 0 through MarshalJSON", func() {
		mp := ModulePatch{ID: "m1", HasPriority: true, Priority: 0}
		raw, err := json.Marshal(mp)
		Expect(err).NotTo(HaveOccurred())

		var decoded ModulePatch
		Expect(json.Unmarshal(raw, &decoded)).To(Succeed())
		Expect(decoded.HasPriority).To(BeTrue())
		Expect(decoded.Priority).To(Equal(0))
	})

	It("preserves other fields across the custom marshal/unmarshal pair", func() {
		mp := ModulePatch{
			ID: "m1", Use: "http.fetch", Enabled: boolPtr(false),
			LimitKey: "lk", MemoKey: "mk", Shadow: &ShadowSpec{Sample: 0.5},
		}
		raw, err := json.Marshal(mp)
		Expect(err).NotTo(HaveOccurred())

		var decoded ModulePatch
		Expect(json.Unmarshal(raw, &decoded)).To(Succeed())
		Expect(decoded.Use).To(Equal("http.fetch"))
		Expect(*decoded.Enabled).To(BeFalse())
		Expect(decoded.LimitKey).To(Equal("lk"))
		Expect(decoded.MemoKey).To(Equal("mk"))
		Expect(decoded.Shadow.Sample).To(Equal(0.5))
	})

	Describe("IsEnabled", func() {
		It("defaults to true when Enabled is nil", func() {
			mp := ModulePatch{ID: "m1"}
			Expect(mp.IsEnabled()).To(BeTrue())
		})

		It("honors an explicit false", func() {
			mp := ModulePatch{ID: "m1", Enabled: boolPtr(false)}
			Expect(mp.IsEnabled()).To(BeFalse())
		})
	})

	Describe("IsShadow", func() {
		It("is false with no shadow spec", func() {
			Expect((&ModulePatch{ID: "m1"}).IsShadow()).To(BeFalse())
		})

		It("is true once a shadow spec is set", func() {
			Expect((&ModulePatch{ID: "m1", Shadow: &ShadowSpec{Sample: 1}}).IsShadow()).To(BeTrue())
		})
	})
})

var _ = Describe("QoSTier", func() {
	It("accepts every listed tier", func() {
		for _, tier := range ValidQoSTiers {
			Expect(tier.Valid()).To(BeTrue())
		}
	})

	It("rejects an unknown tier", func() {
		Expect(QoSTier("bogus").Valid()).To(BeFalse())
	})
})

var _ = Describe("Bind", func() {
	It("binds a minimal valid patch document", func() {
		doc, err := Bind([]byte(`{"schemaVersion":"v1"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.SchemaVersion).To(Equal("v1"))
	})

	It("rejects a schema version other than v1", func() {
		_, err := Bind([]byte(`{"schemaVersion":"v2"}`))
		Expect(err).To(HaveOccurred())
	})

	It("rejects malformed JSON", func() {
		_, err := Bind([]byte(`{`))
		Expect(err).To(HaveOccurred())
	})

	It("rejects a module priority outside the bind-time range", func() {
		raw := []byte(`{"schemaVersion":"v1","flows":{"checkout":{"stages":{"enrich":{"modules":[{"id":"m1","priority":5000}]}}}}}`)
		_, err := Bind(raw)
		Expect(err).To(HaveOccurred())
	})

	It("accepts a module priority at the bind-time range boundary", func() {
		raw := []byte(`{"schemaVersion":"v1","flows":{"checkout":{"stages":{"enrich":{"modules":[{"id":"m1","priority":1000}]}}}}}`)
		doc, err := Bind(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.Flows["checkout"].Stages["enrich"].Modules[0].Priority).To(Equal(1000))
	})

	It("rejects non-positive entries in limits.moduleConcurrency", func() {
		raw := []byte(`{"schemaVersion":"v1","limits":{"moduleConcurrency":{"http.fetch":0}}}`)
		_, err := Bind(raw)
		Expect(err).To(HaveOccurred())
	})

	It("accepts a positive limits.moduleConcurrency entry", func() {
		raw := []byte(`{"schemaVersion":"v1","limits":{"moduleConcurrency":{"http.fetch":3}}}`)
		doc, err := Bind(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.Limits.ModuleConcurrency["http.fetch"]).To(Equal(int32(3)))
	})
})

var _ = Describe("ShadowSpec.SampleBps", func() {
	It("converts a 0..1 sample rate to basis points", func() {
		Expect((&ShadowSpec{Sample: 0.5}).SampleBps()).To(Equal(5000))
	})

	It("rounds a tiny sample rate deterministically rather than truncating to 0", func() {
		Expect((&ShadowSpec{Sample: 0.0001}).SampleBps()).To(Equal(1))
	})
})

var _ = Describe("FlowContext", func() {
	It("generates a request id when none is configured via options", func() {
		fc := NewFlowContext(nil)
		Expect(fc.RequestID).NotTo(BeEmpty())
	})

	It("records a node outcome exactly once", func() {
		fc := NewFlowContext(&RequestOptions{})
		Expect(fc.SetNodeOutcome(1, "a")).To(Succeed())
		Expect(fc.SetNodeOutcome(1, "b")).To(MatchError(ErrOutcomeAlreadySet))

		v, ok := fc.NodeOutcome(1)
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("a"))
	})

	It("reports no outcome for an unset node", func() {
		fc := NewFlowContext(&RequestOptions{})
		_, ok := fc.NodeOutcome(42)
		Expect(ok).To(BeFalse())
	})

	It("memoizes CachedParams per flow name", func() {
		fc := NewFlowContext(&RequestOptions{})
		calls := 0
		compute := func() any { calls++; return "computed" }

		Expect(fc.CachedParams("checkout", compute)).To(Equal("computed"))
		Expect(fc.CachedParams("checkout", compute)).To(Equal("computed"))
		Expect(calls).To(Equal(1))
	})

	It("keeps the first SetConfigSnapshot call and ignores later ones", func() {
		fc := NewFlowContext(&RequestOptions{})
		fc.SetConfigSnapshot("first")
		fc.SetConfigSnapshot("second")

		snap, ok := fc.ConfigSnapshot()
		Expect(ok).To(BeTrue())
		Expect(snap).To(Equal("first"))
	})

	Describe("RequestOptions.Variant", func() {
		It("returns false for a nil RequestOptions", func() {
			var r *RequestOptions
			_, ok := r.Variant("checkout")
			Expect(ok).To(BeFalse())
		})

		It("returns the assigned variant", func() {
			r := &RequestOptions{Variants: map[string]string{"checkout": "v2"}}
			v, ok := r.Variant("checkout")
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal("v2"))
		})
	})
})
