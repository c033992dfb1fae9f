package explain

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BuildDiff", func() {
	It("produces add and remove counts in the summary", func() {
		before := []byte(`{"a":1,"b":2}`)
		after := []byte(`{"a":1,"c":3}`)

		env, err := BuildDiff(before, after)
		Expect(err).NotTo(HaveOccurred())
		Expect(env.Kind).To(Equal(KindDiff))
		Expect(env.Summary.Added).To(Equal(1))
		Expect(env.Summary.Removed).To(Equal(1))
	})

	It("redacts secret-shaped keys embedded in add/replace operation values", func() {
		before := []byte(`{}`)
		after := []byte(`{"apiKey":"sk-live-1"}`)

		env, err := BuildDiff(before, after)
		Expect(err).NotTo(HaveOccurred())
		Expect(env.Operations).To(HaveLen(1))
		Expect(env.Operations[0].Value).To(Equal(Redacted))
	})

	It("orders operations by (flowName, stageName, moduleId) ahead of path", func() {
		before := []byte(`{
			"flows": {
				"checkout": {
					"stages": {
						"enrich": {
							"modules": [
								{"id": "zeta", "priority": 1},
								{"id": "alpha", "priority": 1}
							]
						}
					}
				}
			}
		}`)
		after := []byte(`{
			"flows": {
				"checkout": {
					"stages": {
						"enrich": {
							"modules": [
								{"id": "zeta", "priority": 2},
								{"id": "alpha", "priority": 2}
							]
						}
					}
				}
			}
		}`)

		env, err := BuildDiff(before, after)
		Expect(err).NotTo(HaveOccurred())
		Expect(env.Operations).To(HaveLen(2))

		// "alpha" sorts before "zeta" by moduleId even though "zeta" is
		// declared first (and so has the lower array index / path).
		Expect(env.Operations[0].Path).To(ContainSubstring("/1/priority"))
		Expect(env.Operations[1].Path).To(ContainSubstring("/0/priority"))
	})

	It("returns an error for malformed JSON input", func() {
		_, err := BuildDiff([]byte(`{`), []byte(`{}`))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("pointerSegments", func() {
	It("treats the empty string and the bare root pointer as no segments", func() {
		Expect(pointerSegments("")).To(BeEmpty())
		Expect(pointerSegments("/")).To(BeEmpty())
	})

	It("unescapes ~1 and ~0", func() {
		Expect(pointerSegments("/a~1b/c~0d")).To(Equal([]string{"a/b", "c~d"}))
	})
})

var _ = Describe("diffSortKey", func() {
	It("resolves flowName, stageName and moduleId from a module-scoped path", func() {
		after := []byte(`{"flows":{"checkout":{"stages":{"enrich":{"modules":[{"id":"m1"}]}}}}}`)
		flow, stage, module := diffSortKey("/flows/checkout/stages/enrich/modules/0/priority", nil, after)
		Expect(flow).To(Equal("checkout"))
		Expect(stage).To(Equal("enrich"))
		Expect(module).To(Equal("m1"))
	})

	It("falls back to the before document when the module was removed", func() {
		before := []byte(`{"flows":{"checkout":{"stages":{"enrich":{"modules":[{"id":"m1"}]}}}}}`)
		_, _, module := diffSortKey("/flows/checkout/stages/enrich/modules/0", before, nil)
		Expect(module).To(Equal("m1"))
	})

	It("returns empty components for a path outside any flow", func() {
		flow, stage, module := diffSortKey("/limits/maxInFlight/http.fetch", nil, nil)
		Expect(flow).To(BeEmpty())
		Expect(stage).To(BeEmpty())
		Expect(module).To(BeEmpty())
	})
})
