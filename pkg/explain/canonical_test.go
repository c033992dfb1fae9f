package explain

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("CanonicalJSON", func() {
	It("sorts object keys in codepoint order regardless of struct field order", func() {
		type payload struct {
			Zeta  string `json:"zeta"`
			Alpha string `json:"alpha"`
		}
		raw, err := CanonicalJSON(payload{Zeta: "z", Alpha: "a"})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).To(Equal(`{"alpha":"a","zeta":"z"}`))
	})

	It("sorts nested object keys too", func() {
		in := map[string]any{
			"outer": map[string]any{"b": 1, "a": 2},
		}
		raw, err := CanonicalJSON(in)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).To(Equal(`{"outer":{"a":2,"b":1}}`))
	})
})
