package findings

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Severity constructors", func() {
	It("builds findings with the expected severity and formatted message", func() {
		Expect(Errorf("CODE", "$.a", "bad %s", "value").Severity).To(Equal(SeverityError))
		Expect(Warnf("CODE", "$.a", "bad %s", "value").Severity).To(Equal(SeverityWarn))
		Expect(Infof("CODE", "$.a", "bad %s", "value").Severity).To(Equal(SeverityInfo))
		Expect(Errorf("CODE", "$.a", "bad %s", "value").Message).To(Equal("bad value"))
	})
})

var _ = Describe("Report", func() {
	It("is valid with no findings", func() {
		r := &Report{}
		Expect(r.IsValid()).To(BeTrue())
	})

	It("is invalid once any error-severity finding is added", func() {
		r := &Report{}
		r.Add(Warnf("W1", "$.a", "warn"))
		Expect(r.IsValid()).To(BeTrue())
		r.Add(Errorf("E1", "$.b", "error"))
		Expect(r.IsValid()).To(BeFalse())
	})

	It("sorts findings by severity, then code, then path, then message", func() {
		r := &Report{}
		r.Add(Infof("Z", "$.z", "z"))
		r.Add(Errorf("B", "$.a", "b"))
		r.Add(Errorf("A", "$.a", "a"))
		r.Add(Warnf("W", "$.w", "w"))

		sorted := r.Sorted()
		codes := make([]string, len(sorted))
		for i, f := range sorted {
			codes[i] = f.Code
		}
		Expect(codes).To(Equal([]string{"A", "B", "W", "Z"}))
	})

	It("does not mutate the underlying findings slice order", func() {
		r := &Report{}
		r.Add(Infof("Z", "$.z", "z"))
		r.Add(Errorf("A", "$.a", "a"))
		_ = r.Sorted()
		Expect(r.Findings[0].Code).To(Equal("Z"))
	})
})

var _ = Describe("PathBuilder", func() {
	It("renders the root path as $", func() {
		Expect(Root().String()).To(Equal("$"))
	})

	It("renders field and index segments in JSONPath form", func() {
		p := Root().Field("flows").Field("checkout").Field("stages").Field("enrich").Field("modules").Index(2).Field("id")
		Expect(p.String()).To(Equal("$.flows.checkout.stages.enrich.modules[2].id"))
	})

	It("quotes an empty field name", func() {
		Expect(Root().Field("").String()).To(Equal(`$.""`))
	})

	It("renders the equivalent RFC6901 JSON pointer", func() {
		p := Root().Field("flows").Field("checkout").Index(1)
		Expect(p.JSONPointer()).To(Equal("/flows/checkout/1"))
	})

	It("escapes ~ and / in pointer tokens", func() {
		p := Root().Field("a/b~c")
		Expect(p.JSONPointer()).To(Equal("/a~1b~0c"))
	})

	It("renders the bare root as an empty pointer", func() {
		Expect(Root().JSONPointer()).To(Equal(""))
	})

	It("never shares backing storage between a builder and its derived children", func() {
		base := Root().Field("a")
		child1 := base.Field("b")
		child2 := base.Field("c")
		Expect(child1.String()).To(Equal("$.a.b"))
		Expect(child2.String()).To(Equal("$.a.c"))
	})
})
