package gate

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/flowforge/core/pkg/contract"
	"github.com/flowforge/core/pkg/flowtypes"
)

var _ = Describe("Parse", func() {
	It("returns nil for an empty gate", func() {
		expr, err := Parse(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(expr).To(BeNil())
	})

	It("parses a request gate", func() {
		expr, err := Parse(json.RawMessage(`{"request":{"field":"region","in":["us","eu"]}}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(expr.Kind).To(Equal(KindRequest))
		Expect(expr.Field).To(Equal("region"))
		Expect(expr.In).To(Equal([]string{"us", "eu"}))
	})

	It("parses a variant gate", func() {
		expr, err := Parse(json.RawMessage(`{"variant":{"layer":"checkout","equals":"v2"}}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(expr.Kind).To(Equal(KindVariant))
		Expect(expr.Layer).To(Equal("checkout"))
		Expect(expr.Equals).To(Equal("v2"))
	})

	It("parses a selector gate", func() {
		expr, err := Parse(json.RawMessage(`{"selector":{"name":"premium-users"}}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(expr.Kind).To(Equal(KindSelector))
		Expect(expr.SelectorName).To(Equal("premium-users"))
	})

	It("parses nested all/any/not", func() {
		raw := json.RawMessage(`{"all":{"children":[
			{"variant":{"layer":"a","equals":"x"}},
			{"not":{"child":{"request":{"field":"b","in":["y"]}}}}
		]}}`)
		expr, err := Parse(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(expr.Kind).To(Equal(KindAll))
		Expect(expr.Children).To(HaveLen(2))
		Expect(expr.Children[1].Kind).To(Equal(KindNot))
	})

	It("rejects malformed JSON", func() {
		_, err := Parse(json.RawMessage(`{not valid`))
		Expect(err).To(HaveOccurred())
		var pe *ParseError
		Expect(err).To(BeAssignableToTypeOf(pe))
		Expect(err.(*ParseError).Code).To(Equal("CFG_GATE_INVALID_JSON"))
	})

	It("rejects an all{} with no children", func() {
		_, err := Parse(json.RawMessage(`{"all":{"children":[]}}`))
		Expect(err).To(HaveOccurred())
		Expect(err.(*ParseError).Code).To(Equal("CFG_GATE_EMPTY_all"))
	})

	It("rejects a not{} with no child", func() {
		_, err := Parse(json.RawMessage(`{"not":{}}`))
		Expect(err).To(HaveOccurred())
		Expect(err.(*ParseError).Code).To(Equal("CFG_GATE_EMPTY_NOT"))
	})

	It("rejects a request{} missing field", func() {
		_, err := Parse(json.RawMessage(`{"request":{"in":["x"]}}`))
		Expect(err).To(HaveOccurred())
		Expect(err.(*ParseError).Code).To(Equal("CFG_GATE_REQUEST_FIELD_REQUIRED"))
	})

	It("rejects an object with no recognized variant key", func() {
		_, err := Parse(json.RawMessage(`{"bogus":{}}`))
		Expect(err).To(HaveOccurred())
		Expect(err.(*ParseError).Code).To(Equal("CFG_GATE_UNKNOWN_SHAPE"))
	})

	It("rejects an object with more than one variant key", func() {
		_, err := Parse(json.RawMessage(`{"all":{"children":[{"request":{"field":"a","in":["b"]}}]},"any":{"children":[{"request":{"field":"a","in":["b"]}}]}}`))
		Expect(err).To(HaveOccurred())
		Expect(err.(*ParseError).Code).To(Equal("CFG_GATE_AMBIGUOUS_SHAPE"))
	})
})

var _ = Describe("Eval", func() {
	selectors := contract.NewSelectorRegistry(map[string]contract.Predicate{
		"premium-users": func(opts *flowtypes.RequestOptions, attrs map[string]string) bool {
			return attrs["tier"] == "premium"
		},
	})

	It("allows when expr is nil", func() {
		d := Eval(nil, &flowtypes.RequestOptions{}, selectors)
		Expect(d.Allowed).To(BeTrue())
		Expect(d.Code).To(Equal("GATE_ABSENT"))
	})

	It("evaluates a request gate against request attributes", func() {
		expr := &Expr{Kind: KindRequest, Field: "region", In: []string{"us", "eu"}}
		opts := &flowtypes.RequestOptions{RequestAttributes: map[string]string{"region": "us"}}
		Expect(Eval(expr, opts, selectors).Allowed).To(BeTrue())

		opts2 := &flowtypes.RequestOptions{RequestAttributes: map[string]string{"region": "apac"}}
		Expect(Eval(expr, opts2, selectors).Allowed).To(BeFalse())
	})

	It("denies a request gate when the attribute is absent", func() {
		expr := &Expr{Kind: KindRequest, Field: "region", In: []string{"us"}}
		d := Eval(expr, &flowtypes.RequestOptions{}, selectors)
		Expect(d.Allowed).To(BeFalse())
	})

	It("evaluates a variant gate", func() {
		expr := &Expr{Kind: KindVariant, Layer: "checkout", Equals: "v2"}
		opts := &flowtypes.RequestOptions{Variants: map[string]string{"checkout": "v2"}}
		Expect(Eval(expr, opts, selectors).Allowed).To(BeTrue())

		opts2 := &flowtypes.RequestOptions{Variants: map[string]string{"checkout": "v1"}}
		Expect(Eval(expr, opts2, selectors).Allowed).To(BeFalse())
	})

	It("evaluates a selector gate via the registry", func() {
		expr := &Expr{Kind: KindSelector, SelectorName: "premium-users"}
		opts := &flowtypes.RequestOptions{RequestAttributes: map[string]string{"tier": "premium"}}
		d := Eval(expr, opts, selectors)
		Expect(d.Allowed).To(BeTrue())
		Expect(d.SelectorName).To(Equal("premium-users"))
	})

	It("denies a selector gate naming an unknown selector", func() {
		expr := &Expr{Kind: KindSelector, SelectorName: "missing"}
		d := Eval(expr, &flowtypes.RequestOptions{}, selectors)
		Expect(d.Allowed).To(BeFalse())
	})

	It("short-circuits all{} on first deny", func() {
		expr := &Expr{Kind: KindAll, Children: []*Expr{
			{Kind: KindVariant, Layer: "a", Equals: "x"},
			{Kind: KindRequest, Field: "b", In: []string{"y"}},
		}}
		opts := &flowtypes.RequestOptions{Variants: map[string]string{"a": "not-x"}}
		d := Eval(expr, opts, selectors)
		Expect(d.Allowed).To(BeFalse())
	})

	It("short-circuits any{} on first allow", func() {
		expr := &Expr{Kind: KindAny, Children: []*Expr{
			{Kind: KindVariant, Layer: "a", Equals: "x"},
			{Kind: KindRequest, Field: "b", In: []string{"y"}},
		}}
		opts := &flowtypes.RequestOptions{Variants: map[string]string{"a": "x"}}
		d := Eval(expr, opts, selectors)
		Expect(d.Allowed).To(BeTrue())
	})

	It("flips not{} while preserving the child's code and reason", func() {
		child := &Expr{Kind: KindVariant, Layer: "a", Equals: "x"}
		expr := &Expr{Kind: KindNot, Child: child}
		opts := &flowtypes.RequestOptions{Variants: map[string]string{"a": "x"}}
		d := Eval(expr, opts, selectors)
		Expect(d.Allowed).To(BeFalse())
		Expect(d.Code).To(Equal("GATE_TRUE"))
	})
})
