package explain

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Redact", func() {
	It("replaces values of keys matching the redaction pattern, case-insensitively", func() {
		in := map[string]any{
			"apiKey": "sk-live-123",
			"Token":  "abc",
			"region": "us",
		}
		out := Redact(in).(map[string]any)
		Expect(out["apiKey"]).To(Equal(Redacted))
		Expect(out["Token"]).To(Equal(Redacted))
		Expect(out["region"]).To(Equal("us"))
	})

	It("recurses into nested maps and slices", func() {
		in := map[string]any{
			"nested": map[string]any{"password": "hunter2"},
			"list":   []any{map[string]any{"sessionId": "s1"}},
		}
		out := Redact(in).(map[string]any)
		Expect(out["nested"].(map[string]any)["password"]).To(Equal(Redacted))
		Expect(out["list"].([]any)[0].(map[string]any)["sessionId"]).To(Equal(Redacted))
	})

	It("leaves non-matching scalars untouched", func() {
		Expect(Redact("plain")).To(Equal("plain"))
		Expect(Redact(float64(5))).To(Equal(float64(5)))
	})
})

var _ = Describe("RedactAllLeaves", func() {
	It("blanks every leaf scalar regardless of key name", func() {
		in := map[string]any{
			"region":    "us",
			"timeoutMs": float64(500),
			"nested":    map[string]any{"flag": true},
			"list":      []any{"a", float64(1)},
		}
		out := RedactAllLeaves(in).(map[string]any)
		Expect(out["region"]).To(Equal(Redacted))
		Expect(out["timeoutMs"]).To(Equal(Redacted))
		Expect(out["nested"].(map[string]any)["flag"]).To(Equal(Redacted))
		Expect(out["list"].([]any)[0]).To(Equal(Redacted))
		Expect(out["list"].([]any)[1]).To(Equal(Redacted))
	})

	It("passes nil through unchanged", func() {
		Expect(RedactAllLeaves(nil)).To(BeNil())
	})
})
