package regoselector

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/flowforge/core/pkg/flowtypes"
)

const rolloutPolicy = `
package flowforge.selector

default allow = false

allow if {
	input.variants.rollout == "on"
}
`

var _ = Describe("Compile", func() {
	It("compiles a Rego policy and evaluates the allow rule per request", func() {
		pred, err := Compile(context.Background(), rolloutPolicy)
		Expect(err).NotTo(HaveOccurred())

		on := &flowtypes.RequestOptions{Variants: map[string]string{"rollout": "on"}}
		off := &flowtypes.RequestOptions{Variants: map[string]string{"rollout": "off"}}
		Expect(pred(on, nil)).To(BeTrue())
		Expect(pred(off, nil)).To(BeFalse())
	})

	It("returns false rather than panicking when opts is nil", func() {
		pred, err := Compile(context.Background(), rolloutPolicy)
		Expect(err).NotTo(HaveOccurred())
		Expect(pred(nil, nil)).To(BeFalse())
	})

	It("rejects a module with a Rego syntax error", func() {
		_, err := Compile(context.Background(), `package flowforge.selector\n\nallow { `)
		Expect(err).To(HaveOccurred())
	})
})
