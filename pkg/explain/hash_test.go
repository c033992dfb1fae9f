package explain

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("X16", func() {
	It("formats as 16 uppercase hex digits", func() {
		Expect(X16(0)).To(Equal("0000000000000000"))
		Expect(X16(255)).To(Equal("00000000000000FF"))
	})

	It("never emits lowercase hex digits", func() {
		Expect(X16(0xABCDEF1234567890)).To(Equal("ABCDEF1234567890"))
	})
})
