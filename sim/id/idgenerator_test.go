package id

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("IDGenerator", func() {
	It("should generate sequential IDs", func() {
		g := NewIDGenerator()

		Expect(g.Generate()).To(Equal("1"))
		Expect(g.Generate()).To(Equal("2"))
	})

	It("should generate unique IDs", func() {
		g := NewUniqueIDGenerator()

		Expect(g.Generate()).NotTo(Equal(g.Generate()))
	})

	It("should count from one", func() {
		c := &Counter{}

		Expect(c.Next()).To(Equal(uint64(1)))
		Expect(c.Next()).To(Equal(uint64(2)))
	})
})
