package hooking

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type countingHook struct {
	count int
}

func (h *countingHook) Func(_ HookCtx) {
	h.count++
}

type namedDomain struct {
	HookableBase
}

func (d *namedDomain) Name() string {
	return "Coremap"
}

var _ = Describe("HookableBase", func() {
	var (
		domain *namedDomain
		pos    *HookPos
	)

	BeforeEach(func() {
		domain = &namedDomain{}
		pos = &HookPos{Name: "Evict"}
	})

	It("should invoke every hook", func() {
		h1 := &countingHook{}
		h2 := &countingHook{}
		domain.AcceptHook(h1)
		domain.AcceptHook(h2)

		domain.InvokeHook(HookCtx{Domain: domain, Pos: pos})

		Expect(domain.NumHooks()).To(Equal(2))
		Expect(h1.count).To(Equal(1))
		Expect(h2.count).To(Equal(1))
	})

	It("should panic on duplicated hook", func() {
		h := &countingHook{}
		domain.AcceptHook(h)

		Expect(func() { domain.AcceptHook(h) }).To(Panic())
	})

	It("should log with the domain name", func() {
		buf := new(bytes.Buffer)
		domain.AcceptHook(NewLogHook(buf))

		domain.InvokeHook(HookCtx{Domain: domain, Pos: pos, Item: 7})

		Expect(buf.String()).To(ContainSubstring("[Coremap] Evict 7"))
	})

	It("should filter positions", func() {
		buf := new(bytes.Buffer)
		other := &HookPos{Name: "SwapIn"}
		domain.AcceptHook(NewLogHook(buf, other))

		domain.InvokeHook(HookCtx{Domain: domain, Pos: pos, Item: 7})

		Expect(buf.Len()).To(BeZero())
	})
})

var _ = Describe("CountHook", func() {
	var (
		domain *namedDomain
		fault  *HookPos
		evict  *HookPos
	)

	BeforeEach(func() {
		domain = &namedDomain{}
		fault = &HookPos{Name: "PageFault"}
		evict = &HookPos{Name: "Evict"}
	})

	It("should count positions", func() {
		h := NewCountHook(nil)
		domain.AcceptHook(h)

		domain.InvokeHook(HookCtx{Domain: domain, Pos: fault})
		domain.InvokeHook(HookCtx{Domain: domain, Pos: fault})
		domain.InvokeHook(HookCtx{Domain: domain, Pos: evict})

		Expect(h.GetPosNames()).To(Equal([]string{"Evict", "PageFault"}))
		Expect(h.GetPosCount("PageFault")).To(Equal(uint64(2)))
		Expect(h.GetTagNames()).To(BeEmpty())
	})

	It("should count tags", func() {
		h := NewCountHook(func(ctx HookCtx) string {
			s, _ := ctx.Item.(string)
			return s
		})
		domain.AcceptHook(h)

		domain.InvokeHook(HookCtx{Domain: domain, Pos: fault, Item: "zero-fill"})
		domain.InvokeHook(HookCtx{Domain: domain, Pos: fault, Item: "swap-in"})
		domain.InvokeHook(HookCtx{Domain: domain, Pos: fault, Item: "zero-fill"})
		domain.InvokeHook(HookCtx{Domain: domain, Pos: evict})

		Expect(h.GetTagNames()).To(Equal([]string{"swap-in", "zero-fill"}))
		Expect(h.GetTagCount("zero-fill")).To(Equal(uint64(2)))

		positions, tags := h.Snapshot()
		Expect(positions).To(HaveKeyWithValue("Evict", uint64(1)))
		Expect(tags).To(HaveLen(2))
	})
})
