package synch

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Mutex", func() {
	var (
		m *Mutex
		a *Thread
		b *Thread
	)

	BeforeEach(func() {
		m = NewMutex("lock")
		a = NewThread("A")
		b = NewThread("B")
	})

	It("should record its holder", func() {
		m.Acquire(a)

		Expect(m.HeldBy(a)).To(BeTrue())
		Expect(m.HeldBy(b)).To(BeFalse())

		m.Release(a)

		Expect(m.HeldBy(a)).To(BeFalse())
	})

	It("should block B until A releases", func() {
		m.Acquire(a)

		acquired := make(chan struct{})
		go func() {
			m.Acquire(b)
			close(acquired)
		}()

		Consistently(acquired, 50*time.Millisecond).ShouldNot(BeClosed())

		m.Release(a)

		Eventually(acquired).Should(BeClosed())
		Expect(m.HeldBy(b)).To(BeTrue())
		m.Release(b)
	})

	It("should panic on re-acquire by the holder", func() {
		m.Acquire(a)

		Expect(func() { m.Acquire(a) }).To(Panic())
		Expect(m.HeldBy(a)).To(BeTrue())
	})

	It("should panic when released by another thread", func() {
		m.Acquire(a)

		Expect(func() { m.Release(b) }).To(Panic())
	})

	It("should panic when released while free", func() {
		Expect(func() { m.Release(a) }).To(Panic())
	})

	It("should panic when destroyed while held", func() {
		m.Acquire(a)

		Expect(func() { m.Destroy() }).To(Panic())

		m.Release(a)
		Expect(func() { m.Destroy() }).NotTo(Panic())
	})

	It("should keep a counter consistent under contention", func() {
		counter := 0
		done := make(chan struct{})

		for i := 0; i < 8; i++ {
			go func() {
				t := NewThread("worker")
				for j := 0; j < 100; j++ {
					m.Acquire(t)
					counter++
					m.Release(t)
				}
				done <- struct{}{}
			}()
		}

		for i := 0; i < 8; i++ {
			Eventually(done).Should(Receive())
		}

		Expect(counter).To(Equal(800))
	})
})
