package synch

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Cond", func() {
	var (
		m     *Mutex
		cv    *Cond
		owner *Thread
	)

	BeforeEach(func() {
		m = NewMutex("cvlock")
		cv = NewCond("cv")
		owner = NewThread("owner")
	})

	waitOnce := func(woken chan<- bool) {
		defer GinkgoRecover()

		t := NewThread("waiter")
		m.Acquire(t)
		cv.Wait(t, m)
		held := m.HeldBy(t)
		m.Release(t)
		woken <- held
	}

	waiters := func() int {
		cv.lock.Acquire()
		defer cv.lock.Release()
		return cv.wchan.sleepers
	}

	It("should release the mutex while waiting and re-acquire it", func() {
		woken := make(chan bool, 1)
		go waitOnce(woken)

		Eventually(waiters).Should(Equal(1))

		m.Acquire(owner)
		cv.Signal(owner, m)
		m.Release(owner)

		Eventually(woken).Should(Receive(BeTrue()))
	})

	It("should wake one thread on signal and all on broadcast", func() {
		woken := make(chan bool, 3)
		for i := 0; i < 3; i++ {
			go waitOnce(woken)
		}

		Eventually(waiters).Should(Equal(3))

		m.Acquire(owner)
		cv.Signal(owner, m)
		m.Release(owner)

		Eventually(woken).Should(Receive())
		Consistently(woken, 50*time.Millisecond).ShouldNot(Receive())
		Expect(waiters()).To(Equal(2))

		m.Acquire(owner)
		cv.Broadcast(owner, m)
		m.Release(owner)

		for i := 0; i < 2; i++ {
			Eventually(woken).Should(Receive())
		}
	})

	It("should panic when used without holding the mutex", func() {
		Expect(func() { cv.Wait(owner, m) }).To(Panic())
		Expect(func() { cv.Signal(owner, m) }).To(Panic())
		Expect(func() { cv.Broadcast(owner, m) }).To(Panic())
	})
})
