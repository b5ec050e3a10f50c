package synch

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("RWLock", func() {
	const numReaders = 8

	var (
		l *RWLock
	)

	BeforeEach(func() {
		l = NewRWLock("rw")
	})

	It("should let N readers hold the lock at the same time", func() {
		release := make(chan struct{})
		done := make(chan struct{}, numReaders)

		for i := 0; i < numReaders; i++ {
			go func() {
				t := NewThread("reader")
				l.AcquireRead(t)
				<-release
				l.ReleaseRead(t)
				done <- struct{}{}
			}()
		}

		Eventually(l.ReaderCount).Should(Equal(numReaders))

		writer := NewThread("writer")
		writing := make(chan struct{})
		go func() {
			l.AcquireWrite(writer)
			close(writing)
		}()

		Consistently(writing, 50*time.Millisecond).ShouldNot(BeClosed())

		close(release)
		for i := 0; i < numReaders; i++ {
			Eventually(done).Should(Receive())
		}

		Eventually(writing).Should(BeClosed())
		Expect(l.ReaderCount()).To(BeZero())
		Expect(l.HeldForWrite(writer)).To(BeTrue())

		l.ReleaseWrite(writer)
		Expect(func() { l.Destroy() }).NotTo(Panic())
	})

	It("should queue new readers behind a waiting writer", func() {
		r1 := NewThread("r1")
		l.AcquireRead(r1)

		w := NewThread("w")
		writing := make(chan struct{})
		go func() {
			l.AcquireWrite(w)
			close(writing)
		}()
		Eventually(l.PendingWriters).Should(Equal(1))

		reading := make(chan struct{})
		finished := make(chan struct{})
		go func() {
			defer close(finished)

			r2 := NewThread("r2")
			l.AcquireRead(r2)
			close(reading)
			l.ReleaseRead(r2)
		}()

		Consistently(reading, 50*time.Millisecond).ShouldNot(BeClosed())

		l.ReleaseRead(r1)
		Eventually(writing).Should(BeClosed())
		Consistently(reading, 20*time.Millisecond).ShouldNot(BeClosed())

		l.ReleaseWrite(w)
		Eventually(reading).Should(BeClosed())
		Eventually(finished).Should(BeClosed())
		Expect(l.ReaderCount()).To(BeZero())
	})

	It("should exclude writers from each other", func() {
		w1 := NewThread("w1")
		w2 := NewThread("w2")
		l.AcquireWrite(w1)

		second := make(chan struct{})
		go func() {
			l.AcquireWrite(w2)
			close(second)
		}()

		Consistently(second, 50*time.Millisecond).ShouldNot(BeClosed())
		l.ReleaseWrite(w1)
		Eventually(second).Should(BeClosed())
		l.ReleaseWrite(w2)
	})

	It("should panic on read release without holding", func() {
		Expect(func() { l.ReleaseRead(NewThread("x")) }).To(Panic())
	})

	It("should panic on write release without holding", func() {
		r := NewThread("r")
		l.AcquireRead(r)

		Expect(func() { l.ReleaseWrite(r) }).To(Panic())
		l.ReleaseRead(r)
	})

	It("should panic when destroyed in use", func() {
		r := NewThread("r")
		l.AcquireRead(r)
		Expect(func() { l.Destroy() }).To(Panic())
		l.ReleaseRead(r)

		w := NewThread("w")
		l.AcquireWrite(w)
		Expect(func() { l.Destroy() }).To(Panic())
		l.ReleaseWrite(w)
	})
})
