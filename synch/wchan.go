package synch

import "sync"

// A WaitChannel is a queue of sleeping threads. All operations require the
// spinlock the channel was created with to be held.
type WaitChannel struct {
	name     string
	lock     *Spinlock
	cond     *sync.Cond
	sleepers int
}

// NewWaitChannel creates a wait channel protected by lock.
func NewWaitChannel(name string, lock *Spinlock) *WaitChannel {
	return &WaitChannel{
		name: name,
		lock: lock,
		cond: sync.NewCond(lock),
	}
}

// Sleep releases the spinlock, sleeps until woken, and re-acquires the
// spinlock before returning.
func (w *WaitChannel) Sleep() {
	w.mustHoldLock()

	w.sleepers++
	w.cond.Wait()
	w.sleepers--
}

// WakeOne wakes one sleeping thread, if any.
func (w *WaitChannel) WakeOne() {
	w.mustHoldLock()
	w.cond.Signal()
}

// WakeAll wakes every sleeping thread.
func (w *WaitChannel) WakeAll() {
	w.mustHoldLock()
	w.cond.Broadcast()
}

// IsEmpty tells if no thread sleeps on the channel.
func (w *WaitChannel) IsEmpty() bool {
	w.mustHoldLock()
	return w.sleepers == 0
}

func (w *WaitChannel) mustHoldLock() {
	if !w.lock.Held() {
		panic("wchan " + w.name + ": spinlock not held")
	}
}
