package synch

import (
	"runtime"
	"sync/atomic"
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available. Code holding a spinlock never blocks, so
// it is what the kernel uses wherever interrupts would be disabled.
//
// Spinlock satisfies sync.Locker.
type Spinlock struct {
	state uint32
}

// Acquire spins until the lock can be acquired. Any attempt to re-acquire a
// lock already held by the current task will cause a deadlock.
func (l *Spinlock) Acquire() {
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		runtime.Gosched()
	}
}

// TryAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock allowing other tasks to acquire it.
// Calling Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// Held tells if someone holds the lock.
func (l *Spinlock) Held() bool {
	return atomic.LoadUint32(&l.state) == 1
}

// Lock is Acquire.
func (l *Spinlock) Lock() {
	l.Acquire()
}

// Unlock is Release.
func (l *Spinlock) Unlock() {
	l.Release()
}
