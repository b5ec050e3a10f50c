package synch

import "sync/atomic"

// An RWLock admits many readers or one writer.
//
// It is built from three single-slot semaphores. resource gates exclusive
// access, readCountGuard protects the reader bookkeeping, and serviceQueue
// is taken by every arriving thread. A writer keeps serviceQueue until it
// owns resource, so readers that arrive after a waiting writer queue behind
// it. This bounds reader-only starvation of a pending writer, but the lock is
// not starvation-free under adversarial scheduling.
type RWLock struct {
	name string

	resource       *Semaphore
	readCountGuard *Semaphore
	serviceQueue   *Semaphore

	readCount      atomic.Int64
	readers        map[uint64]int
	writer         atomic.Pointer[Thread]
	pendingWriters atomic.Int64
}

// NewRWLock creates an RWLock.
func NewRWLock(name string) *RWLock {
	return &RWLock{
		name:           name,
		resource:       NewSemaphore(name+".resource", 1),
		readCountGuard: NewSemaphore(name+".readcount", 1),
		serviceQueue:   NewSemaphore(name+".queue", 1),
		readers:        make(map[uint64]int),
	}
}

// AcquireRead takes a read share.
func (l *RWLock) AcquireRead(t *Thread) {
	l.serviceQueue.P(t)
	l.readCountGuard.P(t)

	if l.readCount.Load() == 0 {
		l.resource.P(t)
	}
	l.readCount.Add(1)
	l.readers[t.ID()]++

	l.serviceQueue.V()
	l.readCountGuard.V()
}

// ReleaseRead gives back a read share taken by t.
func (l *RWLock) ReleaseRead(t *Thread) {
	l.readCountGuard.P(t)

	if l.readers[t.ID()] == 0 {
		l.readCountGuard.V()
		panic("rwlock " + l.name + ": read release without holding")
	}

	l.readers[t.ID()]--
	if l.readers[t.ID()] == 0 {
		delete(l.readers, t.ID())
	}

	if l.readCount.Add(-1) == 0 {
		l.resource.V()
	}

	l.readCountGuard.V()
}

// AcquireWrite takes the lock exclusively.
func (l *RWLock) AcquireWrite(t *Thread) {
	l.serviceQueue.P(t)
	l.pendingWriters.Add(1)

	l.resource.P(t)

	l.pendingWriters.Add(-1)
	l.writer.Store(t)
	l.serviceQueue.V()
}

// ReleaseWrite gives back the exclusive access taken by t.
func (l *RWLock) ReleaseWrite(t *Thread) {
	if !l.writer.CompareAndSwap(t, nil) {
		panic("rwlock " + l.name + ": write release without holding")
	}

	l.resource.V()
}

// ReaderCount returns the number of read shares currently held.
func (l *RWLock) ReaderCount() int {
	return int(l.readCount.Load())
}

// PendingWriters returns the number of writers that have been admitted by
// the service queue and wait for the readers to leave.
func (l *RWLock) PendingWriters() int {
	return int(l.pendingWriters.Load())
}

// HeldForWrite tells if t holds the lock exclusively.
func (l *RWLock) HeldForWrite(t *Thread) bool {
	return t != nil && l.writer.Load() == t
}

// Destroy checks that the lock is idle.
func (l *RWLock) Destroy() {
	if l.readCount.Load() != 0 {
		panic("rwlock " + l.name + ": destroyed with active readers")
	}

	if l.writer.Load() != nil || l.pendingWriters.Load() != 0 {
		panic("rwlock " + l.name + ": destroyed with a writer")
	}

	l.serviceQueue.Destroy()
	l.resource.Destroy()
	l.readCountGuard.Destroy()
}
