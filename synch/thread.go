// Package synch provides the blocking synchronization primitives of the
// kernel: semaphores, mutexes, condition variables, and reader-writer locks,
// together with the spinlock and wait channel they are built from.
//
// Kernel threads are goroutines. Because Go gives a goroutine no identity,
// every operation that needs to know who the caller is takes the caller's
// *Thread explicitly. Misuse (releasing a lock one does not hold, destroying
// a lock that is in use, blocking in interrupt context) is a programming
// error and panics.
package synch

import (
	"fmt"
	"sync/atomic"

	"github.com/sarchlab/kernvm/sim/id"
)

var threadIDs id.Counter

// A Thread is the identity of a kernel thread.
type Thread struct {
	id          uint64
	name        string
	inInterrupt atomic.Bool
}

// NewThread creates a thread identity with a fresh ID.
func NewThread(name string) *Thread {
	return &Thread{
		id:   threadIDs.Next(),
		name: name,
	}
}

// ID returns the unique ID of the thread.
func (t *Thread) ID() uint64 {
	return t.id
}

// Name returns the name of the thread.
func (t *Thread) Name() string {
	return t.name
}

// EnterInterrupt marks that the thread is running an interrupt handler.
// Blocking operations are illegal until LeaveInterrupt is called.
func (t *Thread) EnterInterrupt() {
	t.inInterrupt.Store(true)
}

// LeaveInterrupt marks the end of the interrupt handler.
func (t *Thread) LeaveInterrupt() {
	t.inInterrupt.Store(false)
}

// InInterrupt tells if the thread is running an interrupt handler.
func (t *Thread) InInterrupt() bool {
	return t.inInterrupt.Load()
}

func (t *Thread) String() string {
	return fmt.Sprintf("%s#%d", t.name, t.id)
}

func mustBeAbleToBlock(t *Thread, what string) {
	if t == nil {
		panic(what + ": nil thread")
	}

	if t.InInterrupt() {
		panic(what + ": may not block in an interrupt handler")
	}
}
