package synch

// A Mutex is the kernel lock: a non-reentrant ownership token that records
// its holder.
type Mutex struct {
	name   string
	lock   Spinlock
	wchan  *WaitChannel
	holder *Thread
}

// NewMutex creates a free mutex.
func NewMutex(name string) *Mutex {
	m := &Mutex{name: name}
	m.wchan = NewWaitChannel(name, &m.lock)

	return m
}

// Name returns the name of the mutex.
func (m *Mutex) Name() string {
	return m.name
}

// Acquire blocks until the mutex is free and makes t its holder. Acquiring a
// mutex that t already holds panics rather than deadlocking.
func (m *Mutex) Acquire(t *Thread) {
	mustBeAbleToBlock(t, "lock "+m.name)

	m.lock.Acquire()
	if m.holder == t {
		m.lock.Release()
		panic("lock " + m.name + ": already held by " + t.String())
	}

	for m.holder != nil {
		m.wchan.Sleep()
	}
	m.holder = t
	m.lock.Release()
}

// Release frees the mutex and wakes one waiter. Only the holder may release.
func (m *Mutex) Release(t *Thread) {
	m.lock.Acquire()
	if m.holder == nil || m.holder != t {
		m.lock.Release()
		panic("lock " + m.name + ": released by a thread that does not hold it")
	}

	m.holder = nil
	m.wchan.WakeOne()
	m.lock.Release()
}

// HeldBy tells if t holds the mutex.
func (m *Mutex) HeldBy(t *Thread) bool {
	m.lock.Acquire()
	defer m.lock.Release()

	return t != nil && m.holder == t
}

// Destroy checks that nobody holds or waits for the mutex.
func (m *Mutex) Destroy() {
	m.lock.Acquire()
	defer m.lock.Release()

	if m.holder != nil {
		panic("lock " + m.name + ": destroyed while held")
	}

	if !m.wchan.IsEmpty() {
		panic("lock " + m.name + ": destroyed with waiters")
	}
}

func (m *Mutex) mustBeHeldBy(t *Thread, what string) {
	if !m.HeldBy(t) {
		panic(what + ": lock " + m.name + " not held by caller")
	}
}
