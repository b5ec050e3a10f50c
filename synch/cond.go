package synch

// A Cond is a condition variable. It is always used together with a Mutex
// that the caller holds.
type Cond struct {
	name  string
	lock  Spinlock
	wchan *WaitChannel
}

// NewCond creates a condition variable.
func NewCond(name string) *Cond {
	c := &Cond{name: name}
	c.wchan = NewWaitChannel(name, &c.lock)

	return c
}

// Wait releases m, sleeps, and re-acquires m before returning. Releasing m
// and going to sleep happen atomically with respect to Signal and Broadcast.
func (c *Cond) Wait(t *Thread, m *Mutex) {
	m.mustBeHeldBy(t, "cv "+c.name)

	c.lock.Acquire()
	m.Release(t)
	c.wchan.Sleep()
	c.lock.Release()

	m.Acquire(t)
}

// Signal wakes one thread waiting on the condition variable.
func (c *Cond) Signal(t *Thread, m *Mutex) {
	m.mustBeHeldBy(t, "cv "+c.name)

	c.lock.Acquire()
	c.wchan.WakeOne()
	c.lock.Release()
}

// Broadcast wakes every thread waiting on the condition variable.
func (c *Cond) Broadcast(t *Thread, m *Mutex) {
	m.mustBeHeldBy(t, "cv "+c.name)

	c.lock.Acquire()
	c.wchan.WakeAll()
	c.lock.Release()
}

// Destroy checks that no thread waits on the condition variable.
func (c *Cond) Destroy() {
	c.lock.Acquire()
	defer c.lock.Release()

	if !c.wchan.IsEmpty() {
		panic("cv " + c.name + ": destroyed with waiters")
	}
}
