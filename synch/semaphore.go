package synch

// A Semaphore holds a non-negative count. P waits for the count to become
// positive and decrements it, V increments it and wakes one waiter. No FIFO
// ordering is promised: a thread calling P may win over threads already
// sleeping.
type Semaphore struct {
	name  string
	lock  Spinlock
	wchan *WaitChannel
	count uint
}

// NewSemaphore creates a semaphore with the given initial count.
func NewSemaphore(name string, initialCount uint) *Semaphore {
	s := &Semaphore{
		name:  name,
		count: initialCount,
	}
	s.wchan = NewWaitChannel(name, &s.lock)

	return s
}

// Name returns the name of the semaphore.
func (s *Semaphore) Name() string {
	return s.name
}

// P decrements the count, sleeping while it is zero.
func (s *Semaphore) P(t *Thread) {
	mustBeAbleToBlock(t, "sem "+s.name)

	s.lock.Acquire()
	for s.count == 0 {
		s.wchan.Sleep()
	}
	s.count--
	s.lock.Release()
}

// V increments the count and wakes one waiter.
func (s *Semaphore) V() {
	s.lock.Acquire()
	s.count++
	s.wchan.WakeOne()
	s.lock.Release()
}

// Count returns the current count. The value may be stale as soon as it is
// returned.
func (s *Semaphore) Count() uint {
	s.lock.Acquire()
	defer s.lock.Release()

	return s.count
}

// Destroy checks that no thread is waiting on the semaphore.
func (s *Semaphore) Destroy() {
	s.lock.Acquire()
	if !s.wchan.IsEmpty() {
		s.lock.Release()
		panic("sem " + s.name + ": destroyed with waiters")
	}
	s.lock.Release()
}
