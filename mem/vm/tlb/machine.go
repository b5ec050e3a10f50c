package tlb

import "sync/atomic"

// Stats counts TLB activity over all cores.
type Stats struct {
	LocalShootdowns uint64
	IPIsSent        uint64
	IPIsServiced    uint64
	Hits            uint64
	Misses          uint64
}

// A Machine owns all the cores.
type Machine struct {
	name     string
	cores    []*Core
	ipisSent atomic.Uint64
}

// Name returns the name of the machine.
func (m *Machine) Name() string {
	return m.name
}

// NumCores returns the number of cores.
func (m *Machine) NumCores() int {
	return len(m.cores)
}

// Core returns a core by index.
func (m *Machine) Core(i int) *Core {
	return m.cores[i]
}

// Cores returns all the cores.
func (m *Machine) Cores() []*Core {
	return m.cores
}

// ShootdownAll flushes the TLB of from and tells every other core to flush
// its own. from may be nil when the caller runs on no core.
func (m *Machine) ShootdownAll(from *Core) {
	if from != nil {
		from.ShootdownAll()
	}

	m.broadcast(from)
}

// ShootdownPage invalidates the entry of vaddr on from and tells every other
// core to flush entirely. from may be nil.
func (m *Machine) ShootdownPage(from *Core, vaddr uint64) {
	if from != nil {
		from.ShootdownOne(vaddr)
	}

	m.broadcast(from)
}

func (m *Machine) broadcast(from *Core) {
	for _, c := range m.cores {
		if c == from {
			continue
		}

		c.postIPI()
		m.ipisSent.Add(1)
	}
}

// Stats sums the counters of all cores.
func (m *Machine) Stats() Stats {
	s := Stats{IPIsSent: m.ipisSent.Load()}

	for _, c := range m.cores {
		s.LocalShootdowns += c.localShootdowns.Load()
		s.IPIsServiced += c.ipisServiced.Load()
		s.Hits += c.hits.Load()
		s.Misses += c.misses.Load()
	}

	return s
}
