// Package tlb models the per-core translation lookaside buffers and keeps
// them consistent across cores.
//
// Every core owns a TLB that only the core itself changes, with interrupts
// disabled. Another core asks for a flush by posting an inter-processor
// interrupt, which the target core services before its next TLB access. The
// sender does not wait for it.
package tlb

import (
	"fmt"
	"sync/atomic"

	"github.com/sarchlab/kernvm/mem/vm/tlb/internal"
	"github.com/sarchlab/kernvm/synch"
)

// Entry is one TLB entry.
type Entry = internal.Entry

// A Core is a processor together with its TLB.
type Core struct {
	id       int
	pageSize uint64

	cpu *synch.Mutex

	// Held whenever the TLB is touched; stands for disabled interrupts.
	lock synch.Spinlock
	set  internal.Set

	ipiPending atomic.Bool

	localShootdowns atomic.Uint64
	ipisServiced    atomic.Uint64
	hits            atomic.Uint64
	misses          atomic.Uint64
}

// ID returns the index of the core.
func (c *Core) ID() int {
	return c.id
}

// Dispatch makes t the thread running on the core. It blocks while another
// thread runs there.
func (c *Core) Dispatch(t *synch.Thread) {
	c.cpu.Acquire(t)
}

// Yield gives the core up.
func (c *Core) Yield(t *synch.Thread) {
	c.cpu.Release(t)
}

// RunningOn tells if t currently runs on the core.
func (c *Core) RunningOn(t *synch.Thread) bool {
	return c.cpu.HeldBy(t)
}

// Lookup finds the entry of the page containing vaddr.
func (c *Core) Lookup(vaddr uint64) (Entry, bool) {
	c.disableInterrupts()
	defer c.enableInterrupts()

	wayID, e, found := c.set.Lookup(c.align(vaddr))
	if !found {
		c.misses.Add(1)
		return Entry{}, false
	}

	c.set.Visit(wayID)
	c.hits.Add(1)

	return e, true
}

// Install maps the page containing vaddr to paddr. Installing a second
// frame for a page that is already mapped is fatal.
func (c *Core) Install(vaddr, paddr uint64, dirty bool) {
	c.disableInterrupts()
	defer c.enableInterrupts()

	vaddr = c.align(vaddr)
	entry := Entry{VAddr: vaddr, PAddr: paddr, Valid: true, Dirty: dirty}

	wayID, old, found := c.set.Lookup(vaddr)
	if found {
		if old.PAddr != paddr {
			panic(fmt.Sprintf("core %d: page 0x%x maps to 0x%x, not 0x%x",
				c.id, vaddr, old.PAddr, paddr))
		}
	} else {
		var ok bool

		wayID, ok = c.set.Evict()
		if !ok {
			panic("TLB has no ways")
		}
	}

	c.set.Update(wayID, entry)
	c.set.Visit(wayID)
}

// SetDirty marks the entry of vaddr writable. It returns false if there is no
// such entry.
func (c *Core) SetDirty(vaddr uint64) bool {
	c.disableInterrupts()
	defer c.enableInterrupts()

	wayID, e, found := c.set.Lookup(c.align(vaddr))
	if !found {
		return false
	}

	e.Dirty = true
	c.set.Update(wayID, e)

	return true
}

// ShootdownOne invalidates the entry of vaddr on this core, if any.
func (c *Core) ShootdownOne(vaddr uint64) {
	c.disableInterrupts()
	defer c.enableInterrupts()

	wayID, _, found := c.set.Lookup(c.align(vaddr))
	if found {
		c.set.Invalidate(wayID)
	}

	c.localShootdowns.Add(1)
}

// ShootdownAll invalidates every entry on this core.
func (c *Core) ShootdownAll() {
	c.disableInterrupts()
	defer c.enableInterrupts()

	c.set.InvalidateAll()
	c.localShootdowns.Add(1)
}

// ValidEntries returns the entries that are currently valid.
func (c *Core) ValidEntries() []Entry {
	c.disableInterrupts()
	defer c.enableInterrupts()

	return c.set.ValidEntries()
}

// IPIPending tells if a flush request is waiting to be serviced.
func (c *Core) IPIPending() bool {
	return c.ipiPending.Load()
}

func (c *Core) postIPI() {
	c.ipiPending.Store(true)
}

func (c *Core) disableInterrupts() {
	c.lock.Acquire()

	if c.ipiPending.Swap(false) {
		c.set.InvalidateAll()
		c.ipisServiced.Add(1)
	}
}

func (c *Core) enableInterrupts() {
	c.lock.Release()
}

func (c *Core) align(vaddr uint64) uint64 {
	return vaddr &^ (c.pageSize - 1)
}
