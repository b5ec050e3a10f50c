// Package coremap implements the physical frame allocator of the kernel.
//
// The coremap has one entry per physical frame. Kernel allocations take runs
// of contiguous frames that are freed as a unit. User pages take single
// frames; when memory runs out, a user frame is evicted to swap and reused.
// Every state transition happens under one allocator-wide lock.
package coremap

import (
	"errors"
	"fmt"

	"github.com/sarchlab/kernvm/mem/physmem"
	"github.com/sarchlab/kernvm/sim/hooking"
	"github.com/sarchlab/kernvm/synch"
)

// ErrOutOfMemory is returned when no frame can be found, even after trying
// to evict one.
var ErrOutOfMemory = errors.New("out of physical memory")

// Hook positions of the coremap.
var (
	HookPosReserve = &hooking.HookPos{Name: "FrameReserve"}
	HookPosRelease = &hooking.HookPos{Name: "FrameRelease"}
)

// FrameEvent is the hook item of frame reservations and releases.
type FrameEvent struct {
	PAddr  uint64
	NPages int
	State  FrameState
}

// Stats counts frames by state.
type Stats struct {
	Free, Fixed, Dirty, Clean, Busy int
}

// Coremap is the physical frame allocator.
type Coremap struct {
	hooking.HookableBase

	name     string
	lock     *synch.Mutex
	storage  *physmem.Storage
	pageSize uint64

	frames     []Frame
	usedFrames int

	selector VictimSelector
	evictor  Evictor
}

// Name returns the name of the coremap.
func (c *Coremap) Name() string {
	return c.name
}

// PageSize returns the size of a frame.
func (c *Coremap) PageSize() uint64 {
	return c.pageSize
}

// NumFrames returns the number of frames tracked.
func (c *Coremap) NumFrames() int {
	return len(c.frames)
}

// Storage returns the physical memory the frames live in.
func (c *Coremap) Storage() *physmem.Storage {
	return c.storage
}

// SetEvictor sets the component that evicts frames under memory pressure.
func (c *Coremap) SetEvictor(e Evictor) {
	c.evictor = e
}

// ReserveContiguous allocates n contiguous free frames as one kernel
// allocation and returns the physical address of the first one.
func (c *Coremap) ReserveContiguous(t *synch.Thread, n int) (uint64, error) {
	if n <= 0 {
		panic("reserving a non-positive number of frames")
	}

	c.lock.Acquire(t)

	start, found := c.findFreeRun(n)
	if !found {
		c.lock.Release(t)
		return 0, ErrOutOfMemory
	}

	for i := start; i < start+n; i++ {
		c.frames[i] = Frame{State: Fixed}
	}
	c.frames[start].RunLength = n
	c.usedFrames += n

	c.lock.Release(t)

	paddr := c.addrOf(start)
	c.invoke(HookPosReserve, FrameEvent{PAddr: paddr, NPages: n, State: Fixed})

	return paddr, nil
}

// ReserveUser allocates one zeroed frame for owner. If no frame is free, a
// victim is evicted first. The frame is returned busy; the caller must call
// Unbusy once the mapping is installed.
func (c *Coremap) ReserveUser(t *synch.Thread, owner Owner) (uint64, error) {
	if owner == nil {
		panic("reserving a user frame without owner")
	}

	c.lock.Acquire(t)
	defer c.lock.Release(t)

	idx, found := c.findFreeRun(1)
	if found {
		c.usedFrames++
	} else {
		var err error

		idx, err = c.evictOne(t)
		if err != nil {
			return 0, err
		}
	}

	c.frames[idx] = Frame{
		State:     Dirty,
		Owner:     owner,
		RunLength: 1,
		Busy:      true,
	}

	paddr := c.addrOf(idx)
	if err := c.storage.Zero(paddr, c.pageSize); err != nil {
		panic(err)
	}

	c.invoke(HookPosReserve, FrameEvent{PAddr: paddr, NPages: 1, State: Dirty})

	return paddr, nil
}

func (c *Coremap) evictOne(t *synch.Thread) (int, error) {
	if c.evictor == nil {
		return 0, ErrOutOfMemory
	}

	idx, ok := c.selector.SelectVictim(c.frames)
	if !ok {
		return 0, ErrOutOfMemory
	}

	f := &c.frames[idx]
	if f.State != Dirty || f.Busy {
		panic(fmt.Sprintf("victim frame %d is %s", idx, f.State))
	}

	f.Busy = true

	err := c.evictor.Evict(t, c.addrOf(idx), f.Owner)
	if err != nil {
		f.Busy = false
		return 0, fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}

	return idx, nil
}

// Unbusy marks a frame returned by ReserveUser or PinResident as settled.
func (c *Coremap) Unbusy(t *synch.Thread, paddr uint64) {
	c.lock.Acquire(t)
	defer c.lock.Release(t)

	f := &c.frames[c.indexOf(paddr)]
	if !f.Busy {
		panic(fmt.Sprintf("frame 0x%x is not busy", paddr))
	}

	f.Busy = false
}

// PinResident checks, under the allocator lock, whether owner is backed by a
// frame. If so, the frame is marked busy so that it cannot be evicted until
// Unbusy is called.
func (c *Coremap) PinResident(t *synch.Thread, owner Owner) (uint64, bool) {
	c.lock.Acquire(t)
	defer c.lock.Release(t)

	paddr, ok := owner.Resident()
	if !ok {
		return 0, false
	}

	f := &c.frames[c.indexOf(paddr)]
	c.frameMustBeOwnedBy(f, paddr, owner)

	if f.Busy {
		panic(fmt.Sprintf("frame 0x%x is already busy", paddr))
	}

	f.Busy = true

	return paddr, true
}

// Release frees the allocation that starts at paddr.
func (c *Coremap) Release(t *synch.Thread, paddr uint64) {
	c.lock.Acquire(t)
	n := c.releaseLocked(paddr)
	c.lock.Release(t)

	c.invoke(HookPosRelease, FrameEvent{PAddr: paddr, NPages: n, State: Free})
}

// ReleaseOwned frees the frame that backs owner. It returns false if owner
// is not resident, which means its content lives in swap.
func (c *Coremap) ReleaseOwned(t *synch.Thread, owner Owner) bool {
	c.lock.Acquire(t)

	paddr, ok := owner.Resident()
	if !ok {
		c.lock.Release(t)
		return false
	}

	c.frameMustBeOwnedBy(&c.frames[c.indexOf(paddr)], paddr, owner)
	n := c.releaseLocked(paddr)
	c.lock.Release(t)

	c.invoke(HookPosRelease, FrameEvent{PAddr: paddr, NPages: n, State: Free})

	return true
}

func (c *Coremap) releaseLocked(paddr uint64) int {
	idx := c.indexOf(paddr)
	f := c.frames[idx]

	if f.State == Free {
		panic(fmt.Sprintf("releasing free frame 0x%x", paddr))
	}

	if f.RunLength == 0 {
		panic(fmt.Sprintf("frame 0x%x does not start an allocation", paddr))
	}

	n := f.RunLength
	for i := idx; i < idx+n; i++ {
		c.frames[i] = Frame{}
	}
	c.usedFrames -= n

	return n
}

// UsedBytes returns the number of bytes in non-free frames. The value may
// be stale by the time the caller looks at it.
func (c *Coremap) UsedBytes(t *synch.Thread) uint64 {
	c.lock.Acquire(t)
	defer c.lock.Release(t)

	return uint64(c.usedFrames) * c.pageSize
}

// Stats counts the frames by state.
func (c *Coremap) Stats(t *synch.Thread) Stats {
	c.lock.Acquire(t)
	defer c.lock.Release(t)

	s := Stats{}
	for _, f := range c.frames {
		switch f.State {
		case Free:
			s.Free++
		case Fixed:
			s.Fixed++
		case Dirty:
			s.Dirty++
		case Clean:
			s.Clean++
		}

		if f.Busy {
			s.Busy++
		}
	}

	return s
}

// Frame returns a snapshot of the frame that contains paddr.
func (c *Coremap) Frame(t *synch.Thread, paddr uint64) Frame {
	c.lock.Acquire(t)
	defer c.lock.Release(t)

	return c.frames[c.indexOf(paddr)]
}

func (c *Coremap) findFreeRun(n int) (int, bool) {
	run := 0
	for i := range c.frames {
		if c.frames[i].State == Free && !c.frames[i].Busy {
			run++
			if run == n {
				return i - n + 1, true
			}

			continue
		}

		run = 0
	}

	return 0, false
}

func (c *Coremap) frameMustBeOwnedBy(f *Frame, paddr uint64, owner Owner) {
	if f.Owner != owner {
		panic(fmt.Sprintf("frame 0x%x is not owned by page 0x%x",
			paddr, owner.VAddr()))
	}
}

func (c *Coremap) addrOf(idx int) uint64 {
	return uint64(idx) * c.pageSize
}

func (c *Coremap) indexOf(paddr uint64) int {
	if paddr%c.pageSize != 0 {
		panic(fmt.Sprintf("physical address 0x%x is not page aligned", paddr))
	}

	idx := paddr / c.pageSize
	if idx >= uint64(len(c.frames)) {
		panic(fmt.Sprintf("physical address 0x%x is out of range", paddr))
	}

	return int(idx)
}

func (c *Coremap) invoke(pos *hooking.HookPos, item FrameEvent) {
	if c.NumHooks() == 0 {
		return
	}

	c.InvokeHook(hooking.HookCtx{Domain: c, Pos: pos, Item: item})
}
