package vm

import (
	"fmt"

	"github.com/sarchlab/kernvm/synch"
)

// A PTE maps one virtual page to either a frame or a swap slot.
//
// The residency fields are also touched by the evictor, which does not hold
// the address space lock, so they are guarded by a leaf spinlock.
type PTE struct {
	vaddr uint64
	next  Handle
	inUse bool

	lock     synch.Spinlock
	hasFrame bool
	paddr    uint64
	swapped  bool
	slot     int
}

// VAddr returns the virtual page address.
func (p *PTE) VAddr() uint64 {
	return p.vaddr
}

// Resident returns the frame that backs the page, if any.
func (p *PTE) Resident() (uint64, bool) {
	p.lock.Acquire()
	defer p.lock.Release()

	return p.paddr, p.hasFrame
}

// Swapped returns the slot that holds the page, if it is swapped out.
func (p *PTE) Swapped() (int, bool) {
	p.lock.Acquire()
	defer p.lock.Release()

	return p.slot, p.swapped
}

// SwappedOut records that the page now lives in slot.
func (p *PTE) SwappedOut(slot int) {
	p.lock.Acquire()
	defer p.lock.Release()

	if !p.hasFrame {
		panic(fmt.Sprintf("swapping out page 0x%x that has no frame", p.vaddr))
	}

	p.hasFrame = false
	p.paddr = 0
	p.swapped = true
	p.slot = slot
}

// SwappedIn records that the page is back in the frame at paddr.
func (p *PTE) SwappedIn(paddr uint64) {
	p.lock.Acquire()
	defer p.lock.Release()

	if !p.swapped {
		panic(fmt.Sprintf("swapping in page 0x%x that is not swapped", p.vaddr))
	}

	p.setFrameLocked(paddr)
}

func (p *PTE) setFrameLocked(paddr uint64) {
	p.hasFrame = true
	p.paddr = paddr
	p.swapped = false
	p.slot = -1
}

func (p *PTE) reset(vaddr uint64) {
	p.lock.Acquire()
	p.hasFrame = false
	p.paddr = 0
	p.swapped = false
	p.slot = -1
	p.lock.Release()

	p.vaddr = vaddr
	p.next = NilHandle
}

func (p *PTE) String() string {
	p.lock.Acquire()
	defer p.lock.Release()

	if p.swapped {
		return fmt.Sprintf("0x%x -> slot %d", p.vaddr, p.slot)
	}

	return fmt.Sprintf("0x%x -> 0x%x", p.vaddr, p.paddr)
}
