package mmu

import (
	"fmt"

	"github.com/sarchlab/kernvm/mem/vm"
	"github.com/sarchlab/kernvm/mem/vm/tlb"
	"github.com/sarchlab/kernvm/synch"
)

// Activate flushes the TLB of core when an address space starts running
// there.
func (m *MMU) Activate(core *tlb.Core) {
	coreMustBeGiven(core)
	core.ShootdownAll()
}

// Deactivate flushes the TLB of core when an address space stops running
// there.
func (m *MMU) Deactivate(core *tlb.Core) {
	coreMustBeGiven(core)
	core.ShootdownAll()
}

// CopyAddrSpace creates a copy of src with fresh frames holding the same
// bytes. Pages of src that are swapped out are brought back in first. If
// memory runs out, everything copied so far is freed.
func (m *MMU) CopyAddrSpace(t *synch.Thread, src *vm.AddrSpace) (*vm.AddrSpace, error) {
	src.Lock(t)
	defer src.Unlock(t)

	dst := src.CloneLayout()
	srcPT := src.PageTable()
	dstPT := dst.PageTable()

	for _, h := range srcPT.Handles() {
		vaddr := srcPT.Entry(h).VAddr()

		srcPAddr, err := m.pinForCopy(t, src, vaddr)
		if err != nil {
			m.releaseAll(t, dst)
			return nil, err
		}

		dh := dstPT.NewEntry(vaddr)

		dstPAddr, err := m.coremap.ReserveUser(t, dstPT.Entry(dh))
		if err != nil {
			m.coremap.Unbusy(t, srcPAddr)
			dstPT.Discard(dh)
			m.releaseAll(t, dst)

			return nil, err
		}

		err = m.storage.Copy(dstPAddr, srcPAddr, m.pageSize)
		if err != nil {
			panic(err)
		}

		dstPT.Link(dh, dstPAddr)
		m.coremap.Unbusy(t, dstPAddr)
		m.coremap.Unbusy(t, srcPAddr)
	}

	m.invoke(HookPosCopy, AddrSpaceEvent{
		AddrSpace: src.ID(),
		Other:     dst.ID(),
		Pages:     dstPT.Len(),
	})

	return dst, nil
}

func (m *MMU) pinForCopy(t *synch.Thread, as *vm.AddrSpace, vaddr uint64) (uint64, error) {
	paddr, outcome, err := m.pageIn(t, as, vaddr)
	if err != nil {
		return 0, fmt.Errorf("%w: page 0x%x: %w", vm.ErrSwappedCopy, vaddr, err)
	}

	if outcome == OutcomeZeroFill {
		panic(fmt.Sprintf("%s: copied page 0x%x vanished", as, vaddr))
	}

	return paddr, nil
}

// DestroyAddrSpace shoots down every TLB, then frees the frame or swap slot
// of every page of as. core is the core the caller runs on, or nil.
func (m *MMU) DestroyAddrSpace(t *synch.Thread, core *tlb.Core, as *vm.AddrSpace) {
	as.Lock(t)
	defer as.Unlock(t)

	m.machine.ShootdownAll(core)
	n := m.releaseAll(t, as)

	m.invoke(HookPosDestroy, AddrSpaceEvent{AddrSpace: as.ID(), Pages: n})
}

func (m *MMU) releaseAll(t *synch.Thread, as *vm.AddrSpace) int {
	pt := as.PageTable()
	n := pt.Len()

	for _, h := range pt.Handles() {
		m.releasePage(t, pt.Entry(h))
		pt.Remove(h)
	}

	return n
}

func (m *MMU) releasePage(t *synch.Thread, pte *vm.PTE) {
	if m.coremap.ReleaseOwned(t, pte) {
		return
	}

	slot, swapped := pte.Swapped()
	if !swapped {
		panic(fmt.Sprintf("page %s is neither resident nor swapped", pte))
	}

	m.swap.FreeSlot(t, slot)
}

// Sbrk moves the heap end of as by amount bytes and returns the old end.
// Pages that fall out of the heap are unmapped and their frames or slots
// freed.
func (m *MMU) Sbrk(
	t *synch.Thread,
	core *tlb.Core,
	as *vm.AddrSpace,
	amount int64,
) (uint64, error) {
	as.Lock(t)
	defer as.Unlock(t)

	oldEnd := as.HeapEnd()

	if amount%int64(m.pageSize) != 0 {
		return oldEnd, fmt.Errorf("%w: sbrk(%d) is not page aligned",
			vm.ErrInvalid, amount)
	}

	var newEnd uint64

	switch {
	case amount >= 0:
		if uint64(amount) > vm.StackBase-oldEnd {
			return oldEnd, fmt.Errorf("%w: heap would reach the stack",
				vm.ErrOutOfMemory)
		}

		newEnd = oldEnd + uint64(amount)
	default:
		shrink := uint64(-amount)
		if shrink > oldEnd-as.HeapStart() {
			return oldEnd, fmt.Errorf("%w: heap would shrink below its start",
				vm.ErrInvalid)
		}

		newEnd = oldEnd - shrink
		m.unmapRange(t, core, as, newEnd, oldEnd)
	}

	as.SetHeapEnd(newEnd)

	m.invoke(HookPosSbrk, SbrkEvent{
		AddrSpace: as.ID(),
		OldEnd:    oldEnd,
		NewEnd:    newEnd,
	})

	return oldEnd, nil
}

func (m *MMU) unmapRange(
	t *synch.Thread,
	core *tlb.Core,
	as *vm.AddrSpace,
	start, end uint64,
) {
	pt := as.PageTable()

	for va := start; va < end; va += m.pageSize {
		h, found := pt.Lookup(va)
		if !found {
			continue
		}

		m.machine.ShootdownPage(core, va)
		m.releasePage(t, pt.Entry(h))
		pt.Remove(h)
	}
}
