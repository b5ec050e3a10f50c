// Package mmu handles page faults and keeps frames, page tables, swap, and
// TLBs consistent with one another.
//
// Lock order is address space, then coremap, then swap, then PTE. Eviction
// runs with the coremap lock held and never takes an address space lock.
package mmu

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sarchlab/kernvm/mem/coremap"
	"github.com/sarchlab/kernvm/mem/physmem"
	"github.com/sarchlab/kernvm/mem/swap"
	"github.com/sarchlab/kernvm/mem/vm"
	"github.com/sarchlab/kernvm/mem/vm/tlb"
	"github.com/sarchlab/kernvm/sim/hooking"
	"github.com/sarchlab/kernvm/synch"
)

const maxTranslateAttempts = 16

var errUnsettled = errors.New("translation did not settle")

// Stats counts MMU activity.
type Stats struct {
	Faults           uint64
	ZeroFills        uint64
	Refills          uint64
	SwapIns          uint64
	Evictions        uint64
	IllegalWrites    uint64
	AccessViolations uint64
}

// MMU is the virtual memory manager.
type MMU struct {
	hooking.HookableBase

	name     string
	pageSize uint64
	coremap  *coremap.Coremap
	swap     *swap.Store
	machine  *tlb.Machine
	storage  *physmem.Storage

	faults           atomic.Uint64
	zeroFills        atomic.Uint64
	refills          atomic.Uint64
	swapIns          atomic.Uint64
	evictions        atomic.Uint64
	illegalWrites    atomic.Uint64
	accessViolations atomic.Uint64
}

// Name returns the name of the MMU.
func (m *MMU) Name() string {
	return m.name
}

// Machine returns the cores the MMU keeps consistent.
func (m *MMU) Machine() *tlb.Machine {
	return m.machine
}

// Coremap returns the frame allocator.
func (m *MMU) Coremap() *coremap.Coremap {
	return m.coremap
}

// Swap returns the swap store. It is nil if swapping is off.
func (m *MMU) Swap() *swap.Store {
	return m.swap
}

// Stats returns the counters.
func (m *MMU) Stats() Stats {
	return Stats{
		Faults:           m.faults.Load(),
		ZeroFills:        m.zeroFills.Load(),
		Refills:          m.refills.Load(),
		SwapIns:          m.swapIns.Load(),
		Evictions:        m.evictions.Load(),
		IllegalWrites:    m.illegalWrites.Load(),
		AccessViolations: m.accessViolations.Load(),
	}
}

// HandleFault resolves a fault that t took on core while running ctx.
func (m *MMU) HandleFault(
	t *synch.Thread,
	core *tlb.Core,
	ctx FaultContext,
	faultType FaultType,
	vaddr uint64,
) error {
	as := ctx.AddrSpace()
	if as == nil {
		m.faults.Add(1)
		m.invokeFault(nil, vaddr, 0, faultType, OutcomeNoAddrSpace)

		return vm.ErrNoAddrSpace
	}

	as.Lock(t)
	defer as.Unlock(t)

	return m.handleFaultLocked(t, core, ctx, as, faultType, vaddr)
}

func (m *MMU) handleFaultLocked(
	t *synch.Thread,
	core *tlb.Core,
	ctx FaultContext,
	as *vm.AddrSpace,
	faultType FaultType,
	vaddr uint64,
) error {
	coreMustBeGiven(core)
	m.faults.Add(1)

	page := vm.PageAlign(vaddr)

	_, perm, ok := as.Classify(page)
	if !ok {
		m.accessViolations.Add(1)
		m.invokeFault(as, page, 0, faultType, OutcomeViolation)

		return fmt.Errorf("%w: 0x%x", vm.ErrAccessViolation, vaddr)
	}

	if faultType != FaultRead && !perm.CanWrite() {
		m.illegalWrites.Add(1)
		m.invokeFault(as, page, 0, faultType, OutcomeIllegal)
		ctx.ForceExit(SegfaultStatus)

		return fmt.Errorf("%w: 0x%x", vm.ErrIllegalWrite, vaddr)
	}

	if faultType == FaultReadOnly {
		if core.SetDirty(page) {
			m.invokeFault(as, page, 0, faultType, OutcomeSetDirty)
			return nil
		}

		// The entry was shot down after the trap. Take it as a write miss.
		faultType = FaultWrite
	}

	paddr, outcome, err := m.pageIn(t, as, page)
	if err != nil {
		m.invokeFault(as, page, 0, faultType, OutcomeNoMemory)
		return err
	}

	core.Install(page, paddr, faultType == FaultWrite)
	m.coremap.Unbusy(t, paddr)

	m.invokeFault(as, page, paddr, faultType, outcome)

	return nil
}

// pageIn makes sure page has a frame and returns it busy.
func (m *MMU) pageIn(
	t *synch.Thread,
	as *vm.AddrSpace,
	page uint64,
) (uint64, string, error) {
	pt := as.PageTable()

	h, found := pt.Lookup(page)
	if !found {
		h = pt.NewEntry(page)

		paddr, err := m.coremap.ReserveUser(t, pt.Entry(h))
		if err != nil {
			pt.Discard(h)
			return 0, "", err
		}

		pt.Link(h, paddr)
		m.zeroFills.Add(1)

		return paddr, OutcomeZeroFill, nil
	}

	pte := pt.Entry(h)

	if paddr, ok := m.coremap.PinResident(t, pte); ok {
		m.refills.Add(1)
		return paddr, OutcomeRefill, nil
	}

	paddr, err := m.swapIn(t, as, pte)
	if err != nil {
		return 0, "", err
	}

	return paddr, OutcomeSwapIn, nil
}

func (m *MMU) swapIn(
	t *synch.Thread,
	as *vm.AddrSpace,
	pte *vm.PTE,
) (uint64, error) {
	slot, swapped := pte.Swapped()
	if !swapped {
		panic(fmt.Sprintf("page %s is neither resident nor swapped", pte))
	}

	paddr, err := m.coremap.ReserveUser(t, pte)
	if err != nil {
		return 0, err
	}

	err = m.swap.ReadIn(t, slot, paddr)
	if err != nil {
		m.coremap.Release(t, paddr)
		return 0, fmt.Errorf("%w: %w", vm.ErrOutOfMemory, err)
	}

	pte.SwappedIn(paddr)
	m.swapIns.Add(1)

	m.invoke(HookPosSwapIn, SwapInEvent{
		AddrSpace: as.ID(),
		VAddr:     pte.VAddr(),
		PAddr:     paddr,
		Slot:      slot,
	})

	return paddr, nil
}

// Translate plays the hardware: it looks vaddr up in the TLB of core and
// traps into HandleFault until the access can go through. The returned
// address is not pinned and may be stale as soon as it is returned.
func (m *MMU) Translate(
	t *synch.Thread,
	core *tlb.Core,
	ctx FaultContext,
	vaddr uint64,
	write bool,
) (uint64, error) {
	return m.translate(core, vaddr, write,
		func(ft FaultType) error {
			return m.HandleFault(t, core, ctx, ft, vaddr)
		})
}

func (m *MMU) translate(
	core *tlb.Core,
	vaddr uint64,
	write bool,
	fault func(FaultType) error,
) (uint64, error) {
	coreMustBeGiven(core)

	for i := 0; i < maxTranslateAttempts; i++ {
		var ft FaultType

		e, found := core.Lookup(vaddr)
		switch {
		case !found && write:
			ft = FaultWrite
		case !found:
			ft = FaultRead
		case write && !e.Dirty:
			ft = FaultReadOnly
		default:
			return e.PAddr + vaddr - e.VAddr, nil
		}

		if err := fault(ft); err != nil {
			return 0, err
		}
	}

	return 0, fmt.Errorf("0x%x: %w", vaddr, errUnsettled)
}

// Load copies len(buf) bytes of user memory at vaddr into buf.
func (m *MMU) Load(
	t *synch.Thread,
	core *tlb.Core,
	ctx FaultContext,
	vaddr uint64,
	buf []byte,
) error {
	return m.access(t, core, ctx, vaddr, len(buf), false,
		func(paddr uint64, done, n int) error {
			data, err := m.storage.Read(paddr, uint64(n))
			if err != nil {
				return err
			}

			copy(buf[done:], data)

			return nil
		})
}

// Store copies data into user memory at vaddr.
func (m *MMU) Store(
	t *synch.Thread,
	core *tlb.Core,
	ctx FaultContext,
	vaddr uint64,
	data []byte,
) error {
	return m.access(t, core, ctx, vaddr, len(data), true,
		func(paddr uint64, done, n int) error {
			return m.storage.Write(paddr, data[done:done+n])
		})
}

func (m *MMU) access(
	t *synch.Thread,
	core *tlb.Core,
	ctx FaultContext,
	vaddr uint64,
	length int,
	write bool,
	fn func(paddr uint64, done, n int) error,
) error {
	as := ctx.AddrSpace()
	if as == nil {
		return vm.ErrNoAddrSpace
	}

	as.Lock(t)
	defer as.Unlock(t)

	for done := 0; done < length; {
		va := vaddr + uint64(done)
		n := int(min(uint64(length-done), m.pageSize-va%m.pageSize))

		paddr, err := m.pinLocked(t, core, ctx, as, va, write)
		if err != nil {
			return err
		}

		err = fn(paddr, done, n)
		m.coremap.Unbusy(t, vm.PageAlign(paddr))

		if err != nil {
			return err
		}

		done += n
	}

	return nil
}

// pinLocked translates va and pins the frame behind it so that it cannot
// be evicted while the caller copies bytes.
func (m *MMU) pinLocked(
	t *synch.Thread,
	core *tlb.Core,
	ctx FaultContext,
	as *vm.AddrSpace,
	va uint64,
	write bool,
) (uint64, error) {
	for i := 0; i < maxTranslateAttempts; i++ {
		_, err := m.translate(core, va, write,
			func(ft FaultType) error {
				return m.handleFaultLocked(t, core, ctx, as, ft, va)
			})
		if err != nil {
			return 0, err
		}

		h, found := as.PageTable().Lookup(va)
		if !found {
			panic(fmt.Sprintf("%s: translated page 0x%x has no PTE", as, va))
		}

		paddr, ok := m.coremap.PinResident(t, as.PageTable().Entry(h))
		if ok {
			return paddr + va%m.pageSize, nil
		}
	}

	return 0, fmt.Errorf("0x%x: %w", va, errUnsettled)
}

func (m *MMU) invokeFault(
	as *vm.AddrSpace,
	vaddr, paddr uint64,
	ft FaultType,
	outcome string,
) {
	if m.NumHooks() == 0 {
		return
	}

	var asID uint64
	if as != nil {
		asID = as.ID()
	}

	m.invoke(HookPosFault, FaultEvent{
		AddrSpace: asID,
		VAddr:     vaddr,
		PAddr:     paddr,
		Type:      ft.String(),
		Outcome:   outcome,
	})
}

func (m *MMU) invoke(pos *hooking.HookPos, item any) {
	if m.NumHooks() == 0 {
		return
	}

	m.InvokeHook(hooking.HookCtx{Domain: m, Pos: pos, Item: item})
}

func coreMustBeGiven(core *tlb.Core) {
	if core == nil {
		panic("fault handled on no core")
	}
}
