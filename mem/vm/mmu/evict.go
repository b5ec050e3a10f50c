package mmu

import (
	"github.com/sarchlab/kernvm/mem/coremap"
	"github.com/sarchlab/kernvm/mem/swap"
	"github.com/sarchlab/kernvm/synch"
)

// Evict moves the page held by the frame at paddr out to swap. It runs with
// the coremap lock held and the frame marked busy. On failure the frame and
// its owner are left untouched.
func (m *MMU) Evict(t *synch.Thread, paddr uint64, owner coremap.Owner) error {
	if m.swap == nil {
		return swap.ErrSwapDisabled
	}

	vaddr := owner.VAddr()
	m.machine.ShootdownPage(nil, vaddr)

	slot, err := m.swap.WriteOut(t, paddr)
	if err != nil {
		return err
	}

	owner.SwappedOut(slot)
	m.evictions.Add(1)

	m.invoke(HookPosEvict, EvictEvent{VAddr: vaddr, PAddr: paddr, Slot: slot})

	return nil
}
