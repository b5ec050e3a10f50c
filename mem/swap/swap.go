// Package swap implements the disk-backed store that evicted pages are
// written to.
//
// The backing object is opened the first time swap is used. If it cannot be
// opened, swap stays disabled for the lifetime of the store. Slot occupancy
// lives only in memory, in a bitmap guarded by a lock; the page I/O itself
// runs outside the lock.
package swap

import (
	"errors"
	"fmt"
	"io"

	"github.com/bits-and-blooms/bitset"

	"github.com/sarchlab/kernvm/mem/physmem"
	"github.com/sarchlab/kernvm/sim/hooking"
	"github.com/sarchlab/kernvm/synch"
)

var (
	// ErrSwapDisabled is returned when the backing object could not be
	// opened.
	ErrSwapDisabled = errors.New("swap disabled")

	// ErrSwapFull is returned when every slot is occupied.
	ErrSwapFull = errors.New("swap full")
)

// Hook positions of the swap store.
var (
	HookPosOpen     = &hooking.HookPos{Name: "SwapOpen"}
	HookPosWriteOut = &hooking.HookPos{Name: "SwapWriteOut"}
	HookPosReadIn   = &hooking.HookPos{Name: "SwapReadIn"}
	HookPosFree     = &hooking.HookPos{Name: "SwapFree"}
)

// SlotEvent is the hook item of swap traffic.
type SlotEvent struct {
	Slot  int
	PAddr uint64
}

// Store is the swap store.
type Store struct {
	hooking.HookableBase

	name     string
	device   string
	opener   Opener
	storage  *physmem.Storage
	pageSize uint64

	lock     *synch.Mutex
	tried    bool
	openErr  error
	backing  Backing
	slots    *bitset.BitSet
	numSlots uint
}

// Name returns the name of the store.
func (s *Store) Name() string {
	return s.name
}

// WriteOut copies the page at paddr into a free slot and returns the slot.
// On failure the slot is not marked occupied and the frame is untouched.
func (s *Store) WriteOut(t *synch.Thread, paddr uint64) (int, error) {
	s.lock.Acquire(t)

	if err := s.openLocked(); err != nil {
		s.lock.Release(t)
		return -1, err
	}

	slot, found := s.slots.NextClear(0)
	if !found || slot >= s.numSlots {
		s.lock.Release(t)
		return -1, ErrSwapFull
	}

	s.slots.Set(slot)
	s.lock.Release(t)

	err := s.write(slot, paddr)
	if err != nil {
		s.lock.Acquire(t)
		s.slots.Clear(slot)
		s.lock.Release(t)

		return -1, err
	}

	s.invoke(HookPosWriteOut, SlotEvent{Slot: int(slot), PAddr: paddr})

	return int(slot), nil
}

func (s *Store) write(slot uint, paddr uint64) error {
	data, err := s.storage.Read(paddr, s.pageSize)
	if err != nil {
		return fmt.Errorf("reading frame 0x%x: %w", paddr, err)
	}

	_, err = s.backing.WriteAt(data, s.offsetOf(slot))
	if err != nil {
		return fmt.Errorf("writing swap slot %d: %w", slot, err)
	}

	return nil
}

// ReadIn copies the page in slot into the frame at paddr. The slot is freed
// only if the read succeeds.
func (s *Store) ReadIn(t *synch.Thread, slot int, paddr uint64) error {
	s.lock.Acquire(t)
	if err := s.openLocked(); err != nil {
		s.lock.Release(t)
		return err
	}
	s.slotMustBeInUse(slot)
	s.lock.Release(t)

	buf := make([]byte, s.pageSize)

	n, err := s.backing.ReadAt(buf, s.offsetOf(uint(slot)))
	if n < len(buf) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}

		return fmt.Errorf("reading swap slot %d: %w", slot, err)
	}

	if err := s.storage.Write(paddr, buf); err != nil {
		return fmt.Errorf("writing frame 0x%x: %w", paddr, err)
	}

	s.lock.Acquire(t)
	s.slots.Clear(uint(slot))
	s.lock.Release(t)

	s.invoke(HookPosReadIn, SlotEvent{Slot: slot, PAddr: paddr})

	return nil
}

// FreeSlot releases a slot without reading it back.
func (s *Store) FreeSlot(t *synch.Thread, slot int) {
	s.lock.Acquire(t)
	s.slotMustBeInUse(slot)
	s.slots.Clear(uint(slot))
	s.lock.Release(t)

	s.invoke(HookPosFree, SlotEvent{Slot: slot})
}

// InUse tells whether a slot is occupied.
func (s *Store) InUse(t *synch.Thread, slot int) bool {
	s.lock.Acquire(t)
	defer s.lock.Release(t)

	if s.slots == nil || slot < 0 || uint(slot) >= s.numSlots {
		return false
	}

	return s.slots.Test(uint(slot))
}

// UsedSlots returns the number of occupied slots.
func (s *Store) UsedSlots(t *synch.Thread) int {
	s.lock.Acquire(t)
	defer s.lock.Release(t)

	if s.slots == nil {
		return 0
	}

	return int(s.slots.Count())
}

// NumSlots returns the number of slots. It is zero until swap is first used
// and stays zero if swap is disabled.
func (s *Store) NumSlots(t *synch.Thread) int {
	s.lock.Acquire(t)
	defer s.lock.Release(t)

	return int(s.numSlots)
}

// Disabled tells whether opening the backing object has failed.
func (s *Store) Disabled(t *synch.Thread) bool {
	s.lock.Acquire(t)
	defer s.lock.Release(t)

	return s.tried && s.openErr != nil
}

// Close closes the backing object if it needs closing.
func (s *Store) Close() error {
	if c, ok := s.backing.(io.Closer); ok {
		return c.Close()
	}

	return nil
}

func (s *Store) openLocked() error {
	if s.tried {
		return s.openErr
	}

	s.tried = true

	b, err := s.opener.Open(s.device)
	if err == nil {
		var size int64

		size, err = b.Size()
		if err == nil && size < int64(s.pageSize) {
			err = fmt.Errorf("swap device %s holds no full page", s.device)
		}

		if err == nil {
			s.backing = b
			s.numSlots = uint(size / int64(s.pageSize))
			s.slots = bitset.New(s.numSlots)
		}
	}

	if err != nil {
		s.openErr = fmt.Errorf("%w: %w", ErrSwapDisabled, err)
		return s.openErr
	}

	s.invoke(HookPosOpen, SlotEvent{Slot: int(s.numSlots)})

	return nil
}

func (s *Store) slotMustBeInUse(slot int) {
	if slot < 0 || uint(slot) >= s.numSlots || !s.slots.Test(uint(slot)) {
		panic(fmt.Sprintf("swap slot %d is not in use", slot))
	}
}

func (s *Store) offsetOf(slot uint) int64 {
	return int64(slot) * int64(s.pageSize)
}

func (s *Store) invoke(pos *hooking.HookPos, item SlotEvent) {
	if s.NumHooks() == 0 {
		return
	}

	s.InvokeHook(hooking.HookCtx{Domain: s, Pos: pos, Item: item})
}
