package coremap

import "github.com/sarchlab/kernvm/synch"

// FrameState is the state of one physical frame.
type FrameState uint8

// The states a frame can be in.
const (
	// Free frames can be handed out.
	Free FrameState = iota

	// Fixed frames belong to the kernel and are never evicted.
	Fixed

	// Dirty frames back a user page whose content exists nowhere else.
	Dirty

	// Clean frames back a user page whose content also exists on disk.
	Clean
)

func (s FrameState) String() string {
	switch s {
	case Free:
		return "FREE"
	case Fixed:
		return "FIXED"
	case Dirty:
		return "DIRTY"
	case Clean:
		return "CLEAN"
	default:
		return "UNKNOWN"
	}
}

// An Owner is the mapping that a user frame backs. Page table entries
// implement it.
type Owner interface {
	// VAddr returns the page-aligned virtual address of the mapping.
	VAddr() uint64

	// Resident returns the frame that currently backs the mapping.
	Resident() (paddr uint64, ok bool)

	// SwappedOut records that the content of the mapping now lives in the
	// given swap slot and no frame backs it anymore.
	SwappedOut(slot int)
}

// A Frame is one coremap entry.
type Frame struct {
	State FrameState
	Owner Owner

	// RunLength is the number of frames allocated together. It is only
	// meaningful on the first frame of an allocation.
	RunLength int

	// Busy frames are being set up or torn down and cannot be chosen as
	// victims.
	Busy bool
}

// An Evictor moves the content of a user frame out of memory so that the
// frame can be reused. It is called with the coremap lock held.
type Evictor interface {
	Evict(t *synch.Thread, paddr uint64, owner Owner) error
}

// A VictimSelector chooses the frame to evict when memory runs out.
type VictimSelector interface {
	SelectVictim(frames []Frame) (index int, ok bool)
}

// LinearScan picks the first dirty frame that is not busy.
type LinearScan struct{}

// SelectVictim returns the index of the first evictable frame.
func (LinearScan) SelectVictim(frames []Frame) (int, bool) {
	for i := range frames {
		f := &frames[i]
		if f.State == Dirty && !f.Busy && f.Owner != nil {
			return i, true
		}
	}

	return 0, false
}
