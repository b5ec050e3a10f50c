package vm

import (
	"fmt"

	"github.com/sarchlab/kernvm/sim/id"
	"github.com/sarchlab/kernvm/synch"
)

// MaxRegions is the number of static regions an address space supports.
const MaxRegions = 2

var addrSpaceIDs id.Counter

// Segment tells which part of an address space an address falls in.
type Segment int

// Segments of an address space.
const (
	SegNone Segment = iota
	SegRegion0
	SegRegion1
	SegHeap
	SegStack
)

func (s Segment) String() string {
	switch s {
	case SegRegion0:
		return "region0"
	case SegRegion1:
		return "region1"
	case SegHeap:
		return "heap"
	case SegStack:
		return "stack"
	default:
		return "none"
	}
}

// A Region is a range of whole pages with one set of permissions.
type Region struct {
	VBase  uint64
	NPages uint64
	Perm   Perm
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return r.VBase + r.NPages*PageSize
}

// Contains tells if vaddr lies in the region.
func (r Region) Contains(vaddr uint64) bool {
	return r.NPages > 0 && vaddr >= r.VBase && vaddr < r.End()
}

func (r Region) overlaps(base, end uint64) bool {
	return r.NPages > 0 && base < r.End() && r.VBase < end
}

// An AddrSpace is the virtual memory of one process.
//
// Lock must be held while faulting pages in, copying, or destroying the
// address space, and while reading or changing the heap end.
type AddrSpace struct {
	id   uint64
	lock *synch.Mutex

	regions   [MaxRegions]Region
	saved     [MaxRegions]Perm
	nRegions  int
	loading   bool
	heapStart uint64
	heapEnd   uint64

	pt *PageTable
}

// NewAddrSpace creates an empty address space.
func NewAddrSpace() *AddrSpace {
	asID := addrSpaceIDs.Next()

	return &AddrSpace{
		id:   asID,
		lock: synch.NewMutex(fmt.Sprintf("as%d", asID)),
		pt:   NewPageTable(),
	}
}

// ID returns the unique ID of the address space.
func (as *AddrSpace) ID() uint64 {
	return as.id
}

// Lock acquires the address space lock.
func (as *AddrSpace) Lock(t *synch.Thread) {
	as.lock.Acquire(t)
}

// Unlock releases the address space lock.
func (as *AddrSpace) Unlock(t *synch.Thread) {
	as.lock.Release(t)
}

// LockedBy tells if t holds the address space lock.
func (as *AddrSpace) LockedBy(t *synch.Thread) bool {
	return as.lock.HeldBy(t)
}

// PageTable returns the page table.
func (as *AddrSpace) PageTable() *PageTable {
	return as.pt
}

// DefineRegion adds a static region covering [vaddr, vaddr+size), widened to
// whole pages. Defining more than MaxRegions regions is fatal. The heap is
// placed right after the highest region.
func (as *AddrSpace) DefineRegion(vaddr, size uint64, r, w, x bool) error {
	if as.nRegions >= MaxRegions {
		panic(fmt.Sprintf("address space %d: too many regions", as.id))
	}

	size += vaddr &^ PageFrame
	vaddr = PageAlign(vaddr)
	size = PageRoundUp(size)

	if size == 0 || vaddr+size > StackBase || vaddr+size < vaddr {
		return fmt.Errorf("%w: region 0x%x+0x%x", ErrInvalid, vaddr, size)
	}

	for i := 0; i < as.nRegions; i++ {
		if as.regions[i].overlaps(vaddr, vaddr+size) {
			return fmt.Errorf("%w: region 0x%x+0x%x overlaps region %d",
				ErrInvalid, vaddr, size, i)
		}
	}

	as.regions[as.nRegions] = Region{
		VBase:  vaddr,
		NPages: size / PageSize,
		Perm:   MakePerm(r, w, x),
	}
	as.nRegions++

	if end := vaddr + size; end > as.heapStart {
		as.heapStart = end
		as.heapEnd = end
	}

	return nil
}

// Regions returns the static regions defined so far.
func (as *AddrSpace) Regions() []Region {
	rs := make([]Region, as.nRegions)
	copy(rs, as.regions[:as.nRegions])

	return rs
}

// PrepareLoad makes every static region writable so that the loader can
// fill it. It must be paired with CompleteLoad.
func (as *AddrSpace) PrepareLoad() {
	if as.loading {
		panic(fmt.Sprintf("address space %d: already loading", as.id))
	}

	as.loading = true
	for i := 0; i < as.nRegions; i++ {
		as.saved[i] = as.regions[i].Perm
		as.regions[i].Perm = PermRead | PermWrite
	}
}

// CompleteLoad restores the permissions saved by PrepareLoad.
func (as *AddrSpace) CompleteLoad() {
	if !as.loading {
		panic(fmt.Sprintf("address space %d: not loading", as.id))
	}

	for i := 0; i < as.nRegions; i++ {
		as.regions[i].Perm = as.saved[i]
	}
	as.loading = false
}

// Loading tells if the address space is between PrepareLoad and
// CompleteLoad.
func (as *AddrSpace) Loading() bool {
	return as.loading
}

// DefineStack returns the initial stack pointer.
func (as *AddrSpace) DefineStack() uint64 {
	return UserStack
}

// HeapStart returns the fixed bottom of the heap.
func (as *AddrSpace) HeapStart() uint64 {
	return as.heapStart
}

// HeapEnd returns the current program break.
func (as *AddrSpace) HeapEnd() uint64 {
	return as.heapEnd
}

// SetHeapEnd moves the program break. The new end must be page aligned and
// lie between the heap start and the stack.
func (as *AddrSpace) SetHeapEnd(end uint64) {
	if end%PageSize != 0 || end < as.heapStart || end > StackBase {
		panic(fmt.Sprintf("address space %d: invalid heap end 0x%x",
			as.id, end))
	}

	as.heapEnd = end
}

// Classify finds the segment vaddr belongs to and the permissions it has.
func (as *AddrSpace) Classify(vaddr uint64) (Segment, Perm, bool) {
	for i := 0; i < as.nRegions; i++ {
		if as.regions[i].Contains(vaddr) {
			return SegRegion0 + Segment(i), as.regions[i].Perm, true
		}
	}

	if vaddr >= as.heapStart && vaddr < as.heapEnd {
		return SegHeap, PermRead | PermWrite, true
	}

	if vaddr >= StackBase && vaddr < UserStack {
		return SegStack, PermRead | PermWrite, true
	}

	return SegNone, 0, false
}

// CloneLayout creates a new address space with the same regions and heap
// but no pages.
func (as *AddrSpace) CloneLayout() *AddrSpace {
	clone := NewAddrSpace()
	clone.regions = as.regions
	clone.saved = as.saved
	clone.nRegions = as.nRegions
	clone.loading = as.loading
	clone.heapStart = as.heapStart
	clone.heapEnd = as.heapEnd

	return clone
}

func (as *AddrSpace) String() string {
	return fmt.Sprintf("as%d", as.id)
}
