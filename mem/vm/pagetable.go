package vm

import "fmt"

// Handle names a PTE inside its page table.
type Handle int32

// NilHandle ends the PTE chain.
const NilHandle Handle = -1

const pteChunkSize = 64

// A PageTable holds the PTEs of one address space. PTEs live in fixed-size
// chunks so that a *PTE stays valid while the table grows. Linked PTEs form a
// singly linked chain through their handles, and an index finds them by
// virtual address.
//
// A PageTable is not safe for concurrent use. It is guarded by the lock of
// its address space.
type PageTable struct {
	chunks [][]PTE
	free   []Handle
	head   Handle
	index  map[uint64]Handle
}

// NewPageTable creates an empty page table.
func NewPageTable() *PageTable {
	return &PageTable{
		head:  NilHandle,
		index: make(map[uint64]Handle),
	}
}

// Len returns the number of linked PTEs.
func (pt *PageTable) Len() int {
	return len(pt.index)
}

// Entry returns the PTE of a handle.
func (pt *PageTable) Entry(h Handle) *PTE {
	if h < 0 || int(h) >= len(pt.chunks)*pteChunkSize {
		panic(fmt.Sprintf("invalid PTE handle %d", h))
	}

	return &pt.chunks[h/pteChunkSize][h%pteChunkSize]
}

// Lookup finds the linked PTE that maps the page containing vaddr.
func (pt *PageTable) Lookup(vaddr uint64) (Handle, bool) {
	h, found := pt.index[PageAlign(vaddr)]
	return h, found
}

// NewEntry allocates a PTE for vaddr that is not linked yet. It can serve as
// a frame owner before Link is called.
func (pt *PageTable) NewEntry(vaddr uint64) Handle {
	vaddr = PageAlign(vaddr)
	pt.pageMustNotExist(vaddr)

	if len(pt.free) == 0 {
		pt.grow()
	}

	h := pt.free[len(pt.free)-1]
	pt.free = pt.free[:len(pt.free)-1]

	pte := pt.Entry(h)
	pte.reset(vaddr)
	pte.inUse = true

	return h
}

// Link attaches the frame at paddr to an entry created by NewEntry and adds
// the entry to the table.
func (pt *PageTable) Link(h Handle, paddr uint64) {
	pte := pt.entryMustBeInUse(h)
	pt.pageMustNotExist(pte.vaddr)

	pte.lock.Acquire()
	pte.setFrameLocked(paddr)
	pte.lock.Release()

	pte.next = pt.head
	pt.head = h
	pt.index[pte.vaddr] = h
}

// Discard frees an entry that was never linked.
func (pt *PageTable) Discard(h Handle) {
	pte := pt.entryMustBeInUse(h)
	if cur, found := pt.index[pte.vaddr]; found && cur == h {
		panic(fmt.Sprintf("discarding linked page 0x%x", pte.vaddr))
	}

	pt.release(h)
}

// Remove unlinks an entry and frees it. The caller is responsible for the
// frame or slot the entry refers to.
func (pt *PageTable) Remove(h Handle) {
	pte := pt.entryMustBeInUse(h)
	pt.pageMustExist(pte.vaddr)

	if pt.head == h {
		pt.head = pte.next
	} else {
		prev := pt.head
		for pt.Entry(prev).next != h {
			prev = pt.Entry(prev).next
		}
		pt.Entry(prev).next = pte.next
	}

	delete(pt.index, pte.vaddr)
	pt.release(h)
}

// Each calls fn on every linked PTE until fn returns false. fn must not add
// or remove entries.
func (pt *PageTable) Each(fn func(h Handle, pte *PTE) bool) {
	for h := pt.head; h != NilHandle; {
		pte := pt.Entry(h)
		next := pte.next

		if !fn(h, pte) {
			return
		}

		h = next
	}
}

// Handles returns the handles of every linked PTE.
func (pt *PageTable) Handles() []Handle {
	hs := make([]Handle, 0, pt.Len())
	pt.Each(func(h Handle, _ *PTE) bool {
		hs = append(hs, h)
		return true
	})

	return hs
}

func (pt *PageTable) grow() {
	base := Handle(len(pt.chunks) * pteChunkSize)
	chunk := make([]PTE, pteChunkSize)
	pt.chunks = append(pt.chunks, chunk)

	for i := pteChunkSize - 1; i >= 0; i-- {
		pt.free = append(pt.free, base+Handle(i))
	}
}

func (pt *PageTable) release(h Handle) {
	pte := pt.Entry(h)
	pte.reset(0)
	pte.inUse = false
	pt.free = append(pt.free, h)
}

func (pt *PageTable) entryMustBeInUse(h Handle) *PTE {
	pte := pt.Entry(h)
	if !pte.inUse {
		panic(fmt.Sprintf("PTE handle %d is not in use", h))
	}

	return pte
}

func (pt *PageTable) pageMustExist(vaddr uint64) {
	_, found := pt.index[vaddr]
	if !found {
		panic(fmt.Sprintf("page 0x%x does not exist", vaddr))
	}
}

func (pt *PageTable) pageMustNotExist(vaddr uint64) {
	_, found := pt.index[vaddr]
	if found {
		panic(fmt.Sprintf("page 0x%x already exists", vaddr))
	}
}
