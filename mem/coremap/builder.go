package coremap

import (
	"fmt"
	"os"

	"github.com/sarchlab/kernvm/mem/physmem"
	"github.com/sarchlab/kernvm/synch"
)

// A Builder can build a Coremap.
type Builder struct {
	storage        *physmem.Storage
	pageSize       uint64
	firstFree      uint64
	frameEntrySize uint64
	selector       VictimSelector
	evictor        Evictor
	verbose        bool
}

// MakeBuilder creates a Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		pageSize:       4096,
		frameEntrySize: 32,
		selector:       LinearScan{},
	}
}

// WithStorage sets the physical memory managed by the coremap.
func (b Builder) WithStorage(s *physmem.Storage) Builder {
	b.storage = s
	return b
}

// WithPageSize sets the frame size.
func (b Builder) WithPageSize(pageSize uint64) Builder {
	b.pageSize = pageSize
	return b
}

// WithFirstFree sets the first physical address not used by the kernel
// image.
func (b Builder) WithFirstFree(addr uint64) Builder {
	b.firstFree = addr
	return b
}

// WithFrameEntrySize sets the number of bytes one coremap entry occupies.
// It decides how many frames the coremap itself takes.
func (b Builder) WithFrameEntrySize(n uint64) Builder {
	b.frameEntrySize = n
	return b
}

// WithVictimSelector sets the page replacement policy.
func (b Builder) WithVictimSelector(s VictimSelector) Builder {
	b.selector = s
	return b
}

// WithEvictor sets the component that evicts frames.
func (b Builder) WithEvictor(e Evictor) Builder {
	b.evictor = e
	return b
}

// WithVerbose prints the boot layout to stderr.
func (b Builder) WithVerbose(v bool) Builder {
	b.verbose = v
	return b
}

// Build creates the coremap. The frames holding the kernel image and the
// coremap itself are marked fixed.
func (b Builder) Build(name string) *Coremap {
	b.parametersMustBeValid()

	numFrames := int(b.storage.Capacity() / b.pageSize)
	firstFree := roundUp(b.firstFree, b.pageSize)
	kernelFrames := int(firstFree / b.pageSize)
	coremapFrames := int(
		roundUp(uint64(numFrames)*b.frameEntrySize, b.pageSize) / b.pageSize)

	fixed := kernelFrames + coremapFrames
	if fixed >= numFrames {
		panic(fmt.Sprintf("not enough RAM: %d frames, %d needed by the kernel",
			numFrames, fixed))
	}

	c := &Coremap{
		name:     name,
		lock:     synch.NewMutex(name + ".lock"),
		storage:  b.storage,
		pageSize: b.pageSize,
		frames:   make([]Frame, numFrames),
		selector: b.selector,
		evictor:  b.evictor,
	}

	for i := 0; i < fixed; i++ {
		c.frames[i] = Frame{State: Fixed, RunLength: 1}
	}
	c.usedFrames = fixed

	if b.verbose {
		fmt.Fprintf(os.Stderr,
			"%s: ram %d bytes, %d frames, %d kernel, %d coremap\n",
			name, b.storage.Capacity(), numFrames, kernelFrames, coremapFrames)
	}

	return c
}

func (b Builder) parametersMustBeValid() {
	if b.storage == nil {
		panic("coremap requires a storage")
	}

	if b.pageSize == 0 || b.pageSize&(b.pageSize-1) != 0 {
		panic("page size must be a power of 2")
	}

	if b.selector == nil {
		panic("coremap requires a victim selector")
	}
}

func roundUp(x, align uint64) uint64 {
	return (x + align - 1) / align * align
}
