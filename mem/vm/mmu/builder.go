package mmu

import (
	"github.com/sarchlab/kernvm/mem/coremap"
	"github.com/sarchlab/kernvm/mem/physmem"
	"github.com/sarchlab/kernvm/mem/swap"
	"github.com/sarchlab/kernvm/mem/vm"
	"github.com/sarchlab/kernvm/mem/vm/tlb"
)

// A Builder can build an MMU.
type Builder struct {
	coremap *coremap.Coremap
	swap    *swap.Store
	machine *tlb.Machine
	storage *physmem.Storage
}

// MakeBuilder creates a new builder
func MakeBuilder() Builder {
	return Builder{}
}

// WithCoremap sets the frame allocator.
func (b Builder) WithCoremap(c *coremap.Coremap) Builder {
	b.coremap = c
	return b
}

// WithSwap sets the swap store. Without one, running out of frames is a hard
// out-of-memory error.
func (b Builder) WithSwap(s *swap.Store) Builder {
	b.swap = s
	return b
}

// WithMachine sets the cores whose TLBs the MMU manages.
func (b Builder) WithMachine(m *tlb.Machine) Builder {
	b.machine = m
	return b
}

// WithStorage sets the physical memory. It defaults to the one of the
// coremap.
func (b Builder) WithStorage(s *physmem.Storage) Builder {
	b.storage = s
	return b
}

// Build creates the MMU and registers it as the evictor of the coremap.
func (b Builder) Build(name string) *MMU {
	b.parametersMustBeValid()

	storage := b.storage
	if storage == nil {
		storage = b.coremap.Storage()
	}

	m := &MMU{
		name:     name,
		pageSize: vm.PageSize,
		coremap:  b.coremap,
		swap:     b.swap,
		machine:  b.machine,
		storage:  storage,
	}

	if b.swap != nil {
		b.coremap.SetEvictor(m)
	}

	return m
}

func (b Builder) parametersMustBeValid() {
	if b.coremap == nil {
		panic("MMU requires a coremap")
	}

	if b.machine == nil {
		panic("MMU requires a machine")
	}

	if b.coremap.PageSize() != vm.PageSize {
		panic("coremap page size does not match the VM page size")
	}
}
