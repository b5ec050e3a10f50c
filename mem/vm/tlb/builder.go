package tlb

import (
	"fmt"

	"github.com/sarchlab/kernvm/mem/vm/tlb/internal"
	"github.com/sarchlab/kernvm/synch"
)

// A Builder can build a Machine and its TLBs.
type Builder struct {
	numCores   int
	numEntries int
	pageSize   uint64
}

// MakeBuilder returns a Builder
func MakeBuilder() Builder {
	return Builder{
		numCores:   1,
		numEntries: 64,
		pageSize:   4096,
	}
}

// WithNumCores sets the number of cores.
func (b Builder) WithNumCores(n int) Builder {
	b.numCores = n
	return b
}

// WithNumEntries sets the number of entries of each TLB. TLBs are fully
// associative.
func (b Builder) WithNumEntries(n int) Builder {
	b.numEntries = n
	return b
}

// WithPageSize sets the page size that the TLBs work with.
func (b Builder) WithPageSize(n uint64) Builder {
	if n == 0 || (n&(n-1)) != 0 {
		panic("page size must be a power of 2")
	}

	b.pageSize = n

	return b
}

// Build creates the machine.
func (b Builder) Build(name string) *Machine {
	if b.numCores <= 0 {
		panic("machine requires at least one core")
	}

	if b.numEntries <= 0 {
		panic("TLB requires at least one entry")
	}

	m := &Machine{name: name}

	for i := 0; i < b.numCores; i++ {
		m.cores = append(m.cores, &Core{
			id:       i,
			pageSize: b.pageSize,
			cpu:      synch.NewMutex(fmt.Sprintf("%s.Core[%d]", name, i)),
			set:      internal.NewSet(b.numEntries),
		})
	}

	return m
}
