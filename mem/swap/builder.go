package swap

import (
	"github.com/sarchlab/kernvm/mem/physmem"
	"github.com/sarchlab/kernvm/synch"
)

// A Builder can build a swap Store.
type Builder struct {
	storage  *physmem.Storage
	pageSize uint64
	device   string
	opener   Opener
}

// MakeBuilder creates a Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		pageSize: 4096,
		device:   DefaultDeviceName,
	}
}

// WithStorage sets the physical memory pages are moved from and to.
func (b Builder) WithStorage(s *physmem.Storage) Builder {
	b.storage = s
	return b
}

// WithPageSize sets the slot size.
func (b Builder) WithPageSize(pageSize uint64) Builder {
	b.pageSize = pageSize
	return b
}

// WithDeviceName sets the name passed to the opener.
func (b Builder) WithDeviceName(name string) Builder {
	b.device = name
	return b
}

// WithOpener sets how the backing object is opened.
func (b Builder) WithOpener(o Opener) Builder {
	b.opener = o
	return b
}

// Build creates the store. The backing object is not opened until the first
// swap operation.
func (b Builder) Build(name string) *Store {
	if b.storage == nil {
		panic("swap store requires a storage")
	}

	if b.opener == nil {
		panic("swap store requires an opener")
	}

	return &Store{
		name:     name,
		device:   b.device,
		opener:   b.opener,
		storage:  b.storage,
		pageSize: b.pageSize,
		lock:     synch.NewMutex(name + ".lock"),
	}
}
