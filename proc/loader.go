package proc

import (
	"fmt"

	"github.com/sarchlab/kernvm/mem/vm"
	"github.com/sarchlab/kernvm/mem/vm/mmu"
	"github.com/sarchlab/kernvm/mem/vm/tlb"
	"github.com/sarchlab/kernvm/synch"
)

// A Loader fills a fresh address space with a program.
type Loader interface {
	// DefineRegions declares the static regions of the program.
	DefineRegions(as *vm.AddrSpace) error

	// Fill writes the program into the image and returns its entry point.
	// It runs while the regions are writable.
	Fill(img *Image) (entry uint64, err error)
}

// An Image is an address space being loaded.
type Image struct {
	t    *synch.Thread
	core *tlb.Core
	mmu  *mmu.MMU
	as   *vm.AddrSpace
	err  error
}

// AddrSpace returns the address space being loaded.
func (img *Image) AddrSpace() *vm.AddrSpace {
	return img.as
}

// ForceExit records that loading tried something illegal.
func (img *Image) ForceExit(status int) {
	img.err = fmt.Errorf("loader killed with signal %d", status)
}

// Write copies data to vaddr.
func (img *Image) Write(vaddr uint64, data []byte) error {
	err := img.mmu.Store(img.t, img.core, img, vaddr, data)
	if err != nil {
		return err
	}

	return img.err
}

// A Segment is one loadable part of a program.
type Segment struct {
	VAddr   uint64
	MemSize uint64
	Data    []byte
	Perm    vm.Perm
}

// SegmentLoader loads a program given as a list of segments. It stands in
// for an executable file loader.
type SegmentLoader struct {
	Segments []Segment
	Entry    uint64
}

// DefineRegions declares one region per segment.
func (l SegmentLoader) DefineRegions(as *vm.AddrSpace) error {
	for _, s := range l.Segments {
		if uint64(len(s.Data)) > s.MemSize {
			return fmt.Errorf("%w: segment at 0x%x is larger in file than in memory",
				vm.ErrInvalid, s.VAddr)
		}

		err := as.DefineRegion(s.VAddr, s.MemSize,
			s.Perm.CanRead(), s.Perm.CanWrite(), s.Perm.CanExec())
		if err != nil {
			return err
		}
	}

	return nil
}

// Fill copies the segment data.
func (l SegmentLoader) Fill(img *Image) (uint64, error) {
	for _, s := range l.Segments {
		if len(s.Data) == 0 {
			continue
		}

		if err := img.Write(s.VAddr, s.Data); err != nil {
			return 0, err
		}
	}

	return l.Entry, nil
}
