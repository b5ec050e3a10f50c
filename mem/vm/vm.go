// Package vm provides the address spaces and page tables of user processes.
package vm

import (
	"errors"

	"github.com/sarchlab/kernvm/mem/coremap"
)

// Machine constants.
const (
	Log2PageSize = 12
	PageSize     = uint64(1) << Log2PageSize
	PageFrame    = ^(PageSize - 1)

	// UserStack is the top of user memory. The stack grows down from it.
	UserStack = uint64(0x80000000)

	// StackPages is the fixed size of the user stack.
	StackPages = 1000

	// StackBase is the lowest address of the user stack.
	StackBase = UserStack - StackPages*PageSize
)

// Errors reported by the VM system.
var (
	ErrOutOfMemory     = coremap.ErrOutOfMemory
	ErrAccessViolation = errors.New("address outside of any region")
	ErrIllegalWrite    = errors.New("write to read-only page")
	ErrNoAddrSpace     = errors.New("no address space")
	ErrInvalid         = errors.New("invalid argument")
	ErrSwappedCopy     = errors.New("cannot bring swapped page back for copy")
)

// Error numbers returned to user programs.
const (
	ENOMEM = 3
	EFAULT = 6
	EINVAL = 8
)

// Errno maps a VM error to the error number the syscall layer returns. It
// returns 0 for nil and EFAULT for anything unknown.
func Errno(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrOutOfMemory), errors.Is(err, ErrSwappedCopy):
		return ENOMEM
	case errors.Is(err, ErrInvalid):
		return EINVAL
	default:
		return EFAULT
	}
}

// PageAlign rounds addr down to the start of its page.
func PageAlign(addr uint64) uint64 {
	return addr & PageFrame
}

// PageRoundUp rounds n up to a whole number of pages.
func PageRoundUp(n uint64) uint64 {
	return (n + PageSize - 1) & PageFrame
}

// Perm holds the access bits of a region, numbered as in ELF program
// headers.
type Perm uint8

// Permission bits.
const (
	PermExec  Perm = 1
	PermWrite Perm = 2
	PermRead  Perm = 4
)

// MakePerm builds a Perm from the three flags.
func MakePerm(r, w, x bool) Perm {
	var p Perm
	if r {
		p |= PermRead
	}

	if w {
		p |= PermWrite
	}

	if x {
		p |= PermExec
	}

	return p
}

// CanRead tells if the read bit is set.
func (p Perm) CanRead() bool { return p&PermRead != 0 }

// CanWrite tells if the write bit is set.
func (p Perm) CanWrite() bool { return p&PermWrite != 0 }

// CanExec tells if the exec bit is set.
func (p Perm) CanExec() bool { return p&PermExec != 0 }

func (p Perm) String() string {
	b := []byte("---")
	if p.CanRead() {
		b[0] = 'r'
	}

	if p.CanWrite() {
		b[1] = 'w'
	}

	if p.CanExec() {
		b[2] = 'x'
	}

	return string(b)
}
