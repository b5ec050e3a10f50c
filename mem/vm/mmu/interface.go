package mmu

import "github.com/sarchlab/kernvm/mem/vm"

// SegfaultStatus is the signal number a process is killed with when it
// makes an illegal access.
const SegfaultStatus = 11

// A FaultContext is the process on whose behalf a fault is handled.
type FaultContext interface {
	// AddrSpace returns the current address space, or nil if there is none.
	AddrSpace() *vm.AddrSpace

	// ForceExit terminates the process with a signal.
	ForceExit(status int)
}

// FaultType tells what caused a fault.
type FaultType int

// Fault types, numbered as the trap codes of the hardware.
const (
	// FaultRead is a read with no TLB entry.
	FaultRead FaultType = iota

	// FaultWrite is a write with no TLB entry.
	FaultWrite

	// FaultReadOnly is a write through a TLB entry that is not dirty.
	FaultReadOnly
)

func (f FaultType) String() string {
	switch f {
	case FaultRead:
		return "read"
	case FaultWrite:
		return "write"
	case FaultReadOnly:
		return "readonly"
	default:
		return "unknown"
	}
}

// IsMiss tells if the fault happened because no TLB entry exists.
func (f FaultType) IsMiss() bool {
	return f == FaultRead || f == FaultWrite
}
