package mmu

import "github.com/sarchlab/kernvm/sim/hooking"

// Hook positions of the MMU.
var (
	HookPosFault   = &hooking.HookPos{Name: "PageFault"}
	HookPosEvict   = &hooking.HookPos{Name: "Evict"}
	HookPosSwapIn  = &hooking.HookPos{Name: "SwapIn"}
	HookPosCopy    = &hooking.HookPos{Name: "CopyAddrSpace"}
	HookPosDestroy = &hooking.HookPos{Name: "DestroyAddrSpace"}
	HookPosSbrk    = &hooking.HookPos{Name: "Sbrk"}
)

// Fault outcomes.
const (
	OutcomeZeroFill    = "zero-fill"
	OutcomeSwapIn      = "swap-in"
	OutcomeRefill      = "refill"
	OutcomeSetDirty    = "set-dirty"
	OutcomeViolation   = "access-violation"
	OutcomeIllegal     = "illegal-write"
	OutcomeNoMemory    = "out-of-memory"
	OutcomeNoAddrSpace = "no-address-space"
)

// FaultEvent describes one handled fault.
type FaultEvent struct {
	AddrSpace uint64
	VAddr     uint64
	PAddr     uint64
	Type      string
	Outcome   string
}

// EvictEvent describes one page moved out to swap.
type EvictEvent struct {
	VAddr uint64
	PAddr uint64
	Slot  int
}

// SwapInEvent describes one page brought back from swap.
type SwapInEvent struct {
	AddrSpace uint64
	VAddr     uint64
	PAddr     uint64
	Slot      int
}

// AddrSpaceEvent describes a whole address space operation.
type AddrSpaceEvent struct {
	AddrSpace uint64
	Other     uint64
	Pages     int
}

// SbrkEvent describes a heap move.
type SbrkEvent struct {
	AddrSpace uint64
	OldEnd    uint64
	NewEnd    uint64
}
