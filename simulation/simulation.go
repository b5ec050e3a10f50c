// Package simulation boots a kernel: physical memory, the coremap, swap, the
// cores and their TLBs, the MMU, and the process table, together with the
// optional recorder and monitor.
package simulation

import (
	"github.com/sarchlab/kernvm/config"
	"github.com/sarchlab/kernvm/datarecording"
	"github.com/sarchlab/kernvm/mem/coremap"
	"github.com/sarchlab/kernvm/mem/physmem"
	"github.com/sarchlab/kernvm/mem/swap"
	"github.com/sarchlab/kernvm/mem/vm/mmu"
	"github.com/sarchlab/kernvm/mem/vm/tlb"
	"github.com/sarchlab/kernvm/monitoring"
	"github.com/sarchlab/kernvm/proc"
	"github.com/sarchlab/kernvm/sim/hooking"
	"github.com/sarchlab/kernvm/synch"
	"github.com/sarchlab/kernvm/tracing"
)

// A Simulation is a booted kernel.
type Simulation struct {
	id  string
	cfg config.Config

	storage *physmem.Storage
	coremap *coremap.Coremap
	swap    *swap.Store
	machine *tlb.Machine
	mmu     *mmu.MMU
	procs   *proc.Manager
	counter *hooking.CountHook

	dataRecorder datarecording.DataRecorder
	tracer       *tracing.DBTracer
	monitor      *monitoring.Monitor
	monitorURL   string
}

// SwapStats reports the use of the swap store.
type SwapStats struct {
	Slots    int
	Used     int
	Disabled bool
}

// Stats is a snapshot of the whole memory system.
type Stats struct {
	Coremap coremap.Stats
	Swap    SwapStats
	TLB     tlb.Stats
	MMU     mmu.Stats
}

// ID returns the unique ID of the run.
func (s *Simulation) ID() string {
	return s.id
}

// Config returns the configuration the kernel booted with.
func (s *Simulation) Config() config.Config {
	return s.cfg
}

// Storage returns the physical memory.
func (s *Simulation) Storage() *physmem.Storage {
	return s.storage
}

// Coremap returns the frame allocator.
func (s *Simulation) Coremap() *coremap.Coremap {
	return s.coremap
}

// Swap returns the swap store. It is nil if the kernel runs without swap.
func (s *Simulation) Swap() *swap.Store {
	return s.swap
}

// Machine returns the cores.
func (s *Simulation) Machine() *tlb.Machine {
	return s.machine
}

// MMU returns the virtual memory manager.
func (s *Simulation) MMU() *mmu.MMU {
	return s.mmu
}

// Processes returns the process table.
func (s *Simulation) Processes() *proc.Manager {
	return s.procs
}

// DataRecorder returns the event recorder, if recording is on.
func (s *Simulation) DataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// Tracer returns the tracer feeding the recorder, if recording is on.
func (s *Simulation) Tracer() *tracing.DBTracer {
	return s.tracer
}

// Monitor returns the monitoring server, if monitoring is on.
func (s *Simulation) Monitor() *monitoring.Monitor {
	return s.monitor
}

// MonitorURL returns where the monitoring server listens.
func (s *Simulation) MonitorURL() string {
	return s.monitorURL
}

// EventCounts is the number of memory events seen per hook position and per
// fault outcome.
type EventCounts struct {
	Positions map[string]uint64
	Outcomes  map[string]uint64
}

// EventCounts returns how often each memory event happened.
func (s *Simulation) EventCounts() EventCounts {
	positions, outcomes := s.counter.Snapshot()

	return EventCounts{Positions: positions, Outcomes: outcomes}
}

func faultOutcome(ctx hooking.HookCtx) string {
	if e, ok := ctx.Item.(mmu.FaultEvent); ok {
		return e.Outcome
	}

	return ""
}

// SwapStats reports the use of the swap store.
func (s *Simulation) SwapStats(t *synch.Thread) SwapStats {
	if s.swap == nil {
		return SwapStats{Disabled: true}
	}

	return SwapStats{
		Slots:    s.swap.NumSlots(t),
		Used:     s.swap.UsedSlots(t),
		Disabled: s.swap.Disabled(t),
	}
}

// Stats takes a snapshot of every counter of the memory system.
func (s *Simulation) Stats(t *synch.Thread) Stats {
	return Stats{
		Coremap: s.coremap.Stats(t),
		Swap:    s.SwapStats(t),
		TLB:     s.machine.Stats(),
		MMU:     s.mmu.Stats(),
	}
}

func (s *Simulation) attachHook(h hooking.Hook) {
	s.coremap.AcceptHook(h)
	s.mmu.AcceptHook(h)

	if s.swap != nil {
		s.swap.AcceptHook(h)
	}
}

// Terminate flushes the recorder and closes the swap device.
func (s *Simulation) Terminate() error {
	if s.tracer != nil {
		s.tracer.Terminate()
	}

	if s.dataRecorder != nil {
		if err := s.dataRecorder.Close(); err != nil {
			return err
		}
	}

	if s.swap != nil {
		return s.swap.Close()
	}

	return nil
}
