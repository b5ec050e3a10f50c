// Package proc provides the processes that own address spaces. It covers
// only what the virtual memory system needs from them: fork, exec, exit,
// wait, heap growth, and user memory access.
package proc

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sarchlab/kernvm/mem/vm"
	"github.com/sarchlab/kernvm/mem/vm/tlb"
	"github.com/sarchlab/kernvm/synch"
)

// PID is a process ID.
type PID int32

// A Process is a user program.
type Process struct {
	pid     PID
	ppid    PID
	name    string
	manager *Manager

	lock synch.Spinlock
	as   *vm.AddrSpace

	killSig  atomic.Int32
	exited   atomic.Bool
	status   int
	exitSema *synch.Semaphore
}

// PID returns the ID of the process.
func (p *Process) PID() PID {
	return p.pid
}

// PPID returns the ID of the parent.
func (p *Process) PPID() PID {
	return p.ppid
}

// Name returns the name of the process.
func (p *Process) Name() string {
	return p.name
}

// AddrSpace returns the current address space.
func (p *Process) AddrSpace() *vm.AddrSpace {
	p.lock.Acquire()
	defer p.lock.Release()

	return p.as
}

func (p *Process) setAddrSpace(as *vm.AddrSpace) *vm.AddrSpace {
	p.lock.Acquire()
	defer p.lock.Release()

	old := p.as
	p.as = as

	return old
}

// ForceExit marks the process to be killed by sig. It may be called with VM
// locks held, so the process is torn down later by its own thread.
func (p *Process) ForceExit(sig int) {
	p.killSig.CompareAndSwap(0, int32(sig))
}

// Killed returns the pending kill signal, if any.
func (p *Process) Killed() (int, bool) {
	sig := p.killSig.Load()
	return int(sig), sig != 0
}

// Exited tells if the process has finished.
func (p *Process) Exited() bool {
	return p.exited.Load()
}

// Load reads user memory. A pending kill is carried out before returning.
func (p *Process) Load(t *synch.Thread, core *tlb.Core, vaddr uint64, buf []byte) error {
	err := p.manager.mmu.Load(t, core, p, vaddr, buf)
	return p.afterAccess(t, core, err)
}

// Store writes user memory. A pending kill is carried out before returning.
func (p *Process) Store(t *synch.Thread, core *tlb.Core, vaddr uint64, data []byte) error {
	err := p.manager.mmu.Store(t, core, p, vaddr, data)
	return p.afterAccess(t, core, err)
}

func (p *Process) afterAccess(t *synch.Thread, core *tlb.Core, err error) error {
	if errors.Is(err, vm.ErrAccessViolation) {
		p.ForceExit(SIGSEGV)
	}

	if sig, killed := p.Killed(); killed && !p.Exited() {
		p.exit(t, core, MakeWaitSig(sig))
	}

	return err
}

// Sbrk moves the heap end by amount and returns the old end.
func (p *Process) Sbrk(t *synch.Thread, core *tlb.Core, amount int64) (uint64, error) {
	as := p.AddrSpace()
	if as == nil {
		return 0, vm.ErrNoAddrSpace
	}

	return p.manager.mmu.Sbrk(t, core, as, amount)
}

// Fork creates a child running a copy of the address space.
func (p *Process) Fork(t *synch.Thread) (*Process, error) {
	as := p.AddrSpace()
	if as == nil {
		return nil, vm.ErrNoAddrSpace
	}

	childAS, err := p.manager.mmu.CopyAddrSpace(t, as)
	if err != nil {
		return nil, err
	}

	child, err := p.manager.newProcess(t, p.name, p.pid)
	if err != nil {
		p.manager.mmu.DestroyAddrSpace(t, nil, childAS)
		return nil, err
	}

	child.setAddrSpace(childAS)

	return child, nil
}

// Execv replaces the address space with a fresh one loaded by loader and
// returns the entry point and the initial stack pointer. If loading fails
// the old address space stays.
func (p *Process) Execv(
	t *synch.Thread,
	core *tlb.Core,
	loader Loader,
) (entry, stackPtr uint64, err error) {
	m := p.manager.mmu
	as := vm.NewAddrSpace()

	if err := loader.DefineRegions(as); err != nil {
		return 0, 0, err
	}

	img := &Image{t: t, core: core, mmu: m, as: as}

	m.Activate(core)
	as.PrepareLoad()
	entry, err = loader.Fill(img)
	as.CompleteLoad()
	m.Activate(core)

	if err != nil {
		m.DestroyAddrSpace(t, core, as)
		return 0, 0, fmt.Errorf("loading %s: %w", p.name, err)
	}

	old := p.setAddrSpace(as)
	if old != nil {
		m.DestroyAddrSpace(t, core, old)
	}

	return entry, as.DefineStack(), nil
}

// Exit finishes the process with an exit code.
func (p *Process) Exit(t *synch.Thread, core *tlb.Core, code int) {
	p.exit(t, core, MakeWaitExit(code))
}

func (p *Process) exit(t *synch.Thread, core *tlb.Core, status int) {
	if p.exited.Swap(true) {
		panic(fmt.Sprintf("process %d exited twice", p.pid))
	}

	if as := p.setAddrSpace(nil); as != nil {
		p.manager.mmu.DestroyAddrSpace(t, core, as)
	}

	p.status = status
	p.exitSema.V()
}

// WaitExit blocks until the process exits and returns its wait status.
func (p *Process) WaitExit(t *synch.Thread) int {
	p.exitSema.P(t)
	status := p.status
	p.exitSema.V()

	return status
}
