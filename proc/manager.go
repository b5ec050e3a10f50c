package proc

import (
	"errors"
	"fmt"

	"github.com/sarchlab/kernvm/mem/vm/mmu"
	"github.com/sarchlab/kernvm/mem/vm/tlb"
	"github.com/sarchlab/kernvm/synch"
)

// PID limits.
const (
	PIDMin PID = 2
	PIDMax PID = 32767
)

var (
	// ErrNoPID is returned when the process table is full.
	ErrNoPID = errors.New("out of process IDs")

	// ErrNoSuchProcess is returned when waiting for a process that is not
	// a child of the caller.
	ErrNoSuchProcess = errors.New("no such process")
)

// A Manager owns the process table.
type Manager struct {
	mmu   *mmu.MMU
	lock  *synch.Mutex
	procs map[PID]*Process
	next  PID
}

// NewManager creates an empty process table.
func NewManager(m *mmu.MMU) *Manager {
	return &Manager{
		mmu:   m,
		lock:  synch.NewMutex("ProcTable"),
		procs: make(map[PID]*Process),
		next:  PIDMin,
	}
}

// Spawn creates a process and loads a program into it.
func (pm *Manager) Spawn(
	t *synch.Thread,
	core *tlb.Core,
	name string,
	loader Loader,
) (*Process, error) {
	p, err := pm.newProcess(t, name, 0)
	if err != nil {
		return nil, err
	}

	if _, _, err := p.Execv(t, core, loader); err != nil {
		pm.remove(t, p.pid)
		return nil, err
	}

	return p, nil
}

// Get finds a process by PID.
func (pm *Manager) Get(t *synch.Thread, pid PID) (*Process, bool) {
	pm.lock.Acquire(t)
	defer pm.lock.Release(t)

	p, found := pm.procs[pid]

	return p, found
}

// Count returns the number of processes in the table.
func (pm *Manager) Count(t *synch.Thread) int {
	pm.lock.Acquire(t)
	defer pm.lock.Release(t)

	return len(pm.procs)
}

// WaitPID waits for the child pid of parent to exit, removes it from the
// table, and returns its wait status.
func (pm *Manager) WaitPID(t *synch.Thread, parent *Process, pid PID) (int, error) {
	child, found := pm.Get(t, pid)
	if !found || child.ppid != parent.pid || pid == parent.pid {
		return 0, fmt.Errorf("%w: %d", ErrNoSuchProcess, pid)
	}

	status := child.WaitExit(t)
	pm.remove(t, pid)

	return status, nil
}

// Reap waits for a process started by Spawn to exit, removes it from the
// table, and returns its wait status.
func (pm *Manager) Reap(t *synch.Thread, pid PID) (int, error) {
	p, found := pm.Get(t, pid)
	if !found || p.ppid != 0 {
		return 0, fmt.Errorf("%w: %d", ErrNoSuchProcess, pid)
	}

	status := p.WaitExit(t)
	pm.remove(t, pid)

	return status, nil
}

func (pm *Manager) newProcess(t *synch.Thread, name string, ppid PID) (*Process, error) {
	pm.lock.Acquire(t)
	defer pm.lock.Release(t)

	pid, ok := pm.allocPID()
	if !ok {
		return nil, ErrNoPID
	}

	p := &Process{
		pid:      pid,
		ppid:     ppid,
		name:     name,
		manager:  pm,
		exitSema: synch.NewSemaphore(fmt.Sprintf("%s[%d].exit", name, pid), 0),
	}
	pm.procs[pid] = p

	return p, nil
}

func (pm *Manager) allocPID() (PID, bool) {
	for range PIDMax - PIDMin + 1 {
		pid := pm.next

		pm.next++
		if pm.next > PIDMax {
			pm.next = PIDMin
		}

		if _, used := pm.procs[pid]; !used {
			return pid, true
		}
	}

	return 0, false
}

func (pm *Manager) remove(t *synch.Thread, pid PID) {
	pm.lock.Acquire(t)
	defer pm.lock.Release(t)

	delete(pm.procs, pid)
}
