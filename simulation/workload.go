package simulation

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/kernvm/mem/vm"
	"github.com/sarchlab/kernvm/mem/vm/tlb"
	"github.com/sarchlab/kernvm/monitoring"
	"github.com/sarchlab/kernvm/proc"
	"github.com/sarchlab/kernvm/synch"
)

// Where the workload program is loaded.
const (
	TextBase = uint64(0x400000)
	DataBase = uint64(0x10000000)
)

// ErrCorrupted is returned when user memory does not read back what was
// written to it.
var ErrCorrupted = errors.New("user memory corrupted")

// A Workload runs processes that fill their memory with patterns and check
// them back, while forking children and moving their heaps.
type Workload struct {
	NumProcs  int
	DataPages int
	HeapPages int
	Forks     int
}

// WorkloadResult summarizes a finished workload.
type WorkloadResult struct {
	Processes     int
	PagesWritten  int
	PagesVerified int
	Statuses      []int
}

type workloadCounters struct {
	processes atomic.Int64
	written   atomic.Int64
	verified  atomic.Int64

	bar *monitoring.ProgressBar
}

func (c *workloadCounters) started() {
	c.processes.Add(1)

	if c.bar != nil {
		c.bar.ProcessStarted()
	}
}

func (c *workloadCounters) exited(err error) {
	if c.bar != nil {
		c.bar.ProcessExited(err != nil)
	}
}

func (c *workloadCounters) wrote() {
	c.written.Add(1)

	if c.bar != nil {
		c.bar.AddPagesWritten(1)
	}
}

func (c *workloadCounters) checked() {
	c.verified.Add(1)

	if c.bar != nil {
		c.bar.AddPagesVerified(1)
	}
}

// RunWorkload runs w to completion. Every process runs on its own kernel
// thread.
func (s *Simulation) RunWorkload(w Workload) (WorkloadResult, error) {
	if w.NumProcs < 1 || w.DataPages < 1 {
		return WorkloadResult{}, fmt.Errorf(
			"%w: workload needs processes and data pages", vm.ErrInvalid)
	}

	var (
		counters workloadCounters
		wg       sync.WaitGroup
		errs     = make([]error, w.NumProcs)
		statuses = make([]int, w.NumProcs)
	)

	if s.monitor != nil {
		total := uint64(w.NumProcs * (1 + w.Forks))
		counters.bar = s.monitor.CreateProgressBar("workload", total)
		defer s.monitor.CompleteProgressBar(counters.bar)
	}

	for i := range w.NumProcs {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			statuses[i], errs[i] = s.runProcess(w, i, &counters)
		}(i)
	}

	wg.Wait()

	result := WorkloadResult{
		Processes:     int(counters.processes.Load()),
		PagesWritten:  int(counters.written.Load()),
		PagesVerified: int(counters.verified.Load()),
		Statuses:      statuses,
	}

	return result, errors.Join(errs...)
}

func (w Workload) program(seed int) proc.SegmentLoader {
	return proc.SegmentLoader{
		Segments: []proc.Segment{
			{
				VAddr:   TextBase,
				MemSize: vm.PageSize,
				Data:    []byte(fmt.Sprintf("worker %d", seed)),
				Perm:    vm.PermRead | vm.PermExec,
			},
			{
				VAddr:   DataBase,
				MemSize: uint64(w.DataPages) * vm.PageSize,
				Perm:    vm.PermRead | vm.PermWrite,
			},
		},
		Entry: TextBase,
	}
}

func pattern(seed, page int) []byte {
	p := make([]byte, vm.PageSize)
	for i := range p {
		p[i] = byte(seed*131 + page*17 + i%251)
	}

	return p
}

func (s *Simulation) core(i int) *tlb.Core {
	return s.machine.Core(i % s.machine.NumCores())
}

// onCore runs fn with t dispatched on core, switching the core to the
// process first.
func (s *Simulation) onCore(t *synch.Thread, core *tlb.Core, fn func() error) error {
	core.Dispatch(t)
	defer core.Yield(t)

	s.mmu.Activate(core)

	return fn()
}

func (s *Simulation) runProcess(
	w Workload,
	i int,
	counters *workloadCounters,
) (int, error) {
	t := synch.NewThread(fmt.Sprintf("worker%d", i))
	core := s.core(i)
	seed := i + 1

	var p *proc.Process

	err := s.onCore(t, core, func() error {
		var err error
		p, err = s.procs.Spawn(t, core, fmt.Sprintf("worker%d", i), w.program(seed))

		return err
	})
	if err != nil {
		return 0, err
	}

	counters.started()

	err = s.exercise(t, core, p, w, seed, counters)
	defer counters.exited(err)

	if !p.Exited() {
		code := 0
		if err != nil {
			code = 1
		}

		_ = s.onCore(t, core, func() error {
			p.Exit(t, core, code)
			return nil
		})
	}

	status, reapErr := s.procs.Reap(t, p.PID())

	return status, errors.Join(err, reapErr)
}

func (s *Simulation) exercise(
	t *synch.Thread,
	core *tlb.Core,
	p *proc.Process,
	w Workload,
	seed int,
	counters *workloadCounters,
) error {
	if err := s.fillPages(t, core, p, DataBase, w.DataPages, seed, counters); err != nil {
		return err
	}

	if err := s.checkPages(t, core, p, DataBase, w.DataPages, seed, counters); err != nil {
		return err
	}

	if err := s.touchStack(t, core, p, seed, counters); err != nil {
		return err
	}

	if w.HeapPages > 0 {
		if err := s.exerciseHeap(t, core, p, w.HeapPages, seed, counters); err != nil {
			return err
		}
	}

	for f := range w.Forks {
		if err := s.forkAndWait(t, core, p, w, seed, f, counters); err != nil {
			return err
		}
	}

	return s.checkPages(t, core, p, DataBase, w.DataPages, seed, counters)
}

func (s *Simulation) fillPages(
	t *synch.Thread,
	core *tlb.Core,
	p *proc.Process,
	base uint64,
	n, seed int,
	counters *workloadCounters,
) error {
	for page := range n {
		vaddr := base + uint64(page)*vm.PageSize

		err := s.onCore(t, core, func() error {
			return p.Store(t, core, vaddr, pattern(seed, page))
		})
		if err != nil {
			return fmt.Errorf("process %d writing 0x%x: %w", p.PID(), vaddr, err)
		}

		counters.wrote()
	}

	return nil
}

func (s *Simulation) checkPages(
	t *synch.Thread,
	core *tlb.Core,
	p *proc.Process,
	base uint64,
	n, seed int,
	counters *workloadCounters,
) error {
	buf := make([]byte, vm.PageSize)

	for page := range n {
		vaddr := base + uint64(page)*vm.PageSize

		err := s.onCore(t, core, func() error {
			return p.Load(t, core, vaddr, buf)
		})
		if err != nil {
			return fmt.Errorf("process %d reading 0x%x: %w", p.PID(), vaddr, err)
		}

		if !bytes.Equal(buf, pattern(seed, page)) {
			return fmt.Errorf("%w: process %d page 0x%x",
				ErrCorrupted, p.PID(), vaddr)
		}

		counters.checked()
	}

	return nil
}

func (s *Simulation) touchStack(
	t *synch.Thread,
	core *tlb.Core,
	p *proc.Process,
	seed int,
	counters *workloadCounters,
) error {
	base := vm.UserStack - vm.PageSize
	if err := s.fillPages(t, core, p, base, 1, seed, counters); err != nil {
		return err
	}

	return s.checkPages(t, core, p, base, 1, seed, counters)
}

func (s *Simulation) exerciseHeap(
	t *synch.Thread,
	core *tlb.Core,
	p *proc.Process,
	pages, seed int,
	counters *workloadCounters,
) error {
	amount := int64(pages) * int64(vm.PageSize)

	var start uint64

	err := s.onCore(t, core, func() error {
		var err error
		start, err = p.Sbrk(t, core, amount)

		return err
	})
	if err != nil {
		return fmt.Errorf("process %d growing heap: %w", p.PID(), err)
	}

	if err := s.fillPages(t, core, p, start, pages, seed+7, counters); err != nil {
		return err
	}

	if err := s.checkPages(t, core, p, start, pages, seed+7, counters); err != nil {
		return err
	}

	return s.onCore(t, core, func() error {
		_, err := p.Sbrk(t, core, -amount)
		return err
	})
}

func (s *Simulation) forkAndWait(
	t *synch.Thread,
	core *tlb.Core,
	p *proc.Process,
	w Workload,
	seed, round int,
	counters *workloadCounters,
) error {
	child, err := p.Fork(t)
	if err != nil {
		return fmt.Errorf("process %d forking: %w", p.PID(), err)
	}

	counters.started()

	childErr := make(chan error, 1)

	go func() {
		ct := synch.NewThread(fmt.Sprintf("child%d.%d", seed, round))
		cc := s.core(seed + round + 1)

		err := s.checkPages(ct, cc, child, DataBase, w.DataPages, seed, counters)
		if err == nil {
			err = s.fillPages(ct, cc, child, DataBase, 1, seed+1000, counters)
		}

		code := round + 1
		if err != nil {
			code = 100
		}

		_ = s.onCore(ct, cc, func() error {
			if !child.Exited() {
				child.Exit(ct, cc, code)
			}

			return nil
		})

		counters.exited(err)
		childErr <- err
	}()

	status, err := s.procs.WaitPID(t, p, child.PID())
	if err != nil {
		return err
	}

	if err := <-childErr; err != nil {
		return fmt.Errorf("child of process %d: %w", p.PID(), err)
	}

	if !proc.WIfExited(status) || proc.WExitStatus(status) != round+1 {
		return fmt.Errorf("child of process %d ended with status 0x%x",
			p.PID(), status)
	}

	return s.checkPages(t, core, p, DataBase, 1, seed, counters)
}
