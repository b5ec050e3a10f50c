package simulation

import (
	"io"

	"github.com/rs/xid"
	"github.com/sarchlab/kernvm/config"
	"github.com/sarchlab/kernvm/datarecording"
	"github.com/sarchlab/kernvm/mem/coremap"
	"github.com/sarchlab/kernvm/mem/physmem"
	"github.com/sarchlab/kernvm/mem/swap"
	"github.com/sarchlab/kernvm/mem/vm"
	"github.com/sarchlab/kernvm/mem/vm/mmu"
	"github.com/sarchlab/kernvm/mem/vm/tlb"
	"github.com/sarchlab/kernvm/monitoring"
	"github.com/sarchlab/kernvm/proc"
	"github.com/sarchlab/kernvm/sim/hooking"
	"github.com/sarchlab/kernvm/synch"
	"github.com/sarchlab/kernvm/tracing"
)

// Builder can be used to boot a kernel.
type Builder struct {
	cfg        config.Config
	swapOpener swap.Opener
	logWriter  io.Writer
}

// MakeBuilder creates a new builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{
		cfg: config.Default(),
	}
}

// WithConfig sets the machine and the observers to use.
func (b Builder) WithConfig(c config.Config) Builder {
	b.cfg = c
	return b
}

// WithSwapOpener replaces the swap file named in the configuration.
func (b Builder) WithSwapOpener(o swap.Opener) Builder {
	b.swapOpener = o
	return b
}

// WithoutSwap boots a kernel that cannot evict pages.
func (b Builder) WithoutSwap() Builder {
	b.cfg.SwapPages = 0
	return b
}

// WithOutputFileName records events into the given file.
func (b Builder) WithOutputFileName(path string) Builder {
	b.cfg.Record = true
	b.cfg.RecordPath = path

	return b
}

// WithoutMonitoring boots a kernel without the monitoring server.
func (b Builder) WithoutMonitoring() Builder {
	b.cfg.Monitor = false
	return b
}

// WithMonitorPort turns on the monitoring server on the given port.
func (b Builder) WithMonitorPort(port int) Builder {
	b.cfg.Monitor = true
	b.cfg.MonitorPort = port

	return b
}

// WithLogWriter logs every hook invocation of the memory system to w.
func (b Builder) WithLogWriter(w io.Writer) Builder {
	b.logWriter = w
	return b
}

func (b Builder) parametersMustBeValid() {
	if err := b.cfg.Validate(); err != nil {
		panic(err)
	}
}

// Build boots the kernel.
func (b Builder) Build() *Simulation {
	b.parametersMustBeValid()

	s := &Simulation{
		id:  xid.New().String(),
		cfg: b.cfg,
	}

	s.storage = physmem.NewStorage(uint64(b.cfg.RAMPages) * vm.PageSize)
	s.coremap = coremap.MakeBuilder().
		WithStorage(s.storage).
		WithFirstFree(uint64(b.cfg.KernelPages) * vm.PageSize).
		WithVerbose(b.cfg.Verbose).
		Build("Coremap")
	s.machine = tlb.MakeBuilder().
		WithNumCores(b.cfg.NumCores).
		WithNumEntries(b.cfg.TLBEntries).
		Build("Machine")

	mmuBuilder := mmu.MakeBuilder().
		WithCoremap(s.coremap).
		WithMachine(s.machine)

	if opener := b.opener(); opener != nil {
		s.swap = swap.MakeBuilder().
			WithStorage(s.storage).
			WithOpener(opener).
			Build("Swap")
		mmuBuilder = mmuBuilder.WithSwap(s.swap)
	}

	s.mmu = mmuBuilder.Build("MMU")
	s.procs = proc.NewManager(s.mmu)

	s.counter = hooking.NewCountHook(faultOutcome)
	s.attachHook(s.counter)

	if b.logWriter != nil {
		s.attachHook(hooking.NewLogHook(b.logWriter))
	}

	if b.cfg.Record {
		b.buildRecorder(s)
	}

	if b.cfg.Monitor {
		b.buildMonitor(s)
	}

	return s
}

func (b Builder) opener() swap.Opener {
	if b.cfg.SwapPages == 0 {
		return nil
	}

	if b.swapOpener != nil {
		return b.swapOpener
	}

	return swap.FileOpener{
		Path: b.cfg.SwapFile,
		Size: int64(b.cfg.SwapPages) * int64(vm.PageSize),
	}
}

func (b Builder) buildRecorder(s *Simulation) {
	path := b.cfg.RecordPath
	if path == "" {
		path = "kernvm_" + s.id
	}

	s.dataRecorder = datarecording.New(path)
	s.tracer = tracing.NewDBTracer(s.dataRecorder)
	s.attachHook(s.tracer)
}

func (b Builder) buildMonitor(s *Simulation) {
	s.monitor = monitoring.NewMonitor().WithPortNumber(b.cfg.MonitorPort)

	s.monitor.RegisterComponent(s.coremap)
	s.monitor.RegisterComponent(s.machine)
	s.monitor.RegisterComponent(s.mmu)

	s.monitor.RegisterStats("coremap", func() any {
		return s.coremap.Stats(synch.NewThread("monitor"))
	})
	s.monitor.RegisterStats("tlb", func() any {
		return s.machine.Stats()
	})
	s.monitor.RegisterStats("mmu", func() any {
		return s.mmu.Stats()
	})
	s.monitor.RegisterStats("events", func() any {
		return s.EventCounts()
	})

	if s.swap != nil {
		s.monitor.RegisterComponent(s.swap)
		s.monitor.RegisterStats("swap", func() any {
			return s.SwapStats(synch.NewThread("monitor"))
		})
	}

	s.monitorURL = s.monitor.StartServer()
}
