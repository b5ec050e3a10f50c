package mmu

import (
	"errors"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/kernvm/mem/coremap"
	"github.com/sarchlab/kernvm/mem/physmem"
	"github.com/sarchlab/kernvm/mem/swap"
	"github.com/sarchlab/kernvm/mem/vm"
	"github.com/sarchlab/kernvm/mem/vm/tlb"
	"github.com/sarchlab/kernvm/sim/hooking"
	"github.com/sarchlab/kernvm/synch"
)

const (
	codeBase = uint64(0x400000)
	dataBase = uint64(0x10000000)
	numUser  = 6
)

type fakeProc struct {
	as     *vm.AddrSpace
	status int
	killed bool
}

func (p *fakeProc) AddrSpace() *vm.AddrSpace {
	return p.as
}

func (p *fakeProc) ForceExit(status int) {
	p.killed = true
	p.status = status
}

type countingHook struct {
	sync.Mutex
	counts map[string]int
}

func (h *countingHook) Func(ctx hooking.HookCtx) {
	h.Lock()
	defer h.Unlock()

	h.counts[ctx.Pos.Name]++
}

func pagePattern(seed int) []byte {
	p := make([]byte, vm.PageSize)
	for i := range p {
		p[i] = byte(seed*31 + i%253)
	}

	return p
}

func newAddrSpace() *vm.AddrSpace {
	as := vm.NewAddrSpace()
	Expect(as.DefineRegion(codeBase, 2*vm.PageSize, true, false, true)).
		To(Succeed())
	Expect(as.DefineRegion(dataBase, 8*vm.PageSize, true, true, false)).
		To(Succeed())

	return as
}

func dataPage(i int) uint64 {
	return dataBase + uint64(i)*vm.PageSize
}

var _ = Describe("MMU", func() {
	var (
		t         *synch.Thread
		storage   *physmem.Storage
		cm        *coremap.Coremap
		machine   *tlb.Machine
		swapStore *swap.Store
		m         *MMU
		core      *tlb.Core
		proc      *fakeProc
		baseline  uint64
	)

	build := func(opener swap.Opener) {
		storage = physmem.NewStorage((numUser + 2) * vm.PageSize)
		cm = coremap.MakeBuilder().
			WithStorage(storage).
			WithFirstFree(vm.PageSize).
			Build("Coremap")
		machine = tlb.MakeBuilder().
			WithNumCores(3).
			WithNumEntries(4).
			Build("Machine")
		swapStore = swap.MakeBuilder().
			WithStorage(storage).
			WithOpener(opener).
			Build("Swap")
		m = MakeBuilder().
			WithCoremap(cm).
			WithSwap(swapStore).
			WithMachine(machine).
			Build("MMU")

		core = machine.Core(0)
		proc = &fakeProc{as: newAddrSpace()}
		baseline = cm.UsedBytes(t)
	}

	expectConsistent := func(as *vm.AddrSpace) {
		as.PageTable().Each(func(_ vm.Handle, pte *vm.PTE) bool {
			_, resident := pte.Resident()
			slot, swapped := pte.Swapped()
			Expect(resident).NotTo(Equal(swapped), pte.String())

			if swapped {
				Expect(swapStore.InUse(t, slot)).To(BeTrue())
			}

			return true
		})
	}

	BeforeEach(func() {
		t = synch.NewThread("test")
		build(swap.FileOpener{
			Path: filepath.Join(GinkgoT().TempDir(), "swap.img"),
			Size: 16 * int64(vm.PageSize),
		})
	})

	AfterEach(func() {
		Expect(swapStore.Close()).To(Succeed())
	})

	Context("builder", func() {
		It("should require a coremap and a machine", func() {
			Expect(func() { MakeBuilder().Build("MMU") }).To(Panic())
			Expect(func() {
				MakeBuilder().WithCoremap(cm).Build("MMU")
			}).To(Panic())
		})
	})

	Context("misses", func() {
		It("should zero-fill a new page on a read", func() {
			paddr, err := m.Translate(t, core, proc, dataPage(0)+8, false)

			Expect(err).NotTo(HaveOccurred())
			Expect(paddr % vm.PageSize).To(Equal(uint64(8)))
			e, found := core.Lookup(dataPage(0))
			Expect(found).To(BeTrue())
			Expect(e.Dirty).To(BeFalse())
			Expect(m.Stats().ZeroFills).To(Equal(uint64(1)))
			Expect(cm.UsedBytes(t)).To(Equal(baseline + vm.PageSize))
			Expect(cm.Stats(t).Busy).To(Equal(0))
		})

		It("should install a dirty entry on a write", func() {
			_, err := m.Translate(t, core, proc, dataPage(1), true)

			Expect(err).NotTo(HaveOccurred())
			e, _ := core.Lookup(dataPage(1))
			Expect(e.Dirty).To(BeTrue())
		})

		It("should set the dirty bit on the first write after a read", func() {
			_, _ = m.Translate(t, core, proc, dataPage(0), false)

			_, err := m.Translate(t, core, proc, dataPage(0), true)

			Expect(err).NotTo(HaveOccurred())
			e, _ := core.Lookup(dataPage(0))
			Expect(e.Dirty).To(BeTrue())
			Expect(m.Stats().Faults).To(Equal(uint64(2)))
			Expect(m.Stats().ZeroFills).To(Equal(uint64(1)))
		})

		It("should refill the TLB of another core", func() {
			p0, _ := m.Translate(t, core, proc, dataPage(0), true)

			p1, err := m.Translate(t, machine.Core(1), proc, dataPage(0), true)

			Expect(err).NotTo(HaveOccurred())
			Expect(p1).To(Equal(p0))
			Expect(m.Stats().Refills).To(Equal(uint64(1)))
		})

		It("should grow the stack on demand", func() {
			err := m.Store(t, core, proc, vm.UserStack-4, []byte{1, 2, 3, 4})

			Expect(err).NotTo(HaveOccurred())
		})
	})

	Context("faults that fail", func() {
		var (
			mockCtrl *gomock.Controller
			ctx      *MockFaultContext
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			ctx = NewMockFaultContext(mockCtrl)
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should fail without an address space", func() {
			ctx.EXPECT().AddrSpace().Return(nil)

			err := m.HandleFault(t, core, ctx, FaultRead, dataPage(0))

			Expect(err).To(MatchError(vm.ErrNoAddrSpace))
		})

		It("should report an access violation", func() {
			ctx.EXPECT().AddrSpace().Return(proc.as).AnyTimes()

			err := m.HandleFault(t, core, ctx, FaultRead, 0x1000)

			Expect(err).To(MatchError(vm.ErrAccessViolation))
			Expect(vm.Errno(err)).To(Equal(vm.EFAULT))
			Expect(m.Stats().AccessViolations).To(Equal(uint64(1)))
			Expect(cm.UsedBytes(t)).To(Equal(baseline))
		})

		It("should kill a process that writes to code", func() {
			ctx.EXPECT().AddrSpace().Return(proc.as).AnyTimes()
			ctx.EXPECT().ForceExit(SegfaultStatus)

			err := m.Store(t, core, ctx, codeBase, []byte{0xff})

			Expect(err).To(MatchError(vm.ErrIllegalWrite))
			Expect(m.Stats().IllegalWrites).To(Equal(uint64(1)))
		})

		It("should kill a process that writes through a read-only entry", func() {
			ctx.EXPECT().AddrSpace().Return(proc.as).AnyTimes()
			ctx.EXPECT().ForceExit(SegfaultStatus)
			_, err := m.Translate(t, core, ctx, codeBase, false)
			Expect(err).NotTo(HaveOccurred())

			err = m.HandleFault(t, core, ctx, FaultReadOnly, codeBase)

			Expect(err).To(MatchError(vm.ErrIllegalWrite))
		})
	})

	Context("user memory", func() {
		It("should read back what was written", func() {
			data := []byte("hello, kernel")
			addr := dataPage(1) - 5

			Expect(m.Store(t, core, proc, addr, data)).To(Succeed())

			buf := make([]byte, len(data))
			Expect(m.Load(t, core, proc, addr, buf)).To(Succeed())
			Expect(buf).To(Equal(data))
			Expect(proc.as.PageTable().Len()).To(Equal(2))
		})

		It("should let the loader write to code", func() {
			proc.as.PrepareLoad()
			Expect(m.Store(t, core, proc, codeBase, []byte{0x27})).To(Succeed())
			proc.as.CompleteLoad()
			m.Activate(core)

			buf := []byte{0}
			Expect(m.Load(t, core, proc, codeBase, buf)).To(Succeed())
			Expect(buf).To(Equal([]byte{0x27}))
		})

		It("should fail outside of any region", func() {
			err := m.Load(t, core, proc, 0, make([]byte, 1))

			Expect(err).To(MatchError(vm.ErrAccessViolation))
			Expect(proc.killed).To(BeFalse())
		})
	})

	Context("under memory pressure", func() {
		touchAll := func(n int) {
			for i := 0; i < n; i++ {
				Expect(m.Store(t, core, proc, dataPage(i), pagePattern(i))).
					To(Succeed())
			}
		}

		It("should evict to swap and bring pages back intact", func() {
			touchAll(numUser + 1)

			Expect(m.Stats().Evictions).To(Equal(uint64(1)))
			slot, swapped := proc.as.PageTable().
				Entry(mustLookup(proc.as, dataPage(0))).Swapped()
			Expect(swapped).To(BeTrue())
			Expect(swapStore.InUse(t, slot)).To(BeTrue())
			expectConsistent(proc.as)

			buf := make([]byte, vm.PageSize)
			Expect(m.Load(t, core, proc, dataPage(0), buf)).To(Succeed())
			Expect(buf).To(Equal(pagePattern(0)))
			Expect(swapStore.InUse(t, slot)).To(BeFalse())
			Expect(m.Stats().SwapIns).To(Equal(uint64(1)))

			for i := 0; i < numUser+1; i++ {
				Expect(m.Load(t, core, proc, dataPage(i), buf)).To(Succeed())
				Expect(buf).To(Equal(pagePattern(i)), "page %d", i)
			}
			expectConsistent(proc.as)
		})

		It("should fail with out of memory when swap is unavailable", func() {
			Expect(swapStore.Close()).To(Succeed())
			build(swap.OpenerFunc(func(string) (swap.Backing, error) {
				return nil, errors.New("no disk")
			}))
			touchAll(numUser)

			err := m.Store(t, core, proc, dataPage(numUser), []byte{1})

			Expect(err).To(MatchError(vm.ErrOutOfMemory))
			Expect(vm.Errno(err)).To(Equal(vm.ENOMEM))
			buf := make([]byte, vm.PageSize)
			Expect(m.Load(t, core, proc, dataPage(0), buf)).To(Succeed())
			Expect(buf).To(Equal(pagePattern(0)))
			Expect(cm.Stats(t).Busy).To(Equal(0))
		})

		It("should invoke hooks", func() {
			hook := &countingHook{counts: map[string]int{}}
			m.AcceptHook(hook)

			touchAll(numUser + 1)

			Expect(hook.counts[HookPosFault.Name]).To(Equal(numUser + 1))
			Expect(hook.counts[HookPosEvict.Name]).To(Equal(1))
		})
	})

	Context("copy", func() {
		It("should copy every page into fresh frames", func() {
			Expect(m.Store(t, core, proc, dataPage(0), []byte("parent"))).
				To(Succeed())

			childAS, err := m.CopyAddrSpace(t, proc.as)
			Expect(err).NotTo(HaveOccurred())
			child := &fakeProc{as: childAS}

			m.Activate(core)
			buf := make([]byte, 6)
			Expect(m.Load(t, core, child, dataPage(0), buf)).To(Succeed())
			Expect(string(buf)).To(Equal("parent"))

			Expect(m.Store(t, core, child, dataPage(0), []byte("child!"))).
				To(Succeed())
			m.Activate(core)
			Expect(m.Load(t, core, proc, dataPage(0), buf)).To(Succeed())
			Expect(string(buf)).To(Equal("parent"))

			Expect(childAS.HeapEnd()).To(Equal(proc.as.HeapEnd()))
		})

		It("should bring swapped pages back before copying", func() {
			for i := 0; i < numUser+1; i++ {
				Expect(m.Store(t, core, proc, dataPage(i), pagePattern(i))).
					To(Succeed())
			}

			childAS, err := m.CopyAddrSpace(t, proc.as)
			Expect(err).NotTo(HaveOccurred())

			child := &fakeProc{as: childAS}
			m.Activate(core)
			buf := make([]byte, vm.PageSize)
			for i := 0; i < numUser+1; i++ {
				Expect(m.Load(t, core, child, dataPage(i), buf)).To(Succeed())
				Expect(buf).To(Equal(pagePattern(i)), "page %d", i)
			}
			expectConsistent(proc.as)
			expectConsistent(childAS)
			Expect(cm.Stats(t).Busy).To(Equal(0))
		})

		It("should undo a copy that runs out of memory", func() {
			Expect(swapStore.Close()).To(Succeed())
			build(swap.OpenerFunc(func(string) (swap.Backing, error) {
				return nil, errors.New("no disk")
			}))
			for i := 0; i < 4; i++ {
				Expect(m.Store(t, core, proc, dataPage(i), []byte{byte(i)})).
					To(Succeed())
			}
			used := cm.UsedBytes(t)

			_, err := m.CopyAddrSpace(t, proc.as)

			Expect(err).To(MatchError(vm.ErrOutOfMemory))
			Expect(cm.UsedBytes(t)).To(Equal(used))
			Expect(cm.Stats(t).Busy).To(Equal(0))
		})
	})

	Context("destroy", func() {
		It("should free every frame, slot, and TLB entry", func() {
			for i := 0; i < numUser+2; i++ {
				Expect(m.Store(t, core, proc, dataPage(i), pagePattern(i))).
					To(Succeed())
			}
			_, _ = m.Translate(t, machine.Core(2), proc, dataPage(7), false)
			Expect(swapStore.UsedSlots(t)).To(BeNumerically(">", 0))

			m.DestroyAddrSpace(t, core, proc.as)

			Expect(cm.UsedBytes(t)).To(Equal(baseline))
			Expect(swapStore.UsedSlots(t)).To(Equal(0))
			Expect(proc.as.PageTable().Len()).To(Equal(0))
			for _, c := range machine.Cores() {
				Expect(c.ValidEntries()).To(BeEmpty())
			}
		})
	})

	Context("sbrk", func() {
		var heap uint64

		BeforeEach(func() {
			heap = proc.as.HeapStart()
		})

		It("should grow the heap by a page", func() {
			old, err := m.Sbrk(t, core, proc.as, int64(vm.PageSize))

			Expect(err).NotTo(HaveOccurred())
			Expect(old).To(Equal(heap))
			Expect(proc.as.HeapEnd()).To(Equal(heap + vm.PageSize))
			Expect(m.Store(t, core, proc, heap, []byte{1})).To(Succeed())
		})

		It("should unmap the page when shrinking", func() {
			_, _ = m.Sbrk(t, core, proc.as, int64(vm.PageSize))
			Expect(m.Store(t, core, proc, heap, []byte{1})).To(Succeed())
			used := cm.UsedBytes(t)

			old, err := m.Sbrk(t, core, proc.as, -int64(vm.PageSize))

			Expect(err).NotTo(HaveOccurred())
			Expect(old).To(Equal(heap + vm.PageSize))
			Expect(cm.UsedBytes(t)).To(Equal(used - vm.PageSize))
			_, found := core.Lookup(heap)
			Expect(found).To(BeFalse())
			err = m.Load(t, core, proc, heap, make([]byte, 1))
			Expect(err).To(MatchError(vm.ErrAccessViolation))
		})

		It("should free swap slots of unmapped pages", func() {
			_, _ = m.Sbrk(t, core, proc.as, int64(8*vm.PageSize))
			for i := uint64(0); i < 8; i++ {
				Expect(m.Store(t, core, proc, heap+i*vm.PageSize, []byte{1})).
					To(Succeed())
			}
			Expect(swapStore.UsedSlots(t)).To(BeNumerically(">", 0))

			_, err := m.Sbrk(t, core, proc.as, -int64(8*vm.PageSize))

			Expect(err).NotTo(HaveOccurred())
			swapped := 0
			proc.as.PageTable().Each(func(_ vm.Handle, pte *vm.PTE) bool {
				Expect(pte.VAddr()).To(BeNumerically("<", heap))
				if _, s := pte.Swapped(); s {
					swapped++
				}
				return true
			})
			Expect(swapStore.UsedSlots(t)).To(Equal(swapped))
		})

		It("should reject a misaligned amount", func() {
			old, err := m.Sbrk(t, core, proc.as, 100)

			Expect(err).To(MatchError(vm.ErrInvalid))
			Expect(old).To(Equal(heap))
			Expect(proc.as.HeapEnd()).To(Equal(heap))
		})

		It("should not shrink below the heap start", func() {
			_, err := m.Sbrk(t, core, proc.as, -int64(vm.PageSize))

			Expect(err).To(MatchError(vm.ErrInvalid))
			Expect(vm.Errno(err)).To(Equal(vm.EINVAL))
		})

		It("should not grow into the stack", func() {
			_, err := m.Sbrk(t, core, proc.as, int64(vm.StackBase))

			Expect(err).To(MatchError(vm.ErrOutOfMemory))
			Expect(proc.as.HeapEnd()).To(Equal(heap))
		})

		It("should report the break for a zero amount", func() {
			old, err := m.Sbrk(t, core, proc.as, 0)

			Expect(err).NotTo(HaveOccurred())
			Expect(old).To(Equal(heap))
		})
	})

	Context("concurrent processes", func() {
		It("should keep every process's data intact", func() {
			var wg sync.WaitGroup

			for p := 0; p < 3; p++ {
				wg.Add(1)
				go func(p int) {
					defer GinkgoRecover()
					defer wg.Done()

					th := synch.NewThread("proc")
					c := machine.Core(p)
					me := &fakeProc{as: newAddrSpace()}

					c.Dispatch(th)
					defer c.Yield(th)
					m.Activate(c)

					for i := 0; i < 4; i++ {
						err := m.Store(th, c, me, dataPage(i), pagePattern(p*10+i))
						Expect(err).NotTo(HaveOccurred())
					}

					buf := make([]byte, vm.PageSize)
					for round := 0; round < 3; round++ {
						for i := 0; i < 4; i++ {
							Expect(m.Load(th, c, me, dataPage(i), buf)).To(Succeed())
							Expect(buf).To(Equal(pagePattern(p*10 + i)))
						}
					}

					m.DestroyAddrSpace(th, c, me.as)
				}(p)
			}
			wg.Wait()

			Expect(cm.UsedBytes(t)).To(Equal(baseline))
			Expect(swapStore.UsedSlots(t)).To(Equal(0))
		})
	})
})

func mustLookup(as *vm.AddrSpace, vaddr uint64) vm.Handle {
	h, found := as.PageTable().Lookup(vaddr)
	Expect(found).To(BeTrue())

	return h
}
