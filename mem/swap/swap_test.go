package swap

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/kernvm/mem/physmem"
	"github.com/sarchlab/kernvm/synch"
)

func pattern(seed byte) []byte {
	p := make([]byte, 4096)
	for i := range p {
		p[i] = seed + byte(i%251)
	}

	return p
}

var _ = Describe("Store with a file", func() {
	var (
		storage *physmem.Storage
		store   *Store
		t       *synch.Thread
		path    string
	)

	BeforeEach(func() {
		storage = physmem.NewStorage(16 * 4096)
		t = synch.NewThread("test")
		path = filepath.Join(GinkgoT().TempDir(), "swap.img")

		store = MakeBuilder().
			WithStorage(storage).
			WithOpener(FileOpener{Path: path, Size: 4 * 4096}).
			Build("Swap")
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	It("should open lazily", func() {
		Expect(store.NumSlots(t)).To(Equal(0))
		_, err := os.Stat(path)
		Expect(os.IsNotExist(err)).To(BeTrue())

		_, err = store.WriteOut(t, 0)

		Expect(err).NotTo(HaveOccurred())
		Expect(store.NumSlots(t)).To(Equal(4))
	})

	It("should round trip a page", func() {
		Expect(storage.Write(4096, pattern(7))).To(Succeed())

		slot, err := store.WriteOut(t, 4096)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.InUse(t, slot)).To(BeTrue())

		Expect(store.ReadIn(t, slot, 3*4096)).To(Succeed())

		data, _ := storage.Read(3*4096, 4096)
		Expect(data).To(Equal(pattern(7)))
		Expect(store.InUse(t, slot)).To(BeFalse())
		Expect(store.UsedSlots(t)).To(Equal(0))
	})

	It("should store slot i at offset i*PageSize", func() {
		Expect(storage.Write(0, pattern(1))).To(Succeed())
		Expect(storage.Write(4096, pattern(2))).To(Succeed())

		s0, _ := store.WriteOut(t, 0)
		s1, _ := store.WriteOut(t, 4096)

		Expect(s0).To(Equal(0))
		Expect(s1).To(Equal(1))
		raw, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(bytes.Equal(raw[4096:8192], pattern(2))).To(BeTrue())
	})

	It("should report full", func() {
		for i := 0; i < 4; i++ {
			_, err := store.WriteOut(t, 0)
			Expect(err).NotTo(HaveOccurred())
		}

		_, err := store.WriteOut(t, 0)

		Expect(err).To(MatchError(ErrSwapFull))
		Expect(store.UsedSlots(t)).To(Equal(4))
	})

	It("should reuse a freed slot", func() {
		s0, _ := store.WriteOut(t, 0)
		_, _ = store.WriteOut(t, 0)

		store.FreeSlot(t, s0)
		slot, err := store.WriteOut(t, 0)

		Expect(err).NotTo(HaveOccurred())
		Expect(slot).To(Equal(s0))
	})

	It("should panic when freeing a free slot", func() {
		slot, _ := store.WriteOut(t, 0)
		store.FreeSlot(t, slot)

		Expect(func() { store.FreeSlot(t, slot) }).To(Panic())
	})

	It("should panic when reading a free slot", func() {
		_, _ = store.WriteOut(t, 0)

		Expect(func() { _ = store.ReadIn(t, 2, 0) }).To(Panic())
	})

	It("should keep the bitmap consistent under concurrent use", func() {
		var wg sync.WaitGroup

		slots := make(chan int, 4)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()

				th := synch.NewThread("swapper")
				slot, err := store.WriteOut(th, 0)
				Expect(err).NotTo(HaveOccurred())
				slots <- slot
			}()
		}
		wg.Wait()
		close(slots)

		seen := map[int]bool{}
		for s := range slots {
			Expect(seen[s]).To(BeFalse())
			seen[s] = true
		}
		Expect(store.UsedSlots(t)).To(Equal(4))
	})
})

var _ = Describe("Store with a failing backing", func() {
	var (
		mockCtrl *gomock.Controller
		backing  *MockBacking
		storage  *physmem.Storage
		store    *Store
		t        *synch.Thread
		opens    int
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		backing = NewMockBacking(mockCtrl)
		storage = physmem.NewStorage(4 * 4096)
		t = synch.NewThread("test")
		opens = 0

		store = MakeBuilder().
			WithStorage(storage).
			WithOpener(OpenerFunc(func(name string) (Backing, error) {
				opens++
				Expect(name).To(Equal(DefaultDeviceName))
				return backing, nil
			})).
			Build("Swap")
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should free the slot if the write fails", func() {
		backing.EXPECT().Size().Return(int64(2*4096), nil)
		backing.EXPECT().
			WriteAt(gomock.Any(), int64(0)).
			Return(0, errors.New("disk on fire"))

		_, err := store.WriteOut(t, 0)

		Expect(err).To(HaveOccurred())
		Expect(store.InUse(t, 0)).To(BeFalse())
		Expect(store.UsedSlots(t)).To(Equal(0))
	})

	It("should keep the slot if the read fails", func() {
		backing.EXPECT().Size().Return(int64(2*4096), nil)
		backing.EXPECT().WriteAt(gomock.Any(), int64(0)).Return(4096, nil)
		backing.EXPECT().
			ReadAt(gomock.Any(), int64(0)).
			Return(100, errors.New("bad sector"))
		Expect(storage.Write(4096, []byte{9, 9})).To(Succeed())

		slot, err := store.WriteOut(t, 0)
		Expect(err).NotTo(HaveOccurred())

		err = store.ReadIn(t, slot, 4096)

		Expect(err).To(HaveOccurred())
		Expect(store.InUse(t, slot)).To(BeTrue())
		data, _ := storage.Read(4096, 2)
		Expect(data).To(Equal([]byte{9, 9}))
	})

	It("should treat a short read as failure", func() {
		backing.EXPECT().Size().Return(int64(2*4096), nil)
		backing.EXPECT().WriteAt(gomock.Any(), gomock.Any()).Return(4096, nil)
		backing.EXPECT().ReadAt(gomock.Any(), gomock.Any()).Return(10, nil)

		slot, _ := store.WriteOut(t, 0)
		err := store.ReadIn(t, slot, 0)

		Expect(err).To(HaveOccurred())
		Expect(store.InUse(t, slot)).To(BeTrue())
	})

	It("should disable swap for good if opening fails", func() {
		store = MakeBuilder().
			WithStorage(storage).
			WithOpener(OpenerFunc(func(string) (Backing, error) {
				opens++
				return nil, errors.New("no such device")
			})).
			Build("Swap")

		_, err1 := store.WriteOut(t, 0)
		_, err2 := store.WriteOut(t, 0)

		Expect(err1).To(MatchError(ErrSwapDisabled))
		Expect(err2).To(MatchError(ErrSwapDisabled))
		Expect(opens).To(Equal(1))
		Expect(store.Disabled(t)).To(BeTrue())
		Expect(store.NumSlots(t)).To(Equal(0))
	})

	It("should disable swap if the device is too small", func() {
		backing.EXPECT().Size().Return(int64(100), nil)

		_, err := store.WriteOut(t, 0)

		Expect(err).To(MatchError(ErrSwapDisabled))
	})
})
