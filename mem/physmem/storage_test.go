package physmem_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/kernvm/mem/physmem"
)

var _ = Describe("Storage", func() {
	It("should read and write in single unit", func() {
		storage := physmem.NewStorage(4096)
		Expect(storage.Write(0, []byte{1, 2, 3, 4})).To(Succeed())

		res, _ := storage.Read(0, 2)
		Expect(res).To(Equal([]byte{1, 2}))

		res, _ = storage.Read(1, 2)
		Expect(res).To(Equal([]byte{2, 3}))
	})

	It("should read and write across units", func() {
		storage := physmem.NewStorage(8192)
		Expect(storage.Write(4094, []byte{1, 2, 3, 4})).To(Succeed())

		res, _ := storage.Read(4094, 4)
		Expect(res).To(Equal([]byte{1, 2, 3, 4}))
	})

	It("should read untouched memory as zero", func() {
		storage := physmem.NewStorage(8192)

		res, err := storage.Read(4096, 8)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal(make([]byte, 8)))
	})

	It("should zero and copy pages", func() {
		storage := physmem.NewStorage(3 * 4096)
		Expect(storage.Write(0, []byte{9, 9, 9})).To(Succeed())

		Expect(storage.Copy(4096, 0, 4096)).To(Succeed())
		Expect(storage.Zero(0, 4096)).To(Succeed())

		res, _ := storage.Read(4096, 3)
		Expect(res).To(Equal([]byte{9, 9, 9}))
		res, _ = storage.Read(0, 3)
		Expect(res).To(Equal([]byte{0, 0, 0}))
	})

	It("should return error if accessing over the capacity", func() {
		storage := physmem.NewStorage(4096)
		err := storage.Write(4097, []byte{1})
		Expect(err).To(MatchError(physmem.ErrOutOfRange))

		_, err = storage.Read(4096, 1)
		Expect(err).To(MatchError(physmem.ErrOutOfRange))
	})
})
