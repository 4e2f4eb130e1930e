package mem_test

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rafzi/etiss/mem"
)

var _ = Describe("Memory", func() {
	var m *mem.Memory

	BeforeEach(func() {
		m = mem.New()
	})

	It("should read zero from unmapped memory", func() {
		Expect(m.Read32(0x1234)).To(Equal(uint32(0)))
		Expect(m.Mapped(0x1234)).To(BeFalse())
	})

	It("should store little-endian values by default", func() {
		m.Write32(0x100, 0x11223344)

		Expect(m.Read8(0x100)).To(Equal(uint8(0x44)))
		Expect(m.Read16(0x102)).To(Equal(uint16(0x1122)))
		Expect(m.Read32(0x100)).To(Equal(uint32(0x11223344)))
	})

	It("should honor a big-endian byte order", func() {
		be := mem.New(mem.WithByteOrder(binary.BigEndian))
		be.Write16(0, 0xABCD)
		Expect(be.Read8(0)).To(Equal(uint8(0xAB)))
	})

	It("should handle accesses across a page boundary", func() {
		addr := uint64(mem.PageSize - 3)
		m.Write64(addr, 0x0102030405060708)

		Expect(m.Read64(addr)).To(Equal(uint64(0x0102030405060708)))
		Expect(m.Pages()).To(Equal([]uint64{0, mem.PageSize}))
	})

	It("should load program images", func() {
		m.LoadProgram(0x2000, []byte{1, 2, 3, 4})
		Expect(m.Read32(0x2000)).To(Equal(uint32(0x04030201)))
	})

	Describe("Map", func() {
		It("should map every page of the range", func() {
			m.Map(0x0FFF, 2)
			Expect(m.Pages()).To(Equal([]uint64{0, 0x1000}))
		})

		It("should ignore empty ranges", func() {
			m.Map(0x5000, 0)
			Expect(m.Pages()).To(BeEmpty())
		})
	})

	Describe("Fetch", func() {
		It("should fail at an unmapped address", func() {
			_, err := m.Fetch(0x8000, make([]byte, 4))
			Expect(err).To(MatchError(mem.ErrUnmapped))
		})

		It("should stop at the end of mapped memory", func() {
			m.WriteBytes(mem.PageSize-2, []byte{0xAA, 0xBB})

			buf := make([]byte, 4)
			n, err := m.Fetch(mem.PageSize-2, buf)

			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))
			Expect(buf[:n]).To(Equal([]byte{0xAA, 0xBB}))
		})
	})
})
