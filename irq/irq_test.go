package irq_test

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rafzi/etiss/irq"
	"github.com/rafzi/etiss/state"
)

var _ = Describe("MappedVector", func() {
	Describe("two lines over two 32-bit words", func() {
		var (
			st  *state.State
			vec *irq.MappedVector
		)

		BeforeEach(func() {
			st = state.New("test", 64)
			var err error
			vec, err = irq.Map(2, st.MustWord(32, 4), st.MustWord(36, 4))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should activate a pending unmasked line and drop it when masked", func() {
			Expect(vec.SetPending(0, true)).To(Succeed())
			Expect(vec.SetMask(0, true)).To(Succeed())
			Expect(vec.Active()).To(Equal([]int{0}))

			Expect(vec.SetMask(0, false)).To(Succeed())
			Expect(vec.Active()).To(BeEmpty())
		})

		It("should alias the state words", func() {
			Expect(vec.SetPending(1, true)).To(Succeed())
			raw, _ := st.Load(32, 4)
			Expect(raw).To(Equal(uint64(2)))

			Expect(st.Store(36, 4, 2)).To(Succeed())
			Expect(vec.IsActive(1)).To(BeTrue())
		})

		It("should ignore bits past the line count", func() {
			Expect(st.Store(32, 4, 0xFFFFFFFF)).To(Succeed())
			Expect(st.Store(36, 4, 0xFFFFFFFF)).To(Succeed())
			Expect(vec.Active()).To(Equal([]int{0, 1}))
		})

		It("should reject lines out of range", func() {
			Expect(vec.SetPending(2, true)).To(MatchError(irq.ErrLine))
			_, err := vec.Mask(-1)
			Expect(err).To(MatchError(irq.ErrLine))
			Expect(vec.IsActive(5)).To(BeFalse())
		})
	})

	It("should agree with pending AND mask for random bit patterns", func() {
		p0, p1 := state.NewCell(2), state.NewCell(2)
		m0, m1 := state.NewCell(2), state.NewCell(2)
		vec, err := irq.NewMappedVector(32, []state.Ref{p0, p1}, []state.Ref{m0, m1})
		Expect(err).NotTo(HaveOccurred())

		rng := rand.New(rand.NewSource(3))
		for i := 0; i < 200; i++ {
			pend, mask := rng.Uint32(), rng.Uint32()
			p0.Store(uint64(pend))
			p1.Store(uint64(pend >> 16))
			m0.Store(uint64(mask))
			m1.Store(uint64(mask >> 16))

			var want []int
			for line := 0; line < 32; line++ {
				if (pend&mask)&(1<<line) != 0 {
					want = append(want, line)
				}
				Expect(vec.IsActive(line)).To(Equal((pend&mask)&(1<<line) != 0))
			}
			Expect(vec.Active()).To(Equal(want))
		}
	})

	It("should reject inconsistent words", func() {
		_, err := irq.Map(1, state.NewCell(4), state.NewCell(2))
		Expect(err).To(HaveOccurred())

		_, err = irq.Map(33, state.NewCell(4), state.NewCell(4))
		Expect(err).To(HaveOccurred())
	})
})
