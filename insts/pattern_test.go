package insts_test

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rafzi/etiss/insts"
)

var _ = Describe("Bit patterns", func() {
	Describe("Match", func() {
		It("should agree with the mask equation for random inputs", func() {
			rng := rand.New(rand.NewSource(1))
			for i := 0; i < 10000; i++ {
				word, opcode, mask := rng.Uint64(), rng.Uint64(), rng.Uint64()
				if i%3 == 0 {
					// Force a hit on a third of the samples.
					word = (word &^ mask) | (opcode & mask)
				}

				Expect(insts.Match(word, opcode, mask)).To(Equal((word & mask) == (opcode & mask)))
			}
		})
	})

	Describe("ParsePattern", func() {
		It("should parse the reference notation", func() {
			p, err := insts.ParsePattern("6x38 15x0 1x0 2x0 4x0 4xe", 32)

			Expect(err).NotTo(HaveOccurred())
			Expect(p.Opcode).To(Equal(uint64(0xE000000E)))
			Expect(p.Mask).To(Equal(uint64(0xFFFFFFFF)))
			Expect(p.Width).To(Equal(32))
		})

		It("should leave don't-care groups out of the mask", func() {
			p, err := insts.ParsePattern("8x10 8x-", 16)

			Expect(err).NotTo(HaveOccurred())
			Expect(p.Opcode).To(Equal(uint64(0x1000)))
			Expect(p.Mask).To(Equal(uint64(0xFF00)))
			Expect(p.Matches(0x1042)).To(BeTrue())
			Expect(p.Matches(0x1142)).To(BeFalse())
		})

		DescribeTable("should reject malformed notation",
			func(notation string, width int) {
				_, err := insts.ParsePattern(notation, width)

				var fe *insts.FormatError
				Expect(err).To(BeAssignableToTypeOf(fe))
			},
			Entry("widths short of the instruction", "6x38 10x0", 32),
			Entry("widths past the instruction", "16x0 16x0 1x0", 32),
			Entry("value too wide for its group", "4x10 12x0", 16),
			Entry("missing separator", "16", 16),
			Entry("bad hex value", "8xzz 8x0", 16),
			Entry("empty notation", "  ", 16),
		)

		It("should invert composition for random partitions", func() {
			rng := rand.New(rand.NewSource(2))
			for _, width := range []int{16, 32} {
				for i := 0; i < 500; i++ {
					var groups []insts.Group
					var literal uint64
					left := width
					for left > 0 {
						w := 1 + rng.Intn(left)
						v := rng.Uint64() & ((uint64(1) << w) - 1)
						groups = append(groups, insts.Group{Width: w, Value: v})
						literal = literal<<w | v
						left -= w
					}

					p, err := insts.ParsePattern(insts.FormatGroups(groups), width)

					Expect(err).NotTo(HaveOccurred())
					Expect(p.Opcode).To(Equal(literal))
					Expect(p.Mask).To(Equal((uint64(1) << width) - 1))
				}
			}
		})
	})
})
