package codegen_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rafzi/etiss/codegen"
)

var _ = Describe("Writer", func() {
	It("should indent guarded statements", func() {
		w := codegen.NewWriter()
		w.Comment("demo")
		w.If("LD32(32) == 0", func(w *codegen.Writer) {
			w.Stmt("return %d", 0)
		})

		Expect(w.String()).To(Equal("/* demo */\nif (LD32(32) == 0) {\n\treturn 0;\n}\n"))
		Expect(w.MayReturn(true).Contract).To(Equal(codegen.ConditionallyReturns))
	})

	It("should type large constants as unsigned long long", func() {
		Expect(codegen.Hex(0x10)).To(Equal("0x10"))
		Expect(codegen.Hex(0x80000000)).To(Equal("0x80000000ULL"))
		Expect(codegen.Dec(-3)).To(Equal("(-3)"))
	})
})

var _ = Describe("Context", func() {
	It("should count the current instruction when jumping", func() {
		ctx := codegen.NewContext(0x10, 0x12, 0, 1, codegen.NewLabels(), 1, 2, 3)
		w := codegen.NewWriter()
		ctx.Jump(w, "0x20")

		Expect(w.String()).To(Equal(
			"ST64(0, 0x20);\n" +
				"ST64(16, LD64(16) + 2);\n" +
				"ST64(8, LD64(8) + 5);\n" +
				"return 0;\n"))
	})

	It("should not count a faulting instruction", func() {
		ctx := codegen.NewContext(0x10, 0x12, 0, 0, codegen.NewLabels(), 0, 0, 3)
		w := codegen.NewWriter()
		ctx.Fault(w, -1)

		Expect(w.String()).To(Equal("ST64(0, 0x10);\nreturn (-1);\n"))
	})

	It("should hand out unique labels", func() {
		l := codegen.NewLabels()
		Expect(l.New("t")).To(Equal("t_0"))
		Expect(l.New("t")).To(Equal("t_1"))
		Expect(l.New("q")).To(Equal("q_0"))
	})
})

var _ = Describe("Block", func() {
	It("should render parts inside one function", func() {
		b := &codegen.Block{
			Symbol: "blk",
			Parts: []codegen.Part{
				{Kind: codegen.KindPrologue, Text: "/* p */\n"},
				{Kind: codegen.KindInstruction, Text: "return 0;\n", Contract: codegen.AlwaysReturns, Terminal: true},
			},
		}

		Expect(b.Function()).To(Equal("int32_t blk(uint8_t *st)\n{\n\t/* p */\n\treturn 0;\n}\n"))
		Expect(b.Terminated()).To(BeTrue())

		unit := codegen.Unit{Headers: []string{"a.h"}, Blocks: []*codegen.Block{b}}
		Expect(unit.Source()).To(HavePrefix("#include \"etiss_rt.h\"\n#include \"a.h\"\n\nint32_t blk"))
	})
})
