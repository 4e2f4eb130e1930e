package translate_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rafzi/etiss/arch"
	"github.com/rafzi/etiss/codegen"
	"github.com/rafzi/etiss/jit"
	"github.com/rafzi/etiss/jit/interp"
	"github.com/rafzi/etiss/timing/latency"
	"github.com/rafzi/etiss/translate"
)

func instructionParts(b *codegen.Block) []codegen.Part {
	var out []codegen.Part
	for _, p := range b.Parts {
		if p.Kind != codegen.KindPrologue && p.Kind != codegen.KindEpilogue {
			out = append(out, p)
		}
	}
	return out
}

var _ = Describe("Engine", func() {
	var (
		a      *toy
		engine *translate.Engine
	)

	BeforeEach(func() {
		a = newToy()
		engine = translate.New(a)
	})

	Describe("TranslateBlock", func() {
		It("should emit a fixed text for add 0x1042", func() {
			engine = translate.New(a, translate.WithMaxInstructions(1))

			b, err := engine.TranslateBlock(image{0x1042}, 0, 0)

			Expect(err).NotTo(HaveOccurred())
			parts := instructionParts(b)
			Expect(parts).To(HaveLen(1))
			Expect(parts[0].Name).To(Equal("add"))
			Expect(parts[0].Contract).To(Equal(codegen.FallsThrough))
			Expect(parts[0].Text).To(Equal("/* 0x0: add 0x42 */\nST32(32, LD32(32) + 0x42);\n"))

			epilogue := b.Parts[len(b.Parts)-1]
			Expect(epilogue.Kind).To(Equal(codegen.KindEpilogue))
			Expect(epilogue.Text).To(Equal("ST64(0, 0x1);\nST64(16, LD64(16) + 1);\nST64(8, LD64(8) + 1);\nreturn 0;\n"))
			Expect(b.Symbol).To(Equal("blk_toy_0000000000000000_m0"))
			Expect(b.EndPC).To(Equal(uint64(1)))
		})

		It("should be deterministic", func() {
			code := image{0x1042, 0x1001, 0x2000, 0xff00}

			first, err := engine.TranslateBlock(code, 0, 0)
			Expect(err).NotTo(HaveOccurred())
			second, err := engine.TranslateBlock(code, 0, 0)
			Expect(err).NotTo(HaveOccurred())

			Expect(second).To(BeComparableTo(first))
			Expect(engine.Unit(second).Source()).To(Equal(engine.Unit(first).Source()))
		})

		It("should turn an undecodable word into a single illegal part", func() {
			b, err := engine.TranslateBlock(image{0x0000}, 0, 0)

			Expect(err).NotTo(HaveOccurred())
			parts := instructionParts(b)
			Expect(parts).To(HaveLen(1))
			Expect(parts[0].Kind).To(Equal(codegen.KindIllegal))
			Expect(parts[0].Contract).To(Equal(codegen.AlwaysReturns))
			Expect(parts[0].Text).To(Equal("/* 0x0: illegal */\nST64(0, 0x0);\nreturn (-1);\n"))
			Expect(b.Terminated()).To(BeTrue())
			Expect(b.Parts[len(b.Parts)-1].Kind).NotTo(Equal(codegen.KindEpilogue))
		})

		It("should retire the instructions before an illegal word", func() {
			b, err := engine.TranslateBlock(image{0x1001, 0x0000}, 0, 0)

			Expect(err).NotTo(HaveOccurred())
			parts := instructionParts(b)
			Expect(parts).To(HaveLen(2))
			Expect(parts[1].Text).To(Equal(
				"/* 0x1: illegal */\nST64(0, 0x1);\nST64(16, LD64(16) + 1);\nST64(8, LD64(8) + 1);\nreturn (-1);\n"))
		})

		It("should return a bus error block when the first fetch fails", func() {
			b, err := engine.TranslateBlock(image{}, 0, 0)

			Expect(err).NotTo(HaveOccurred())
			parts := instructionParts(b)
			Expect(parts).To(HaveLen(1))
			Expect(parts[0].Kind).To(Equal(codegen.KindBusError))
			Expect(parts[0].Text).To(ContainSubstring("return (-2);"))
		})

		It("should stop before memory that cannot be fetched", func() {
			b, err := engine.TranslateBlock(image{0x1001, 0x1002}, 0, 0)

			Expect(err).NotTo(HaveOccurred())
			Expect(b.Instructions).To(Equal(2))
			Expect(b.EndPC).To(Equal(uint64(2)))
			Expect(b.Parts[len(b.Parts)-1].Kind).To(Equal(codegen.KindEpilogue))
		})

		It("should respect the instruction budget", func() {
			engine = translate.New(a, translate.WithMaxInstructions(2))

			b, err := engine.TranslateBlock(image{0x1001, 0x1001, 0x1001}, 0, 0)

			Expect(err).NotTo(HaveOccurred())
			Expect(b.Instructions).To(Equal(2))
			Expect(b.Terminated()).To(BeFalse())
		})

		It("should respect the byte budget", func() {
			engine = translate.New(a, translate.WithMaxBytes(4))

			b, err := engine.TranslateBlock(image{0x1001, 0x1001, 0x1001}, 0, 0)

			Expect(err).NotTo(HaveOccurred())
			Expect(b.Bytes).To(Equal(4))
		})

		It("should end the block after a terminal part", func() {
			b, err := engine.TranslateBlock(image{0x2005, 0x1001}, 0, 0)

			Expect(err).NotTo(HaveOccurred())
			Expect(b.Instructions).To(Equal(1))
			Expect(b.Terminated()).To(BeTrue())
			Expect(b.Parts[len(b.Parts)-1].Kind).To(Equal(codegen.KindEpilogue))
		})

		It("should not add an epilogue after a returning part", func() {
			b, err := engine.TranslateBlock(image{0x1001, 0xff03}, 0, 0)

			Expect(err).NotTo(HaveOccurred())
			Expect(b.Parts[len(b.Parts)-1].Name).To(Equal("halt"))
		})

		It("should charge the cycle cost of each tag", func() {
			config := latency.DefaultTimingConfig()
			config.ALULatency = 5
			engine = translate.New(a, translate.WithCostTable(latency.NewTableWithConfig(config)))

			b, err := engine.TranslateBlock(image{0x1001, 0x1001, 0xff00}, 0, 0)

			Expect(err).NotTo(HaveOccurred())
			halt := b.Parts[len(b.Parts)-1]
			Expect(halt.Text).To(ContainSubstring("ST64(16, LD64(16) + 3);"))
			Expect(halt.Text).To(ContainSubstring("ST64(8, LD64(8) + 14);"))
		})
	})

	Describe("generated code", func() {
		It("should run on the interpreter", func() {
			code := image{0x1005, 0x1006, 0xff07}
			b, err := engine.TranslateBlock(code, 0, 0)
			Expect(err).NotTo(HaveOccurred())

			backend := interp.New()
			h, err := backend.Translate(engine.Unit(b).Source(), jit.Options{Headers: engine.Headers()})
			Expect(err).NotTo(HaveOccurred())
			fn, err := backend.Function(h, b.Symbol)
			Expect(err).NotTo(HaveOccurred())

			st := a.NewState()
			a.Reset(st, nil)
			Expect(fn(st)).To(Equal(int32(7)))
			Expect(st.PC()).To(Equal(uint64(3)))
			Expect(st.Instret()).To(Equal(uint64(3)))
			Expect(st.Cycles()).To(Equal(uint64(1 + 1 + 4)))
			Expect(st.Load(32, 4)).To(Equal(uint64(11)))
		})

		It("should take the conditional exit", func() {
			b, err := engine.TranslateBlock(image{0x2009}, 0, 0)
			Expect(err).NotTo(HaveOccurred())

			backend := interp.New()
			h, err := backend.Translate(engine.Unit(b).Source(), jit.Options{})
			Expect(err).NotTo(HaveOccurred())
			fn, err := backend.Function(h, b.Symbol)
			Expect(err).NotTo(HaveOccurred())

			st := a.NewState()
			Expect(fn(st)).To(Equal(arch.CodeContinue))
			Expect(st.PC()).To(Equal(uint64(9)))

			Expect(st.Store(32, 4, 1)).To(Succeed())
			Expect(fn(st)).To(Equal(arch.CodeContinue))
			Expect(st.PC()).To(Equal(uint64(1)))
		})
	})

	Describe("Disassemble", func() {
		It("should list decoded instructions", func() {
			lines, err := engine.Disassemble(image{0x1042, 0xff00}, 0, 0, 4)

			Expect(err).NotTo(HaveOccurred())
			Expect(lines).To(HaveLen(2))
			Expect(lines[0].Text).To(Equal("add 0x42"))
			Expect(lines[1].Text).To(Equal("halt"))
			Expect(lines[1].PC).To(Equal(uint64(1)))
		})

		It("should report a DecodeError", func() {
			lines, err := engine.Disassemble(image{0x1042, 0x0000}, 0, 0, 4)

			var de *translate.DecodeError
			Expect(err).To(BeAssignableToTypeOf(de))
			Expect(lines).To(HaveLen(1))
		})
	})

	Describe("Version", func() {
		It("should follow the cost table", func() {
			config := latency.DefaultTimingConfig()
			config.LoadLatency = 9
			other := translate.New(a, translate.WithCostTable(latency.NewTableWithConfig(config)))

			Expect(other.Version()).NotTo(Equal(engine.Version()))
			Expect(translate.New(a).Version()).To(Equal(engine.Version()))
		})
	})
})
