package mini

import (
	"fmt"

	"github.com/rafzi/etiss/arch"
	"github.com/rafzi/etiss/codegen"
	"github.com/rafzi/etiss/insts"
	"github.com/rafzi/etiss/state"
	"github.com/rafzi/etiss/timing/latency"
)

// Control register numbers.
const (
	CSRStatus  = 0
	CSREPC     = 1
	CSRCause   = 2
	CSREVec    = 3
	CSRIPend   = 4
	CSRIMask   = 5
	CSRTPeriod = 6
	CSRCycles  = 7
	CSRInstret = 8
)

type csr struct {
	name    string
	display string
	offset  int // 0 for the read-only counters
}

var csrs = []csr{
	CSRStatus:  {"status", "STATUS", OffsetStatus},
	CSREPC:     {"epc", "EPC", OffsetEPC},
	CSRCause:   {"cause", "CAUSE", OffsetCause},
	CSREVec:    {"evec", "EVEC", OffsetEVec},
	CSRIPend:   {"ipend", "IPEND", OffsetIPend},
	CSRIMask:   {"imask", "IMASK", OffsetIMask},
	CSRTPeriod: {"tperiod", "TPERIOD", OffsetTPeriod},
	CSRCycles:  {"cycles", "CYCLES", 0},
	CSRInstret: {"instret", "INSTRET", 0},
}

func csrName(n uint64) string {
	if n < uint64(len(csrs)) {
		return csrs[n].name
	}
	return fmt.Sprintf("csr%d", n)
}

// Fields of the 32-bit format: op(6) rd(4) rs1(4) rs2(4) imm(12) 11.
type wide uint64

func (w wide) rd() uint64  { return uint64(w) >> 22 & 0xF }
func (w wide) rs1() uint64 { return uint64(w) >> 18 & 0xF }
func (w wide) rs2() uint64 { return uint64(w) >> 14 & 0xF }
func (w wide) uimm() uint64 {
	return uint64(w) >> 2 & 0xFFF
}
func (w wide) simm() int64 { return signExtend(w.uimm(), 12) }

func signExtend(v uint64, bits int) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

func reg(i uint64) string { return fmt.Sprintf("R(%d)", i) }

func setReg(w *codegen.Writer, i uint64, v string) {
	w.Stmt("SETR(%d, %s)", i, v)
}

// imm32 renders v as an unsigned 32-bit C constant.
func imm32(v int64) string { return fmt.Sprintf("0x%xu", uint32(v)) }

// target returns the PC reached by a relative branch.
func target(pc uint64, off int64) uint64 { return uint64(int64(pc) + off) }

func wideNotation(op uint32) string { return fmt.Sprintf("6x%x 24x- 2x3", op) }

type aluOp struct {
	name string
	op   uint32
	expr string
	tag  string
}

var aluOps = []aluOp{
	{"add", OpAdd, "%s + %s", latency.TagALU},
	{"sub", OpSub, "%s - %s", latency.TagALU},
	{"and", OpAnd, "%s & %s", latency.TagALU},
	{"or", OpOr, "%s | %s", latency.TagALU},
	{"xor", OpXor, "%s ^ %s", latency.TagALU},
	{"sll", OpSll, "%s << (%s & 31)", latency.TagALU},
	{"srl", OpSrl, "%s >> (%s & 31)", latency.TagALU},
	{"mul", OpMul, "%s * %s", latency.TagMultiply},
}

func defineALU(op aluOp) *insts.Definition {
	return insts.MustDefine(Name, op.name, wideNotation(op.op), 32,
		func(bits uint64, ctx *codegen.Context) (codegen.Fragment, error) {
			d := wide(bits)
			w := codegen.NewWriter()
			setReg(w, d.rd(), fmt.Sprintf(op.expr, reg(d.rs1()), reg(d.rs2())))
			return w.Falls(), nil
		},
		insts.WithTag(op.tag),
		insts.WithDisassembler(func(bits, _ uint64) string {
			d := wide(bits)
			return fmt.Sprintf("%s r%d, r%d, r%d", op.name, d.rd(), d.rs1(), d.rs2())
		}),
	)
}

var divu = insts.MustDefine(Name, "divu", wideNotation(OpDivu), 32,
	func(bits uint64, ctx *codegen.Context) (codegen.Fragment, error) {
		d := wide(bits)
		w := codegen.NewWriter()
		w.If(reg(d.rs2())+" == 0", func(w *codegen.Writer) {
			ctx.Fault(w, arch.CodeDivideByZero)
		})
		setReg(w, d.rd(), reg(d.rs1())+" / "+reg(d.rs2()))
		return w.MayReturn(false), nil
	},
	insts.WithTag(latency.TagDivide),
	insts.WithDisassembler(func(bits, _ uint64) string {
		d := wide(bits)
		return fmt.Sprintf("divu r%d, r%d, r%d", d.rd(), d.rs1(), d.rs2())
	}),
)

var addi = insts.MustDefine(Name, "addi", wideNotation(OpAddi), 32,
	func(bits uint64, ctx *codegen.Context) (codegen.Fragment, error) {
		d := wide(bits)
		w := codegen.NewWriter()
		setReg(w, d.rd(), reg(d.rs1())+" + "+imm32(d.simm()))
		return w.Falls(), nil
	},
	insts.WithTag(latency.TagALU),
	insts.WithDisassembler(func(bits, _ uint64) string {
		d := wide(bits)
		return fmt.Sprintf("addi r%d, r%d, %d", d.rd(), d.rs1(), d.simm())
	}),
)

type branchOp struct {
	name string
	op   uint32
	cond string
}

var branchOps = []branchOp{
	{"beq", OpBeq, "%s == %s"},
	{"bne", OpBne, "%s != %s"},
	{"blt", OpBlt, "(int32_t)%s < (int32_t)%s"},
}

func defineBranch(op branchOp) *insts.Definition {
	return insts.MustDefine(Name, op.name, wideNotation(op.op), 32,
		func(bits uint64, ctx *codegen.Context) (codegen.Fragment, error) {
			d := wide(bits)
			w := codegen.NewWriter()
			w.If(fmt.Sprintf(op.cond, reg(d.rs1()), reg(d.rs2())), func(w *codegen.Writer) {
				ctx.Jump(w, codegen.Hex(target(ctx.PC, d.simm())))
			})
			return w.MayReturn(true), nil
		},
		insts.WithTag(latency.TagBranch),
		insts.WithDisassembler(func(bits, pc uint64) string {
			d := wide(bits)
			return fmt.Sprintf("%s r%d, r%d, 0x%x", op.name, d.rs1(), d.rs2(), 2*target(pc, d.simm()))
		}),
	)
}

var jal = insts.MustDefine(Name, "jal", wideNotation(OpJal), 32,
	func(bits uint64, ctx *codegen.Context) (codegen.Fragment, error) {
		d := wide(bits)
		w := codegen.NewWriter()
		setReg(w, d.rd(), imm32(int64(2*ctx.Next)))
		ctx.Jump(w, codegen.Hex(target(ctx.PC, d.simm())))
		return w.Returns(), nil
	},
	insts.WithTag(latency.TagBranch),
	insts.WithDisassembler(func(bits, pc uint64) string {
		d := wide(bits)
		return fmt.Sprintf("jal r%d, 0x%x", d.rd(), 2*target(pc, d.simm()))
	}),
)

var jr = insts.MustDefine(Name, "jr", wideNotation(OpJr), 32,
	func(bits uint64, ctx *codegen.Context) (codegen.Fragment, error) {
		d := wide(bits)
		w := codegen.NewWriter()
		t := ctx.Labels.New("jr")
		w.Stmt("uint32_t %s = %s", t, reg(d.rs1()))
		w.If(fmt.Sprintf("(%s & 1) != 0", t), func(w *codegen.Writer) {
			ctx.Fault(w, arch.CodeAlignment)
		})
		ctx.Jump(w, fmt.Sprintf("%s >> 1", t))
		return w.Returns(), nil
	},
	insts.WithTag(latency.TagBranch),
	insts.WithDisassembler(func(bits, _ uint64) string {
		return fmt.Sprintf("jr r%d", wide(bits).rs1())
	}),
)

// scratchAccess emits the address computation and checks of a load or
// store and returns the name of the address variable.
func scratchAccess(w *codegen.Writer, ctx *codegen.Context, d wide) string {
	a := ctx.Labels.New("addr")
	w.Stmt("uint32_t %s = %s + %s", a, reg(d.rs1()), imm32(d.simm()))
	w.If(fmt.Sprintf("(%s & 3) != 0", a), func(w *codegen.Writer) {
		ctx.Fault(w, arch.CodeAlignment)
	})
	w.If(fmt.Sprintf("%s >= %d", a, ScratchBytes), func(w *codegen.Writer) {
		ctx.Fault(w, arch.CodeBusError)
	})
	return a
}

var lw = insts.MustDefine(Name, "lw", wideNotation(OpLw), 32,
	func(bits uint64, ctx *codegen.Context) (codegen.Fragment, error) {
		d := wide(bits)
		w := codegen.NewWriter()
		a := scratchAccess(w, ctx, d)
		setReg(w, d.rd(), codegen.Load(4, "SCRATCH("+a+")"))
		return w.MayReturn(false), nil
	},
	insts.WithTag(latency.TagLoad),
	insts.WithDisassembler(func(bits, _ uint64) string {
		d := wide(bits)
		return fmt.Sprintf("lw r%d, %d(r%d)", d.rd(), d.simm(), d.rs1())
	}),
)

var sw = insts.MustDefine(Name, "sw", wideNotation(OpSw), 32,
	func(bits uint64, ctx *codegen.Context) (codegen.Fragment, error) {
		d := wide(bits)
		w := codegen.NewWriter()
		a := scratchAccess(w, ctx, d)
		w.Stmt("%s", codegen.Store(4, "SCRATCH("+a+")", reg(d.rs2())))
		return w.MayReturn(false), nil
	},
	insts.WithTag(latency.TagStore),
	insts.WithDisassembler(func(bits, _ uint64) string {
		d := wide(bits)
		return fmt.Sprintf("sw r%d, %d(r%d)", d.rs2(), d.simm(), d.rs1())
	}),
)

// illegal ends the block with the illegal instruction code. It is used
// for encodings that decode but name no valid operand.
func illegal(ctx *codegen.Context) codegen.Fragment {
	w := codegen.NewWriter()
	ctx.Fault(w, arch.CodeIllegalInstruction)
	return w.Returns()
}

var csrr = insts.MustDefine(Name, "csrr", wideNotation(OpCsrr), 32,
	func(bits uint64, ctx *codegen.Context) (codegen.Fragment, error) {
		d := wide(bits)
		w := codegen.NewWriter()
		// Counters read their value at block entry.
		switch n := d.uimm(); {
		case n == CSRCycles:
			setReg(w, d.rd(), codegen.Load(8, fmt.Sprint(state.OffsetCycles)))
		case n == CSRInstret:
			setReg(w, d.rd(), codegen.Load(8, fmt.Sprint(state.OffsetInstret)))
		case n < uint64(len(csrs)):
			setReg(w, d.rd(), codegen.Load(4, fmt.Sprint(csrs[n].offset)))
		default:
			return illegal(ctx), nil
		}
		return w.Falls(), nil
	},
	insts.WithTag(latency.TagSystem),
	insts.WithDisassembler(func(bits, _ uint64) string {
		d := wide(bits)
		return fmt.Sprintf("csrr r%d, %s", d.rd(), csrName(d.uimm()))
	}),
)

// csrw ends the block so that the loop sees interrupt enables and timer
// changes at the following boundary.
var csrw = insts.MustDefine(Name, "csrw", wideNotation(OpCsrw), 32,
	func(bits uint64, ctx *codegen.Context) (codegen.Fragment, error) {
		d := wide(bits)
		n := d.uimm()
		if n >= uint64(len(csrs)) || csrs[n].offset == 0 {
			return illegal(ctx), nil
		}
		w := codegen.NewWriter()
		w.Stmt("%s", codegen.Store(4, fmt.Sprint(csrs[n].offset), reg(d.rs1())))
		return codegen.Fragment{Text: w.String(), Contract: codegen.FallsThrough, Terminal: true}, nil
	},
	insts.WithTag(latency.TagSystem),
	insts.WithDisassembler(func(bits, _ uint64) string {
		d := wide(bits)
		return fmt.Sprintf("csrw %s, r%d", csrName(d.uimm()), d.rs1())
	}),
)

var trap = insts.MustDefine(Name, "trap", wideNotation(OpTrap), 32,
	func(bits uint64, ctx *codegen.Context) (codegen.Fragment, error) {
		w := codegen.NewWriter()
		ctx.Exit(w, CodeTrap+int32(wide(bits).uimm()))
		return w.Returns(), nil
	},
	insts.WithTag(latency.TagSystem),
	insts.WithDisassembler(func(bits, _ uint64) string {
		return fmt.Sprintf("trap %d", wide(bits).uimm())
	}),
)

var halt = insts.MustDefine(Name, "halt", wideNotation(OpHalt), 32,
	func(bits uint64, ctx *codegen.Context) (codegen.Fragment, error) {
		w := codegen.NewWriter()
		ctx.Exit(w, CodeHalt)
		return w.Returns(), nil
	},
	insts.WithTag(latency.TagSystem),
)

var eret = insts.MustDefine(Name, "eret", wideNotation(OpEret), 32,
	func(bits uint64, ctx *codegen.Context) (codegen.Fragment, error) {
		w := codegen.NewWriter()
		status := fmt.Sprint(OffsetStatus)
		// IE = previous IE, leave the handler.
		w.Stmt("%s", codegen.Store(4, status,
			fmt.Sprintf("(%s & ~7u) | ((%s >> 2) & 1)", codegen.Load(4, status), codegen.Load(4, status))))
		ctx.Jump(w, codegen.Load(4, fmt.Sprint(OffsetEPC))+" >> 1")
		return w.Returns(), nil
	},
	insts.WithTag(latency.TagSystem),
)

// Fields of the 16-bit formats.
type narrow uint64

func (n narrow) rd() uint64 { return uint64(n) >> 8 & 0xF }
func (n narrow) rs() uint64 { return uint64(n) >> 4 & 0xF }

var cmv = insts.MustDefine(Name, "c.mv", "4x1 4x- 4x- 4x0", 16,
	func(bits uint64, ctx *codegen.Context) (codegen.Fragment, error) {
		n := narrow(bits)
		w := codegen.NewWriter()
		setReg(w, n.rd(), reg(n.rs()))
		return w.Falls(), nil
	},
	insts.WithTag(latency.TagALU),
	insts.WithDisassembler(func(bits, _ uint64) string {
		n := narrow(bits)
		return fmt.Sprintf("c.mv r%d, r%d", n.rd(), n.rs())
	}),
)

var caddi = insts.MustDefine(Name, "c.addi", "4x2 4x- 6x- 2x0", 16,
	func(bits uint64, ctx *codegen.Context) (codegen.Fragment, error) {
		n := narrow(bits)
		w := codegen.NewWriter()
		setReg(w, n.rd(), reg(n.rd())+" + "+imm32(signExtend(bits>>2&0x3F, 6)))
		return w.Falls(), nil
	},
	insts.WithTag(latency.TagALU),
	insts.WithDisassembler(func(bits, _ uint64) string {
		return fmt.Sprintf("c.addi r%d, %d", narrow(bits).rd(), signExtend(bits>>2&0x3F, 6))
	}),
)

var cnop = insts.MustDefine(Name, "c.nop", "16x1", 16,
	func(bits uint64, ctx *codegen.Context) (codegen.Fragment, error) {
		return codegen.NewWriter().Falls(), nil
	},
	insts.WithTag(latency.TagALU),
)

var cj = insts.MustDefine(Name, "c.j", "4x3 10x- 2x1", 16,
	func(bits uint64, ctx *codegen.Context) (codegen.Fragment, error) {
		w := codegen.NewWriter()
		ctx.Jump(w, codegen.Hex(target(ctx.PC, signExtend(bits>>2&0x3FF, 10))))
		return w.Returns(), nil
	},
	insts.WithTag(latency.TagBranch),
	insts.WithDisassembler(func(bits, pc uint64) string {
		return fmt.Sprintf("c.j 0x%x", 2*target(pc, signExtend(bits>>2&0x3FF, 10)))
	}),
)

func instructionSet(compressed bool) *insts.ModedSet {
	wideClass := insts.NewClass("mini32", 32, 0)
	for _, op := range aluOps {
		wideClass.MustRegister(defineALU(op))
	}
	for _, op := range branchOps {
		wideClass.MustRegister(defineBranch(op))
	}
	wideClass.MustRegister(divu, addi, jal, jr, lw, sw, csrr, csrw, trap, halt, eret)

	spec := insts.ModeSpec{Mode: 0, Name: Name, Widths: []int{32}}
	if compressed {
		spec.Widths = []int{16, 32}
	}
	set := insts.NewModedSet(spec)

	if err := insts.NewCollection("base", wideClass).AddTo(set, 0); err != nil {
		panic(err)
	}
	if compressed {
		narrowClass := insts.NewClass("mini16", 16, 0).MustRegister(cnop, cmv, caddi, cj)
		if err := insts.NewCollection("compressed", narrowClass).AddTo(set, 0); err != nil {
			panic(err)
		}
	}

	set.Freeze()
	return set
}
