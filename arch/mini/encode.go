package mini

import "encoding/binary"

// Major opcodes of the 32-bit format.
const (
	OpAdd  = 0x01
	OpSub  = 0x02
	OpAnd  = 0x03
	OpOr   = 0x04
	OpXor  = 0x05
	OpSll  = 0x06
	OpSrl  = 0x07
	OpMul  = 0x08
	OpDivu = 0x09
	OpAddi = 0x10
	OpBeq  = 0x20
	OpBne  = 0x21
	OpBlt  = 0x22
	OpJal  = 0x24
	OpJr   = 0x25
	OpLw   = 0x30
	OpSw   = 0x31
	OpCsrr = 0x38
	OpCsrw = 0x39
	OpTrap = 0x3C
	OpHalt = 0x3D
	OpEret = 0x3E
)

// Encode builds a 32-bit instruction. Branch offsets count halfwords from
// the branch itself.
func Encode(op uint32, rd, rs1, rs2 int, imm int32) uint32 {
	return op&0x3F<<26 |
		uint32(rd&0xF)<<22 |
		uint32(rs1&0xF)<<18 |
		uint32(rs2&0xF)<<14 |
		uint32(imm)&0xFFF<<2 |
		3
}

func Add(rd, rs1, rs2 int) uint32  { return Encode(OpAdd, rd, rs1, rs2, 0) }
func Sub(rd, rs1, rs2 int) uint32  { return Encode(OpSub, rd, rs1, rs2, 0) }
func And(rd, rs1, rs2 int) uint32  { return Encode(OpAnd, rd, rs1, rs2, 0) }
func Or(rd, rs1, rs2 int) uint32   { return Encode(OpOr, rd, rs1, rs2, 0) }
func Xor(rd, rs1, rs2 int) uint32  { return Encode(OpXor, rd, rs1, rs2, 0) }
func Sll(rd, rs1, rs2 int) uint32  { return Encode(OpSll, rd, rs1, rs2, 0) }
func Srl(rd, rs1, rs2 int) uint32  { return Encode(OpSrl, rd, rs1, rs2, 0) }
func Mul(rd, rs1, rs2 int) uint32  { return Encode(OpMul, rd, rs1, rs2, 0) }
func Divu(rd, rs1, rs2 int) uint32 { return Encode(OpDivu, rd, rs1, rs2, 0) }

func Addi(rd, rs1 int, imm int32) uint32 { return Encode(OpAddi, rd, rs1, 0, imm) }

func Beq(rs1, rs2 int, off int32) uint32 { return Encode(OpBeq, 0, rs1, rs2, off) }
func Bne(rs1, rs2 int, off int32) uint32 { return Encode(OpBne, 0, rs1, rs2, off) }
func Blt(rs1, rs2 int, off int32) uint32 { return Encode(OpBlt, 0, rs1, rs2, off) }

func Jal(rd int, off int32) uint32 { return Encode(OpJal, rd, 0, 0, off) }
func Jr(rs1 int) uint32            { return Encode(OpJr, 0, rs1, 0, 0) }

func Lw(rd, rs1 int, off int32) uint32  { return Encode(OpLw, rd, rs1, 0, off) }
func Sw(rs2, rs1 int, off int32) uint32 { return Encode(OpSw, 0, rs1, rs2, off) }

func Csrr(rd, csr int) uint32  { return Encode(OpCsrr, rd, 0, 0, int32(csr)) }
func Csrw(csr, rs1 int) uint32 { return Encode(OpCsrw, 0, rs1, 0, int32(csr)) }

func Trap(n int) uint32 { return Encode(OpTrap, 0, 0, 0, int32(n)) }
func Halt() uint32      { return Encode(OpHalt, 0, 0, 0, 0) }
func Eret() uint32      { return Encode(OpEret, 0, 0, 0, 0) }

// CMv copies rs to rd.
func CMv(rd, rs int) uint16 { return 1<<12 | uint16(rd&0xF)<<8 | uint16(rs&0xF)<<4 }

// CAddi adds a 6-bit signed immediate to rd.
func CAddi(rd int, imm int) uint16 { return 2<<12 | uint16(rd&0xF)<<8 | uint16(imm&0x3F)<<2 }

// CNop does nothing.
func CNop() uint16 { return 0x0001 }

// CJ jumps by a 10-bit signed halfword offset.
func CJ(off int) uint16 { return 3<<12 | uint16(off&0x3FF)<<2 | 1 }

// Program assembles machine code. PCs are in halfwords from the start of
// the program.
type Program struct {
	code []byte
}

// Emit appends 32-bit instructions.
func (p *Program) Emit(words ...uint32) *Program {
	for _, w := range words {
		p.code = binary.LittleEndian.AppendUint32(p.code, w)
	}
	return p
}

// EmitC appends 16-bit instructions.
func (p *Program) EmitC(halves ...uint16) *Program {
	for _, h := range halves {
		p.code = binary.LittleEndian.AppendUint16(p.code, h)
	}
	return p
}

// PC returns the PC of the next instruction.
func (p *Program) PC() uint64 { return uint64(len(p.code) / 2) }

// Offset returns the branch offset from the next instruction to pc.
func (p *Program) Offset(pc uint64) int32 { return int32(int64(pc) - int64(p.PC())) }

// Bytes returns the machine code.
func (p *Program) Bytes() []byte { return p.code }
