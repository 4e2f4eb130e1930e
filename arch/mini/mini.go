// Package mini implements mini32, a small demonstration architecture.
//
// mini32 has sixteen 32-bit registers, a mix of 16-bit and 32-bit
// encodings, a 256 byte scratchpad for loads and stores, a handful of
// control registers and eight interrupt lines. Addresses held in
// registers and control registers are byte addresses; the PC counts
// halfwords.
//
// State layout behind the common header:
//
//	offset  32  R0..R15   16 x uint32
//	offset  96  STATUS    bit 0 IE, bit 1 in handler, bit 2 previous IE
//	offset 100  EPC       return address of the handler
//	offset 104  CAUSE     condition code that entered the handler
//	offset 108  EVEC      handler address, 0 disables handling
//	offset 112  IPEND     pending interrupt lines
//	offset 116  IMASK     enabled interrupt lines
//	offset 120  TPERIOD   timer period in cycles
//	offset 128  SCRATCH   64 x uint32
package mini

import (
	"encoding/binary"
	"fmt"

	"github.com/rafzi/etiss/arch"
	"github.com/rafzi/etiss/codegen"
	"github.com/rafzi/etiss/insts"
	"github.com/rafzi/etiss/irq"
	"github.com/rafzi/etiss/regs"
	"github.com/rafzi/etiss/state"
)

// Name is the architecture name.
const Name = "mini32"

// State offsets.
const (
	OffsetR       = state.HeaderSize
	OffsetStatus  = 96
	OffsetEPC     = 100
	OffsetCause   = 104
	OffsetEVec    = 108
	OffsetIPend   = 112
	OffsetIMask   = 116
	OffsetTPeriod = 120
	OffsetScratch = 128

	NumRegisters = 16
	ScratchBytes = 256
	StateSize    = OffsetScratch + ScratchBytes
)

// STATUS bits.
const (
	StatusIE        = 1 << 0
	StatusInHandler = 1 << 1
	StatusPrevIE    = 1 << 2
)

// Architecture specific condition codes.
const (
	// CodeHalt ends the simulation.
	CodeHalt int32 = 1
	// CodeInterrupt is the code of interrupt line 0.
	CodeInterrupt int32 = 0x100
	// CodeTrap is the code of trap 0.
	CodeTrap int32 = 0x200
)

// InterruptLines is the number of interrupt lines.
const InterruptLines = 8

// HeaderName is the architecture header included by generated code.
const HeaderName = "mini32.h"

const header = `#ifndef MINI32_H
#define MINI32_H

#define R(i) LD32(32 + 4 * (i))
#define SETR(i, v) ST32(32 + 4 * (i), (v))
#define SCRATCH(a) (128 + (a))

#endif
`

// Arch is the mini32 architecture. It is immutable and may be shared by
// any number of states.
type Arch struct {
	compressed bool
	set        *insts.ModedSet
	debug      *arch.RegisterMap
}

// Option configures an Arch.
type Option func(*Arch)

// WithCompressed enables or disables the 16-bit encodings.
func WithCompressed(on bool) Option {
	return func(a *Arch) {
		a.compressed = on
	}
}

// New creates the architecture.
func New(opts ...Option) *Arch {
	a := &Arch{compressed: true}
	for _, opt := range opts {
		opt(a)
	}
	a.set = instructionSet(a.compressed)

	names := make([]string, 0, NumRegisters+1)
	for i := 0; i < NumRegisters; i++ {
		names = append(names, fmt.Sprintf("r%d", i))
	}
	debug, err := arch.NewRegisterMap(false, append(names, "pc")...)
	if err != nil {
		panic(err)
	}
	a.debug = debug
	return a
}

// Name returns "mini32".
func (a *Arch) Name() string { return Name }

// Compressed reports whether 16-bit encodings decode.
func (a *Arch) Compressed() bool { return a.compressed }

// NewState allocates a zeroed state.
func (a *Arch) NewState() *state.State { return state.New(Name, StateSize) }

// Reset zeroes the state and sets the PC to start, or to 0.
func (a *Arch) Reset(s *state.State, start *uint64) {
	s.Clear()
	var pc uint64
	if start != nil {
		pc = *start
	}
	s.ResetHeader(pc, 0)
}

// ReleaseState releases s.
func (a *Arch) ReleaseState(s *state.State) { s.Release() }

// MaximumInstructionSizeInBytes is 4.
func (a *Arch) MaximumInstructionSizeInBytes() int { return 4 }

// InstructionSizeInBytes is 2: the PC counts halfwords.
func (a *Arch) InstructionSizeInBytes() int { return 2 }

// ByteOrder is little-endian.
func (a *Arch) ByteOrder() binary.ByteOrder { return binary.LittleEndian }

// InstructionSet returns the frozen instruction set.
func (a *Arch) InstructionSet() *insts.ModedSet { return a.set }

// Headers returns the architecture header.
func (a *Arch) Headers() []codegen.Header {
	return []codegen.Header{{Name: HeaderName, Content: header}}
}

// ConfigVersion changes whenever an option changes generated code.
func (a *Arch) ConfigVersion() uint64 {
	if a.compressed {
		return 1
	}
	return 2
}

// HandleException enters the handler at EVEC for recoverable codes.
//
// Interrupts are taken only with IE set outside of a handler; otherwise
// they stay pending and 0 is returned. Any other code is fatal when EVEC
// is zero or a handler is already running, and so is CodeHalt.
func (a *Arch) HandleException(code int32, s *state.State) int32 {
	status := s.MustWord(OffsetStatus, 4)

	if code >= CodeInterrupt && code < CodeInterrupt+InterruptLines {
		st := status.Load()
		if st&StatusIE == 0 || st&StatusInHandler != 0 {
			return arch.CodeContinue
		}
		return a.enter(code, s)
	}

	if code == CodeHalt {
		return code
	}
	if !arch.IsGeneric(code) && (code < CodeTrap || code >= CodeTrap+0x1000) {
		return code
	}
	if status.Load()&StatusInHandler != 0 {
		return code
	}
	return a.enter(code, s)
}

func (a *Arch) enter(code int32, s *state.State) int32 {
	evec := s.MustWord(OffsetEVec, 4).Load()
	if evec == 0 {
		return code
	}

	status := s.MustWord(OffsetStatus, 4)
	st := status.Load()
	next := st&^(StatusIE|StatusPrevIE) | StatusInHandler
	if st&StatusIE != 0 {
		next |= StatusPrevIE
	}
	status.Store(next)

	s.MustWord(OffsetEPC, 4).Store(arch.ByteAddress(a, s.PC()))
	s.MustWord(OffsetCause, 4).Store(uint64(uint32(code)))
	s.SetPC(arch.PCUnits(a, evec))
	return arch.CodeContinue
}

// NewInterruptVector maps the lines onto IPEND and IMASK.
func (a *Arch) NewInterruptVector(s *state.State) (irq.Vector, error) {
	return irq.Map(InterruptLines, s.MustWord(OffsetIPend, 4), s.MustWord(OffsetIMask, 4))
}

// InterruptCode returns the condition code of line.
func (a *Arch) InterruptCode(line int) int32 {
	return CodeInterrupt + int32(line)
}

// NewRegisters reflects the registers, the PC and the control registers.
func (a *Arch) NewRegisters(s *state.State) (*regs.Struct, error) {
	specs := make([]regs.Spec, 0, NumRegisters+10)
	for i := 0; i < NumRegisters; i++ {
		spec := regs.FromRef(fmt.Sprintf("r%d", i), regs.ReadWrite, s.MustWord(OffsetR+4*i, 4))
		spec.Display = fmt.Sprintf("R%d", i)
		specs = append(specs, spec)
	}

	specs = append(specs, regs.Spec{
		Name:    "pc",
		Display: "PC",
		Access:  regs.ReadWrite,
		Width:   8,
		ReadFn:  s.PC,
		WriteFn: s.SetPC,
	})

	for _, csr := range csrs {
		if csr.offset == 0 {
			continue
		}
		spec := regs.FromRef(csr.name, regs.ReadWrite, s.MustWord(csr.offset, 4))
		spec.Display = csr.display
		specs = append(specs, spec)
	}

	specs = append(specs,
		regs.Spec{Name: "cycles", Display: "CYCLES", Access: regs.Read, Width: 8, ReadFn: s.Cycles},
		regs.Spec{Name: "instret", Display: "INSTRET", Access: regs.Read, Width: 8, ReadFn: s.Instret},
	)

	return regs.New(Name, s, specs...)
}

// DebugRegisters returns the register numbering used by debuggers.
func (a *Arch) DebugRegisters() arch.DebugRegisterMap { return a.debug }

var (
	_ arch.Architecture        = (*Arch)(nil)
	_ arch.InterruptController = (*Arch)(nil)
	_ arch.Reflector           = (*Arch)(nil)
	_ arch.Debuggable          = (*Arch)(nil)
)
