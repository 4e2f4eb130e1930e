// Package arch defines what a target architecture has to provide to the
// simulator core, plus the condition code convention shared by generated
// code, architectures and the execution loop.
package arch

import (
	"encoding/binary"

	"github.com/rafzi/etiss/codegen"
	"github.com/rafzi/etiss/insts"
	"github.com/rafzi/etiss/irq"
	"github.com/rafzi/etiss/regs"
	"github.com/rafzi/etiss/state"
)

// InterfaceVersion is the architecture plugin interface implemented by this
// host.
const InterfaceVersion = "1.2.0"

// Architecture is one simulated target.
type Architecture interface {
	Name() string

	// NewState allocates a zeroed state with the architecture's layout.
	NewState() *state.State
	// Reset initializes every architecture field, clears the header
	// counters and sets the PC to start, or to the architecture's reset
	// vector when start is nil.
	Reset(s *state.State, start *uint64)
	// ReleaseState ends the lifetime of s.
	ReleaseState(s *state.State)

	// MaximumInstructionSizeInBytes bounds the fetch window.
	MaximumInstructionSizeInBytes() int
	// InstructionSizeInBytes is the number of bytes per PC unit.
	InstructionSizeInBytes() int
	ByteOrder() binary.ByteOrder

	// InstructionSet returns the frozen decoding tables.
	InstructionSet() *insts.ModedSet
	// Headers lists the headers generated code includes besides the
	// runtime header.
	Headers() []codegen.Header

	// HandleException returns 0 after recovering from code, usually by
	// redirecting the PC, or code itself when the condition is fatal.
	HandleException(code int32, s *state.State) int32

	// ConfigVersion changes whenever a setting that influences generated
	// code changes.
	ConfigVersion() uint64
}

// InterruptController is implemented by architectures with interrupt lines.
type InterruptController interface {
	NewInterruptVector(s *state.State) (irq.Vector, error)
	// InterruptCode translates an active line into a condition code for
	// HandleException.
	InterruptCode(line int) int32
}

// Reflector is implemented by architectures that expose named registers.
type Reflector interface {
	NewRegisters(s *state.State) (*regs.Struct, error)
}

// Debuggable is implemented by architectures that a debugger front end can
// attach to.
type Debuggable interface {
	DebugRegisters() DebugRegisterMap
}

// ByteAddress converts a PC value to a byte address.
func ByteAddress(a Architecture, pc uint64) uint64 {
	return pc * uint64(a.InstructionSizeInBytes())
}

// PCUnits converts a byte address to a PC value.
func PCUnits(a Architecture, addr uint64) uint64 {
	return addr / uint64(a.InstructionSizeInBytes())
}
