// Package codegen holds the building blocks of generated code: code parts,
// translated blocks, the per-instruction translation context and a small
// writer for C-compatible statements.
//
// Generated code only touches the CPU state through the accessor macros of
// the runtime header (LD8..LD64, ST8..ST64), so every backend can give them
// a meaning: a C compiler through RuntimeHeader, the interpreter natively.
package codegen

import "fmt"

// Contract describes how control leaves a code part.
type Contract uint8

// Control contracts.
const (
	FallsThrough Contract = iota
	ConditionallyReturns
	AlwaysReturns
)

func (c Contract) String() string {
	switch c {
	case FallsThrough:
		return "falls-through"
	case ConditionallyReturns:
		return "conditionally-returns"
	case AlwaysReturns:
		return "always-returns"
	default:
		return fmt.Sprintf("contract(%d)", uint8(c))
	}
}

// Fragment is the code generated for one instruction.
type Fragment struct {
	Text     string
	Contract Contract
	// Terminal ends the block after this instruction.
	Terminal bool
}

// Load returns the expression reading size bytes of state at off.
func Load(size int, off string) string {
	return fmt.Sprintf("LD%d(%s)", size*8, off)
}

// Store returns the statement writing v to size bytes of state at off.
func Store(size int, off, v string) string {
	return fmt.Sprintf("ST%d(%s, %s)", size*8, off, v)
}

// Hex formats a constant so that C and the interpreter agree on its type.
func Hex(v uint64) string {
	if v < 0x80000000 {
		return fmt.Sprintf("0x%x", v)
	}
	return fmt.Sprintf("0x%xULL", v)
}

// Dec formats a signed constant.
func Dec(v int64) string {
	if v < 0 {
		return fmt.Sprintf("(%d)", v)
	}
	return fmt.Sprintf("%d", v)
}
