package arch

import "fmt"

// Condition codes returned by generated blocks. Zero continues with the
// next block. Negative codes are generic and understood by every
// architecture, positive codes belong to the architecture.
const (
	CodeContinue           int32 = 0
	CodeIllegalInstruction int32 = -1
	CodeBusError           int32 = -2
	CodeAlignment          int32 = -3
	CodeBreakpoint         int32 = -4
	CodeDivideByZero       int32 = -5
)

var codeNames = map[int32]string{
	CodeContinue:           "continue",
	CodeIllegalInstruction: "illegal instruction",
	CodeBusError:           "bus error",
	CodeAlignment:          "misaligned access",
	CodeBreakpoint:         "breakpoint",
	CodeDivideByZero:       "divide by zero",
}

// IsGeneric reports whether code belongs to the generic range.
func IsGeneric(code int32) bool {
	return code < 0
}

// CodeName describes code. Architecture codes are rendered numerically.
func CodeName(code int32) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	if IsGeneric(code) {
		return fmt.Sprintf("generic condition %d", code)
	}
	return fmt.Sprintf("architecture condition 0x%x", code)
}
