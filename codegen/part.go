package codegen

import (
	"fmt"
	"strings"
)

// PartKind tells who produced a part.
type PartKind uint8

// Part kinds.
const (
	KindPrologue PartKind = iota
	KindInstruction
	KindIllegal
	KindBusError
	KindEpilogue
)

// Part is the generated code of one translated instruction, or one of the
// block-level parts around them.
type Part struct {
	Kind     PartKind
	PC       uint64
	Size     int // bytes consumed by the instruction
	Name     string
	Text     string
	Contract Contract
	Terminal bool
}

// Block is a translated block: a straight run of instructions that is
// compiled as one function.
type Block struct {
	Symbol       string
	Arch         string
	PC           uint64 // first instruction, in PC units
	EndPC        uint64 // PC following the last translated instruction
	Mode         uint32
	Instructions int
	Bytes        int
	Parts        []Part
}

// Terminated reports whether translation stopped at a terminal part rather
// than at the size budget.
func (b *Block) Terminated() bool {
	for i := len(b.Parts) - 1; i >= 0; i-- {
		if b.Parts[i].Kind == KindEpilogue || b.Parts[i].Kind == KindPrologue {
			continue
		}
		return b.Parts[i].Terminal
	}
	return false
}

// Function renders the block as one C function.
func (b *Block) Function() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "int32_t %s(uint8_t *st)\n{\n", b.Symbol)
	for _, p := range b.Parts {
		for _, line := range strings.Split(strings.TrimRight(p.Text, "\n"), "\n") {
			if line == "" {
				sb.WriteString("\n")
				continue
			}
			sb.WriteString("\t")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}
