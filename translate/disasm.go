package translate

import (
	"fmt"

	"github.com/rafzi/etiss/insts"
)

// Line is one disassembled instruction.
type Line struct {
	PC    uint64
	Bytes []byte
	Name  string
	Text  string
}

func (l Line) String() string {
	return fmt.Sprintf("%08x: % -12x %s", l.PC, l.Bytes, l.Text)
}

// Disassemble decodes up to count instructions starting at pc. It stops
// early at unreadable memory and fails with a DecodeError at bytes that
// match no instruction.
func (e *Engine) Disassemble(f Fetcher, pc uint64, mode uint32, count int) ([]Line, error) {
	var (
		set   = e.arch.InstructionSet()
		order = e.arch.ByteOrder()
		unit  = uint64(e.arch.InstructionSizeInBytes())
		buf   = make([]byte, e.arch.MaximumInstructionSizeInBytes())
		lines []Line
	)

	cur := pc
	for i := 0; i < count; i++ {
		n, err := f.Fetch(cur*unit, buf)
		if err != nil || n == 0 {
			if i == 0 {
				return nil, fmt.Errorf("failed to fetch at 0x%x: %w", cur, err)
			}
			break
		}

		def, word, ok := set.Lookup(buf[:n], order, insts.Mode(mode))
		if !ok {
			return lines, &DecodeError{PC: cur, Mode: mode, Bytes: append([]byte(nil), buf[:n]...)}
		}

		size := def.Bytes()
		lines = append(lines, Line{
			PC:    cur,
			Bytes: append([]byte(nil), buf[:size]...),
			Name:  def.Name,
			Text:  disassemble(def.Disassemble, def.Name, word, cur),
		})
		cur += uint64(size) / unit
	}
	return lines, nil
}
