package codegen

import (
	"fmt"

	"github.com/rafzi/etiss/state"
)

// Labels hands out block-unique identifiers for temporaries.
type Labels struct {
	next map[string]int
}

// NewLabels creates an allocator. One allocator serves one block.
func NewLabels() *Labels {
	return &Labels{next: make(map[string]int)}
}

// New returns the next identifier with the given prefix.
func (l *Labels) New(prefix string) string {
	n := l.next[prefix]
	l.next[prefix] = n + 1
	return fmt.Sprintf("%s_%d", prefix, n)
}

// Context is what a translation function knows about the instruction it
// translates. It is read-only for the callback.
type Context struct {
	PC     uint64 // this instruction, in PC units
	Next   uint64 // the following instruction, in PC units
	Mode   uint32
	Index  int // position inside the block
	Labels *Labels

	retired uint64 // instructions retired before this one
	cycles  uint64 // cycles spent before this one
	cost    uint64 // cycles of this instruction
}

// NewContext creates the context for the instruction at pc. retired and
// cycles are the totals of the preceding instructions of the block.
func NewContext(pc, next uint64, mode uint32, index int, labels *Labels, retired, cycles, cost uint64) *Context {
	return &Context{
		PC:      pc,
		Next:    next,
		Mode:    mode,
		Index:   index,
		Labels:  labels,
		retired: retired,
		cycles:  cycles,
		cost:    cost,
	}
}

// Retire writes the counter updates for leaving the block here. With self
// set the current instruction counts as completed.
func (c *Context) Retire(w *Writer, self bool) {
	n, cyc := c.retired, c.cycles
	if self {
		n++
		cyc += c.cost
	}
	Retire(w, n, cyc)
}

// Jump leaves the block and continues at target, an expression in PC units.
func (c *Context) Jump(w *Writer, target string) {
	w.Stmt("%s", Store(8, fmt.Sprint(state.OffsetPC), target))
	c.Retire(w, true)
	w.Stmt("return 0")
}

// Fault leaves the block without completing this instruction.
func (c *Context) Fault(w *Writer, code int32) {
	w.Stmt("%s", Store(8, fmt.Sprint(state.OffsetPC), Hex(c.PC)))
	c.Retire(w, false)
	w.Stmt("return %s", Dec(int64(code)))
}

// Exit completes this instruction and leaves the block with code.
func (c *Context) Exit(w *Writer, code int32) {
	w.Stmt("%s", Store(8, fmt.Sprint(state.OffsetPC), Hex(c.Next)))
	c.Retire(w, true)
	w.Stmt("return %s", Dec(int64(code)))
}

// Retire writes counter updates for n instructions and cyc cycles.
func Retire(w *Writer, n, cyc uint64) {
	if n > 0 {
		w.Stmt("%s", Store(8, fmt.Sprint(state.OffsetInstret),
			fmt.Sprintf("%s + %d", Load(8, fmt.Sprint(state.OffsetInstret)), n)))
	}
	if cyc > 0 {
		w.Stmt("%s", Store(8, fmt.Sprint(state.OffsetCycles),
			fmt.Sprintf("%s + %d", Load(8, fmt.Sprint(state.OffsetCycles)), cyc)))
	}
}
