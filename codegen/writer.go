package codegen

import (
	"fmt"
	"strings"
)

// Writer accumulates C statements for one fragment.
type Writer struct {
	sb    strings.Builder
	depth int
}

// NewWriter creates an empty writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Comment writes a /* */ comment line.
func (w *Writer) Comment(format string, args ...any) *Writer {
	return w.Line("/* " + fmt.Sprintf(format, args...) + " */")
}

// Stmt writes one statement and terminates it with a semicolon.
func (w *Writer) Stmt(format string, args ...any) *Writer {
	return w.Line(fmt.Sprintf(format, args...) + ";")
}

// Line writes one raw line at the current depth.
func (w *Writer) Line(line string) *Writer {
	w.sb.WriteString(strings.Repeat("\t", w.depth))
	w.sb.WriteString(line)
	w.sb.WriteString("\n")
	return w
}

// If writes a guarded block.
func (w *Writer) If(cond string, body func(w *Writer)) *Writer {
	w.Line("if (" + cond + ") {")
	w.depth++
	body(w)
	w.depth--
	return w.Line("}")
}

// IfElse writes a guarded block with an else branch.
func (w *Writer) IfElse(cond string, then, otherwise func(w *Writer)) *Writer {
	w.Line("if (" + cond + ") {")
	w.depth++
	then(w)
	w.depth--
	w.Line("} else {")
	w.depth++
	otherwise(w)
	w.depth--
	return w.Line("}")
}

// String returns the accumulated text.
func (w *Writer) String() string {
	return w.sb.String()
}

// Falls returns the text as a fragment that falls through.
func (w *Writer) Falls() Fragment {
	return Fragment{Text: w.String(), Contract: FallsThrough}
}

// MayReturn returns the text as a conditionally returning fragment.
func (w *Writer) MayReturn(terminal bool) Fragment {
	return Fragment{Text: w.String(), Contract: ConditionallyReturns, Terminal: terminal}
}

// Returns returns the text as a fragment that always leaves the block.
func (w *Writer) Returns() Fragment {
	return Fragment{Text: w.String(), Contract: AlwaysReturns, Terminal: true}
}
