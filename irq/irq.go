// Package irq maps interrupt lines onto pending and mask bits that live in
// someone else's storage, usually a CPU state.
package irq

import (
	"errors"
	"fmt"

	"github.com/rafzi/etiss/state"
)

// ErrLine is returned for a line index outside the vector.
var ErrLine = errors.New("interrupt line out of range")

// Vector is the generic view of an interrupt controller. A line is active
// when both its pending and its mask bit are set.
type Vector interface {
	Lines() int
	SetPending(line int, on bool) error
	Pending(line int) (bool, error)
	SetMask(line int, on bool) error
	Mask(line int) (bool, error)
	IsActive(line int) bool
	// Active lists the active lines in ascending order.
	Active() []int
}

// MappedVector keeps its bits in a list of word handles. Line i is bit
// i%bits of word i/bits, where bits is the width of each word. The vector
// aliases the words and never owns them.
type MappedVector struct {
	lines   int
	pending []state.Ref
	mask    []state.Ref
}

// NewMappedVector builds a vector of n lines. pending and mask must have the
// same number of words and every word must have the same width.
func NewMappedVector(n int, pending, mask []state.Ref) (*MappedVector, error) {
	if len(pending) == 0 || len(pending) != len(mask) {
		return nil, fmt.Errorf("need matching pending and mask words, got %d and %d",
			len(pending), len(mask))
	}

	width := pending[0].Size()
	for i := range pending {
		if pending[i].Size() != width || mask[i].Size() != width {
			return nil, fmt.Errorf("word %d has a different width", i)
		}
	}

	if n <= 0 || n > len(pending)*width*8 {
		return nil, fmt.Errorf("%d lines do not fit into %d words of %d bytes",
			n, len(pending), width)
	}

	return &MappedVector{lines: n, pending: pending, mask: mask}, nil
}

// Map is NewMappedVector for a single pending/mask pair.
func Map(n int, pending, mask state.Ref) (*MappedVector, error) {
	return NewMappedVector(n, []state.Ref{pending}, []state.Ref{mask})
}

// Lines returns the number of lines.
func (v *MappedVector) Lines() int { return v.lines }

// SetPending raises or clears the pending bit of line.
func (v *MappedVector) SetPending(line int, on bool) error {
	return v.set(v.pending, line, on)
}

// Pending reports the pending bit of line.
func (v *MappedVector) Pending(line int) (bool, error) {
	return v.get(v.pending, line)
}

// SetMask sets or clears the mask bit of line. A set mask bit enables the
// line.
func (v *MappedVector) SetMask(line int, on bool) error {
	return v.set(v.mask, line, on)
}

// Mask reports the mask bit of line.
func (v *MappedVector) Mask(line int) (bool, error) {
	return v.get(v.mask, line)
}

// IsActive reports whether line is both pending and unmasked.
func (v *MappedVector) IsActive(line int) bool {
	p, err := v.Pending(line)
	if err != nil || !p {
		return false
	}
	m, _ := v.Mask(line)
	return m
}

// Active lists all active lines.
func (v *MappedVector) Active() []int {
	var out []int
	bits := v.bits()
	for w := range v.pending {
		act := v.pending[w].Load() & v.mask[w].Load()
		for b := 0; act != 0 && b < bits; b++ {
			line := w*bits + b
			if line >= v.lines {
				break
			}
			if act&(1<<b) != 0 {
				out = append(out, line)
			}
		}
	}
	return out
}

func (v *MappedVector) bits() int { return v.pending[0].Size() * 8 }

func (v *MappedVector) locate(line int) (int, uint64, error) {
	if line < 0 || line >= v.lines {
		return 0, 0, fmt.Errorf("line %d of %d: %w", line, v.lines, ErrLine)
	}
	bits := v.bits()
	return line / bits, uint64(1) << (line % bits), nil
}

func (v *MappedVector) set(words []state.Ref, line int, on bool) error {
	w, bit, err := v.locate(line)
	if err != nil {
		return err
	}
	cur := words[w].Load()
	if on {
		cur |= bit
	} else {
		cur &^= bit
	}
	words[w].Store(cur)
	return nil
}

func (v *MappedVector) get(words []state.Ref, line int) (bool, error) {
	w, bit, err := v.locate(line)
	if err != nil {
		return false, err
	}
	return words[w].Load()&bit != 0, nil
}
