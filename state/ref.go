package state

import "fmt"

// Ref is a handle to an integer stored somewhere else. The holder of a Ref
// aliases the storage, it never owns it.
type Ref interface {
	Load() uint64
	Store(v uint64)
	// Size is the width of the referenced integer in bytes.
	Size() int
}

// Word is a Ref to a field inside a State.
type Word struct {
	s    *State
	off  int
	size int
}

// Word returns a handle to the field at off with the given size.
func (s *State) Word(off, size int) (Word, error) {
	if err := s.check(off, size); err != nil {
		return Word{}, err
	}
	return Word{s: s, off: off, size: size}, nil
}

// MustWord is like Word but panics on a bad field. It is meant for
// architecture tables whose layout is fixed at compile time.
func (s *State) MustWord(off, size int) Word {
	w, err := s.Word(off, size)
	if err != nil {
		panic(fmt.Sprintf("state %s: %v", s.arch, err))
	}
	return w
}

// Load reads the field. A released state reads as zero.
func (w Word) Load() uint64 {
	if w.s == nil || w.s.released {
		return 0
	}
	return load(w.s.buf[w.off:], w.size)
}

// Store writes the field. Stores to a released state are dropped.
func (w Word) Store(v uint64) {
	if w.s == nil || w.s.released {
		return
	}
	store(w.s.buf[w.off:], w.size, v)
}

// Size returns the field width in bytes.
func (w Word) Size() int { return w.size }

// Offset returns the byte offset of the field.
func (w Word) Offset() int { return w.off }

// Live reports whether the underlying state is still alive.
func (w Word) Live() bool { return w.s != nil && !w.s.released }

// Cell is free-standing storage implementing Ref. Devices use it for
// registers that are not part of a CPU state.
type Cell struct {
	v    uint64
	size int
}

// NewCell creates a cell of size bytes.
func NewCell(size int) *Cell {
	return &Cell{size: size}
}

// Load returns the stored value.
func (c *Cell) Load() uint64 { return c.v }

// Store truncates v to the cell width and stores it.
func (c *Cell) Store(v uint64) {
	if c.size < 8 {
		v &= (uint64(1) << (8 * c.size)) - 1
	}
	c.v = v
}

// Size returns the cell width in bytes.
func (c *Cell) Size() int { return c.size }
