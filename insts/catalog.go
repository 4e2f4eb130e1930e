package insts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// ErrFrozen is returned when a frozen ModedSet is modified.
var ErrFrozen = errors.New("instruction set is frozen")

// Class groups definitions of one width. Lower priorities are tried first.
type Class struct {
	Name     string
	Width    int
	Priority int

	defs  []*Definition
	names map[string]bool
}

// NewClass creates an empty class.
func NewClass(name string, width, priority int) *Class {
	return &Class{
		Name:     name,
		Width:    width,
		Priority: priority,
		names:    make(map[string]bool),
	}
}

// Register adds a definition. Its width must equal the class width.
func (c *Class) Register(d *Definition) error {
	if d.Width != c.Width {
		return formatErr(d.Name, "width %d does not fit class %s of width %d", d.Width, c.Name, c.Width)
	}
	if c.names[d.Name] {
		return formatErr(d.Name, "duplicate instruction in class %s", c.Name)
	}
	c.names[d.Name] = true
	c.defs = append(c.defs, d)
	return nil
}

// MustRegister registers all definitions and panics on the first error.
func (c *Class) MustRegister(defs ...*Definition) *Class {
	for _, d := range defs {
		if err := c.Register(d); err != nil {
			panic(err)
		}
	}
	return c
}

// Definitions returns the definitions in registration order.
func (c *Class) Definitions() []*Definition {
	return c.defs
}

// Lookup returns the first definition matching word.
func (c *Class) Lookup(word uint64) *Definition {
	for _, d := range c.defs {
		if d.Matches(word) {
			return d
		}
	}
	return nil
}

// Collection is a named set of classes, usually one ISA extension.
type Collection struct {
	Name    string
	classes []*Class
}

// NewCollection creates a collection.
func NewCollection(name string, classes ...*Class) *Collection {
	return &Collection{Name: name, classes: classes}
}

// Add appends a class.
func (c *Collection) Add(cl *Class) {
	c.classes = append(c.classes, cl)
}

// Classes returns the classes of the collection.
func (c *Collection) Classes() []*Class {
	return c.classes
}

// AddTo projects the collection into set under mode. Nothing is added if
// any class width is not allowed in the mode or if an instruction name is
// already provided by another collection.
func (c *Collection) AddTo(set *ModedSet, mode Mode) error {
	if set.frozen {
		return ErrFrozen
	}
	m, ok := set.modes[mode]
	if !ok {
		return fmt.Errorf("collection %s: unknown mode %d", c.Name, mode)
	}

	for _, cl := range c.classes {
		if !m.allows(cl.Width) {
			return fmt.Errorf("collection %s: class %s width %d not allowed in mode %s",
				c.Name, cl.Name, cl.Width, m.spec.Name)
		}
		for _, d := range cl.defs {
			if owner, taken := m.owners[d.Name]; taken && owner != c.Name {
				return fmt.Errorf("collection %s: instruction %s already provided by %s in mode %s",
					c.Name, d.Name, owner, m.spec.Name)
			}
		}
	}

	for _, cl := range c.classes {
		m.classes = append(m.classes, classRef{class: cl, seq: len(m.classes)})
		for _, d := range cl.defs {
			m.owners[d.Name] = c.Name
		}
	}
	sort.SliceStable(m.classes, func(i, j int) bool {
		a, b := m.classes[i], m.classes[j]
		if a.class.Width != b.class.Width {
			return a.class.Width < b.class.Width
		}
		if a.class.Priority != b.class.Priority {
			return a.class.Priority < b.class.Priority
		}
		return a.seq < b.seq
	})
	return nil
}

// Mode selects a decoding scheme.
type Mode uint32

// ModeSpec declares a mode and the instruction widths it decodes.
type ModeSpec struct {
	Mode   Mode
	Name   string
	Widths []int
}

type classRef struct {
	class *Class
	seq   int
}

type modeEntry struct {
	spec    ModeSpec
	classes []classRef
	owners  map[string]string
}

func (m *modeEntry) allows(width int) bool {
	for _, w := range m.spec.Widths {
		if w == width {
			return true
		}
	}
	return false
}

// ModedSet is the runtime lookup structure. It is built once and frozen;
// a frozen set is safe for concurrent lookups.
type ModedSet struct {
	modes  map[Mode]*modeEntry
	order  []Mode
	frozen bool
}

// NewModedSet creates a set with the given modes.
func NewModedSet(specs ...ModeSpec) *ModedSet {
	s := &ModedSet{modes: make(map[Mode]*modeEntry)}
	for _, spec := range specs {
		s.modes[spec.Mode] = &modeEntry{spec: spec, owners: make(map[string]string)}
		s.order = append(s.order, spec.Mode)
	}
	return s
}

// Freeze forbids further changes.
func (s *ModedSet) Freeze() {
	s.frozen = true
}

// Frozen reports whether Freeze was called.
func (s *ModedSet) Frozen() bool {
	return s.frozen
}

// Modes returns the declared modes in declaration order.
func (s *ModedSet) Modes() []ModeSpec {
	specs := make([]ModeSpec, 0, len(s.order))
	for _, m := range s.order {
		specs = append(specs, s.modes[m].spec)
	}
	return specs
}

// Definitions returns every definition reachable in mode, in lookup order.
func (s *ModedSet) Definitions(mode Mode) []*Definition {
	m, ok := s.modes[mode]
	if !ok {
		return nil
	}
	var defs []*Definition
	for _, ref := range m.classes {
		defs = append(defs, ref.class.defs...)
	}
	return defs
}

// Lookup decodes the instruction at the start of code. Narrower classes
// are tried first so that a short instruction is never read as the prefix
// of a longer one. It returns the definition and the instruction word.
func (s *ModedSet) Lookup(code []byte, order binary.ByteOrder, mode Mode) (*Definition, uint64, bool) {
	m, ok := s.modes[mode]
	if !ok {
		return nil, 0, false
	}
	for _, ref := range m.classes {
		n := ref.class.Width / 8
		if len(code) < n {
			continue
		}
		word := extract(code[:n], order)
		if d := ref.class.Lookup(word); d != nil {
			return d, word, true
		}
	}
	return nil, 0, false
}

func extract(b []byte, order binary.ByteOrder) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(order.Uint16(b))
	case 4:
		return uint64(order.Uint32(b))
	default:
		return order.Uint64(b)
	}
}
