package arch

import "fmt"

// DebugRegisterMap is the register numbering a debugger front end uses.
type DebugRegisterMap interface {
	Count() int
	BigEndian() bool
	Name(index int) (string, bool)
	Index(name string) (int, bool)
}

// RegisterMap is a DebugRegisterMap over a fixed name list.
type RegisterMap struct {
	names     []string
	index     map[string]int
	bigEndian bool
}

// NewRegisterMap numbers names in order. Names must be unique.
func NewRegisterMap(bigEndian bool, names ...string) (*RegisterMap, error) {
	m := &RegisterMap{
		names:     append([]string(nil), names...),
		index:     make(map[string]int, len(names)),
		bigEndian: bigEndian,
	}
	for i, n := range names {
		if _, dup := m.index[n]; dup {
			return nil, fmt.Errorf("duplicate debug register %q", n)
		}
		m.index[n] = i
	}
	return m, nil
}

// Count returns the number of registers.
func (m *RegisterMap) Count() int { return len(m.names) }

// BigEndian reports the register byte order on the wire.
func (m *RegisterMap) BigEndian() bool { return m.bigEndian }

// Name returns the name of register index.
func (m *RegisterMap) Name(index int) (string, bool) {
	if index < 0 || index >= len(m.names) {
		return "", false
	}
	return m.names[index], true
}

// Index returns the number of the named register.
func (m *RegisterMap) Index(name string) (int, bool) {
	i, ok := m.index[name]
	return i, ok
}
