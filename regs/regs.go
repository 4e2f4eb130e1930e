// Package regs exposes named fields of a CPU state for external access.
//
// A Struct is bound to one state instance. Its fields stay usable exactly as
// long as that state is alive: once the state is released, or the Struct is
// detached, every access reports an AccessError.
package regs

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rafzi/etiss/state"
)

// Access describes what a field permits.
type Access uint8

// Access rights.
const (
	Read Access = 1 << iota
	Write
	ReadWrite = Read | Write
)

// String renders the access as "r", "w" or "rw".
func (a Access) String() string {
	var sb strings.Builder
	if a&Read != 0 {
		sb.WriteByte('r')
	}
	if a&Write != 0 {
		sb.WriteByte('w')
	}
	if sb.Len() == 0 {
		return "-"
	}
	return sb.String()
}

// AccessError reports a rejected read or write.
type AccessError struct {
	Struct string
	Field  string
	Op     string
	Reason string
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("cannot %s %s.%s: %s", e.Op, e.Struct, e.Field, e.Reason)
}

// Spec describes one field before it is bound into a Struct. ReadFn and
// WriteFn must both be set for the rights that Access grants.
type Spec struct {
	Name    string
	Display string
	Access  Access
	Width   int
	ReadFn  func() uint64
	WriteFn func(v uint64)
}

// FromRef builds a spec whose accessors go straight to ref.
func FromRef(name string, access Access, ref state.Ref) Spec {
	return Spec{
		Name:    name,
		Access:  access,
		Width:   ref.Size(),
		ReadFn:  ref.Load,
		WriteFn: ref.Store,
	}
}

// Observer receives change notifications. FieldChanged runs synchronously
// inside Write, before Write returns.
type Observer interface {
	FieldChanged(s *Struct, f *Field, old, new uint64)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(s *Struct, f *Field, old, new uint64)

// FieldChanged calls fn.
func (fn ObserverFunc) FieldChanged(s *Struct, f *Field, old, new uint64) {
	fn(s, f, old, new)
}

// Field is one named piece of a state.
type Field struct {
	owner *Struct
	spec  Spec
}

// Name returns the raw name used for lookup.
func (f *Field) Name() string { return f.spec.Name }

// Display returns the human readable name.
func (f *Field) Display() string { return f.spec.Display }

// Access returns the access rights.
func (f *Field) Access() Access { return f.spec.Access }

// Width returns the field width in bytes.
func (f *Field) Width() int { return f.spec.Width }

// Owner returns the structure the field belongs to.
func (f *Field) Owner() *Struct { return f.owner }

// Read returns the current value.
func (f *Field) Read() (uint64, error) {
	if err := f.owner.usable(f, "read"); err != nil {
		return 0, err
	}
	if f.spec.Access&Read == 0 {
		return 0, f.owner.denied(f, "read", "write-only field")
	}
	return f.spec.ReadFn(), nil
}

// Write stores v truncated to the field width and notifies observers when
// the value changed.
func (f *Field) Write(v uint64) error {
	if err := f.owner.usable(f, "write"); err != nil {
		return err
	}
	if f.spec.Access&Write == 0 {
		return f.owner.denied(f, "write", "read-only field")
	}
	if f.spec.Width < 8 {
		v &= (uint64(1) << (8 * f.spec.Width)) - 1
	}

	var old uint64
	if f.spec.ReadFn != nil {
		old = f.spec.ReadFn()
	}
	f.spec.WriteFn(v)

	if old != v {
		f.owner.notify(f, old, v)
	}
	return nil
}

// Struct is the set of reflected fields of one state instance.
type Struct struct {
	name   string
	st     *state.State
	fields []*Field
	byName map[string]*Field

	mu        sync.Mutex
	nextID    int
	observers []observer
	detached  bool
}

// New binds specs to st. Names must be unique and widths must be 1, 2, 4
// or 8 bytes.
func New(name string, st *state.State, specs ...Spec) (*Struct, error) {
	s := &Struct{
		name:   name,
		st:     st,
		byName: make(map[string]*Field, len(specs)),
	}

	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("%s: field without a name", name)
		}
		if _, dup := s.byName[spec.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate field %q", name, spec.Name)
		}
		switch spec.Width {
		case 1, 2, 4, 8:
		default:
			return nil, fmt.Errorf("%s.%s: unsupported width %d", name, spec.Name, spec.Width)
		}
		if spec.Access&Read != 0 && spec.ReadFn == nil {
			return nil, fmt.Errorf("%s.%s: readable field without read accessor", name, spec.Name)
		}
		if spec.Access&Write != 0 && spec.WriteFn == nil {
			return nil, fmt.Errorf("%s.%s: writable field without write accessor", name, spec.Name)
		}
		if spec.Display == "" {
			spec.Display = spec.Name
		}

		f := &Field{owner: s, spec: spec}
		s.fields = append(s.fields, f)
		s.byName[spec.Name] = f
	}

	return s, nil
}

// Name returns the structure name.
func (s *Struct) Name() string { return s.name }

// Fields lists the fields in declaration order.
func (s *Struct) Fields() []*Field {
	out := make([]*Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Names lists the raw field names in lexical order.
func (s *Struct) Names() []string {
	names := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		names = append(names, f.spec.Name)
	}
	sort.Strings(names)
	return names
}

// Field looks up a field by raw name.
func (s *Struct) Field(name string) (*Field, error) {
	f, ok := s.byName[name]
	if !ok {
		return nil, &AccessError{Struct: s.name, Field: name, Op: "find", Reason: "no such field"}
	}
	return f, nil
}

// Read reads the named field.
func (s *Struct) Read(name string) (uint64, error) {
	f, err := s.Field(name)
	if err != nil {
		return 0, err
	}
	return f.Read()
}

// Write writes the named field.
func (s *Struct) Write(name string, v uint64) error {
	f, err := s.Field(name)
	if err != nil {
		return err
	}
	return f.Write(v)
}

// Observe registers o for change notifications. The returned function
// removes it again.
func (s *Struct) Observe(o Observer) (cancel func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.observers = append(s.observers, observer{id: id, o: o})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, cur := range s.observers {
			if cur.id == id {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

// observer is a registration. Observers may be funcs, which do not
// compare, so cancellation goes by id.
type observer struct {
	id int
	o  Observer
}

// Detach ends the binding. Owners call it before releasing the state.
func (s *Struct) Detach() {
	s.mu.Lock()
	s.detached = true
	s.observers = nil
	s.mu.Unlock()
}

// Detached reports whether the structure can no longer be used.
func (s *Struct) Detached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached || (s.st != nil && s.st.Released())
}

func (s *Struct) usable(f *Field, op string) error {
	if s.Detached() {
		return s.denied(f, op, "state is no longer attached")
	}
	return nil
}

func (s *Struct) denied(f *Field, op, reason string) error {
	return &AccessError{Struct: s.name, Field: f.spec.Name, Op: op, Reason: reason}
}

func (s *Struct) notify(f *Field, old, v uint64) {
	s.mu.Lock()
	observers := make([]observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, o := range observers {
		o.o.FieldChanged(s, f, old, v)
	}
}
