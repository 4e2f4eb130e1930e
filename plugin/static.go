package plugin

import "fmt"

// Static is a Library over constructors known at build time.
type Static[T any] struct {
	version string
	names   []string
	ctors   map[string]func() (T, error)
	destroy func(T)
}

// NewStatic creates an empty library at version. destroy may be nil.
func NewStatic[T any](version string, destroy func(T)) *Static[T] {
	return &Static[T]{
		version: version,
		ctors:   make(map[string]func() (T, error)),
		destroy: destroy,
	}
}

// Add registers a constructor. A second constructor for the same name
// replaces the first.
func (s *Static[T]) Add(name string, ctor func() (T, error)) *Static[T] {
	if _, ok := s.ctors[name]; !ok {
		s.names = append(s.names, name)
	}
	s.ctors[name] = ctor
	return s
}

// Version returns the interface version.
func (s *Static[T]) Version() string { return s.version }

// Count returns the number of constructors.
func (s *Static[T]) Count() int { return len(s.names) }

// Name returns the name of constructor i.
func (s *Static[T]) Name(i int) string {
	if i < 0 || i >= len(s.names) {
		return ""
	}
	return s.names[i]
}

// Create calls the named constructor.
func (s *Static[T]) Create(name string) (T, error) {
	ctor, ok := s.ctors[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%q: %w", name, ErrUnknown)
	}
	return ctor()
}

// Destroy calls the destroy function.
func (s *Static[T]) Destroy(v T) {
	if s.destroy != nil {
		s.destroy(v)
	}
}
