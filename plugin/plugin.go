// Package plugin discovers architectures and JIT backends.
//
// A library exposes a fixed list of named components and says which
// interface version it was built against. Registries accept a library
// only when that version is compatible with the host: the same major
// version and not newer than the host.
package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/go-logr/logr"
)

// Library exposes named components of type T.
type Library[T any] interface {
	// Version is the interface version the library implements.
	Version() string
	// Count is the number of components.
	Count() int
	// Name returns the name of component i, or "" out of range.
	Name(i int) string
	// Create builds a new instance of the named component.
	Create(name string) (T, error)
	// Destroy releases an instance returned by Create.
	Destroy(T)
}

// ErrUnknown is returned for names no registered library provides.
var ErrUnknown = errors.New("unknown component")

// VersionError rejects a library built against an incompatible interface.
type VersionError struct {
	Library string
	Version string
	Host    string
	Err     error
}

func (e *VersionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("library %s: version %q: %v", e.Library, e.Version, e.Err)
	}
	return fmt.Sprintf("library %s: version %s is not compatible with host %s", e.Library, e.Version, e.Host)
}

func (e *VersionError) Unwrap() error { return e.Err }

// CheckVersion reports whether the library name at version lib can be
// used by a host at version host.
func CheckVersion(name, host, lib string) error {
	h, err := semver.StrictNewVersion(host)
	if err != nil {
		return fmt.Errorf("invalid host version %q: %w", host, err)
	}
	v, err := semver.NewVersion(lib)
	if err != nil {
		return &VersionError{Library: name, Version: lib, Host: host, Err: err}
	}

	if v.Major() != h.Major() || v.GreaterThan(h) {
		return &VersionError{Library: name, Version: lib, Host: host}
	}
	return nil
}

type entry[T any] struct {
	library string
	lib     Library[T]
}

// Registry maps component names to the libraries providing them. It is
// safe for concurrent use.
type Registry[T any] struct {
	kind string
	host string
	log  logr.Logger

	mu         sync.RWMutex
	libraries  []string
	components map[string]entry[T]
}

// RegistryOption configures a Registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	log logr.Logger
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) RegistryOption {
	return func(o *registryOptions) {
		o.log = log
	}
}

// NewRegistry creates an empty registry of kind ("architecture",
// "backend") for a host at interface version host.
func NewRegistry[T any](kind, host string, opts ...RegistryOption) *Registry[T] {
	o := registryOptions{log: logr.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry[T]{
		kind:       kind,
		host:       host,
		log:        o.log,
		components: make(map[string]entry[T]),
	}
}

// Kind returns the component kind.
func (r *Registry[T]) Kind() string { return r.kind }

// Add registers lib under the library name name. An incompatible library
// is ignored and reported as *VersionError. A component name that is
// already taken keeps its first provider.
func (r *Registry[T]) Add(name string, lib Library[T]) error {
	if err := CheckVersion(name, r.host, lib.Version()); err != nil {
		r.log.Info("ignoring library", "kind", r.kind, "library", name, "err", err.Error())
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.libraries {
		if l == name {
			return fmt.Errorf("%s library %s is already registered", r.kind, name)
		}
	}
	r.libraries = append(r.libraries, name)

	for i := 0; i < lib.Count(); i++ {
		c := lib.Name(i)
		if c == "" {
			continue
		}
		if prev, ok := r.components[c]; ok {
			r.log.Info("duplicate component", "kind", r.kind, "name", c, "kept", prev.library, "ignored", name)
			continue
		}
		r.components[c] = entry[T]{library: name, lib: lib}
	}
	r.log.V(1).Info("registered library", "kind", r.kind, "library", name, "version", lib.Version(), "components", lib.Count())
	return nil
}

// Libraries returns the registered library names in registration order.
func (r *Registry[T]) Libraries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.libraries...)
}

// Names returns the component names, sorted.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.components))
	for n := range r.components {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Provider returns the library that provides the named component.
func (r *Registry[T]) Provider(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.components[name]
	return e.library, ok
}

// Create builds the named component. The returned function hands the
// instance back to its library.
func (r *Registry[T]) Create(name string) (T, func(), error) {
	r.mu.RLock()
	e, ok := r.components[name]
	r.mu.RUnlock()

	var zero T
	if !ok {
		return zero, nil, fmt.Errorf("%s %q: %w", r.kind, name, ErrUnknown)
	}
	v, err := e.lib.Create(name)
	if err != nil {
		return zero, nil, fmt.Errorf("failed to create %s %q from %s: %w", r.kind, name, e.library, err)
	}

	var once sync.Once
	return v, func() { once.Do(func() { e.lib.Destroy(v) }) }, nil
}
