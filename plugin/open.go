package plugin

import (
	"fmt"
	"path/filepath"
	goplugin "plugin"

	"github.com/rafzi/etiss/arch"
	"github.com/rafzi/etiss/jit"
)

// Symbols looked up in Go plugins. Each holds a Library of the matching
// kind; a plugin may export either or both.
const (
	ArchitectureSymbol = "ArchitectureLibrary"
	BackendSymbol      = "BackendLibrary"
)

// Open loads the Go plugin at path and adds its libraries to archs and
// backends. The library name is the file name without extension. A
// plugin that exports neither symbol is an error.
func Open(path string, archs *Registry[arch.Architecture], backends *Registry[jit.Backend]) error {
	p, err := goplugin.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open plugin %s: %w", path, err)
	}
	name := filepath.Base(path)
	name = name[:len(name)-len(filepath.Ext(name))]

	found := false
	if sym, err := p.Lookup(ArchitectureSymbol); err == nil {
		lib, ok := library[arch.Architecture](sym)
		if !ok {
			return fmt.Errorf("plugin %s: %s has type %T", path, ArchitectureSymbol, sym)
		}
		if err := archs.Add(name, lib); err != nil {
			return err
		}
		found = true
	}
	if sym, err := p.Lookup(BackendSymbol); err == nil {
		lib, ok := library[jit.Backend](sym)
		if !ok {
			return fmt.Errorf("plugin %s: %s has type %T", path, BackendSymbol, sym)
		}
		if err := backends.Add(name, lib); err != nil {
			return err
		}
		found = true
	}
	if !found {
		return fmt.Errorf("plugin %s exports neither %s nor %s", path, ArchitectureSymbol, BackendSymbol)
	}
	return nil
}

// library accepts an exported variable holding a Library or a Library
// value itself.
func library[T any](sym goplugin.Symbol) (Library[T], bool) {
	switch v := sym.(type) {
	case *Library[T]:
		return *v, *v != nil
	case Library[T]:
		return v, true
	default:
		return nil, false
	}
}
