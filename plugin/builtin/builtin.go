// Package builtin registers the architectures and backends compiled into
// the simulator.
package builtin

import (
	"github.com/go-logr/logr"

	"github.com/rafzi/etiss/arch"
	"github.com/rafzi/etiss/arch/mini"
	"github.com/rafzi/etiss/jit"
	"github.com/rafzi/etiss/jit/cc"
	"github.com/rafzi/etiss/jit/interp"
	"github.com/rafzi/etiss/plugin"
)

// Library is the library name of the built-in components.
const Library = "builtin"

// ArchitectureLibrary provides mini32 and mini32-nocompressed.
func ArchitectureLibrary() *plugin.Static[arch.Architecture] {
	return plugin.NewStatic[arch.Architecture](arch.InterfaceVersion, nil).
		Add(mini.Name, func() (arch.Architecture, error) {
			return mini.New(), nil
		}).
		Add(mini.Name+"-nocompressed", func() (arch.Architecture, error) {
			return mini.New(mini.WithCompressed(false)), nil
		})
}

// BackendLibrary provides the interpreter and, where the host can load
// shared objects, the external compiler backend.
func BackendLibrary(log logr.Logger, ccOpts ...cc.Option) *plugin.Static[jit.Backend] {
	lib := plugin.NewStatic[jit.Backend](jit.InterfaceVersion, nil).
		Add(interp.Name, func() (jit.Backend, error) {
			return interp.New(interp.WithLogger(log.WithName(interp.Name))), nil
		})
	if cc.Supported() {
		lib.Add(cc.Name, func() (jit.Backend, error) {
			opts := append([]cc.Option{cc.WithLogger(log.WithName(cc.Name))}, ccOpts...)
			return cc.New(opts...), nil
		})
	}
	return lib
}

// Architectures returns a registry holding the built-in architectures.
func Architectures(log logr.Logger) *plugin.Registry[arch.Architecture] {
	r := plugin.NewRegistry[arch.Architecture]("architecture", arch.InterfaceVersion, plugin.WithLogger(log))
	if err := r.Add(Library, ArchitectureLibrary()); err != nil {
		panic(err)
	}
	return r
}

// Backends returns a registry holding the built-in backends.
func Backends(log logr.Logger, ccOpts ...cc.Option) *plugin.Registry[jit.Backend] {
	r := plugin.NewRegistry[jit.Backend]("backend", jit.InterfaceVersion, plugin.WithLogger(log))
	if err := r.Add(Library, BackendLibrary(log, ccOpts...)); err != nil {
		panic(err)
	}
	return r
}
