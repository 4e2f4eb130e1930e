// Package jit defines the contract between the simulator and the backends
// that turn generated C source into callable blocks.
package jit

import (
	"fmt"
	"strings"

	"github.com/rafzi/etiss/state"
)

// InterfaceVersion is the backend plugin interface implemented by this
// host.
const InterfaceVersion = "1.1.0"

// BlockFunc executes one translated block against a state and returns its
// condition code.
type BlockFunc func(s *state.State) int32

// Handle identifies one compiled unit inside the backend that produced it.
// Handles are opaque to everyone else.
type Handle interface {
	// Backend returns the name of the backend owning the handle.
	Backend() string
}

// Header is an in-memory header made available to the compiler.
type Header struct {
	Name    string
	Content string
}

// Options are the compilation inputs besides the source text.
type Options struct {
	HeaderPaths  []string
	LibraryPaths []string
	Libraries    []string
	Headers      []Header
	Debug        bool
}

// Backend compiles sources and resolves block functions.
//
// Translate may be slow and may run concurrently with other calls.
// Function must be cheap and free of side effects. After Release the owner
// must not use the handle again.
type Backend interface {
	Name() string
	Version() string
	Translate(source string, opts Options) (Handle, error)
	Function(h Handle, symbol string) (BlockFunc, error)
	Release(h Handle) error
}

// CompileError is a failed Translate. Message holds the backend's
// diagnostics.
type CompileError struct {
	Backend string
	Message string
	Err     error
}

func (e *CompileError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if e.Err != nil && msg != "" {
		return fmt.Sprintf("%s: compile failed: %v\n%s", e.Backend, e.Err, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: compile failed: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("%s: compile failed: %s", e.Backend, msg)
}

func (e *CompileError) Unwrap() error { return e.Err }

// LinkError is a symbol that a compiled unit does not provide.
type LinkError struct {
	Backend string
	Symbol  string
	Err     error
}

func (e *LinkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: symbol %s not found: %v", e.Backend, e.Symbol, e.Err)
	}
	return fmt.Sprintf("%s: symbol %s not found", e.Backend, e.Symbol)
}

func (e *LinkError) Unwrap() error { return e.Err }
