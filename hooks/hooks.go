// Package hooks defines the callbacks that run between translated blocks
// and the services the execution loop offers them.
//
// Hooks never run while a block executes. At every block boundary the loop
// calls AtBoundary on each hook in registration order; stop requests and
// raised interrupt lines take effect at that same boundary.
package hooks

import (
	"github.com/rafzi/etiss/codegen"
	"github.com/rafzi/etiss/irq"
	"github.com/rafzi/etiss/regs"
	"github.com/rafzi/etiss/state"
)

// Control is what a hook may ask of the execution loop.
type Control interface {
	// RequestStop ends the run at this boundary.
	RequestStop(reason string)
	// RaiseInterrupt sets the pending bit of line.
	RaiseInterrupt(line int) error
	// ClearInterrupt clears the pending bit of line.
	ClearInterrupt(line int) error
}

// Boundary describes the point between two blocks.
type Boundary struct {
	Header state.Header
	// Block is the block that just ran, nil before the first one.
	Block *codegen.Block
	// Code is the condition code the block returned.
	Code int32
	// Blocks counts the blocks run so far.
	Blocks uint64
}

// Hook is called at every block boundary.
type Hook interface {
	Name() string
	AtBoundary(b Boundary, c Control)
}

// Environment is handed to hooks that implement Attacher. Registers and
// Vector are nil when the architecture does not provide them.
type Environment struct {
	Arch      string
	Registers *regs.Struct
	Vector    irq.Vector
	Scheduler *Scheduler
	Bus       *Bus
}

// Attacher is implemented by hooks that need setup before the first
// block.
type Attacher interface {
	Attach(env Environment) error
}

// Detacher is implemented by hooks that hold resources.
type Detacher interface {
	Detach()
}

// Func adapts a function to the Hook interface.
type Func struct {
	HookName string
	Fn       func(b Boundary, c Control)
}

// Name returns the hook name.
func (f Func) Name() string { return f.HookName }

// AtBoundary calls the function.
func (f Func) AtBoundary(b Boundary, c Control) { f.Fn(b, c) }
