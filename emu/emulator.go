// Package emu provides the execution loop that runs translated blocks.
package emu

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/rs/xid"

	"github.com/rafzi/etiss/arch"
	"github.com/rafzi/etiss/blockcache"
	"github.com/rafzi/etiss/codegen"
	"github.com/rafzi/etiss/hooks"
	"github.com/rafzi/etiss/irq"
	"github.com/rafzi/etiss/jit"
	"github.com/rafzi/etiss/jit/interp"
	"github.com/rafzi/etiss/regs"
	"github.com/rafzi/etiss/state"
	"github.com/rafzi/etiss/timing/latency"
	"github.com/rafzi/etiss/translate"
)

// ErrTerminated is returned by Step after the run ended.
var ErrTerminated = errors.New("emulator has terminated")

// ExecutionFault is a condition code the architecture could not recover
// from.
type ExecutionFault struct {
	Code int32
	PC   uint64
}

func (e *ExecutionFault) Error() string {
	return fmt.Sprintf("unrecoverable %s (code %d) at PC=0x%X", arch.CodeName(e.Code), e.Code, e.PC)
}

// StepResult represents the result of executing a single block.
type StepResult struct {
	// Exited is true if the run terminated in this step.
	Exited bool

	// ExitCode is the final condition code if Exited is true.
	ExitCode int32

	// Code is the condition code returned by the block.
	Code int32

	// Err is set if the step failed.
	Err error
}

// Emulator executes one CPU state, one block at a time.
type Emulator struct {
	arch    arch.Architecture
	state   *state.State
	fetcher translate.Fetcher
	engine  *translate.Engine
	backend jit.Backend
	cache   *blockcache.Cache

	vector    irq.Vector
	irqs      arch.InterruptController
	registers *regs.Struct
	scheduler *hooks.Scheduler
	bus       *hooks.Bus
	hooks     []hooks.Hook

	log   logr.Logger
	runID xid.ID

	status     Status
	stop       atomic.Bool
	stopReason atomic.Value
	result     Result

	blocks     uint64
	interrupts uint64
	lastBlock  *codegen.Block
	lastCode   int32

	// construction inputs
	costs           *latency.Table
	maxInstructions int
	maxBytes        int
	cacheConfig     blockcache.Config
	jitOptions      jit.Options
	start           *uint64
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithBackend sets the JIT backend. The default is the interpreter.
func WithBackend(b jit.Backend) EmulatorOption {
	return func(e *Emulator) {
		e.backend = b
	}
}

// WithCostTable sets the cycle cost model.
func WithCostTable(t *latency.Table) EmulatorOption {
	return func(e *Emulator) {
		e.costs = t
	}
}

// WithBlockLimits bounds the size of translated blocks. Zero keeps the
// default.
func WithBlockLimits(instructions, bytes int) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = instructions
		e.maxBytes = bytes
	}
}

// WithCacheConfig sets the block cache geometry.
func WithCacheConfig(c blockcache.Config) EmulatorOption {
	return func(e *Emulator) {
		e.cacheConfig = c
	}
}

// WithJITOptions sets the options passed to the backend.
func WithJITOptions(o jit.Options) EmulatorOption {
	return func(e *Emulator) {
		e.jitOptions = o
	}
}

// WithHook registers a hook. Hooks run in registration order.
func WithHook(h hooks.Hook) EmulatorOption {
	return func(e *Emulator) {
		e.hooks = append(e.hooks, h)
	}
}

// WithStartAddress sets the PC after reset, in PC units.
func WithStartAddress(pc uint64) EmulatorOption {
	return func(e *Emulator) {
		e.start = &pc
	}
}

// WithLogger sets the logger. The emulator adds its run id.
func WithLogger(log logr.Logger) EmulatorOption {
	return func(e *Emulator) {
		e.log = log
	}
}

// NewEmulator creates an emulator for a that fetches code from f. The
// state is allocated and reset here.
func NewEmulator(a arch.Architecture, f translate.Fetcher, opts ...EmulatorOption) (*Emulator, error) {
	e := &Emulator{
		arch:        a,
		fetcher:     f,
		log:         logr.Discard(),
		runID:       xid.New(),
		costs:       latency.NewTable(),
		cacheConfig: blockcache.DefaultConfig(),
		scheduler:   hooks.NewScheduler(),
		bus:         hooks.NewBus(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.WithValues("run", e.runID.String(), "arch", a.Name())

	if e.backend == nil {
		e.backend = interp.New(interp.WithLogger(e.log.WithName("interp")))
	}

	e.engine = translate.New(a,
		translate.WithCostTable(e.costs),
		translate.WithMaxInstructions(e.maxInstructions),
		translate.WithMaxBytes(e.maxBytes),
		translate.WithLogger(e.log.WithName("translate")),
	)

	cache, err := blockcache.New(e.engine, e.backend,
		blockcache.WithConfig(e.cacheConfig),
		blockcache.WithOptions(e.jitOptions),
		blockcache.WithLogger(e.log.WithName("cache")),
		blockcache.WithMissHandler(func(uint64, uint32) { e.status = StatusTranslating }),
	)
	if err != nil {
		return nil, err
	}
	e.cache = cache

	e.state = a.NewState()
	a.Reset(e.state, e.start)

	if err := e.attach(); err != nil {
		e.Close()
		return nil, err
	}

	e.log.V(1).Info("emulator created", "backend", e.backend.Name(), "hooks", len(e.hooks))
	return e, nil
}

func (e *Emulator) attach() error {
	if ic, ok := e.arch.(arch.InterruptController); ok {
		v, err := ic.NewInterruptVector(e.state)
		if err != nil {
			return fmt.Errorf("failed to create interrupt vector: %w", err)
		}
		e.irqs = ic
		e.vector = v
	}

	if r, ok := e.arch.(arch.Reflector); ok {
		s, err := r.NewRegisters(e.state)
		if err != nil {
			return fmt.Errorf("failed to create register reflection: %w", err)
		}
		e.registers = s
		s.Observe(e.bus)
	}

	env := hooks.Environment{
		Arch:      e.arch.Name(),
		Registers: e.registers,
		Vector:    e.vector,
		Scheduler: e.scheduler,
		Bus:       e.bus,
	}
	for _, h := range e.hooks {
		a, ok := h.(hooks.Attacher)
		if !ok {
			continue
		}
		if err := a.Attach(env); err != nil {
			return fmt.Errorf("failed to attach hook %s: %w", h.Name(), err)
		}
	}
	return nil
}

// Architecture returns the simulated architecture.
func (e *Emulator) Architecture() arch.Architecture { return e.arch }

// State returns the CPU state.
func (e *Emulator) State() *state.State { return e.state }

// Registers returns the register reflection, or nil.
func (e *Emulator) Registers() *regs.Struct { return e.registers }

// Vector returns the interrupt vector, or nil.
func (e *Emulator) Vector() irq.Vector { return e.vector }

// Scheduler returns the cycle scheduler shared by the hooks.
func (e *Emulator) Scheduler() *hooks.Scheduler { return e.scheduler }

// Engine returns the translation engine.
func (e *Emulator) Engine() *translate.Engine { return e.engine }

// CacheStats returns the block cache counters.
func (e *Emulator) CacheStats() blockcache.Statistics { return e.cache.Stats() }

// RunID returns the id that tags the emulator's log lines.
func (e *Emulator) RunID() xid.ID { return e.runID }

// Status returns the position in the execution state machine.
func (e *Emulator) Status() Status { return e.status }

// Blocks returns the number of executed blocks.
func (e *Emulator) Blocks() uint64 { return e.blocks }

// Stop asks the loop to end at the next block boundary. It may be called
// from any goroutine.
func (e *Emulator) Stop(reason string) {
	e.stopReason.Store(reason)
	e.stop.Store(true)
}

// Reset restarts the CPU at start, or at the reset address when start is
// nil. Compiled blocks are kept.
func (e *Emulator) Reset(start *uint64) {
	e.arch.Reset(e.state, start)
	e.status = StatusIdle
	e.result = Result{}
	e.blocks = 0
	e.interrupts = 0
	e.lastBlock = nil
	e.lastCode = 0
	e.stop.Store(false)
}

// Close releases compiled blocks, hooks and the state.
func (e *Emulator) Close() {
	for _, h := range e.hooks {
		if d, ok := h.(hooks.Detacher); ok {
			d.Detach()
		}
	}
	if e.registers != nil {
		e.registers.Detach()
	}
	e.cache.Close()
	if !e.state.Released() {
		e.arch.ReleaseState(e.state)
	}
	e.status = StatusTerminated
}
