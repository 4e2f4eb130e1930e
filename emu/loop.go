package emu

import (
	"errors"
	"fmt"

	"github.com/rafzi/etiss/arch"
	"github.com/rafzi/etiss/hooks"
)

// Status is the position of the emulator in its state machine.
type Status int

// Execution states.
const (
	StatusIdle Status = iota
	StatusTranslating
	StatusExecuting
	StatusHandlingCondition
	StatusTerminated
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusTranslating:
		return "translating"
	case StatusExecuting:
		return "executing"
	case StatusHandlingCondition:
		return "handling-condition"
	case StatusTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome tells how a run ended.
type Outcome int

// Run outcomes.
const (
	// OutcomeRunning means the run has not ended.
	OutcomeRunning Outcome = iota
	// OutcomeHalted is an architecture specific termination code.
	OutcomeHalted
	// OutcomeStopped is a stop requested by the host or a hook.
	OutcomeStopped
	// OutcomeFault is a generic condition the architecture did not recover
	// from.
	OutcomeFault
	// OutcomeError is a failure to build a block.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRunning:
		return "running"
	case OutcomeHalted:
		return "halted"
	case OutcomeStopped:
		return "stopped"
	case OutcomeFault:
		return "fault"
	case OutcomeError:
		return "error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the final report of a run.
type Result struct {
	Outcome Outcome
	// Code is the terminating condition code.
	Code int32
	// Reason is the stop reason for OutcomeStopped.
	Reason string
	// Err is an *ExecutionFault for OutcomeFault and the build failure
	// for OutcomeError.
	Err error

	PC           uint64
	Blocks       uint64
	Instructions uint64
	Cycles       uint64
	Interrupts   uint64
}

// Result returns the report of the finished run. Its outcome is
// OutcomeRunning while the emulator has not terminated.
func (e *Emulator) Result() Result { return e.result }

// Run executes blocks until the run terminates.
func (e *Emulator) Run() Result {
	for {
		r := e.Step()
		if r.Exited {
			return e.result
		}
	}
}

// Step runs the boundary work and then one block. Interrupts and stop
// requests are only looked at here, never while a block executes.
func (e *Emulator) Step() StepResult {
	if e.status == StatusTerminated {
		return StepResult{Exited: true, ExitCode: e.result.Code, Err: ErrTerminated}
	}

	if r, done := e.boundary(); done {
		return r
	}

	pc, mode := e.state.PC(), e.state.Mode()

	// The cache reports StatusTranslating on a miss.
	entry, err := e.cache.Get(e.fetcher, pc, mode)
	if err != nil {
		return e.terminate(OutcomeError, 0, "", fmt.Errorf("failed to build block at 0x%x: %w", pc, err))
	}

	e.status = StatusExecuting
	code := entry.Func(e.state)
	e.lastBlock = entry.Block
	e.lastCode = code
	e.blocks++
	entry.Unpin()

	if code == arch.CodeContinue {
		e.status = StatusIdle
		return StepResult{}
	}

	e.log.V(2).Info("block returned condition", "pc", pc, "code", code)
	return e.handle(code)
}

func (e *Emulator) boundary() (StepResult, bool) {
	if !e.stop.Load() {
		b := hooks.Boundary{
			Header: e.state,
			Block:  e.lastBlock,
			Code:   e.lastCode,
			Blocks: e.blocks,
		}
		e.scheduler.AtBoundary(b, e)
		for _, h := range e.hooks {
			h.AtBoundary(b, e)
		}
	}

	if e.stop.Load() {
		reason, _ := e.stopReason.Load().(string)
		return e.terminate(OutcomeStopped, 0, reason, nil), true
	}

	if e.vector == nil {
		return StepResult{}, false
	}
	active := e.vector.Active()
	if len(active) == 0 {
		return StepResult{}, false
	}

	pc := e.state.PC()
	code := e.irqs.InterruptCode(active[0])
	if r := e.handle(code); r.Exited {
		return r, true
	}
	// A masked or deferred interrupt leaves the PC alone.
	if e.state.PC() != pc {
		e.interrupts++
		e.log.V(2).Info("interrupt taken", "line", active[0], "code", code, "pc", pc)
	}
	return StepResult{}, false
}

// handle feeds a condition code to the architecture.
func (e *Emulator) handle(code int32) StepResult {
	e.status = StatusHandlingCondition
	r := e.arch.HandleException(code, e.state)
	switch {
	case r == arch.CodeContinue:
		e.status = StatusIdle
		return StepResult{Code: code}
	case arch.IsGeneric(r):
		return e.terminate(OutcomeFault, r, "", &ExecutionFault{Code: r, PC: e.state.PC()})
	default:
		return e.terminate(OutcomeHalted, r, "", nil)
	}
}

func (e *Emulator) terminate(o Outcome, code int32, reason string, err error) StepResult {
	e.status = StatusTerminated
	e.result = Result{
		Outcome:      o,
		Code:         code,
		Reason:       reason,
		Err:          err,
		PC:           e.state.PC(),
		Blocks:       e.blocks,
		Instructions: e.state.Instret(),
		Cycles:       e.state.Cycles(),
		Interrupts:   e.interrupts,
	}

	log := e.log.V(1)
	if o == OutcomeFault || o == OutcomeError {
		log = e.log
	}
	log.Info("run terminated",
		"outcome", o.String(),
		"code", code,
		"reason", reason,
		"pc", e.result.PC,
		"blocks", e.blocks,
		"instructions", e.result.Instructions,
		"err", err,
	)

	return StepResult{Exited: true, ExitCode: code, Code: e.lastCode, Err: err}
}

// RequestStop implements hooks.Control.
func (e *Emulator) RequestStop(reason string) {
	e.Stop(reason)
}

// RaiseInterrupt sets the pending bit of line.
func (e *Emulator) RaiseInterrupt(line int) error {
	if e.vector == nil {
		return errNoInterrupts
	}
	return e.vector.SetPending(line, true)
}

// ClearInterrupt clears the pending bit of line.
func (e *Emulator) ClearInterrupt(line int) error {
	if e.vector == nil {
		return errNoInterrupts
	}
	return e.vector.SetPending(line, false)
}

var errNoInterrupts = errors.New("architecture has no interrupt vector")
