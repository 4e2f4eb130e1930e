// Package interp is an in-process JIT backend. It preprocesses and parses
// the C subset emitted by the translator and compiles every function into
// a tree of Go closures, so no external tool chain is needed.
//
// The state accessors LD8..LD64 and ST8..ST64 are intrinsics. Faults while
// running a block do not escape: an access outside the state ends the
// block with the bus error code and a division by zero with the divide by
// zero code.
package interp

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/rafzi/etiss/jit"
	"github.com/rafzi/etiss/state"
)

// Name is the backend name used for registration.
const Name = "interp"

// ErrReleased is returned for handles that were released.
var ErrReleased = errors.New("handle has been released")

// Backend implements jit.Backend. It holds no per-unit state and is safe
// for concurrent use.
type Backend struct {
	log logr.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger that receives compile and trap messages.
func WithLogger(log logr.Logger) Option {
	return func(b *Backend) {
		b.log = log
	}
}

// New creates a backend.
func New(opts ...Option) *Backend {
	b := &Backend{log: logr.Discard()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type unit struct {
	funcs    map[string]*function
	debug    bool
	released atomic.Bool
}

func (u *unit) Backend() string { return Name }

// Name returns the backend name.
func (b *Backend) Name() string { return Name }

// Version returns the implemented interface version.
func (b *Backend) Version() string { return jit.InterfaceVersion }

// Translate compiles source. Headers are looked up in opts.Headers first
// and then in opts.HeaderPaths.
func (b *Backend) Translate(source string, opts jit.Options) (jit.Handle, error) {
	if len(opts.Libraries) > 0 {
		return nil, &jit.CompileError{
			Backend: Name,
			Message: fmt.Sprintf("cannot link native libraries %v", opts.Libraries),
		}
	}

	headers := make(map[string]string, len(opts.Headers))
	for _, h := range opts.Headers {
		headers[h.Name] = h.Content
	}

	pp := newPreprocessor(headers, opts.HeaderPaths)
	if err := pp.file("block.c", source); err != nil {
		return nil, &jit.CompileError{Backend: Name, Message: err.Error()}
	}

	funcs, err := compile(pp.out)
	if err != nil {
		return nil, &jit.CompileError{Backend: Name, Message: err.Error()}
	}

	b.log.V(2).Info("compiled unit", "functions", len(funcs), "tokens", len(pp.out))
	return &unit{funcs: funcs, debug: opts.Debug}, nil
}

// Function resolves a block function. Block functions return an integer
// and take the state pointer as their only parameter.
func (b *Backend) Function(h jit.Handle, symbol string) (jit.BlockFunc, error) {
	u, ok := h.(*unit)
	if !ok {
		return nil, &jit.LinkError{Backend: Name, Symbol: symbol, Err: fmt.Errorf("handle of backend %s", h.Backend())}
	}
	if u.released.Load() {
		return nil, &jit.LinkError{Backend: Name, Symbol: symbol, Err: ErrReleased}
	}

	fn := u.funcs[symbol]
	if fn == nil || fn.body == nil {
		return nil, &jit.LinkError{Backend: Name, Symbol: symbol}
	}
	if !fn.ret.arithmetic() || len(fn.params) != 1 || !fn.params[0].ptr {
		return nil, &jit.LinkError{Backend: Name, Symbol: symbol, Err: errors.New("not a block function")}
	}

	return b.block(u, fn), nil
}

// Release invalidates h.
func (b *Backend) Release(h jit.Handle) error {
	u, ok := h.(*unit)
	if !ok {
		return fmt.Errorf("%s: release of foreign handle", Name)
	}
	if u.released.Swap(true) {
		return ErrReleased
	}
	return nil
}

func (b *Backend) block(u *unit, fn *function) jit.BlockFunc {
	return func(s *state.State) (code int32) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			t, ok := r.(trap)
			if !ok {
				panic(r)
			}
			code = t.code
			log := b.log.V(1)
			if u.debug {
				log = b.log
			}
			log.Info("block trapped", "symbol", fn.name, "code", t.code, "at", t.at, "reason", t.msg)
		}()

		f := &frame{m: &machine{st: s}, vars: make([]uint64, fn.nslots)}
		fn.body(f)
		return int32(f.ret)
	}
}
