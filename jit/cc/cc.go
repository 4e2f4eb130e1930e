// Package cc is a JIT backend that hands generated source to an external C
// compiler and loads the resulting shared object into the process.
//
// Every Translate call works in a private temporary directory, so
// concurrent translations never share files. Loaded blocks operate on the
// state buffer in place, which is only correct on little-endian hosts.
package cc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/go-logr/logr"
	"golang.org/x/sys/cpu"

	"github.com/rafzi/etiss/arch"
	"github.com/rafzi/etiss/codegen"
	"github.com/rafzi/etiss/jit"
	"github.com/rafzi/etiss/state"
)

// Name is the backend name used for registration.
const Name = "cc"

// DefaultTimeout bounds one compiler invocation.
const DefaultTimeout = 60 * time.Second

var (
	// ErrUnsupportedHost is returned where blocks cannot be loaded.
	ErrUnsupportedHost = errors.New("host cannot load compiled blocks")
	// ErrReleased is returned for handles that were released.
	ErrReleased = errors.New("handle has been released")
)

// Backend implements jit.Backend on top of an external compiler.
type Backend struct {
	compiler string
	flags    []string
	timeout  time.Duration
	workDir  string
	keep     bool
	log      logr.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithCompiler sets the compiler executable. The default is $CC or cc.
func WithCompiler(path string) Option {
	return func(b *Backend) {
		b.compiler = path
	}
}

// WithFlags appends extra compiler flags.
func WithFlags(flags ...string) Option {
	return func(b *Backend) {
		b.flags = append(b.flags, flags...)
	}
}

// WithTimeout bounds each compiler invocation.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) {
		b.timeout = d
	}
}

// WithWorkDir sets the directory that receives the per-unit build
// directories.
func WithWorkDir(dir string) Option {
	return func(b *Backend) {
		b.workDir = dir
	}
}

// KeepFiles leaves build directories in place for inspection.
func KeepFiles(keep bool) Option {
	return func(b *Backend) {
		b.keep = keep
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(b *Backend) {
		b.log = log
	}
}

// New creates a backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		compiler: os.Getenv("CC"),
		timeout:  DefaultTimeout,
		log:      logr.Discard(),
	}
	if b.compiler == "" {
		b.compiler = "cc"
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Supported reports whether this host can load compiled blocks.
func Supported() bool {
	return loaderAvailable && !cpu.IsBigEndian
}

type unit struct {
	lib      library
	dir      string
	released atomic.Bool
}

func (u *unit) Backend() string { return Name }

// Name returns the backend name.
func (b *Backend) Name() string { return Name }

// Version returns the implemented interface version.
func (b *Backend) Version() string { return jit.InterfaceVersion }

// Translate compiles source into a shared object and loads it.
func (b *Backend) Translate(source string, opts jit.Options) (jit.Handle, error) {
	if !Supported() {
		return nil, &jit.CompileError{Backend: Name, Err: ErrUnsupportedHost}
	}

	dir, err := os.MkdirTemp(b.workDir, "etiss-cc-*")
	if err != nil {
		return nil, &jit.CompileError{Backend: Name, Err: fmt.Errorf("failed to create build directory: %w", err)}
	}
	cleanup := func() {
		if !b.keep {
			_ = os.RemoveAll(dir)
		}
	}

	if err := writeSources(dir, source, opts.Headers); err != nil {
		cleanup()
		return nil, &jit.CompileError{Backend: Name, Err: err}
	}

	so := filepath.Join(dir, "block.so")
	args := b.arguments(dir, so, opts)

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, b.compiler, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("compiler timed out after %v: %w", b.timeout, ctx.Err())
	}
	if err != nil {
		cleanup()
		return nil, &jit.CompileError{Backend: Name, Message: string(out), Err: err}
	}
	b.log.V(2).Info("compiled unit", "dir", dir, "elapsed", time.Since(start))

	lib, err := openLibrary(so)
	cleanup()
	if err != nil {
		return nil, &jit.CompileError{Backend: Name, Err: fmt.Errorf("failed to load %s: %w", so, err)}
	}

	return &unit{lib: lib, dir: dir}, nil
}

func (b *Backend) arguments(dir, so string, opts jit.Options) []string {
	args := []string{"-shared", "-fPIC", "-std=c99", "-fno-strict-aliasing"}
	if opts.Debug {
		args = append(args, "-g", "-O0")
	} else {
		args = append(args, "-O2")
	}
	args = append(args, b.flags...)
	args = append(args, "-I"+dir)
	for _, p := range opts.HeaderPaths {
		args = append(args, "-I"+p)
	}
	args = append(args, "-o", so, filepath.Join(dir, "block.c"))
	for _, p := range opts.LibraryPaths {
		args = append(args, "-L"+p)
	}
	for _, l := range opts.Libraries {
		args = append(args, "-l"+l)
	}
	return args
}

func writeSources(dir, source string, headers []jit.Header) error {
	files := map[string]string{codegen.RuntimeHeaderName: codegen.RuntimeHeader}
	for _, h := range headers {
		if h.Name == "" || filepath.Base(h.Name) != h.Name || strings.HasPrefix(h.Name, ".") {
			return fmt.Errorf("invalid header name %q", h.Name)
		}
		files[h.Name] = h.Content
	}
	files["block.c"] = source

	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

// Function resolves symbol in the loaded object.
func (b *Backend) Function(h jit.Handle, symbol string) (jit.BlockFunc, error) {
	u, ok := h.(*unit)
	if !ok {
		return nil, &jit.LinkError{Backend: Name, Symbol: symbol, Err: fmt.Errorf("handle of backend %s", h.Backend())}
	}
	if u.released.Load() {
		return nil, &jit.LinkError{Backend: Name, Symbol: symbol, Err: ErrReleased}
	}

	call, err := u.lib.bind(symbol)
	if err != nil {
		return nil, &jit.LinkError{Backend: Name, Symbol: symbol, Err: err}
	}

	return func(s *state.State) int32 {
		buf := s.Bytes()
		if len(buf) == 0 {
			return arch.CodeBusError
		}
		code := call(unsafe.Pointer(&buf[0]))
		runtime.KeepAlive(buf)
		return code
	}, nil
}

// Release unloads the object behind h.
func (b *Backend) Release(h jit.Handle) error {
	u, ok := h.(*unit)
	if !ok {
		return fmt.Errorf("%s: release of foreign handle", Name)
	}
	if u.released.Swap(true) {
		return ErrReleased
	}
	return u.lib.close()
}
