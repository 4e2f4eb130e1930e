// Package translate turns instruction streams into translated blocks.
package translate

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/rafzi/etiss/arch"
	"github.com/rafzi/etiss/codegen"
	"github.com/rafzi/etiss/insts"
	"github.com/rafzi/etiss/jit"
	"github.com/rafzi/etiss/timing/latency"
)

// Default block budgets.
const (
	DefaultMaxInstructions = 64
	DefaultMaxBytes        = 1024
)

// Fetcher supplies instruction bytes. Fetch fills buf from the byte
// address addr and returns how many bytes are valid. It fails when addr
// itself cannot be read.
type Fetcher interface {
	Fetch(addr uint64, buf []byte) (int, error)
}

// DecodeError reports bytes that match no instruction.
type DecodeError struct {
	PC    uint64
	Mode  uint32
	Bytes []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("no instruction matches % x at 0x%x (mode %d)", e.Bytes, e.PC, e.Mode)
}

// Engine translates blocks for one architecture. It keeps no per-block
// state and may be shared between goroutines.
type Engine struct {
	arch            arch.Architecture
	costs           *latency.Table
	maxInstructions int
	maxBytes        int
	log             logr.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCostTable sets the cycle cost model.
func WithCostTable(t *latency.Table) Option {
	return func(e *Engine) {
		e.costs = t
	}
}

// WithMaxInstructions limits the instructions per block.
func WithMaxInstructions(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxInstructions = n
		}
	}
}

// WithMaxBytes limits the instruction bytes per block.
func WithMaxBytes(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// New creates an engine for a.
func New(a arch.Architecture, opts ...Option) *Engine {
	e := &Engine{
		arch:            a,
		costs:           latency.NewTable(),
		maxInstructions: DefaultMaxInstructions,
		maxBytes:        DefaultMaxBytes,
		log:             logr.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Architecture returns the architecture the engine translates for.
func (e *Engine) Architecture() arch.Architecture { return e.arch }

// Version identifies everything besides the instruction bytes that
// influences generated code.
func (e *Engine) Version() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range []uint64{
		e.arch.ConfigVersion(),
		e.costs.Fingerprint(),
		uint64(e.maxInstructions),
		uint64(e.maxBytes),
	} {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	_, _ = h.Write([]byte(e.arch.Name()))
	return h.Sum64()
}

// Symbol returns the function name of the block at pc.
func (e *Engine) Symbol(pc uint64, mode uint32) string {
	return fmt.Sprintf("blk_%s_%016x_m%d", identifier(e.arch.Name()), pc, mode)
}

func identifier(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}

// TranslateBlock translates the instructions starting at pc, given in PC
// units.
//
// Undecodable bytes end the block with a part that returns the illegal
// instruction code. A fetch failure at pc yields a block that returns the
// bus error code; later fetch failures end the block before the failing
// address.
func (e *Engine) TranslateBlock(f Fetcher, pc uint64, mode uint32) (*codegen.Block, error) {
	var (
		set    = e.arch.InstructionSet()
		order  = e.arch.ByteOrder()
		unit   = uint64(e.arch.InstructionSizeInBytes())
		buf    = make([]byte, e.arch.MaximumInstructionSizeInBytes())
		labels = codegen.NewLabels()
	)
	if unit == 0 {
		return nil, fmt.Errorf("%s: instruction size of zero bytes", e.arch.Name())
	}

	b := &codegen.Block{
		Symbol: e.Symbol(pc, mode),
		Arch:   e.arch.Name(),
		PC:     pc,
		Mode:   mode,
	}
	b.Parts = append(b.Parts, codegen.Part{
		Kind: codegen.KindPrologue,
		PC:   pc,
		Text: fmt.Sprintf("/* %s block 0x%x mode %d */\n", e.arch.Name(), pc, mode),
	})

	cur := pc
	var retired, cycles uint64

	for b.Instructions < e.maxInstructions {
		n, err := f.Fetch(cur*unit, buf)
		if err != nil || n == 0 {
			if b.Instructions == 0 {
				e.log.V(1).Info("fetch failed", "pc", cur, "err", err)
				b.Parts = append(b.Parts, faultPart(codegen.KindBusError, "fetch", cur, mode, labels, retired, cycles, arch.CodeBusError))
				b.EndPC = cur
				return b, nil
			}
			break
		}

		def, word, ok := set.Lookup(buf[:n], order, insts.Mode(mode))
		if !ok {
			b.Parts = append(b.Parts, faultPart(codegen.KindIllegal, "illegal", cur, mode, labels, retired, cycles, arch.CodeIllegalInstruction))
			b.EndPC = cur
			return b, nil
		}

		size := def.Bytes()
		if uint64(size)%unit != 0 {
			return nil, fmt.Errorf("%s is %d bytes, not a multiple of the %d byte PC unit", def, size, unit)
		}
		if b.Instructions > 0 && b.Bytes+size > e.maxBytes {
			break
		}

		next := cur + uint64(size)/unit
		cost := e.costs.Cost(def.Tag)
		ctx := codegen.NewContext(cur, next, mode, b.Instructions, labels, retired, cycles, cost)
		frag, err := def.Translate(word, ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to translate %s at 0x%x: %w", def.Name, cur, err)
		}

		part := codegen.Part{
			Kind:     codegen.KindInstruction,
			PC:       cur,
			Size:     size,
			Name:     def.Name,
			Text:     fmt.Sprintf("/* 0x%x: %s */\n", cur, comment(disassemble(def.Disassemble, def.Name, word, cur))) + frag.Text,
			Contract: frag.Contract,
			Terminal: frag.Terminal || frag.Contract == codegen.AlwaysReturns,
		}
		b.Parts = append(b.Parts, part)

		b.Instructions++
		b.Bytes += size
		retired++
		cycles += cost
		cur = next

		if part.Terminal {
			break
		}
	}

	b.EndPC = cur
	if last := b.Parts[len(b.Parts)-1]; last.Contract != codegen.AlwaysReturns {
		w := codegen.NewWriter()
		w.Stmt("%s", codegen.Store(8, "0", codegen.Hex(cur)))
		codegen.Retire(w, retired, cycles)
		w.Stmt("return 0")
		b.Parts = append(b.Parts, codegen.Part{
			Kind:     codegen.KindEpilogue,
			PC:       cur,
			Text:     w.String(),
			Contract: codegen.AlwaysReturns,
			Terminal: true,
		})
	}

	e.log.V(2).Info("translated block", "pc", pc, "mode", mode, "instructions", b.Instructions)
	return b, nil
}

func faultPart(kind codegen.PartKind, name string, pc uint64, mode uint32, labels *codegen.Labels, retired, cycles uint64, code int32) codegen.Part {
	w := codegen.NewWriter()
	w.Comment("0x%x: %s", pc, name)
	codegen.NewContext(pc, pc, mode, 0, labels, retired, cycles, 0).Fault(w, code)
	frag := w.Returns()
	return codegen.Part{
		Kind:     kind,
		PC:       pc,
		Name:     name,
		Text:     frag.Text,
		Contract: frag.Contract,
		Terminal: true,
	}
}

func disassemble(fn func(bits, pc uint64) string, name string, word, pc uint64) string {
	if fn == nil {
		return name
	}
	return fn(word, pc)
}

func comment(s string) string {
	return strings.ReplaceAll(s, "*/", "* /")
}

// Unit wraps blocks into a translation unit with the architecture headers.
func (e *Engine) Unit(blocks ...*codegen.Block) codegen.Unit {
	u := codegen.Unit{Blocks: blocks}
	for _, h := range e.arch.Headers() {
		u.Headers = append(u.Headers, h.Name)
	}
	return u
}

// Headers returns the architecture headers in the form backends take.
func (e *Engine) Headers() []jit.Header {
	var out []jit.Header
	for _, h := range e.arch.Headers() {
		out = append(out, jit.Header{Name: h.Name, Content: h.Content})
	}
	return out
}
