package insts

import (
	"fmt"

	"github.com/rafzi/etiss/codegen"
)

// TranslateFunc turns the bits of one instruction into generated code. It
// must be a pure function of its arguments.
type TranslateFunc func(bits uint64, ctx *codegen.Context) (codegen.Fragment, error)

// DisassembleFunc renders the instruction at pc as assembly text.
type DisassembleFunc func(bits uint64, pc uint64) string

// Definition describes one instruction encoding. It is immutable once built.
type Definition struct {
	Group       string
	Name        string
	Opcode      uint64
	Mask        uint64
	Width       int
	Translate   TranslateFunc
	Disassemble DisassembleFunc
	// Tag selects the cost class of the instruction, see timing/latency.
	Tag string
}

// DefinitionOption configures optional parts of a Definition.
type DefinitionOption func(*Definition)

// WithDisassembler attaches a disassembly callback.
func WithDisassembler(f DisassembleFunc) DefinitionOption {
	return func(d *Definition) {
		d.Disassemble = f
	}
}

// WithTag sets the cost class.
func WithTag(tag string) DefinitionOption {
	return func(d *Definition) {
		d.Tag = tag
	}
}

// Define builds a definition from the bit-group notation.
func Define(group, name, notation string, width int, tr TranslateFunc, opts ...DefinitionOption) (*Definition, error) {
	if !validWidth(width) {
		return nil, formatErr(notation, "%s: unsupported width %d", name, width)
	}
	if tr == nil {
		return nil, formatErr(notation, "%s: missing translate function", name)
	}

	p, err := ParsePattern(notation, width)
	if err != nil {
		return nil, err
	}

	d := &Definition{
		Group:     group,
		Name:      name,
		Opcode:    p.Opcode,
		Mask:      p.Mask,
		Width:     width,
		Translate: tr,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// MustDefine is like Define but panics on error. Instruction tables are
// static, so a bad entry is a programming error.
func MustDefine(group, name, notation string, width int, tr TranslateFunc, opts ...DefinitionOption) *Definition {
	d, err := Define(group, name, notation, width, tr, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// Matches reports whether word encodes this instruction.
func (d *Definition) Matches(word uint64) bool {
	return Match(word, d.Opcode, d.Mask)
}

// Bytes returns the encoded size in bytes.
func (d *Definition) Bytes() int {
	return d.Width / 8
}

// String returns group/name.
func (d *Definition) String() string {
	return fmt.Sprintf("%s/%s", d.Group, d.Name)
}

func validWidth(w int) bool {
	switch w {
	case 8, 16, 32, 64:
		return true
	default:
		return false
	}
}
