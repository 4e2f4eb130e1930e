package insts

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatError reports a malformed bit-pattern or instruction definition.
type FormatError struct {
	Input string
	Msg   string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error in %q: %s", e.Input, e.Msg)
}

func formatErr(input, format string, args ...any) error {
	return &FormatError{Input: input, Msg: fmt.Sprintf(format, args...)}
}

// Match reports whether word carries opcode in the bits selected by mask.
func Match(word, opcode, mask uint64) bool {
	return word&mask == opcode&mask
}

// Group is one run of bits in the bit-group notation.
type Group struct {
	Width    int
	Value    uint64
	DontCare bool
}

// Pattern is an opcode/mask pair for an instruction of Width bits.
type Pattern struct {
	Opcode uint64
	Mask   uint64
	Width  int
}

// Matches reports whether word matches the pattern.
func (p Pattern) Matches(word uint64) bool {
	return Match(word, p.Opcode, p.Mask)
}

// ParseGroups parses the bit-group notation. Groups are separated by blanks
// and written most significant first as <width>x<hex value>, for example
// "6x38 15x0 1x0 2x0 4x0 4xe". A value of "-" leaves the group unmatched.
func ParseGroups(notation string) ([]Group, error) {
	fields := strings.Fields(notation)
	if len(fields) == 0 {
		return nil, formatErr(notation, "no bit groups")
	}

	groups := make([]Group, 0, len(fields))
	for _, f := range fields {
		w, v, ok := strings.Cut(f, "x")
		if !ok || w == "" || v == "" {
			return nil, formatErr(notation, "group %q is not <width>x<value>", f)
		}

		width, err := strconv.Atoi(w)
		if err != nil || width <= 0 || width > 64 {
			return nil, formatErr(notation, "group %q has a bad width", f)
		}

		if v == "-" {
			groups = append(groups, Group{Width: width, DontCare: true})
			continue
		}

		value, err := strconv.ParseUint(v, 16, 64)
		if err != nil {
			return nil, formatErr(notation, "group %q has a bad value", f)
		}
		if width < 64 && value>>width != 0 {
			return nil, formatErr(notation, "value 0x%x does not fit in %d bits", value, width)
		}
		groups = append(groups, Group{Width: width, Value: value})
	}
	return groups, nil
}

// Compose folds groups into one pattern whose width is the sum of the
// group widths.
func Compose(groups []Group) (Pattern, error) {
	var p Pattern
	for _, g := range groups {
		if g.Width <= 0 {
			return Pattern{}, formatErr(FormatGroups(groups), "empty group")
		}
		if g.Width < 64 && g.Value>>g.Width != 0 {
			return Pattern{}, formatErr(FormatGroups(groups), "value 0x%x does not fit in %d bits", g.Value, g.Width)
		}
		p.Width += g.Width
		if p.Width > 64 {
			return Pattern{}, formatErr(FormatGroups(groups), "pattern wider than 64 bits")
		}

		p.Opcode <<= g.Width
		p.Mask <<= g.Width
		if g.DontCare {
			continue
		}
		p.Opcode |= g.Value
		p.Mask |= lowBits(g.Width)
	}
	return p, nil
}

// FormatGroups renders groups in the bit-group notation.
func FormatGroups(groups []Group) string {
	parts := make([]string, len(groups))
	for i, g := range groups {
		if g.DontCare {
			parts[i] = fmt.Sprintf("%dx-", g.Width)
			continue
		}
		parts[i] = fmt.Sprintf("%dx%x", g.Width, g.Value)
	}
	return strings.Join(parts, " ")
}

// ParsePattern parses notation for an instruction of width bits.
func ParsePattern(notation string, width int) (Pattern, error) {
	groups, err := ParseGroups(notation)
	if err != nil {
		return Pattern{}, err
	}

	total := 0
	for _, g := range groups {
		total += g.Width
	}
	if total != width {
		return Pattern{}, formatErr(notation, "groups cover %d bits, want %d", total, width)
	}

	return Compose(groups)
}

func lowBits(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << n) - 1
}
