package interp

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ctype is a C scalar type. Values of every type travel as uint64 in
// canonical form: truncated to the type width, then sign- or
// zero-extended.
type ctype struct {
	bits    int // 0 is void
	signed  bool
	ptr     bool
	boolean bool
}

var (
	tVoid  = ctype{}
	tBool  = ctype{bits: 8, boolean: true}
	tInt   = ctype{bits: 32, signed: true}
	tUint  = ctype{bits: 32}
	tLong  = ctype{bits: 64, signed: true}
	tUlong = ctype{bits: 64}
	tPtr   = ctype{bits: 64, ptr: true}
)

func intType(bits int, signed bool) ctype {
	return ctype{bits: bits, signed: signed}
}

func (t ctype) void() bool { return t.bits == 0 }

func (t ctype) arithmetic() bool { return t.bits != 0 && !t.ptr }

func (t ctype) String() string {
	switch {
	case t.void():
		return "void"
	case t.ptr:
		return "pointer"
	case t.boolean:
		return "_Bool"
	case t.signed:
		return fmt.Sprintf("int%d_t", t.bits)
	default:
		return fmt.Sprintf("uint%d_t", t.bits)
	}
}

// normalize brings v into canonical form for t.
func normalize(v uint64, t ctype) uint64 {
	if t.boolean {
		if v != 0 {
			return 1
		}
		return 0
	}
	if t.bits == 0 || t.bits >= 64 || t.ptr {
		return v
	}
	shift := uint(64 - t.bits)
	if t.signed {
		return uint64(int64(v<<shift) >> shift)
	}
	return v << shift >> shift
}

func promote(t ctype) ctype {
	if t.ptr || t.bits >= 32 {
		return ctype{bits: t.bits, signed: t.signed, ptr: t.ptr}
	}
	return tInt
}

// usual applies the usual arithmetic conversions. On LP64 every signed
// type can hold all values of a narrower unsigned type.
func usual(a, b ctype) ctype {
	a, b = promote(a), promote(b)
	if a == b {
		return a
	}
	if a.signed == b.signed {
		if a.bits >= b.bits {
			return a
		}
		return b
	}
	u, s := a, b
	if a.signed {
		u, s = b, a
	}
	if u.bits >= s.bits {
		return u
	}
	return s
}

var namedTypes = map[string]ctype{
	"int8_t":    intType(8, true),
	"int16_t":   intType(16, true),
	"int32_t":   intType(32, true),
	"int64_t":   intType(64, true),
	"uint8_t":   intType(8, false),
	"uint16_t":  intType(16, false),
	"uint32_t":  intType(32, false),
	"uint64_t":  intType(64, false),
	"size_t":    tUlong,
	"ssize_t":   tLong,
	"intptr_t":  tLong,
	"uintptr_t": tUlong,
	"bool":      tBool,
	"_Bool":     tBool,
}

var typeKeywords = map[string]bool{
	"void": true, "char": true, "short": true, "int": true, "long": true,
	"signed": true, "unsigned": true,
}

var qualifiers = map[string]bool{
	"const": true, "volatile": true, "static": true, "inline": true,
	"extern": true, "register": true, "__inline": true, "__inline__": true,
	"restrict": true, "__restrict": true,
}

func startsType(t token) bool {
	if t.kind != tkIdent {
		return false
	}
	_, named := namedTypes[t.text]
	return named || typeKeywords[t.text] || qualifiers[t.text] || t.text == "__attribute__"
}

// parseNumber decodes an integer literal and assigns its C type.
func parseNumber(text string) (uint64, ctype, error) {
	lower := strings.ToLower(text)
	digits := strings.TrimRight(lower, "ul")
	suffix := lower[len(digits):]
	unsigned := strings.Count(suffix, "u")
	long := strings.Count(suffix, "l")
	if unsigned > 1 || long > 2 || (long == 2 && !strings.Contains(suffix, "ll")) {
		return 0, tVoid, fmt.Errorf("bad integer suffix in %s", text)
	}

	base, decimal := 10, true
	switch {
	case strings.HasPrefix(digits, "0x"):
		base, decimal = 16, false
		digits = digits[2:]
	case strings.HasPrefix(digits, "0b"):
		base, decimal = 2, false
		digits = digits[2:]
	case len(digits) > 1 && digits[0] == '0':
		base, decimal = 8, false
		digits = digits[1:]
	}

	v, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		return 0, tVoid, fmt.Errorf("bad integer literal %s", text)
	}

	var candidates []ctype
	switch {
	case unsigned == 1 && long == 0:
		candidates = []ctype{tUint, tUlong}
	case unsigned == 1:
		candidates = []ctype{tUlong}
	case long > 0 && decimal:
		candidates = []ctype{tLong}
	case long > 0:
		candidates = []ctype{tLong, tUlong}
	case decimal:
		candidates = []ctype{tInt, tLong}
	default:
		candidates = []ctype{tInt, tUint, tLong, tUlong}
	}

	for _, t := range candidates {
		if fits(v, t) {
			return v, t, nil
		}
	}
	return 0, tVoid, fmt.Errorf("integer literal %s is too large", text)
}

func fits(v uint64, t ctype) bool {
	switch {
	case t.signed && t.bits == 32:
		return v <= math.MaxInt32
	case t.signed:
		return v <= math.MaxInt64
	case t.bits == 32:
		return v <= math.MaxUint32
	default:
		return true
	}
}

// parseChar decodes a character constant. Its type is int.
func parseChar(text string) (uint64, error) {
	body := text[1 : len(text)-1]
	if body == "" {
		return 0, fmt.Errorf("empty character constant")
	}
	if body[0] != '\\' {
		if len(body) != 1 {
			return 0, fmt.Errorf("multi-character constant %s", text)
		}
		return uint64(body[0]), nil
	}
	switch {
	case len(body) == 2:
		switch body[1] {
		case 'n':
			return '\n', nil
		case 't':
			return '\t', nil
		case 'r':
			return '\r', nil
		case '0':
			return 0, nil
		case '\\', '\'', '"', '?':
			return uint64(body[1]), nil
		}
	case body[1] == 'x':
		v, err := strconv.ParseUint(body[2:], 16, 8)
		if err == nil {
			return normalize(v, intType(8, true)), nil
		}
	default:
		v, err := strconv.ParseUint(body[1:], 8, 8)
		if err == nil {
			return normalize(v, intType(8, true)), nil
		}
	}
	return 0, fmt.Errorf("bad escape in %s", text)
}
