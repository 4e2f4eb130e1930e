package interp

import (
	"github.com/rafzi/etiss/arch"
	"github.com/rafzi/etiss/state"
)

const maxCallDepth = 256

// trap stops a running block with a condition code.
type trap struct {
	code int32
	at   string
	msg  string
}

type machine struct {
	st    *state.State
	depth int
}

type frame struct {
	m    *machine
	vars []uint64
	ret  uint64
}

type expr struct {
	t    ctype
	eval func(f *frame) uint64
	lv   *local
	// konst is set when the value does not depend on the state or on
	// locals.
	konst bool
}

func (p *parser) scalar(e expr) {
	if e.t.void() {
		p.fail(p.peek(), "void value used in expression")
	}
}

func (p *parser) arith(at token, e expr) {
	if !e.t.arithmetic() {
		p.fail(at, "%s operand is not supported here", e.t)
	}
}

// assignable checks that a value of e's type may be stored into t.
func (p *parser) assignable(at token, t ctype, e expr) {
	p.scalar(e)
	if t.ptr != e.t.ptr {
		p.fail(at, "cannot convert %s to %s", e.t, t)
	}
}

func (p *parser) expr() expr {
	e := p.assign()
	for p.peek().is(",") {
		p.next()
		first := e.eval
		rest := p.assign()
		second := rest.eval
		e = expr{t: rest.t, konst: e.konst && rest.konst, eval: func(f *frame) uint64 {
			first(f)
			return second(f)
		}}
	}
	return e
}

var compoundOps = map[string]string{
	"+=": "+", "-=": "-", "*=": "*", "/=": "/", "%=": "%",
	"<<=": "<<", ">>=": ">>", "&=": "&", "|=": "|", "^=": "^",
}

func (p *parser) assign() expr {
	lhs := p.conditional()
	t := p.peek()
	op, compound := compoundOps[t.text]
	if t.kind != tkPunct || (!compound && t.text != "=") {
		return lhs
	}
	p.next()
	if lhs.lv == nil {
		p.fail(t, "left side of %s is not assignable", t.text)
	}
	rhs := p.assign()

	slot, lt := lhs.lv.slot, lhs.lv.t
	if !compound {
		p.assignable(t, lt, rhs)
		ev := rhs.eval
		return expr{t: lt, eval: func(f *frame) uint64 {
			v := normalize(ev(f), lt)
			f.vars[slot] = v
			return v
		}}
	}

	combined := p.binary(t, op, lhs, rhs).eval
	return expr{t: lt, eval: func(f *frame) uint64 {
		v := normalize(combined(f), lt)
		f.vars[slot] = v
		return v
	}}
}

func (p *parser) conditional() expr {
	c := p.binaryLevel(1)
	t := p.peek()
	if !t.is("?") {
		return c
	}
	p.next()
	p.scalar(c)
	a := p.expr()
	p.expect(":")
	b := p.conditional()

	var rt ctype
	switch {
	case a.t.void() && b.t.void():
		rt = tVoid
	case a.t.ptr && b.t.ptr:
		rt = tPtr
	default:
		p.arith(t, a)
		p.arith(t, b)
		rt = usual(a.t, b.t)
	}

	ce, ae, be := c.eval, a.eval, b.eval
	return expr{t: rt, konst: c.konst && a.konst && b.konst, eval: func(f *frame) uint64 {
		if ce(f) != 0 {
			return normalize(ae(f), rt)
		}
		return normalize(be(f), rt)
	}}
}

var precedence = map[string]int{
	"||": 1,
	"&&": 2,
	"|":  3,
	"^":  4,
	"&":  5,
	"==": 6, "!=": 6,
	"<": 7, ">": 7, "<=": 7, ">=": 7,
	"<<": 8, ">>": 8,
	"+": 9, "-": 9,
	"*": 10, "/": 10, "%": 10,
}

func (p *parser) binaryLevel(min int) expr {
	lhs := p.unary()
	for {
		t := p.peek()
		prec, ok := precedence[t.text]
		if t.kind != tkPunct || !ok || prec < min {
			return lhs
		}
		p.next()
		rhs := p.binaryLevel(prec + 1)
		lhs = p.binary(t, t.text, lhs, rhs)
	}
}

func (p *parser) binary(at token, op string, a, b expr) expr {
	p.arith(at, a)
	p.arith(at, b)
	ae, be := a.eval, b.eval
	konst := a.konst && b.konst
	pos := at.pos()

	switch op {
	case "&&":
		return expr{t: tInt, konst: konst, eval: func(f *frame) uint64 {
			return b2u(ae(f) != 0 && be(f) != 0)
		}}
	case "||":
		return expr{t: tInt, konst: konst, eval: func(f *frame) uint64 {
			return b2u(ae(f) != 0 || be(f) != 0)
		}}
	case "<<", ">>":
		t := promote(a.t)
		mask := uint64(t.bits - 1)
		if op == "<<" {
			return expr{t: t, konst: konst, eval: func(f *frame) uint64 {
				x := normalize(ae(f), t)
				return normalize(x<<(be(f)&mask), t)
			}}
		}
		if t.signed {
			return expr{t: t, konst: konst, eval: func(f *frame) uint64 {
				x := normalize(ae(f), t)
				return normalize(uint64(int64(x)>>(be(f)&mask)), t)
			}}
		}
		return expr{t: t, konst: konst, eval: func(f *frame) uint64 {
			x := normalize(ae(f), t)
			return x >> (be(f) & mask)
		}}
	}

	t := usual(a.t, b.t)
	operands := func(f *frame) (uint64, uint64) {
		return normalize(ae(f), t), normalize(be(f), t)
	}

	switch op {
	case "==", "!=", "<", ">", "<=", ">=":
		cmp := compare(op, t.signed)
		return expr{t: tInt, konst: konst, eval: func(f *frame) uint64 {
			x, y := operands(f)
			return b2u(cmp(x, y))
		}}
	}

	var calc func(x, y uint64) uint64
	switch op {
	case "+":
		calc = func(x, y uint64) uint64 { return x + y }
	case "-":
		calc = func(x, y uint64) uint64 { return x - y }
	case "*":
		calc = func(x, y uint64) uint64 { return x * y }
	case "&":
		calc = func(x, y uint64) uint64 { return x & y }
	case "|":
		calc = func(x, y uint64) uint64 { return x | y }
	case "^":
		calc = func(x, y uint64) uint64 { return x ^ y }
	case "/", "%":
		calc = division(op, t.signed, pos)
	default:
		p.fail(at, "unknown operator %s", op)
	}

	return expr{t: t, konst: konst, eval: func(f *frame) uint64 {
		x, y := operands(f)
		return normalize(calc(x, y), t)
	}}
}

func division(op string, signed bool, pos string) func(x, y uint64) uint64 {
	return func(x, y uint64) uint64 {
		if y == 0 {
			panic(trap{code: arch.CodeDivideByZero, at: pos, msg: "division by zero"})
		}
		switch {
		case signed && op == "/":
			return uint64(int64(x) / int64(y))
		case signed:
			return uint64(int64(x) % int64(y))
		case op == "/":
			return x / y
		default:
			return x % y
		}
	}
}

func compare(op string, signed bool) func(x, y uint64) bool {
	if signed {
		switch op {
		case "<":
			return func(x, y uint64) bool { return int64(x) < int64(y) }
		case ">":
			return func(x, y uint64) bool { return int64(x) > int64(y) }
		case "<=":
			return func(x, y uint64) bool { return int64(x) <= int64(y) }
		case ">=":
			return func(x, y uint64) bool { return int64(x) >= int64(y) }
		}
	}
	switch op {
	case "==":
		return func(x, y uint64) bool { return x == y }
	case "!=":
		return func(x, y uint64) bool { return x != y }
	case "<":
		return func(x, y uint64) bool { return x < y }
	case ">":
		return func(x, y uint64) bool { return x > y }
	case "<=":
		return func(x, y uint64) bool { return x <= y }
	default:
		return func(x, y uint64) bool { return x >= y }
	}
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (p *parser) unary() expr {
	t := p.peek()
	if t.kind != tkPunct && !(t.kind == tkIdent && t.text == "sizeof") {
		return p.postfix()
	}

	switch {
	case t.is("+"), t.is("-"), t.is("~"):
		p.next()
		e := p.unary()
		p.arith(t, e)
		rt := promote(e.t)
		ev := e.eval
		var calc func(uint64) uint64
		switch t.text {
		case "+":
			calc = func(x uint64) uint64 { return x }
		case "-":
			calc = func(x uint64) uint64 { return -x }
		default:
			calc = func(x uint64) uint64 { return ^x }
		}
		return expr{t: rt, konst: e.konst, eval: func(f *frame) uint64 {
			return normalize(calc(normalize(ev(f), rt)), rt)
		}}

	case t.is("!"):
		p.next()
		e := p.unary()
		p.scalar(e)
		ev := e.eval
		return expr{t: tInt, konst: e.konst, eval: func(f *frame) uint64 {
			return b2u(ev(f) == 0)
		}}

	case t.is("++"), t.is("--"):
		p.next()
		e := p.unary()
		return p.increment(t, e, t.text == "++", true)

	case t.is("*"), t.is("&"):
		p.fail(t, "pointer operators are not supported")

	case t.kind == tkIdent:
		p.next()
		var size int
		if p.peek().is("(") && startsType(p.peekAt(1)) {
			p.next()
			ty, _ := p.declSpecs()
			ty = p.stars(ty)
			p.expect(")")
			size = ty.bits / 8
		} else {
			e := p.unary()
			size = e.t.bits / 8
		}
		if size == 0 {
			p.fail(t, "sizeof of an incomplete type")
		}
		v := uint64(size)
		return expr{t: tUlong, konst: true, eval: func(*frame) uint64 { return v }}

	case t.is("(") && startsType(p.peekAt(1)):
		p.next()
		ty, _ := p.declSpecs()
		ty = p.stars(ty)
		p.expect(")")
		e := p.unary()
		if !ty.void() {
			p.assignable(t, ty, e)
		}
		ev := e.eval
		return expr{t: ty, konst: e.konst, eval: func(f *frame) uint64 {
			return normalize(ev(f), ty)
		}}
	}

	return p.postfix()
}

func (p *parser) increment(at token, e expr, up, prefix bool) expr {
	if e.lv == nil {
		p.fail(at, "operand of %s is not assignable", at.text)
	}
	p.arith(at, e)
	slot, lt := e.lv.slot, e.lv.t
	delta := uint64(1)
	if !up {
		delta = ^uint64(0)
	}
	return expr{t: lt, eval: func(f *frame) uint64 {
		old := f.vars[slot]
		v := normalize(old+delta, lt)
		f.vars[slot] = v
		if prefix {
			return v
		}
		return old
	}}
}

func (p *parser) postfix() expr {
	e := p.primary()
	for {
		t := p.peek()
		switch {
		case t.is("++"), t.is("--"):
			p.next()
			e = p.increment(t, e, t.text == "++", false)
		case t.is("["), t.is("->"), t.is("."):
			p.fail(t, "%s is not supported", t.text)
		default:
			return e
		}
	}
}

func (p *parser) primary() expr {
	t := p.next()

	switch t.kind {
	case tkNumber:
		v, ty, err := parseNumber(t.text)
		if err != nil {
			p.fail(t, "%v", err)
		}
		return expr{t: ty, konst: true, eval: func(*frame) uint64 { return v }}

	case tkChar:
		v, err := parseChar(t.text)
		if err != nil {
			p.fail(t, "%v", err)
		}
		return expr{t: tInt, konst: true, eval: func(*frame) uint64 { return v }}

	case tkIdent:
		if p.peek().is("(") {
			return p.call(t)
		}
		if p.scope != nil {
			if l := p.scope.lookup(t.text); l != nil {
				if p.konst {
					p.fail(t, "%s is not a constant", t.text)
				}
				slot := l.slot
				return expr{t: l.t, lv: l, eval: func(f *frame) uint64 { return f.vars[slot] }}
			}
		}
		if g, ok := p.globals[t.text]; ok {
			v := g.val
			return expr{t: g.t, konst: true, eval: func(*frame) uint64 { return v }}
		}
		p.fail(t, "undeclared identifier %s", t.text)

	case tkPunct:
		if t.is("(") {
			e := p.expr()
			p.expect(")")
			e.lv = nil
			return e
		}
	}

	p.fail(t, "unexpected %s", t)
	return expr{}
}

func (p *parser) args() []expr {
	p.expect("(")
	var args []expr
	if p.accept(")") {
		return args
	}
	for {
		args = append(args, p.assign())
		if p.accept(",") {
			continue
		}
		p.expect(")")
		return args
	}
}

func (p *parser) call(name token) expr {
	if p.konst {
		p.fail(name, "call to %s in a constant expression", name.text)
	}
	if e, ok := p.intrinsic(name); ok {
		return e
	}

	fn := p.funcs[name.text]
	if fn == nil {
		p.fail(name, "call to undeclared function %s", name.text)
	}
	args := p.args()
	if len(args) != len(fn.params) {
		p.fail(name, "%s expects %d arguments, got %d", fn.name, len(fn.params), len(args))
	}

	evals := make([]func(*frame) uint64, len(args))
	for i, a := range args {
		p.assignable(name, fn.params[i], a)
		evals[i] = a.eval
	}
	params := fn.params
	pos := name.pos()
	fn.used = true

	return expr{t: fn.ret, eval: func(f *frame) uint64 {
		vals := make([]uint64, len(evals))
		for i, ev := range evals {
			vals[i] = normalize(ev(f), params[i])
		}
		return f.m.call(fn, vals, pos)
	}}
}

type accessor struct {
	size  int
	store bool
}

var intrinsics = map[string]accessor{
	"LD8": {8, false}, "LD16": {16, false}, "LD32": {32, false}, "LD64": {64, false},
	"ST8": {8, true}, "ST16": {16, true}, "ST32": {32, true}, "ST64": {64, true},
}

// intrinsic compiles the state accessors LD8..LD64 and ST8..ST64.
func (p *parser) intrinsic(name token) (expr, bool) {
	acc, ok := intrinsics[name.text]
	if !ok {
		return expr{}, false
	}
	if _, shadowed := p.funcs[name.text]; shadowed {
		return expr{}, false
	}
	size, store := acc.size, acc.store

	bytes := size / 8
	pos := name.pos()
	args := p.args()
	want := 1
	if store {
		want = 2
	}
	if len(args) != want {
		p.fail(name, "%s expects %d arguments, got %d", name.text, want, len(args))
	}
	for _, a := range args {
		p.arith(name, a)
	}
	off := args[0].eval

	if !store {
		t := intType(size, false)
		return expr{t: t, eval: func(f *frame) uint64 {
			v, err := f.m.st.Load(offset(off(f)), bytes)
			if err != nil {
				panic(trap{code: arch.CodeBusError, at: pos, msg: err.Error()})
			}
			return v
		}}, true
	}

	val := args[1].eval
	return expr{t: tVoid, eval: func(f *frame) uint64 {
		o, v := offset(off(f)), val(f)
		if err := f.m.st.Store(o, bytes, v); err != nil {
			panic(trap{code: arch.CodeBusError, at: pos, msg: err.Error()})
		}
		return 0
	}}, true
}

func offset(v uint64) int {
	if v > 1<<31 {
		return -1
	}
	return int(v)
}

func (m *machine) call(fn *function, args []uint64, pos string) uint64 {
	if m.depth >= maxCallDepth {
		panic(trap{code: arch.CodeBusError, at: pos, msg: "call depth exceeded"})
	}
	m.depth++
	defer func() { m.depth-- }()

	f := &frame{m: m, vars: make([]uint64, fn.nslots)}
	copy(f.vars, args)
	fn.body(f)
	return f.ret
}
