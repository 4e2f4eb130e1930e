package interp

import "fmt"

// parseError aborts parsing; it is recovered at the top of compile.
type parseError struct {
	msg string
}

type local struct {
	name string
	t    ctype
	slot int
}

type global struct {
	t   ctype
	val uint64
}

type scope struct {
	parent *scope
	vars   map[string]*local
}

func (s *scope) lookup(name string) *local {
	for ; s != nil; s = s.parent {
		if l, ok := s.vars[name]; ok {
			return l
		}
	}
	return nil
}

type function struct {
	name   string
	ret    ctype
	params []ctype
	nslots int
	body   stmt
	at     token
	used   bool
}

type parser struct {
	toks    []token
	pos     int
	funcs   map[string]*function
	globals map[string]global

	fn    *function
	scope *scope
	loops int
	konst bool // constant expressions only
}

func newParser(toks []token) *parser {
	return &parser{
		toks:    toks,
		funcs:   make(map[string]*function),
		globals: make(map[string]global),
	}
}

func (p *parser) fail(at token, format string, a ...any) {
	panic(parseError{msg: fmt.Sprintf("%s: %s", at.pos(), fmt.Sprintf(format, a...))})
}

func (p *parser) peek() token {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	t := token{kind: tkEOF}
	if n := len(p.toks); n > 0 {
		t.file, t.line = p.toks[n-1].file, p.toks[n-1].line
	}
	return t
}

func (p *parser) peekAt(n int) token {
	if p.pos+n < len(p.toks) {
		return p.toks[p.pos+n]
	}
	return token{kind: tkEOF}
}

func (p *parser) next() token {
	t := p.peek()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) accept(punct string) bool {
	if p.peek().is(punct) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) acceptWord(word string) bool {
	if t := p.peek(); t.kind == tkIdent && t.text == word {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(punct string) token {
	t := p.next()
	if !t.is(punct) {
		p.fail(t, "expected %q, found %s", punct, t)
	}
	return t
}

func (p *parser) ident() token {
	t := p.next()
	if t.kind != tkIdent {
		p.fail(t, "expected identifier, found %s", t)
	}
	return t
}

// compile parses a whole translation unit.
func compile(toks []token) (funcs map[string]*function, err error) {
	p := newParser(toks)
	defer func() {
		if r := recover(); r != nil {
			pe, ok := r.(parseError)
			if !ok {
				panic(r)
			}
			err = fmt.Errorf("%s", pe.msg)
		}
	}()

	for p.peek().kind != tkEOF {
		p.external()
	}
	for _, fn := range p.funcs {
		if fn.body == nil {
			if fn.used {
				return nil, fmt.Errorf("%s: %s is called but never defined", fn.at.pos(), fn.name)
			}
			continue
		}
		if fn.nslots < len(fn.params) {
			fn.nslots = len(fn.params)
		}
	}
	return p.funcs, nil
}

// constExpr evaluates a preprocessor expression.
func constExpr(toks []token) (v uint64, err error) {
	p := newParser(toks)
	p.konst = true
	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case parseError:
				err = fmt.Errorf("%s", e.msg)
			case trap:
				err = fmt.Errorf("%s", e.msg)
			default:
				panic(r)
			}
		}
	}()

	e := p.expr()
	if t := p.peek(); t.kind != tkEOF {
		p.fail(t, "unexpected %s", t)
	}
	return e.eval(nil), nil
}

// declSpecs parses type specifiers and qualifiers.
func (p *parser) declSpecs() (ctype, bool) {
	var (
		seen                       bool
		named                      *ctype
		void, char, short, integer bool
		long                       int
		signed, unsigned           bool
	)

loop:
	for {
		t := p.peek()
		if t.kind != tkIdent {
			break
		}
		switch {
		case qualifiers[t.text]:
		case t.text == "__attribute__":
			p.next()
			p.skipParens()
			seen = true
			continue
		case t.text == "typedef":
			p.fail(t, "typedef is not supported")
		case t.text == "void":
			void = true
		case t.text == "char":
			char = true
		case t.text == "short":
			short = true
		case t.text == "int":
			integer = true
		case t.text == "long":
			long++
		case t.text == "signed":
			signed = true
		case t.text == "unsigned":
			unsigned = true
		default:
			nt, ok := namedTypes[t.text]
			if !ok || named != nil || void || char || short || integer || long > 0 || signed || unsigned {
				break loop
			}
			named = &nt
		}
		seen = true
		p.next()
	}
	if !seen {
		return tVoid, false
	}

	switch {
	case named != nil:
		return *named, true
	case void:
		return tVoid, true
	case char:
		return intType(8, !unsigned), true
	case short:
		return intType(16, !unsigned), true
	case long > 0:
		return intType(64, !unsigned), true
	case integer || signed || unsigned:
		return intType(32, !unsigned), true
	}
	return tInt, true
}

func (p *parser) skipParens() {
	open := p.expect("(")
	depth := 1
	for depth > 0 {
		t := p.next()
		switch {
		case t.kind == tkEOF:
			p.fail(open, "unbalanced parentheses")
		case t.is("("):
			depth++
		case t.is(")"):
			depth--
		}
	}
}

func (p *parser) stars(t ctype) ctype {
	for p.accept("*") {
		for p.acceptWord("const") || p.acceptWord("restrict") || p.acceptWord("__restrict") {
		}
		t = tPtr
	}
	return t
}

// external parses one top-level declaration or function definition.
func (p *parser) external() {
	if p.accept(";") {
		return
	}
	at := p.peek()
	base, ok := p.declSpecs()
	if !ok {
		p.fail(at, "expected declaration, found %s", at)
	}

	for {
		t := p.stars(base)
		name := p.ident()
		if p.peek().is("(") {
			p.function(t, name)
			return
		}
		p.global(t, name)
		if p.accept(",") {
			continue
		}
		p.expect(";")
		return
	}
}

func (p *parser) global(t ctype, name token) {
	if t.void() {
		p.fail(name, "variable %s declared void", name.text)
	}
	if _, dup := p.globals[name.text]; dup {
		p.fail(name, "redefinition of %s", name.text)
	}
	if !p.accept("=") {
		p.fail(name, "global %s needs a constant initializer", name.text)
	}

	p.konst = true
	init := p.assign()
	p.konst = false
	p.globals[name.text] = global{t: t, val: normalize(p.foldConst(name, init), t)}
}

func (p *parser) foldConst(at token, e expr) (v uint64) {
	defer func() {
		if r := recover(); r != nil {
			tr, ok := r.(trap)
			if !ok {
				panic(r)
			}
			p.fail(at, "%s", tr.msg)
		}
	}()
	return e.eval(nil)
}

func (p *parser) function(ret ctype, name token) {
	p.expect("(")
	var (
		params []ctype
		names  []token
	)
	if !p.accept(")") {
		if p.peek().kind == tkIdent && p.peek().text == "void" && p.peekAt(1).is(")") {
			p.next()
			p.next()
		} else {
			for {
				at := p.peek()
				pt, ok := p.declSpecs()
				if !ok {
					p.fail(at, "expected parameter type, found %s", at)
				}
				pt = p.stars(pt)
				if pt.void() {
					p.fail(at, "void parameter")
				}
				var pn token
				if p.peek().kind == tkIdent {
					pn = p.next()
				}
				params = append(params, pt)
				names = append(names, pn)
				if p.accept(",") {
					continue
				}
				p.expect(")")
				break
			}
		}
	}

	fn := p.funcs[name.text]
	if fn == nil {
		fn = &function{name: name.text, ret: ret, params: params, at: name}
		p.funcs[name.text] = fn
	} else if fn.ret != ret || !sameTypes(fn.params, params) {
		p.fail(name, "conflicting types for %s", name.text)
	}

	if p.accept(";") {
		return
	}
	if fn.body != nil {
		p.fail(name, "redefinition of %s", name.text)
	}

	p.fn = fn
	p.scope = &scope{vars: make(map[string]*local)}
	fn.nslots = 0
	for i, pt := range params {
		slot := fn.nslots
		fn.nslots++
		if names[i].text != "" {
			p.scope.vars[names[i].text] = &local{name: names[i].text, t: pt, slot: slot}
		}
	}

	p.expect("{")
	fn.body = p.blockBody()
	p.fn, p.scope = nil, nil
}

func sameTypes(a, b []ctype) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (p *parser) declare(name token, t ctype) *local {
	if _, dup := p.scope.vars[name.text]; dup {
		p.fail(name, "redeclaration of %s", name.text)
	}
	l := &local{name: name.text, t: t, slot: p.fn.nslots}
	p.fn.nslots++
	p.scope.vars[name.text] = l
	return l
}

func (p *parser) push() {
	p.scope = &scope{parent: p.scope, vars: make(map[string]*local)}
}

func (p *parser) pop() {
	p.scope = p.scope.parent
}
