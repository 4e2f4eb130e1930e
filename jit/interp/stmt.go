package interp

type flow uint8

const (
	flowNext flow = iota
	flowBreak
	flowContinue
	flowReturn
)

type stmt func(f *frame) flow

func (p *parser) blockBody() stmt {
	p.push()
	defer p.pop()

	var list []stmt
	for !p.accept("}") {
		if p.peek().kind == tkEOF {
			p.fail(p.peek(), "unexpected end of input in block")
		}
		list = append(list, p.statement())
	}
	return sequence(list)
}

func sequence(list []stmt) stmt {
	switch len(list) {
	case 0:
		return func(*frame) flow { return flowNext }
	case 1:
		return list[0]
	}
	return func(f *frame) flow {
		for _, s := range list {
			if fl := s(f); fl != flowNext {
				return fl
			}
		}
		return flowNext
	}
}

func (p *parser) statement() stmt {
	t := p.peek()

	switch {
	case t.is("{"):
		p.next()
		return p.blockBody()
	case t.is(";"):
		p.next()
		return func(*frame) flow { return flowNext }
	case t.kind == tkIdent:
		switch t.text {
		case "if":
			return p.ifStmt()
		case "while":
			return p.whileStmt()
		case "do":
			return p.doStmt()
		case "for":
			return p.forStmt()
		case "return":
			return p.returnStmt()
		case "break", "continue":
			p.next()
			if p.loops == 0 {
				p.fail(t, "%s outside of a loop", t.text)
			}
			p.expect(";")
			fl := flowBreak
			if t.text == "continue" {
				fl = flowContinue
			}
			return func(*frame) flow { return fl }
		case "switch", "goto", "case", "default":
			p.fail(t, "%s is not supported", t.text)
		}
		if startsType(t) {
			return p.declaration()
		}
	}

	e := p.expr()
	p.expect(";")
	return func(f *frame) flow {
		e.eval(f)
		return flowNext
	}
}

func (p *parser) declaration() stmt {
	at := p.peek()
	base, _ := p.declSpecs()
	if base.void() && !p.peek().is("*") {
		p.fail(at, "variable declared void")
	}

	var list []stmt
	for {
		t := p.stars(base)
		name := p.ident()
		var init *expr
		if p.accept("=") {
			e := p.assign()
			p.assignable(name, t, e)
			init = &e
		}
		l := p.declare(name, t)
		slot, lt := l.slot, l.t
		if init != nil {
			ev := init.eval
			list = append(list, func(f *frame) flow {
				f.vars[slot] = normalize(ev(f), lt)
				return flowNext
			})
		} else {
			list = append(list, func(f *frame) flow {
				f.vars[slot] = 0
				return flowNext
			})
		}
		if p.accept(",") {
			continue
		}
		p.expect(";")
		return sequence(list)
	}
}

func (p *parser) cond() expr {
	p.expect("(")
	c := p.expr()
	p.expect(")")
	p.scalar(c)
	return c
}

func (p *parser) ifStmt() stmt {
	p.next()
	c := p.cond().eval
	then := p.statement()
	if !p.acceptWord("else") {
		return func(f *frame) flow {
			if c(f) != 0 {
				return then(f)
			}
			return flowNext
		}
	}
	otherwise := p.statement()
	return func(f *frame) flow {
		if c(f) != 0 {
			return then(f)
		}
		return otherwise(f)
	}
}

func (p *parser) loopBody() stmt {
	p.loops++
	defer func() { p.loops-- }()
	return p.statement()
}

func (p *parser) whileStmt() stmt {
	p.next()
	c := p.cond().eval
	body := p.loopBody()
	return func(f *frame) flow {
		for c(f) != 0 {
			switch body(f) {
			case flowBreak:
				return flowNext
			case flowReturn:
				return flowReturn
			}
		}
		return flowNext
	}
}

func (p *parser) doStmt() stmt {
	p.next()
	body := p.loopBody()
	if !p.acceptWord("while") {
		p.fail(p.peek(), "expected while")
	}
	c := p.cond().eval
	p.expect(";")
	return func(f *frame) flow {
		for {
			switch body(f) {
			case flowBreak:
				return flowNext
			case flowReturn:
				return flowReturn
			}
			if c(f) == 0 {
				return flowNext
			}
		}
	}
}

func (p *parser) forStmt() stmt {
	p.next()
	p.expect("(")
	p.push()
	defer p.pop()

	var init stmt
	switch {
	case p.accept(";"):
	case startsType(p.peek()):
		init = p.declaration()
	default:
		e := p.expr().eval
		p.expect(";")
		init = func(f *frame) flow { e(f); return flowNext }
	}

	var c func(*frame) uint64
	if !p.accept(";") {
		e := p.expr()
		p.scalar(e)
		c = e.eval
		p.expect(";")
	}

	var post func(*frame) uint64
	if !p.accept(")") {
		post = p.expr().eval
		p.expect(")")
	}

	body := p.loopBody()
	return func(f *frame) flow {
		if init != nil {
			init(f)
		}
		for c == nil || c(f) != 0 {
			switch body(f) {
			case flowBreak:
				return flowNext
			case flowReturn:
				return flowReturn
			}
			if post != nil {
				post(f)
			}
		}
		return flowNext
	}
}

func (p *parser) returnStmt() stmt {
	at := p.next()
	ret := p.fn.ret
	if p.accept(";") {
		return func(f *frame) flow {
			f.ret = 0
			return flowReturn
		}
	}
	e := p.expr()
	p.expect(";")
	if ret.void() {
		p.fail(at, "return with a value in void function %s", p.fn.name)
	}
	p.assignable(at, ret, e)
	ev := e.eval
	return func(f *frame) flow {
		f.ret = normalize(ev(f), ret)
		return flowReturn
	}
}
