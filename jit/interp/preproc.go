package interp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rafzi/etiss/codegen"
)

const maxIncludeDepth = 32

// Headers the interpreter provides itself. The runtime accessors and the
// fixed-width integer types are built in.
var builtinHeaders = map[string]bool{
	codegen.RuntimeHeaderName: true,
	"stdint.h":                true,
	"stdbool.h":               true,
	"stddef.h":                true,
	"inttypes.h":              true,
}

type macro struct {
	name   string
	fn     bool
	params []string
	body   []token
}

type cond struct {
	active   bool
	taken    bool
	parent   bool
	seenElse bool
}

type preprocessor struct {
	macros  map[string]*macro
	headers map[string]string
	paths   []string
	once    map[string]bool
	depth   int
	out     []token
}

func newPreprocessor(headers map[string]string, paths []string) *preprocessor {
	return &preprocessor{
		macros:  make(map[string]*macro),
		headers: headers,
		paths:   paths,
		once:    make(map[string]bool),
	}
}

func (p *preprocessor) file(name, src string) error {
	if p.depth > maxIncludeDepth {
		return fmt.Errorf("%s: includes nested too deeply", name)
	}

	toks, err := lex(name, src)
	if err != nil {
		return err
	}

	var conds []*cond
	active := func() bool {
		return len(conds) == 0 || conds[len(conds)-1].active
	}

	for i := 0; i < len(toks); {
		t := toks[i]
		if t.bol && t.is("#") {
			j := i + 1
			for j < len(toks) && toks[j].logical == t.logical {
				j++
			}
			conds, err = p.directive(name, t, toks[i+1:j], conds, active())
			if err != nil {
				return err
			}
			i = j
			continue
		}

		j := i
		for j < len(toks) && !(toks[j].bol && toks[j].is("#")) {
			j++
		}
		if active() {
			exp, err := p.expand(toks[i:j], nil)
			if err != nil {
				return err
			}
			p.out = append(p.out, exp...)
		}
		i = j
	}

	if len(conds) > 0 {
		return fmt.Errorf("%s: unterminated conditional directive", name)
	}
	return nil
}

func (p *preprocessor) directive(file string, hash token, line []token, conds []*cond, active bool) ([]*cond, error) {
	if len(line) == 0 {
		return conds, nil
	}
	name := line[0].text
	args := line[1:]
	fail := func(format string, a ...any) ([]*cond, error) {
		return conds, fmt.Errorf("%s: #%s: %s", hash.pos(), name, fmt.Sprintf(format, a...))
	}

	switch name {
	case "ifdef", "ifndef":
		if len(args) != 1 || args[0].kind != tkIdent {
			return fail("expected a macro name")
		}
		_, defined := p.macros[args[0].text]
		val := active && (defined == (name == "ifdef"))
		return append(conds, &cond{active: val, taken: val, parent: active}), nil

	case "if":
		val := false
		if active {
			v, err := p.evalCondition(args)
			if err != nil {
				return fail("%v", err)
			}
			val = v
		}
		return append(conds, &cond{active: val, taken: val, parent: active}), nil

	case "elif":
		if len(conds) == 0 {
			return fail("without #if")
		}
		top := conds[len(conds)-1]
		if top.seenElse {
			return fail("after #else")
		}
		if !top.parent || top.taken {
			top.active = false
			return conds, nil
		}
		v, err := p.evalCondition(args)
		if err != nil {
			return fail("%v", err)
		}
		top.active, top.taken = v, v
		return conds, nil

	case "else":
		if len(conds) == 0 {
			return fail("without #if")
		}
		top := conds[len(conds)-1]
		if top.seenElse {
			return fail("repeated")
		}
		top.active = top.parent && !top.taken
		top.taken = true
		top.seenElse = true
		return conds, nil

	case "endif":
		if len(conds) == 0 {
			return fail("without #if")
		}
		return conds[:len(conds)-1], nil
	}

	if !active {
		return conds, nil
	}

	switch name {
	case "define":
		m, err := parseMacro(args)
		if err != nil {
			return fail("%v", err)
		}
		p.macros[m.name] = m
	case "undef":
		if len(args) != 1 || args[0].kind != tkIdent {
			return fail("expected a macro name")
		}
		delete(p.macros, args[0].text)
	case "include":
		header, err := headerName(args)
		if err != nil {
			return fail("%v", err)
		}
		if err := p.include(header); err != nil {
			return fail("%v", err)
		}
	case "pragma":
		if len(args) > 0 && args[0].text == "once" {
			p.once[file] = true
		}
	case "error":
		return fail("%s", joinTokens(args))
	case "warning", "line":
	default:
		return conds, fmt.Errorf("%s: unknown directive #%s", hash.pos(), name)
	}
	return conds, nil
}

func (p *preprocessor) include(name string) error {
	if builtinHeaders[name] || p.once[name] {
		return nil
	}

	src, ok := p.headers[name]
	if !ok {
		for _, dir := range p.paths {
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err == nil {
				src, ok = string(data), true
				break
			}
		}
	}
	if !ok {
		return fmt.Errorf("header %q not found", name)
	}

	p.depth++
	defer func() { p.depth-- }()
	return p.file(name, src)
}

func headerName(args []token) (string, error) {
	if len(args) == 1 && args[0].kind == tkString {
		return strings.Trim(args[0].text, `"`), nil
	}
	if len(args) >= 3 && args[0].is("<") && args[len(args)-1].is(">") {
		return joinTokens(args[1 : len(args)-1]), nil
	}
	return "", fmt.Errorf("expected \"name\" or <name>")
}

func joinTokens(toks []token) string {
	var sb strings.Builder
	for i, t := range toks {
		if i > 0 && t.space {
			sb.WriteByte(' ')
		}
		sb.WriteString(t.text)
	}
	return sb.String()
}

func parseMacro(args []token) (*macro, error) {
	if len(args) == 0 || args[0].kind != tkIdent {
		return nil, fmt.Errorf("expected a macro name")
	}
	m := &macro{name: args[0].text}
	rest := args[1:]

	if len(rest) > 0 && rest[0].is("(") && !rest[0].space {
		m.fn = true
		i := 1
		for {
			if i >= len(rest) {
				return nil, fmt.Errorf("unterminated parameter list")
			}
			if rest[i].is(")") && len(m.params) == 0 {
				i++
				break
			}
			if rest[i].is("...") {
				return nil, fmt.Errorf("variadic macros are not supported")
			}
			if rest[i].kind != tkIdent {
				return nil, fmt.Errorf("bad parameter %s", rest[i])
			}
			m.params = append(m.params, rest[i].text)
			i++
			if i < len(rest) && rest[i].is(",") {
				i++
				continue
			}
			if i < len(rest) && rest[i].is(")") {
				i++
				break
			}
			return nil, fmt.Errorf("expected ',' or ')' in parameter list")
		}
		rest = rest[i:]
	}

	for _, t := range rest {
		if t.is("#") || t.is("##") {
			return nil, fmt.Errorf("stringizing and token pasting are not supported")
		}
	}
	m.body = rest
	return m, nil
}

// expand replaces macro invocations in toks. Names in disabled are being
// expanded already and stay as they are.
func (p *preprocessor) expand(toks []token, disabled map[string]bool) ([]token, error) {
	var out []token
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		m := p.macros[t.text]
		if t.kind != tkIdent || m == nil || disabled[t.text] {
			out = append(out, t)
			continue
		}

		if !m.fn {
			exp, err := p.expand(relocate(m.body, t), with(disabled, m.name))
			if err != nil {
				return nil, err
			}
			out = append(out, exp...)
			continue
		}

		if i+1 >= len(toks) || !toks[i+1].is("(") {
			out = append(out, t)
			continue
		}

		args, end, err := collectArgs(toks, i+1)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", t.pos(), m.name, err)
		}
		if len(m.params) == 0 && len(args) == 1 && len(args[0]) == 0 {
			args = nil
		}
		if len(args) != len(m.params) {
			return nil, fmt.Errorf("%s: %s expects %d arguments, got %d",
				t.pos(), m.name, len(m.params), len(args))
		}

		expanded := make([][]token, len(args))
		for k, a := range args {
			if expanded[k], err = p.expand(a, disabled); err != nil {
				return nil, err
			}
		}

		var subst []token
		for _, b := range relocate(m.body, t) {
			if k := indexOf(m.params, b); k >= 0 {
				subst = append(subst, expanded[k]...)
				continue
			}
			subst = append(subst, b)
		}

		exp, err := p.expand(subst, with(disabled, m.name))
		if err != nil {
			return nil, err
		}
		out = append(out, exp...)
		i = end
	}
	return out, nil
}

func indexOf(params []string, t token) int {
	if t.kind != tkIdent {
		return -1
	}
	for k, name := range params {
		if name == t.text {
			return k
		}
	}
	return -1
}

func with(set map[string]bool, name string) map[string]bool {
	out := make(map[string]bool, len(set)+1)
	for k := range set {
		out[k] = true
	}
	out[name] = true
	return out
}

// relocate copies body so that diagnostics point at the invocation.
func relocate(body []token, at token) []token {
	out := make([]token, len(body))
	for i, b := range body {
		b.file, b.line, b.bol = at.file, at.line, false
		out[i] = b
	}
	return out
}

func collectArgs(toks []token, open int) ([][]token, int, error) {
	var (
		args  [][]token
		cur   = []token{}
		depth = 0
	)
	for i := open + 1; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.is("("):
			depth++
		case t.is(")") && depth == 0:
			return append(args, cur), i, nil
		case t.is(")"):
			depth--
		case t.is(",") && depth == 0:
			args = append(args, cur)
			cur = []token{}
			continue
		}
		cur = append(cur, t)
	}
	return nil, 0, fmt.Errorf("unterminated argument list")
}

// evalCondition evaluates the expression of #if and #elif.
func (p *preprocessor) evalCondition(toks []token) (bool, error) {
	var resolved []token
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.kind != tkIdent || t.text != "defined" {
			resolved = append(resolved, t)
			continue
		}
		var name token
		switch {
		case i+1 < len(toks) && toks[i+1].kind == tkIdent:
			name = toks[i+1]
			i++
		case i+3 < len(toks) && toks[i+1].is("(") && toks[i+2].kind == tkIdent && toks[i+3].is(")"):
			name = toks[i+2]
			i += 3
		default:
			return false, fmt.Errorf("malformed defined")
		}
		val := "0"
		if _, ok := p.macros[name.text]; ok {
			val = "1"
		}
		t.kind, t.text = tkNumber, val
		resolved = append(resolved, t)
	}

	exp, err := p.expand(resolved, nil)
	if err != nil {
		return false, err
	}
	for i := range exp {
		if exp[i].kind == tkIdent {
			exp[i].kind, exp[i].text = tkNumber, "0"
		}
	}
	if len(exp) == 0 {
		return false, fmt.Errorf("missing expression")
	}

	v, err := constExpr(exp)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}
