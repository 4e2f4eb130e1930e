package interp

import (
	"fmt"
	"strings"
)

type tokKind uint8

const (
	tkEOF tokKind = iota
	tkIdent
	tkNumber
	tkChar
	tkString
	tkPunct
)

type token struct {
	kind tokKind
	text string
	file string
	line int
	// logical counts unescaped newlines; a directive spans one logical line.
	logical int
	bol     bool
	space   bool
}

func (t token) is(p string) bool {
	return t.kind == tkPunct && t.text == p
}

func (t token) pos() string {
	return fmt.Sprintf("%s:%d", t.file, t.line)
}

func (t token) String() string {
	if t.kind == tkEOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", t.text)
}

var multiPuncts = []string{
	"<<=", ">>=", "...",
	"->", "++", "--", "<<", ">>", "<=", ">=", "==", "!=", "&&", "||",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "##",
}

const singlePuncts = "+-*/%<>=!&|^~?:;,.(){}[]#"

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

// lex splits src into preprocessing tokens. Comments and line
// continuations are removed.
func lex(file, src string) ([]token, error) {
	var (
		toks    []token
		line    = 1
		logical = 0
		bol     = true
		space   = false
	)

	emit := func(kind tokKind, text string) {
		toks = append(toks, token{
			kind: kind, text: text, file: file,
			line: line, logical: logical, bol: bol, space: space,
		})
		bol, space = false, false
	}

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '\\' && strings.HasPrefix(src[i+1:], "\n"):
			i += 2
			line++
			space = true
		case c == '\\' && strings.HasPrefix(src[i+1:], "\r\n"):
			i += 3
			line++
			space = true
		case c == '\n':
			i++
			line++
			logical++
			bol = true
			space = false
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			i++
			space = true
		case strings.HasPrefix(src[i:], "//"):
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("%s:%d: unterminated comment", file, line)
			}
			line += strings.Count(src[i:i+2+end], "\n")
			i += end + 4
			space = true
		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentChar(src[j]) {
				j++
			}
			emit(tkIdent, src[i:j])
			i = j
		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			j := i + 1
			for j < len(src) {
				d := src[j]
				if isIdentChar(d) || d == '.' {
					j++
					continue
				}
				if (d == '+' || d == '-') && strings.ContainsRune("eEpP", rune(src[j-1])) {
					j++
					continue
				}
				break
			}
			emit(tkNumber, src[i:j])
			i = j
		case c == '\'' || c == '"':
			j := i + 1
			for j < len(src) && src[j] != c {
				if src[j] == '\\' {
					j++
				}
				if j < len(src) && src[j] == '\n' {
					break
				}
				j++
			}
			if j >= len(src) || src[j] != c {
				return nil, fmt.Errorf("%s:%d: unterminated literal", file, line)
			}
			kind := tkString
			if c == '\'' {
				kind = tkChar
			}
			emit(kind, src[i:j+1])
			i = j + 1
		default:
			matched := false
			for _, p := range multiPuncts {
				if strings.HasPrefix(src[i:], p) {
					emit(tkPunct, p)
					i += len(p)
					matched = true
					break
				}
			}
			if matched {
				continue
			}
			if strings.IndexByte(singlePuncts, c) >= 0 {
				emit(tkPunct, string(c))
				i++
				continue
			}
			return nil, fmt.Errorf("%s:%d: unexpected character %q", file, line, c)
		}
	}

	return toks, nil
}
