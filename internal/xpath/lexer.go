package xpath

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tkEOF tokenKind = iota
	tkName          // NCName, QName or prefix:*
	tkStar          // * as a name test
	tkNumber
	tkString
	tkVariable
	tkSlash
	tkDSlash
	tkPipe
	tkPlus
	tkMinus
	tkEq
	tkNeq
	tkLt
	tkLte
	tkGt
	tkGte
	tkLParen
	tkRParen
	tkLBrack
	tkRBrack
	tkDot
	tkDDot
	tkAt
	tkComma
	tkDColon
	tkAnd
	tkOr
	tkMod
	tkDiv
	tkMul
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

func (t token) String() string {
	switch t.kind {
	case tkEOF:
		return "end of expression"
	case tkString:
		return strconv.Quote(t.text)
	}
	return fmt.Sprintf("%q", t.text)
}

// lex splits an expression into tokens, applying the XPath 1.0 rules that
// decide whether '*' and NCNames are operators.
func lex(src string) ([]token, error) {
	var (
		toks []token
		i    int
	)
	prevAllowsOperand := func() bool {
		if len(toks) == 0 {
			return true
		}
		switch toks[len(toks)-1].kind {
		case tkAt, tkDColon, tkLParen, tkLBrack, tkComma,
			tkAnd, tkOr, tkMod, tkDiv, tkMul,
			tkSlash, tkDSlash, tkPipe, tkPlus, tkMinus,
			tkEq, tkNeq, tkLt, tkLte, tkGt, tkGte:
			return true
		}
		return false
	}
	emit := func(k tokenKind, text string, pos int) {
		toks = append(toks, token{kind: k, text: text, pos: pos})
	}
	for i < len(src) {
		c := src[i]
		start := i
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '/':
			if i+1 < len(src) && src[i+1] == '/' {
				emit(tkDSlash, "//", start)
				i += 2
			} else {
				emit(tkSlash, "/", start)
				i++
			}
		case c == '|':
			emit(tkPipe, "|", start)
			i++
		case c == '+':
			emit(tkPlus, "+", start)
			i++
		case c == '-':
			emit(tkMinus, "-", start)
			i++
		case c == '=':
			emit(tkEq, "=", start)
			i++
		case c == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				emit(tkNeq, "!=", start)
				i += 2
			} else {
				return nil, &Error{Expr: src, Pos: start, Msg: "unexpected '!'"}
			}
		case c == '<':
			if i+1 < len(src) && src[i+1] == '=' {
				emit(tkLte, "<=", start)
				i += 2
			} else {
				emit(tkLt, "<", start)
				i++
			}
		case c == '>':
			if i+1 < len(src) && src[i+1] == '=' {
				emit(tkGte, ">=", start)
				i += 2
			} else {
				emit(tkGt, ">", start)
				i++
			}
		case c == '(':
			emit(tkLParen, "(", start)
			i++
		case c == ')':
			emit(tkRParen, ")", start)
			i++
		case c == '[':
			emit(tkLBrack, "[", start)
			i++
		case c == ']':
			emit(tkRBrack, "]", start)
			i++
		case c == ',':
			emit(tkComma, ",", start)
			i++
		case c == '@':
			emit(tkAt, "@", start)
			i++
		case c == ':':
			if i+1 < len(src) && src[i+1] == ':' {
				emit(tkDColon, "::", start)
				i += 2
			} else {
				return nil, &Error{Expr: src, Pos: start, Msg: "unexpected ':'"}
			}
		case c == '*':
			if prevAllowsOperand() {
				emit(tkStar, "*", start)
			} else {
				emit(tkMul, "*", start)
			}
			i++
		case c == '"' || c == '\'':
			end := strings.IndexByte(src[i+1:], c)
			if end < 0 {
				return nil, &Error{Expr: src, Pos: start, Msg: "unterminated string literal"}
			}
			emit(tkString, src[i+1:i+1+end], start)
			i += end + 2
		case c == '.' || isDigit(c):
			if c == '.' && (i+1 >= len(src) || !isDigit(src[i+1])) {
				if i+1 < len(src) && src[i+1] == '.' {
					emit(tkDDot, "..", start)
					i += 2
				} else {
					emit(tkDot, ".", start)
					i++
				}
				continue
			}
			for i < len(src) && isDigit(src[i]) {
				i++
			}
			if i < len(src) && src[i] == '.' {
				i++
				for i < len(src) && isDigit(src[i]) {
					i++
				}
			}
			f, _ := strconv.ParseFloat(src[start:i], 64)
			toks = append(toks, token{kind: tkNumber, text: src[start:i], num: f, pos: start})
		case c == '$':
			i++
			name, n := scanQName(src[i:])
			if n == 0 || strings.HasSuffix(name, "*") {
				return nil, &Error{Expr: src, Pos: start, Msg: "variable name expected after '$'"}
			}
			i += n
			emit(tkVariable, name, start)
		default:
			name, n := scanQName(src[i:])
			if n == 0 {
				r, _ := utf8.DecodeRuneInString(src[i:])
				return nil, &Error{Expr: src, Pos: start, Msg: fmt.Sprintf("unexpected character %q", r)}
			}
			i += n
			if !prevAllowsOperand() {
				switch name {
				case "and":
					emit(tkAnd, name, start)
					continue
				case "or":
					emit(tkOr, name, start)
					continue
				case "mod":
					emit(tkMod, name, start)
					continue
				case "div":
					emit(tkDiv, name, start)
					continue
				}
			}
			emit(tkName, name, start)
		}
	}
	toks = append(toks, token{kind: tkEOF, pos: len(src)})
	return toks, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isNameStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }

func isNameChar(r rune) bool {
	return isNameStart(r) || r == '-' || r == '.' || unicode.IsDigit(r) ||
		unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r) || r == 0xB7
}

func scanNCName(s string) int {
	i := 0
	for i < len(s) {
		r, w := utf8.DecodeRuneInString(s[i:])
		if i == 0 && !isNameStart(r) {
			return 0
		}
		if i > 0 && !isNameChar(r) {
			break
		}
		i += w
	}
	return i
}

// scanQName reads NCName, NCName:NCName or NCName:*. A "::" following the
// first NCName belongs to an axis and stops the scan.
func scanQName(s string) (string, int) {
	n := scanNCName(s)
	if n == 0 {
		return "", 0
	}
	if n+1 < len(s) && s[n] == ':' && s[n+1] != ':' {
		if s[n+1] == '*' {
			return s[:n+2], n + 2
		}
		if m := scanNCName(s[n+1:]); m > 0 {
			return s[:n+1+m], n + 1 + m
		}
	}
	return s[:n], n
}
