package xpath

import (
	"fmt"
	"strings"
)

type parser struct {
	src  string
	toks []token
	i    int
	ns   Namespaces
}

func parse(src string, ns Namespaces) (expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks, ns: ns}
	if p.peek().kind == tkEOF {
		return nil, p.errorf("empty expression")
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tkEOF {
		return nil, p.errorf("unexpected %s", t)
	}
	return e, nil
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) peekAt(n int) token {
	if p.i+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i+n]
}

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tkEOF {
		p.i++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	return &Error{Expr: p.src, Pos: p.peek().pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(k tokenKind, what string) error {
	if p.peek().kind != k {
		return p.errorf("expected %s, found %s", what, p.peek())
	}
	p.next()
	return nil
}

func (p *parser) parseExpr() (expr, error) { return p.parseOr() }

func (p *parser) parseOr() (expr, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tkOr {
		p.next()
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &logicExpr{and: false, l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseAnd() (expr, error) {
	l, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tkAnd {
		p.next()
		r, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		l = &logicExpr{and: true, l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseEquality() (expr, error) {
	l, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for k := p.peek().kind; k == tkEq || k == tkNeq; k = p.peek().kind {
		p.next()
		r, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		l = &compareExpr{op: k, l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseRelational() (expr, error) {
	l, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for k := p.peek().kind; k == tkLt || k == tkLte || k == tkGt || k == tkGte; k = p.peek().kind {
		p.next()
		r, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		l = &compareExpr{op: k, l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseAdditive() (expr, error) {
	l, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for k := p.peek().kind; k == tkPlus || k == tkMinus; k = p.peek().kind {
		p.next()
		r, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		l = &arithExpr{op: k, l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseMultiplicative() (expr, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for k := p.peek().kind; k == tkMul || k == tkDiv || k == tkMod; k = p.peek().kind {
		p.next()
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = &arithExpr{op: k, l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseUnary() (expr, error) {
	neg := 0
	for p.peek().kind == tkMinus {
		p.next()
		neg++
	}
	e, err := p.parseUnion()
	if err != nil {
		return nil, err
	}
	for ; neg > 0; neg-- {
		e = &negExpr{e: e}
	}
	return e, nil
}

func (p *parser) parseUnion() (expr, error) {
	l, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tkPipe {
		p.next()
		r, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		l = &unionExpr{l: l, r: r}
	}
	return l, nil
}

var nodeTypes = map[string]testKind{
	"node":                   testNode,
	"text":                   testText,
	"comment":                testComment,
	"processing-instruction": testPI,
}

func (p *parser) startsFilter() bool {
	t := p.peek()
	switch t.kind {
	case tkVariable, tkLParen, tkString, tkNumber:
		return true
	case tkName:
		_, isType := nodeTypes[t.text]
		return !isType && p.peekAt(1).kind == tkLParen
	}
	return false
}

func (p *parser) startsStep() bool {
	switch p.peek().kind {
	case tkName, tkStar, tkAt, tkDot, tkDDot:
		return true
	}
	return false
}

func descendantOrSelfNode() *step {
	return &step{axis: axisDescendantOrSelf, test: nodeTest{kind: testNode}}
}

func (p *parser) parsePath() (expr, error) {
	switch p.peek().kind {
	case tkSlash:
		p.next()
		path := &pathExpr{absolute: true}
		if p.startsStep() {
			steps, err := p.parseRelative()
			if err != nil {
				return nil, err
			}
			path.steps = steps
		}
		return path, nil
	case tkDSlash:
		p.next()
		steps, err := p.parseRelative()
		if err != nil {
			return nil, err
		}
		return &pathExpr{absolute: true, steps: append([]*step{descendantOrSelfNode()}, steps...)}, nil
	}
	if p.startsFilter() {
		f, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		k := p.peek().kind
		if k != tkSlash && k != tkDSlash {
			return f, nil
		}
		p.next()
		steps, err := p.parseRelative()
		if err != nil {
			return nil, err
		}
		if k == tkDSlash {
			steps = append([]*step{descendantOrSelfNode()}, steps...)
		}
		return &pathExpr{filter: f, steps: steps}, nil
	}
	if !p.startsStep() {
		return nil, p.errorf("unexpected %s", p.peek())
	}
	steps, err := p.parseRelative()
	if err != nil {
		return nil, err
	}
	return &pathExpr{steps: steps}, nil
}

func (p *parser) parseRelative() ([]*step, error) {
	s, err := p.parseStep()
	if err != nil {
		return nil, err
	}
	steps := []*step{s}
	for {
		k := p.peek().kind
		if k != tkSlash && k != tkDSlash {
			return steps, nil
		}
		p.next()
		if k == tkDSlash {
			steps = append(steps, descendantOrSelfNode())
		}
		s, err := p.parseStep()
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
}

func (p *parser) parseStep() (*step, error) {
	switch p.peek().kind {
	case tkDot:
		p.next()
		return &step{axis: axisSelf, test: nodeTest{kind: testNode}}, nil
	case tkDDot:
		p.next()
		return &step{axis: axisParent, test: nodeTest{kind: testNode}}, nil
	}
	s := &step{axis: axisChild}
	switch {
	case p.peek().kind == tkAt:
		p.next()
		s.axis = axisAttribute
	case p.peek().kind == tkName && p.peekAt(1).kind == tkDColon:
		name := p.next().text
		a, ok := axisNames[name]
		if !ok {
			return nil, p.errorf("unknown axis %q", name)
		}
		p.next()
		s.axis = a
	}
	test, err := p.parseNodeTest()
	if err != nil {
		return nil, err
	}
	s.test = test
	for p.peek().kind == tkLBrack {
		pred, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		s.preds = append(s.preds, pred)
	}
	return s, nil
}

func (p *parser) parseNodeTest() (nodeTest, error) {
	t := p.peek()
	switch t.kind {
	case tkStar:
		p.next()
		return nodeTest{kind: testAny}, nil
	case tkName:
		if kind, ok := nodeTypes[t.text]; ok && p.peekAt(1).kind == tkLParen {
			p.next()
			p.next()
			test := nodeTest{kind: kind}
			if kind == testPI && p.peek().kind == tkString {
				test.target = p.next().text
			}
			if err := p.expect(tkRParen, "')'"); err != nil {
				return nodeTest{}, err
			}
			return test, nil
		}
		p.next()
		prefix, local, hasPrefix := strings.Cut(t.text, ":")
		if !hasPrefix {
			return nodeTest{kind: testName, local: t.text}, nil
		}
		uri, ok := p.ns.resolve(prefix)
		if !ok {
			return nodeTest{}, &Error{Expr: p.src, Pos: t.pos, Msg: fmt.Sprintf("undeclared namespace prefix %q", prefix)}
		}
		if local == "*" {
			return nodeTest{kind: testNamespace, space: uri}, nil
		}
		return nodeTest{kind: testName, space: uri, local: local}, nil
	}
	return nodeTest{}, p.errorf("expected a node test, found %s", t)
}

func (p *parser) parsePredicate() (expr, error) {
	p.next()
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tkRBrack, "']'"); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *parser) parseFilter() (expr, error) {
	prim, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tkLBrack {
		return prim, nil
	}
	f := &filterExpr{primary: prim}
	for p.peek().kind == tkLBrack {
		pred, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		f.preds = append(f.preds, pred)
	}
	return f, nil
}

// expand turns a lexical QName into its expanded form.
func (p *parser) expand(t token) (string, error) {
	prefix, local, ok := strings.Cut(t.text, ":")
	if !ok {
		return t.text, nil
	}
	uri, found := p.ns.resolve(prefix)
	if !found {
		return "", &Error{Expr: p.src, Pos: t.pos, Msg: fmt.Sprintf("undeclared namespace prefix %q", prefix)}
	}
	return "{" + uri + "}" + local, nil
}

func (p *parser) parsePrimary() (expr, error) {
	t := p.next()
	switch t.kind {
	case tkVariable:
		name, err := p.expand(t)
		if err != nil {
			return nil, err
		}
		return &varExpr{name: name}, nil
	case tkLParen:
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tkRParen, "')'"); err != nil {
			return nil, err
		}
		return e, nil
	case tkString:
		return &literalExpr{s: t.text}, nil
	case tkNumber:
		return &numberExpr{f: t.num}, nil
	case tkName:
		name, err := p.expand(t)
		if err != nil {
			return nil, err
		}
		p.next()
		call := &callExpr{name: name}
		if p.peek().kind != tkRParen {
			for {
				arg, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				call.args = append(call.args, arg)
				if p.peek().kind != tkComma {
					break
				}
				p.next()
			}
		}
		if err := p.expect(tkRParen, "')'"); err != nil {
			return nil, err
		}
		if def, ok := coreFunctions[name]; ok {
			if len(call.args) < def.min || (def.max >= 0 && len(call.args) > def.max) {
				return nil, &Error{Expr: p.src, Pos: t.pos, Msg: fmt.Sprintf("wrong number of arguments to %s()", name)}
			}
			call.core = def.fn
		}
		return call, nil
	}
	return nil, &Error{Expr: p.src, Pos: t.pos, Msg: fmt.Sprintf("unexpected %s", t)}
}
