package xpath

import (
	"fmt"
	"strings"

	"xslttester/internal/xmltree"
)

// Pattern is a compiled XSLT match pattern: a union of location path
// patterns, each optionally anchored at the root or at an id()/key() call.
type Pattern struct {
	src  string
	alts []*alternative
}

type alternative struct {
	src      string
	absolute bool
	lead     expr // id() or key() call
	steps    []*step
	// seps[i] joins steps[i] to what precedes it: tkSlash, tkDSlash, or
	// tkEOF for a relative first step.
	seps []tokenKind
}

// CompilePattern compiles src resolving QName prefixes through ns.
func CompilePattern(src string, ns Namespaces) (*Pattern, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks, ns: ns}
	pat := &Pattern{src: src}
	for {
		start := p.peek().pos
		alt, err := p.parseAlternative()
		if err != nil {
			return nil, err
		}
		alt.src = strings.TrimSpace(src[start:p.peek().pos])
		pat.alts = append(pat.alts, alt)
		if p.peek().kind != tkPipe {
			break
		}
		p.next()
	}
	if t := p.peek(); t.kind != tkEOF {
		return nil, p.errorf("unexpected %s in pattern", t)
	}
	return pat, nil
}

func (p *parser) parseAlternative() (*alternative, error) {
	alt := &alternative{}
	first := tkEOF
	switch t := p.peek(); {
	case t.kind == tkSlash:
		p.next()
		alt.absolute = true
		if !p.startsStep() {
			return alt, nil
		}
		first = tkSlash
	case t.kind == tkDSlash:
		p.next()
		alt.absolute = true
		first = tkDSlash
	case t.kind == tkName && (t.text == "id" || t.text == "key") && p.peekAt(1).kind == tkLParen:
		lead, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		for _, a := range lead.(*callExpr).args {
			if _, ok := a.(*literalExpr); !ok {
				return nil, &Error{Expr: p.src, Pos: t.pos, Msg: t.text + "() in a pattern takes literal arguments"}
			}
		}
		if t.text == "id" && len(lead.(*callExpr).args) != 1 || t.text == "key" && len(lead.(*callExpr).args) != 2 {
			return nil, &Error{Expr: p.src, Pos: t.pos, Msg: fmt.Sprintf("wrong number of arguments to %s()", t.text)}
		}
		alt.lead = lead
		k := p.peek().kind
		if k != tkSlash && k != tkDSlash {
			return alt, nil
		}
		p.next()
		first = k
	}
	sep := first
	for {
		s, err := p.parsePatternStep()
		if err != nil {
			return nil, err
		}
		alt.steps = append(alt.steps, s)
		alt.seps = append(alt.seps, sep)
		k := p.peek().kind
		if k != tkSlash && k != tkDSlash {
			return alt, nil
		}
		p.next()
		sep = k
	}
}

func (p *parser) parsePatternStep() (*step, error) {
	t := p.peek()
	if t.kind == tkDot || t.kind == tkDDot {
		return nil, p.errorf("%s is not allowed in a pattern", t)
	}
	s, err := p.parseStep()
	if err != nil {
		return nil, err
	}
	if s.axis != axisChild && s.axis != axisAttribute {
		return nil, &Error{Expr: p.src, Pos: t.pos, Msg: "only the child and attribute axes are allowed in a pattern"}
	}
	return s, nil
}

func (pt *Pattern) String() string { return pt.src }

// Split returns one pattern per union member, so each can carry its own
// default priority.
func (pt *Pattern) Split() []*Pattern {
	if len(pt.alts) == 1 {
		return []*Pattern{pt}
	}
	out := make([]*Pattern, len(pt.alts))
	for i, a := range pt.alts {
		out[i] = &Pattern{src: a.src, alts: []*alternative{a}}
	}
	return out
}

// DefaultPriority follows the XSLT 1.0 rules for a pattern with a single
// alternative; a union reports the highest of its members.
func (pt *Pattern) DefaultPriority() float64 {
	best := -1.0
	for i, a := range pt.alts {
		if p := a.priority(); i == 0 || p > best {
			best = p
		}
	}
	return best
}

func (a *alternative) priority() float64 {
	if a.absolute || a.lead != nil || len(a.steps) != 1 || len(a.steps[0].preds) > 0 {
		return 0.5
	}
	switch t := a.steps[0].test; t.kind {
	case testName:
		return 0
	case testPI:
		if t.target != "" {
			return 0
		}
		return -0.5
	case testNamespace:
		return -0.25
	default:
		return -0.5
	}
}

// Match reports whether n matches the pattern. c supplies the environment
// for predicates and key().
func (pt *Pattern) Match(c *Context, n *xmltree.Node) (bool, error) {
	for _, a := range pt.alts {
		ok, err := a.match(c, n)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (a *alternative) match(c *Context, n *xmltree.Node) (bool, error) {
	if len(a.steps) == 0 {
		if a.lead != nil {
			return a.inLead(c, n)
		}
		return n.Type == xmltree.DocumentNode, nil
	}
	return a.matchFrom(c, n, len(a.steps)-1)
}

func (a *alternative) matchFrom(c *Context, n *xmltree.Node, i int) (bool, error) {
	ok, err := matchStep(c, a.steps[i], n)
	if err != nil || !ok {
		return false, err
	}
	if i == 0 {
		return a.matchAnchor(c, n)
	}
	switch a.seps[i] {
	case tkSlash:
		if n.Parent == nil {
			return false, nil
		}
		return a.matchFrom(c, n.Parent, i-1)
	default:
		for anc := n.Parent; anc != nil; anc = anc.Parent {
			ok, err := a.matchFrom(c, anc, i-1)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}
}

// matchAnchor checks what lies to the left of the first step.
func (a *alternative) matchAnchor(c *Context, n *xmltree.Node) (bool, error) {
	switch {
	case a.lead != nil:
		if a.seps[0] == tkSlash {
			if n.Parent == nil {
				return false, nil
			}
			return a.inLead(c, n.Parent)
		}
		for anc := n.Parent; anc != nil; anc = anc.Parent {
			ok, err := a.inLead(c, anc)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	case a.absolute && a.seps[0] == tkSlash:
		return n.Parent != nil && n.Parent.Type == xmltree.DocumentNode, nil
	case a.absolute:
		return n.Root().Type == xmltree.DocumentNode, nil
	}
	return true, nil
}

func (a *alternative) inLead(c *Context, n *xmltree.Node) (bool, error) {
	v, err := a.lead.eval(c.at(n, 1, 1))
	if err != nil {
		return false, err
	}
	ns, ok := v.(NodeSet)
	if !ok {
		return false, nil
	}
	for _, x := range ns {
		if x == n {
			return true, nil
		}
	}
	return false, nil
}

func matchStep(c *Context, s *step, n *xmltree.Node) (bool, error) {
	if n.Parent == nil {
		return false, nil
	}
	switch s.axis {
	case axisAttribute:
		if n.Type != xmltree.AttributeNode {
			return false, nil
		}
	default:
		if n.Type == xmltree.AttributeNode || n.Type == xmltree.DocumentNode {
			return false, nil
		}
	}
	if !s.test.match(n, s.principal()) {
		return false, nil
	}
	if len(s.preds) == 0 {
		return true, nil
	}
	cands := s.candidates(n.Parent)
	for _, p := range s.preds {
		var err error
		if cands, err = applyPredicate(c, cands, p); err != nil {
			return false, err
		}
	}
	for _, x := range cands {
		if x == n {
			return true, nil
		}
	}
	return false, nil
}
