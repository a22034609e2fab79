package xpath

import (
	"fmt"
	"math"

	"xslttester/internal/xmltree"
)

type expr interface {
	eval(c *Context) (Value, error)
}

type literalExpr struct{ s string }

func (e *literalExpr) eval(*Context) (Value, error) { return e.s, nil }

type numberExpr struct{ f float64 }

func (e *numberExpr) eval(*Context) (Value, error) { return e.f, nil }

type varExpr struct{ name string }

func (e *varExpr) eval(c *Context) (Value, error) {
	if c.Env == nil {
		return nil, fmt.Errorf("%w: $%s", ErrUnknownVariable, e.name)
	}
	return c.Env.Variable(e.name)
}

type callExpr struct {
	name string
	args []expr
	core coreFunc
}

func (e *callExpr) eval(c *Context) (Value, error) {
	args := make([]Value, len(e.args))
	for i, a := range e.args {
		v, err := a.eval(c)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	if e.core != nil {
		return e.core(c, args)
	}
	if c.Env != nil {
		if fn, ok := c.Env.Function(e.name); ok {
			return fn(c, args)
		}
	}
	return nil, fmt.Errorf("%w: %s()", ErrUnknownFunction, e.name)
}

type negExpr struct{ e expr }

func (e *negExpr) eval(c *Context) (Value, error) {
	v, err := e.e.eval(c)
	if err != nil {
		return nil, err
	}
	return -Number(v), nil
}

type logicExpr struct {
	and  bool
	l, r expr
}

func (e *logicExpr) eval(c *Context) (Value, error) {
	l, err := e.l.eval(c)
	if err != nil {
		return nil, err
	}
	lb := Boolean(l)
	if e.and && !lb {
		return false, nil
	}
	if !e.and && lb {
		return true, nil
	}
	r, err := e.r.eval(c)
	if err != nil {
		return nil, err
	}
	return Boolean(r), nil
}

type arithExpr struct {
	op   tokenKind
	l, r expr
}

func (e *arithExpr) eval(c *Context) (Value, error) {
	l, err := e.l.eval(c)
	if err != nil {
		return nil, err
	}
	r, err := e.r.eval(c)
	if err != nil {
		return nil, err
	}
	a, b := Number(l), Number(r)
	switch e.op {
	case tkPlus:
		return a + b, nil
	case tkMinus:
		return a - b, nil
	case tkMul:
		return a * b, nil
	case tkDiv:
		return a / b, nil
	default:
		return math.Mod(a, b), nil
	}
}

type compareExpr struct {
	op   tokenKind
	l, r expr
}

func (e *compareExpr) eval(c *Context) (Value, error) {
	l, err := e.l.eval(c)
	if err != nil {
		return nil, err
	}
	r, err := e.r.eval(c)
	if err != nil {
		return nil, err
	}
	return compare(e.op, l, r), nil
}

func compare(op tokenKind, l, r Value) bool {
	ln, lIsSet := l.(NodeSet)
	rn, rIsSet := r.(NodeSet)
	switch {
	case lIsSet && rIsSet:
		for _, a := range ln {
			as := a.StringValue()
			for _, b := range rn {
				if compareAtoms(op, as, b.StringValue()) {
					return true
				}
			}
		}
		return false
	case lIsSet:
		if b, ok := r.(bool); ok {
			return compareAtoms(op, len(ln) > 0, b)
		}
		for _, a := range ln {
			if compareAtoms(op, a.StringValue(), r) {
				return true
			}
		}
		return false
	case rIsSet:
		if b, ok := l.(bool); ok {
			return compareAtoms(op, b, len(rn) > 0)
		}
		for _, b := range rn {
			if compareAtoms(op, l, b.StringValue()) {
				return true
			}
		}
		return false
	}
	return compareAtoms(op, l, r)
}

func compareAtoms(op tokenKind, l, r Value) bool {
	if op == tkEq || op == tkNeq {
		var eq bool
		_, lb := l.(bool)
		_, rb := r.(bool)
		_, lf := l.(float64)
		_, rf := r.(float64)
		switch {
		case lb || rb:
			eq = Boolean(l) == Boolean(r)
		case lf || rf:
			eq = Number(l) == Number(r)
		default:
			eq = String(l) == String(r)
		}
		if op == tkEq {
			return eq
		}
		return !eq
	}
	a, b := Number(l), Number(r)
	switch op {
	case tkLt:
		return a < b
	case tkLte:
		return a <= b
	case tkGt:
		return a > b
	default:
		return a >= b
	}
}

type unionExpr struct{ l, r expr }

func (e *unionExpr) eval(c *Context) (Value, error) {
	l, err := e.l.eval(c)
	if err != nil {
		return nil, err
	}
	r, err := e.r.eval(c)
	if err != nil {
		return nil, err
	}
	ln, ok1 := l.(NodeSet)
	rn, ok2 := r.(NodeSet)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("operands of '|' must be node-sets")
	}
	out := make(NodeSet, 0, len(ln)+len(rn))
	out = append(out, ln...)
	out = append(out, rn...)
	return out.Sort(), nil
}

type filterExpr struct {
	primary expr
	preds   []expr
}

func (e *filterExpr) eval(c *Context) (Value, error) {
	v, err := e.primary.eval(c)
	if err != nil {
		return nil, err
	}
	ns, ok := v.(NodeSet)
	if !ok {
		return nil, fmt.Errorf("predicate applied to a %s", typeName(v))
	}
	for _, p := range e.preds {
		if ns, err = applyPredicate(c, ns, p); err != nil {
			return nil, err
		}
	}
	return ns, nil
}

type pathExpr struct {
	filter   expr
	absolute bool
	steps    []*step
}

func (e *pathExpr) eval(c *Context) (Value, error) {
	var nodes NodeSet
	switch {
	case e.filter != nil:
		v, err := e.filter.eval(c)
		if err != nil {
			return nil, err
		}
		ns, ok := v.(NodeSet)
		if !ok {
			return nil, fmt.Errorf("'/' applied to a %s", typeName(v))
		}
		nodes = ns
	case e.absolute:
		if c.Node == nil {
			return NodeSet{}, nil
		}
		nodes = NodeSet{c.Node.Root()}
	default:
		if c.Node == nil {
			return NodeSet{}, nil
		}
		nodes = NodeSet{c.Node}
	}
	for _, s := range e.steps {
		var err error
		if nodes, err = s.apply(c, nodes); err != nil {
			return nil, err
		}
	}
	return nodes, nil
}

type axis int

const (
	axisChild axis = iota
	axisDescendant
	axisDescendantOrSelf
	axisParent
	axisAncestor
	axisAncestorOrSelf
	axisFollowingSibling
	axisPrecedingSibling
	axisFollowing
	axisPreceding
	axisAttribute
	axisSelf
	axisNamespace
)

var axisNames = map[string]axis{
	"child":              axisChild,
	"descendant":         axisDescendant,
	"descendant-or-self": axisDescendantOrSelf,
	"parent":             axisParent,
	"ancestor":           axisAncestor,
	"ancestor-or-self":   axisAncestorOrSelf,
	"following-sibling":  axisFollowingSibling,
	"preceding-sibling":  axisPrecedingSibling,
	"following":          axisFollowing,
	"preceding":          axisPreceding,
	"attribute":          axisAttribute,
	"self":               axisSelf,
	"namespace":          axisNamespace,
}

func (a axis) reverse() bool {
	switch a {
	case axisParent, axisAncestor, axisAncestorOrSelf, axisPrecedingSibling, axisPreceding:
		return true
	}
	return false
}

type testKind int

const (
	testName testKind = iota
	testAny
	testNamespace
	testNode
	testText
	testComment
	testPI
)

type nodeTest struct {
	kind   testKind
	space  string
	local  string
	target string
}

func (t nodeTest) match(n *xmltree.Node, principal xmltree.NodeType) bool {
	switch t.kind {
	case testNode:
		return true
	case testText:
		return n.Type == xmltree.TextNode
	case testComment:
		return n.Type == xmltree.CommentNode
	case testPI:
		return n.Type == xmltree.ProcInstNode && (t.target == "" || n.Name.Local == t.target)
	case testAny:
		return n.Type == principal
	case testNamespace:
		return n.Type == principal && n.Name.Space == t.space
	default:
		return n.Type == principal && n.Name.Local == t.local && n.Name.Space == t.space
	}
}

type step struct {
	axis  axis
	test  nodeTest
	preds []expr
}

func (s *step) principal() xmltree.NodeType {
	if s.axis == axisAttribute {
		return xmltree.AttributeNode
	}
	return xmltree.ElementNode
}

// candidates lists the nodes on the step's axis from n that pass the node
// test, in axis order.
func (s *step) candidates(n *xmltree.Node) NodeSet {
	var out NodeSet
	p := s.principal()
	add := func(x *xmltree.Node) {
		if s.test.match(x, p) {
			out = append(out, x)
		}
	}
	switch s.axis {
	case axisChild:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			add(c)
		}
	case axisDescendant:
		descendants(n, add)
	case axisDescendantOrSelf:
		add(n)
		descendants(n, add)
	case axisParent:
		if n.Parent != nil {
			add(n.Parent)
		}
	case axisAncestor:
		for a := n.Parent; a != nil; a = a.Parent {
			add(a)
		}
	case axisAncestorOrSelf:
		for a := n; a != nil; a = a.Parent {
			add(a)
		}
	case axisFollowingSibling:
		if n.Type != xmltree.AttributeNode {
			for x := n.NextSibling; x != nil; x = x.NextSibling {
				add(x)
			}
		}
	case axisPrecedingSibling:
		if n.Type != xmltree.AttributeNode {
			for x := n.PrevSibling; x != nil; x = x.PrevSibling {
				add(x)
			}
		}
	case axisFollowing:
		x := n
		if n.Type == xmltree.AttributeNode && n.Parent != nil {
			x = n.Parent
			descendants(x, add)
		}
		for ; x != nil; x = x.Parent {
			for sib := x.NextSibling; sib != nil; sib = sib.NextSibling {
				add(sib)
				descendants(sib, add)
			}
		}
	case axisPreceding:
		x := n
		if n.Type == xmltree.AttributeNode && n.Parent != nil {
			x = n.Parent
		}
		for ; x != nil; x = x.Parent {
			for sib := x.PrevSibling; sib != nil; sib = sib.PrevSibling {
				var sub NodeSet
				sub = append(sub, sib)
				descendants(sib, func(d *xmltree.Node) { sub = append(sub, d) })
				for i := len(sub) - 1; i >= 0; i-- {
					add(sub[i])
				}
			}
		}
	case axisAttribute:
		if n.Type == xmltree.ElementNode {
			for _, a := range n.Attrs {
				add(a)
			}
		}
	case axisSelf:
		add(n)
	case axisNamespace:
		// Namespace nodes are not modelled.
	}
	return out
}

func descendants(n *xmltree.Node, fn func(*xmltree.Node)) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		fn(c)
		descendants(c, fn)
	}
}

func (s *step) apply(c *Context, nodes NodeSet) (NodeSet, error) {
	var out NodeSet
	for _, n := range nodes {
		cands := s.candidates(n)
		for _, p := range s.preds {
			var err error
			if cands, err = applyPredicate(c, cands, p); err != nil {
				return nil, err
			}
		}
		out = append(out, cands...)
	}
	if len(nodes) > 1 || s.axis.reverse() || s.axis == axisFollowing {
		out = out.Sort()
	}
	if out == nil {
		out = NodeSet{}
	}
	return out, nil
}

// applyPredicate keeps the nodes of ns, taken in the given order, for
// which p holds; a numeric result is compared with the proximity position.
func applyPredicate(c *Context, ns NodeSet, p expr) (NodeSet, error) {
	out := make(NodeSet, 0, len(ns))
	for i, n := range ns {
		v, err := p.eval(c.at(n, i+1, len(ns)))
		if err != nil {
			return nil, err
		}
		keep := false
		if f, ok := v.(float64); ok {
			keep = f == float64(i+1)
		} else {
			keep = Boolean(v)
		}
		if keep {
			out = append(out, n)
		}
	}
	return out, nil
}
