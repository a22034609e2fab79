package xslt

import (
	"math"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"xslttester/internal/xmltree"
	"xslttester/internal/xpath"
)

type sortSpec struct {
	node      *xmltree.Node
	ns        xpath.Namespaces
	sel       *xpath.Expr
	lang      avt
	dataType  avt
	order     avt
	caseOrder avt
}

var selectSelf = xpath.MustCompile("self::node()")

func (c *compiler) sort(n *xmltree.Node) *sortSpec {
	s := &sortSpec{
		node:      n,
		ns:        nsOf(n),
		sel:       c.expr(n, "select"),
		lang:      c.optAVT(n, "lang"),
		dataType:  c.optAVT(n, "data-type"),
		order:     c.optAVT(n, "order"),
		caseOrder: c.optAVT(n, "case-order"),
	}
	if s.sel == nil {
		s.sel = selectSelf
	}
	if n.FirstChild != nil {
		c.errorf(n, "xsl:sort must be empty")
	}
	return s
}

type sortKey struct {
	text string
	num  float64
}

type keyOrder struct {
	numeric    bool
	descending bool
	collator   *collate.Collator
}

// sortNodes orders nodes by the xsl:sort keys of in. The sort is stable,
// so nodes with equal keys keep document order.
func (r *runtime) sortNodes(in *instr, nodes xpath.NodeSet, f *frame) (xpath.NodeSet, error) {
	if len(in.sorts) == 0 || len(nodes) < 2 {
		return nodes, nil
	}
	orders := make([]keyOrder, len(in.sorts))
	for i, s := range in.sorts {
		o, err := r.keyOrder(s, f)
		if err != nil {
			return nil, err
		}
		orders[i] = o
	}

	keys := make([][]sortKey, len(nodes))
	for i, n := range nodes {
		nf := frame{node: n, pos: i + 1, size: len(nodes), vars: f.vars, tmpl: f.tmpl, mode: f.mode}
		row := make([]sortKey, len(in.sorts))
		for j, s := range in.sorts {
			c := &xpath.Context{Node: n, Position: nf.pos, Size: nf.size, Env: &env{r: r, f: &nf, ns: s.ns}}
			v, err := s.sel.Evaluate(c)
			if err != nil {
				return nil, r.fail(s.node, err)
			}
			str := xpath.String(v)
			row[j] = sortKey{text: str, num: xpath.ParseNumber(str)}
		}
		keys[i] = row
	}

	idx := make([]int, len(nodes))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
		for j, o := range orders {
			c := compareKeys(ka[j], kb[j], o)
			if o.descending {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	out := make(xpath.NodeSet, len(nodes))
	for i, k := range idx {
		out[i] = nodes[k]
	}
	return out, nil
}

func (r *runtime) keyOrder(s *sortSpec, f *frame) (keyOrder, error) {
	// The sort attributes are evaluated with the outer context node.
	in := &instr{node: s.node, ns: s.ns}
	var o keyOrder
	dt, err := r.evalAVT(in, s.dataType, f)
	if err != nil {
		return o, err
	}
	switch dt {
	case "", "text":
	case "number":
		o.numeric = true
	default:
		r.recoverable(s.node, "unsupported data-type %q, sorting as text", dt)
	}
	order, err := r.evalAVT(in, s.order, f)
	if err != nil {
		return o, err
	}
	switch order {
	case "", "ascending":
	case "descending":
		o.descending = true
	default:
		r.recoverable(s.node, "order must be ascending or descending, got %q", order)
	}
	if _, err := r.evalAVT(in, s.caseOrder, f); err != nil {
		return o, err
	}
	if !o.numeric {
		lang, err := r.evalAVT(in, s.lang, f)
		if err != nil {
			return o, err
		}
		tag := language.Und
		if lang != "" {
			if tag, err = language.Parse(lang); err != nil {
				r.recoverable(s.node, "unknown sort language %q", lang)
				tag = language.Und
			}
		}
		o.collator = collate.New(tag)
	}
	return o, nil
}

// compareKeys compares two keys in ascending order. NaN sorts before every
// number.
func compareKeys(a, b sortKey, o keyOrder) int {
	if !o.numeric {
		return o.collator.CompareString(a.text, b.text)
	}
	an, bn := math.IsNaN(a.num), math.IsNaN(b.num)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	case a.num < b.num:
		return -1
	case a.num > b.num:
		return 1
	}
	return 0
}
