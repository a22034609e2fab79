package xslt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"xslttester/internal/diagnostic"
	"xslttester/internal/xmltree"
	"xslttester/internal/xpath"
)

type runtime struct {
	ctx     context.Context
	ss      *Stylesheet
	src     *xmltree.Node
	params  map[string]xpath.Value
	l       diagnostic.Listener
	out     *builder
	globals map[string]*globalState
	keys    map[string]map[*xmltree.Node]map[string]xpath.NodeSet
	depth   int
}

type globalState struct {
	busy  bool
	done  bool
	value xpath.Value
}

// frame is the dynamic context of an instruction. Frames are copied by
// value; only execVariable extends one in place.
type frame struct {
	node *xmltree.Node
	pos  int
	size int
	vars *binding
	tmpl *template
	mode string
}

type binding struct {
	name  string
	value xpath.Value
	next  *binding
}

func (b *binding) lookup(name string) (xpath.Value, bool) {
	for ; b != nil; b = b.next {
		if b.name == name {
			return b.value, true
		}
	}
	return nil, false
}

func newRuntime(ctx context.Context, ss *Stylesheet, src *xmltree.Node, params map[string]xpath.Value, l diagnostic.Listener) *runtime {
	return &runtime{
		ctx:     ctx,
		ss:      ss,
		src:     src,
		params:  params,
		l:       l,
		globals: map[string]*globalState{},
		keys:    map[string]map[*xmltree.Node]map[string]xpath.NodeSet{},
	}
}

func (r *runtime) run() (*xmltree.Node, error) {
	r.out = newBuilder()
	for _, g := range r.ss.globals {
		if _, err := r.globalValue(g.name); err != nil {
			return nil, err
		}
	}
	if err := r.apply(xpath.NodeSet{r.src}, "", nil); err != nil {
		return nil, err
	}
	return r.out.doc, nil
}

func (r *runtime) exec(body []*instr, f frame) error {
	for _, in := range body {
		if err := in.exec(r, in, &f); err != nil {
			return err
		}
	}
	return nil
}

// apply processes each node with the best matching template rule.
func (r *runtime) apply(nodes xpath.NodeSet, mode string, params map[string]xpath.Value) error {
	for i, n := range nodes {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		f := frame{node: n, pos: i + 1, size: len(nodes), mode: mode}
		t, err := r.match(f)
		if err != nil {
			return err
		}
		if t == nil {
			err = r.builtin(f)
		} else {
			err = r.invoke(t, f, params, true)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// match picks the rule with the highest priority, the last one in the
// stylesheet among equals.
func (r *runtime) match(f frame) (*template, error) {
	var best *rule
	for _, ru := range r.ss.rules[f.mode] {
		if best != nil && ru.priority < best.priority {
			continue
		}
		c := &xpath.Context{Node: f.node, Position: 1, Size: 1, Env: &env{r: r, f: &f, ns: ru.tmpl.ns}}
		ok, err := ru.pattern.Match(c, f.node)
		if err != nil {
			return nil, r.fail(ru.tmpl.node, err)
		}
		if ok && (best == nil || ru.priority > best.priority || ru.order > best.order) {
			best = ru
		}
	}
	if best == nil {
		return nil, nil
	}
	return best.tmpl, nil
}

func (r *runtime) builtin(f frame) error {
	switch f.node.Type {
	case xmltree.DocumentNode, xmltree.ElementNode:
		return r.apply(xpath.NodeSet(f.node.Children()), f.mode, nil)
	case xmltree.TextNode, xmltree.AttributeNode:
		r.out.text(f.node.Data)
	}
	return nil
}

// invoke runs a template with the given parameters. Rule invocations
// become the current template rule; named calls keep the caller's.
func (r *runtime) invoke(t *template, f frame, params map[string]xpath.Value, asRule bool) error {
	r.depth++
	defer func() { r.depth-- }()
	if r.depth > maxDepth {
		return r.fail(t.node, fmt.Errorf("template recursion deeper than %d levels", maxDepth))
	}
	if asRule {
		f.tmpl = t
	}
	f.vars = nil
	for _, p := range t.params {
		v, ok := params[p.name]
		if !ok {
			var err error
			if v, err = r.bindingValue(p, &f); err != nil {
				return err
			}
		}
		f.vars = &binding{name: p.name, value: v, next: f.vars}
	}
	return r.exec(t.body, f)
}

func (r *runtime) withParams(in *instr, f *frame) (map[string]xpath.Value, error) {
	if len(in.params) == 0 {
		return nil, nil
	}
	out := make(map[string]xpath.Value, len(in.params))
	for _, p := range in.params {
		v, err := r.bindingValue(p, f)
		if err != nil {
			return nil, err
		}
		out[p.name] = v
	}
	return out, nil
}

// bindingValue computes a variable or parameter: its select expression,
// else its content as a result tree fragment, else the empty string.
func (r *runtime) bindingValue(in *instr, f *frame) (xpath.Value, error) {
	switch {
	case in.sel != nil:
		return r.eval(in, in.sel, f)
	case len(in.body) > 0:
		frag, err := r.fragment(in.body, *f)
		if err != nil {
			return nil, err
		}
		return xpath.NodeSet{frag}, nil
	}
	return "", nil
}

func (r *runtime) globalValue(name string) (xpath.Value, error) {
	decl, ok := r.ss.global[name]
	if !ok {
		return nil, fmt.Errorf("%w: $%s", xpath.ErrUnknownVariable, name)
	}
	g := r.globals[name]
	if g == nil {
		g = &globalState{}
		r.globals[name] = g
	}
	switch {
	case g.done:
		return g.value, nil
	case g.busy:
		return nil, r.fail(decl.node, fmt.Errorf("circular definition of global variable $%s", name))
	}
	if decl.isParam {
		if v, ok := r.params[name]; ok {
			g.value, g.done = v, true
			return v, nil
		}
	}
	g.busy = true
	f := frame{node: r.src, pos: 1, size: 1}
	v, err := r.bindingValue(decl, &f)
	g.busy = false
	if err != nil {
		return nil, err
	}
	g.value, g.done = v, true
	return v, nil
}

// fragment instantiates body into a fresh result tree fragment.
func (r *runtime) fragment(body []*instr, f frame) (*xmltree.Node, error) {
	saved := r.out
	r.out = newBuilder()
	err := r.exec(body, f)
	frag := r.out.doc
	r.out = saved
	if err != nil {
		return nil, err
	}
	xmltree.Renumber(frag)
	return frag, nil
}

// textContent instantiates the body of xsl:attribute, xsl:comment or
// xsl:processing-instruction, keeping only text.
func (r *runtime) textContent(in *instr, f *frame) (string, error) {
	if len(in.body) == 0 {
		return "", nil
	}
	frag, err := r.fragment(in.body, *f)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for ch := frag.FirstChild; ch != nil; ch = ch.NextSibling {
		if ch.Type == xmltree.TextNode {
			b.WriteString(ch.Data)
			continue
		}
		r.recoverable(in.node, "xsl:%s content must be text; a %s node is ignored", in.node.Name.Local, ch.Type)
	}
	return b.String(), nil
}

// computedName evaluates the name and namespace templates of xsl:element
// or xsl:attribute.
func (r *runtime) computedName(in *instr, f *frame, element bool) (xmltree.Name, error) {
	qn, err := r.evalAVT(in, in.avts["name"], f)
	if err != nil {
		return xmltree.Name{}, err
	}
	qn = strings.TrimSpace(qn)
	if !isQName(qn) {
		return xmltree.Name{}, fmt.Errorf("%q is not a valid QName", qn)
	}
	prefix, local, hasPrefix := strings.Cut(qn, ":")
	if !hasPrefix {
		prefix, local = "", qn
	}
	if nsAVT, ok := in.avts["namespace"]; ok {
		uri, err := r.evalAVT(in, nsAVT, f)
		if err != nil {
			return xmltree.Name{}, err
		}
		if uri == "" {
			prefix = ""
		}
		return xmltree.Name{Space: uri, Prefix: prefix, Local: local}, nil
	}
	if !hasPrefix && !element {
		return xmltree.Name{Local: local}, nil
	}
	uri, ok := in.node.LookupNamespace(prefix)
	if !ok {
		return xmltree.Name{}, fmt.Errorf("undeclared namespace prefix %q in %q", prefix, qn)
	}
	if uri == "" {
		prefix = ""
	}
	return xmltree.Name{Space: uri, Prefix: prefix, Local: local}, nil
}

func (r *runtime) attributeSets(names []string, f *frame) error {
	for _, name := range names {
		for _, set := range r.ss.attrSets[name] {
			if err := r.attributeSets(set.useSets, f); err != nil {
				return err
			}
			// Attribute sets see global variables only.
			inner := *f
			inner.vars = nil
			if err := r.exec(set.attrs, inner); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *runtime) context(in *instr, f *frame) *xpath.Context {
	return &xpath.Context{Node: f.node, Position: f.pos, Size: f.size, Env: &env{r: r, f: f, ns: in.ns}}
}

func (r *runtime) eval(in *instr, e *xpath.Expr, f *frame) (xpath.Value, error) {
	v, err := e.Evaluate(r.context(in, f))
	if err != nil {
		return nil, r.fail(in.node, err)
	}
	return v, nil
}

func (r *runtime) evalBool(in *instr, e *xpath.Expr, f *frame) (bool, error) {
	v, err := r.eval(in, e, f)
	if err != nil {
		return false, err
	}
	return xpath.Boolean(v), nil
}

func (r *runtime) selectNodes(in *instr, e *xpath.Expr, f *frame) (xpath.NodeSet, error) {
	v, err := r.eval(in, e, f)
	if err != nil {
		return nil, err
	}
	ns, ok := v.(xpath.NodeSet)
	if !ok {
		return nil, r.fail(in.node, fmt.Errorf("select expression %q must yield a node-set", e))
	}
	return ns, nil
}

func (r *runtime) evalAVT(in *instr, a avt, f *frame) (string, error) {
	if s, ok := a.static(); ok {
		return s, nil
	}
	var b strings.Builder
	for _, p := range a {
		if p.expr == nil {
			b.WriteString(p.lit)
			continue
		}
		v, err := r.eval(in, p.expr, f)
		if err != nil {
			return "", err
		}
		b.WriteString(xpath.String(v))
	}
	return b.String(), nil
}

func (r *runtime) recoverable(n *xmltree.Node, format string, args ...any) {
	diagnostic.Report(r.l, diagnostic.Diagnostic{
		Level:    diagnostic.LevelError,
		Message:  fmt.Sprintf(format, args...),
		Location: location(n),
	})
}

// fail turns err into a reported fatal error located at n. Errors that
// were already reported and context errors pass through unchanged.
func (r *runtime) fail(n *xmltree.Node, err error) error {
	var de *diagnostic.Error
	if errors.As(err, &de) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	de = &diagnostic.Error{Message: err.Error(), Location: location(n), Err: err}
	diagnostic.Report(r.l, de.Diagnostic())
	return de
}

// env binds XPath evaluation to the runtime: variables in scope and the
// XSLT function library.
type env struct {
	r  *runtime
	f  *frame
	ns xpath.Namespaces
}

func (e *env) Variable(name string) (xpath.Value, error) {
	if v, ok := e.f.vars.lookup(name); ok {
		return v, nil
	}
	return e.r.globalValue(name)
}

var extensionFunctions = map[string]bool{
	"current": true, "key": true, "generate-id": true, "format-number": true,
	"system-property": true, "element-available": true, "function-available": true,
	"unparsed-entity-uri": true, "document": true,
}

func (e *env) Function(name string) (xpath.Function, bool) {
	switch name {
	case "current":
		return func(*xpath.Context, []xpath.Value) (xpath.Value, error) {
			return xpath.NodeSet{e.f.node}, nil
		}, true
	case "key":
		return e.key, true
	case "generate-id":
		return generateID, true
	case "format-number":
		return e.formatNumber, true
	case "system-property":
		return e.systemProperty, true
	case "element-available":
		return e.elementAvailable, true
	case "function-available":
		return e.functionAvailable, true
	case "unparsed-entity-uri":
		return func(_ *xpath.Context, args []xpath.Value) (xpath.Value, error) {
			if len(args) != 1 {
				return nil, errors.New("unparsed-entity-uri() takes one argument")
			}
			return "", nil
		}, true
	case "document":
		return e.document, true
	}
	return nil, false
}

func (e *env) key(c *xpath.Context, args []xpath.Value) (xpath.Value, error) {
	if len(args) != 2 {
		return nil, errors.New("key() takes two arguments")
	}
	name, err := e.expand(xpath.String(args[0]))
	if err != nil {
		return nil, err
	}
	if _, ok := e.r.ss.keys[name]; !ok {
		return nil, fmt.Errorf("key() refers to undeclared key %q", xpath.String(args[0]))
	}
	index, err := e.r.keyIndex(name, c.Node.Root())
	if err != nil {
		return nil, err
	}
	var values []string
	if ns, ok := args[1].(xpath.NodeSet); ok {
		for _, n := range ns {
			values = append(values, n.StringValue())
		}
	} else {
		values = []string{xpath.String(args[1])}
	}
	var out xpath.NodeSet
	for _, v := range values {
		out = append(out, index[v]...)
	}
	if out == nil {
		return xpath.NodeSet{}, nil
	}
	return out.Sort(), nil
}

func (e *env) expand(qn string) (string, error) {
	qn = strings.TrimSpace(qn)
	prefix, local, ok := strings.Cut(qn, ":")
	if !ok {
		return qn, nil
	}
	uri, found := e.ns[prefix]
	if prefix == "xml" {
		uri, found = xmltree.XMLNamespace, true
	}
	if !found {
		return "", fmt.Errorf("undeclared namespace prefix %q in %q", prefix, qn)
	}
	return "{" + uri + "}" + local, nil
}

// keyIndex builds, once per document, the value to nodes map of a key.
func (r *runtime) keyIndex(name string, root *xmltree.Node) (map[string]xpath.NodeSet, error) {
	byDoc := r.keys[name]
	if byDoc == nil {
		byDoc = map[*xmltree.Node]map[string]xpath.NodeSet{}
		r.keys[name] = byDoc
	}
	if idx, ok := byDoc[root]; ok {
		return idx, nil
	}
	idx := map[string]xpath.NodeSet{}
	byDoc[root] = idx
	var walkErr error
	visit := func(n *xmltree.Node) {
		if walkErr != nil {
			return
		}
		for _, k := range r.ss.keys[name] {
			f := frame{node: n, pos: 1, size: 1}
			c := &xpath.Context{Node: n, Position: 1, Size: 1, Env: &env{r: r, f: &f, ns: k.ns}}
			ok, err := k.match.Match(c, n)
			if err != nil {
				walkErr = r.fail(k.node, err)
				return
			}
			if !ok {
				continue
			}
			v, err := k.use.Evaluate(c)
			if err != nil {
				walkErr = r.fail(k.node, err)
				return
			}
			if ns, isSet := v.(xpath.NodeSet); isSet {
				for _, u := range ns {
					idx[u.StringValue()] = append(idx[u.StringValue()], n)
				}
			} else {
				s := xpath.String(v)
				idx[s] = append(idx[s], n)
			}
		}
	}
	walk(root, visit)
	if walkErr != nil {
		delete(byDoc, root)
		return nil, walkErr
	}
	return idx, nil
}

// walk visits n and everything below it in document order, attributes
// included.
func walk(n *xmltree.Node, fn func(*xmltree.Node)) {
	fn(n)
	for _, a := range n.Attrs {
		fn(a)
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		walk(ch, fn)
	}
}

func generateID(c *xpath.Context, args []xpath.Value) (xpath.Value, error) {
	n := c.Node
	if len(args) > 0 {
		ns, ok := args[0].(xpath.NodeSet)
		if !ok {
			return nil, errors.New("generate-id() expects a node-set")
		}
		if len(ns) == 0 {
			return "", nil
		}
		n = ns[0]
	}
	if n == nil {
		return "", nil
	}
	return "N" + strconv.FormatInt(n.Order(), 10), nil
}

func (e *env) systemProperty(_ *xpath.Context, args []xpath.Value) (xpath.Value, error) {
	if len(args) != 1 {
		return nil, errors.New("system-property() takes one argument")
	}
	name, err := e.expand(xpath.String(args[0]))
	if err != nil {
		return nil, err
	}
	switch name {
	case "{" + Namespace + "}version":
		return 1.0, nil
	case "{" + Namespace + "}vendor":
		return Vendor, nil
	case "{" + Namespace + "}vendor-url":
		return "", nil
	}
	return "", nil
}

func (e *env) elementAvailable(_ *xpath.Context, args []xpath.Value) (xpath.Value, error) {
	if len(args) != 1 {
		return nil, errors.New("element-available() takes one argument")
	}
	name, err := e.expand(xpath.String(args[0]))
	if err != nil {
		return nil, err
	}
	local, ok := strings.CutPrefix(name, "{"+Namespace+"}")
	if !ok {
		return false, nil
	}
	def, known := instructions[local]
	return known && def.compile != nil, nil
}

func (e *env) functionAvailable(_ *xpath.Context, args []xpath.Value) (xpath.Value, error) {
	if len(args) != 1 {
		return nil, errors.New("function-available() takes one argument")
	}
	name, err := e.expand(xpath.String(args[0]))
	if err != nil {
		return nil, err
	}
	return xpath.IsCoreFunction(name) || extensionFunctions[name], nil
}

// document only resolves the empty URI, which names the stylesheet.
func (e *env) document(_ *xpath.Context, args []xpath.Value) (xpath.Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, errors.New("document() takes one or two arguments")
	}
	if xpath.String(args[0]) != "" {
		return nil, fmt.Errorf("document(%q): external documents cannot be loaded", xpath.String(args[0]))
	}
	return xpath.NodeSet{e.r.ss.doc}, nil
}

// builder assembles a result tree.
type builder struct {
	doc *xmltree.Node
	cur *xmltree.Node
}

func newBuilder() *builder {
	d := xmltree.NewDocument()
	return &builder{doc: d, cur: d}
}

var (
	errAttrNoElement  = errors.New("an attribute can only be added to an element")
	errAttrAfterChild = errors.New("an attribute cannot be added after child content; the attribute is ignored")
)

func (b *builder) open(name xmltree.Name, namespaces []xmltree.Namespace) *xmltree.Node {
	e := xmltree.NewElement(name)
	if len(namespaces) > 0 {
		e.Namespaces = append([]xmltree.Namespace(nil), namespaces...)
	}
	b.cur.AppendChild(e)
	b.cur = e
	return e
}

func (b *builder) close() { b.cur = b.cur.Parent }

func (b *builder) text(s string) {
	if s == "" {
		return
	}
	if last := b.cur.LastChild; last != nil && last.Type == xmltree.TextNode {
		last.Data += s
		return
	}
	b.cur.AppendChild(xmltree.NewText(s))
}

func (b *builder) add(n *xmltree.Node) { b.cur.AppendChild(n) }

func (b *builder) attr(name xmltree.Name, value string) error {
	if b.cur.Type != xmltree.ElementNode {
		return errAttrNoElement
	}
	if b.cur.FirstChild != nil {
		return errAttrAfterChild
	}
	b.cur.SetAttr(name, value)
	return nil
}

// copyNode adds a deep copy of n to the result.
func (b *builder) copyNode(n *xmltree.Node) error {
	switch n.Type {
	case xmltree.DocumentNode:
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			if err := b.copyNode(ch); err != nil {
				return err
			}
		}
		return nil
	case xmltree.AttributeNode:
		return b.attr(n.Name, n.Data)
	case xmltree.TextNode:
		b.text(n.Data)
		return nil
	case xmltree.ElementNode:
		c := n.Clone()
		c.Namespaces = copiedNamespaces(n)
		b.add(c)
		return nil
	}
	b.add(n.Clone())
	return nil
}
