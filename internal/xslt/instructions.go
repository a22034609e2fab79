package xslt

import (
	"errors"
	"fmt"
	"strings"

	"xslttester/internal/diagnostic"
	"xslttester/internal/xmltree"
	"xslttester/internal/xpath"
)

type execFunc func(r *runtime, in *instr, f *frame) error

type compileFunc func(c *compiler, n *xmltree.Node, in *instr)

type instruction struct {
	compile compileFunc
	exec    execFunc
}

// instructions lists the XSLT elements allowed in a template body. Entries
// without a compile function are only valid inside a specific parent.
var instructions map[string]instruction

func init() {
	instructions = map[string]instruction{
		"apply-templates":        {compileApplyTemplates, execApplyTemplates},
		"call-template":          {compileCallTemplate, execCallTemplate},
		"apply-imports":          {func(*compiler, *xmltree.Node, *instr) {}, execApplyImports},
		"for-each":               {compileForEach, execForEach},
		"value-of":               {compileValueOf, execValueOf},
		"copy-of":                {compileCopyOf, execCopyOf},
		"copy":                   {compileCopy, execCopy},
		"if":                     {compileIf, execIf},
		"choose":                 {compileChoose, execChoose},
		"variable":               {compileVariable, execVariable},
		"text":                   {compileText, execText},
		"element":                {compileElement, execElement},
		"attribute":              {compileAttribute, execAttribute},
		"comment":                {compileBody, execComment},
		"processing-instruction": {compileProcessingInstruction, execProcessingInstruction},
		"message":                {compileMessage, execMessage},
		"number":                 {compileNumber, execNumber},
		"fallback":               {func(*compiler, *xmltree.Node, *instr) {}, execNothing},
		"param":                  {},
		"with-param":             {},
		"sort":                   {},
		"when":                   {},
		"otherwise":              {},
	}
}

var selectChildren = xpath.MustCompile("child::node()")

func compileBody(c *compiler, n *xmltree.Node, in *instr) { in.body = c.body(n) }

func compileApplyTemplates(c *compiler, n *xmltree.Node, in *instr) {
	in.sel = c.expr(n, "select")
	if m, ok := attr(n, "mode"); ok {
		in.mode = c.qname(n, m, false)
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		switch {
		case isXSL(ch, "sort"):
			in.sorts = append(in.sorts, c.sort(ch))
		case isXSL(ch, "with-param"):
			in.params = append(in.params, c.withParam(ch))
		default:
			c.errorf(ch, "xsl:apply-templates may only contain xsl:sort and xsl:with-param")
		}
	}
}

func (c *compiler) withParam(n *xmltree.Node) *instr {
	in := &instr{node: n, ns: nsOf(n)}
	c.binding(n, in)
	return in
}

func execApplyTemplates(r *runtime, in *instr, f *frame) error {
	sel := in.sel
	if sel == nil {
		sel = selectChildren
	}
	nodes, err := r.selectNodes(in, sel, f)
	if err != nil {
		return err
	}
	if nodes, err = r.sortNodes(in, nodes, f); err != nil {
		return err
	}
	params, err := r.withParams(in, f)
	if err != nil {
		return err
	}
	return r.apply(nodes, in.mode, params)
}

func compileCallTemplate(c *compiler, n *xmltree.Node, in *instr) {
	in.name = c.qname(n, c.required(n, "name"), false)
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		if !isXSL(ch, "with-param") {
			c.errorf(ch, "xsl:call-template may only contain xsl:with-param")
			continue
		}
		in.params = append(in.params, c.withParam(ch))
	}
	c.calls = append(c.calls, in)
}

func execCallTemplate(r *runtime, in *instr, f *frame) error {
	t := r.ss.named[in.name]
	params, err := r.withParams(in, f)
	if err != nil {
		return err
	}
	return r.invoke(t, *f, params, false)
}

func execApplyImports(r *runtime, in *instr, f *frame) error {
	if f.tmpl == nil {
		return r.fail(in.node, errors.New("xsl:apply-imports used outside a template rule"))
	}
	// Without imported stylesheets only the built-in rules remain.
	return r.builtin(*f)
}

func compileForEach(c *compiler, n *xmltree.Node, in *instr) {
	in.sel = c.requiredExpr(n, "select")
	ch := n.FirstChild
	for ; ch != nil && isXSL(ch, "sort"); ch = ch.NextSibling {
		in.sorts = append(in.sorts, c.sort(ch))
	}
	var rest []*xmltree.Node
	for ; ch != nil; ch = ch.NextSibling {
		rest = append(rest, ch)
	}
	in.body = c.sequence(rest)
}

func execForEach(r *runtime, in *instr, f *frame) error {
	nodes, err := r.selectNodes(in, in.sel, f)
	if err != nil {
		return err
	}
	if nodes, err = r.sortNodes(in, nodes, f); err != nil {
		return err
	}
	for i, n := range nodes {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		inner := *f
		inner.node, inner.pos, inner.size, inner.tmpl = n, i+1, len(nodes), nil
		if err := r.exec(in.body, inner); err != nil {
			return err
		}
	}
	return nil
}

func compileValueOf(c *compiler, n *xmltree.Node, in *instr) {
	in.sel = c.requiredExpr(n, "select")
}

func execValueOf(r *runtime, in *instr, f *frame) error {
	v, err := r.eval(in, in.sel, f)
	if err != nil {
		return err
	}
	r.out.text(xpath.String(v))
	return nil
}

func compileCopyOf(c *compiler, n *xmltree.Node, in *instr) {
	in.sel = c.requiredExpr(n, "select")
}

func execCopyOf(r *runtime, in *instr, f *frame) error {
	v, err := r.eval(in, in.sel, f)
	if err != nil {
		return err
	}
	ns, ok := v.(xpath.NodeSet)
	if !ok {
		r.out.text(xpath.String(v))
		return nil
	}
	for _, n := range ns {
		if err := r.out.copyNode(n); err != nil {
			r.recoverable(in.node, "%s", err)
		}
	}
	return nil
}

func compileCopy(c *compiler, n *xmltree.Node, in *instr) {
	if v, ok := attr(n, "use-attribute-sets"); ok {
		in.useSets = c.useSets(n, v)
	}
	in.body = c.body(n)
}

func execCopy(r *runtime, in *instr, f *frame) error {
	n := f.node
	switch n.Type {
	case xmltree.DocumentNode:
		return r.exec(in.body, *f)
	case xmltree.ElementNode:
		r.out.open(n.Name, copiedNamespaces(n))
		if err := r.attributeSets(in.useSets, f); err != nil {
			return err
		}
		err := r.exec(in.body, *f)
		r.out.close()
		return err
	case xmltree.AttributeNode:
		if err := r.out.attr(n.Name, n.Data); err != nil {
			r.recoverable(in.node, "%s", err)
		}
		return nil
	default:
		if err := r.out.copyNode(n); err != nil {
			r.recoverable(in.node, "%s", err)
		}
		return nil
	}
}

// copiedNamespaces returns the namespace declarations in scope at n that
// an element copy carries along.
func copiedNamespaces(n *xmltree.Node) []xmltree.Namespace {
	var out []xmltree.Namespace
	seen := map[string]bool{}
	for e := n; e != nil && e.Type == xmltree.ElementNode; e = e.Parent {
		for _, ns := range e.Namespaces {
			if seen[ns.Prefix] {
				continue
			}
			seen[ns.Prefix] = true
			if ns.URI != "" {
				out = append(out, ns)
			}
		}
	}
	return out
}

func compileIf(c *compiler, n *xmltree.Node, in *instr) {
	in.test = c.requiredExpr(n, "test")
	in.body = c.body(n)
}

func execIf(r *runtime, in *instr, f *frame) error {
	ok, err := r.evalBool(in, in.test, f)
	if err != nil || !ok {
		return err
	}
	return r.exec(in.body, *f)
}

func compileChoose(c *compiler, n *xmltree.Node, in *instr) {
	otherwise := false
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		switch {
		case isXSL(ch, "when") && !otherwise:
			w := &instr{node: ch, ns: nsOf(ch), test: c.requiredExpr(ch, "test"), body: c.body(ch)}
			in.whens = append(in.whens, w)
		case isXSL(ch, "otherwise") && !otherwise && len(in.whens) > 0:
			in.whens = append(in.whens, &instr{node: ch, ns: nsOf(ch), body: c.body(ch)})
			otherwise = true
		default:
			c.errorf(ch, "xsl:choose must contain xsl:when elements followed by an optional xsl:otherwise")
		}
	}
	if len(in.whens) == 0 {
		c.errorf(n, "xsl:choose requires at least one xsl:when")
	}
}

func execChoose(r *runtime, in *instr, f *frame) error {
	for _, w := range in.whens {
		if w.test == nil {
			return r.exec(w.body, *f)
		}
		ok, err := r.evalBool(w, w.test, f)
		if err != nil {
			return err
		}
		if ok {
			return r.exec(w.body, *f)
		}
	}
	return nil
}

func compileVariable(c *compiler, n *xmltree.Node, in *instr) { c.binding(n, in) }

// execVariable extends the frame, so the binding is visible to the
// following siblings only.
func execVariable(r *runtime, in *instr, f *frame) error {
	v, err := r.bindingValue(in, f)
	if err != nil {
		return err
	}
	f.vars = &binding{name: in.name, value: v, next: f.vars}
	return nil
}

func compileText(c *compiler, n *xmltree.Node, in *instr) {
	var b strings.Builder
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		switch ch.Type {
		case xmltree.TextNode:
			b.WriteString(ch.Data)
		case xmltree.ElementNode:
			c.errorf(ch, "xsl:text must not contain elements")
		}
	}
	in.text = b.String()
}

func execText(r *runtime, in *instr, _ *frame) error {
	r.out.text(in.text)
	return nil
}

func compileElement(c *compiler, n *xmltree.Node, in *instr) {
	in.avts = map[string]avt{}
	nameAttr := c.required(n, "name")
	in.avts["name"] = c.avt(n, nameAttr)
	if ns := c.optAVT(n, "namespace"); ns != nil {
		in.avts["namespace"] = ns
	}
	if v, ok := attr(n, "use-attribute-sets"); ok {
		in.useSets = c.useSets(n, v)
	}
	in.body = c.body(n)
}

func execElement(r *runtime, in *instr, f *frame) error {
	name, err := r.computedName(in, f, true)
	if err != nil {
		var de *diagnostic.Error
		if errors.As(err, &de) {
			return err
		}
		r.recoverable(in.node, "%s; the element is omitted", err)
		return r.exec(in.body, *f)
	}
	r.out.open(name, nil)
	if err := r.attributeSets(in.useSets, f); err != nil {
		return err
	}
	err = r.exec(in.body, *f)
	r.out.close()
	return err
}

func compileAttribute(c *compiler, n *xmltree.Node, in *instr) {
	in.avts = map[string]avt{"name": c.avt(n, c.required(n, "name"))}
	if ns := c.optAVT(n, "namespace"); ns != nil {
		in.avts["namespace"] = ns
	}
	in.body = c.body(n)
}

func execAttribute(r *runtime, in *instr, f *frame) error {
	name, err := r.computedName(in, f, false)
	if err == nil && name.Space == "" && name.Local == "xmlns" {
		err = fmt.Errorf("xmlns is not a valid attribute name")
	}
	if err != nil {
		var de *diagnostic.Error
		if errors.As(err, &de) {
			return err
		}
		r.recoverable(in.node, "%s; the attribute is omitted", err)
		return nil
	}
	value, err := r.textContent(in, f)
	if err != nil {
		return err
	}
	if err := r.out.attr(name, value); err != nil {
		r.recoverable(in.node, "%s", err)
	}
	return nil
}

func execComment(r *runtime, in *instr, f *frame) error {
	s, err := r.textContent(in, f)
	if err != nil {
		return err
	}
	if strings.Contains(s, "--") || strings.HasSuffix(s, "-") {
		r.recoverable(in.node, "comment text must not contain \"--\" or end with \"-\"")
		s = strings.ReplaceAll(s, "--", "- -")
		if strings.HasSuffix(s, "-") {
			s += " "
		}
	}
	r.out.add(xmltree.NewComment(s))
	return nil
}

func compileProcessingInstruction(c *compiler, n *xmltree.Node, in *instr) {
	in.avts = map[string]avt{"name": c.avt(n, c.required(n, "name"))}
	in.body = c.body(n)
}

func execProcessingInstruction(r *runtime, in *instr, f *frame) error {
	target, err := r.evalAVT(in, in.avts["name"], f)
	if err != nil {
		return err
	}
	target = strings.TrimSpace(target)
	if !isNCName(target) || strings.EqualFold(target, "xml") {
		r.recoverable(in.node, "%q is not a valid processing-instruction target; the instruction is omitted", target)
		return nil
	}
	s, err := r.textContent(in, f)
	if err != nil {
		return err
	}
	if strings.Contains(s, "?>") {
		r.recoverable(in.node, "processing-instruction content must not contain \"?>\"")
		s = strings.ReplaceAll(s, "?>", "? >")
	}
	r.out.add(xmltree.NewProcInst(target, strings.TrimLeft(s, " \t\r\n")))
	return nil
}

func compileMessage(c *compiler, n *xmltree.Node, in *instr) {
	in.terminate, _ = c.yesNo(n, "terminate")
	in.body = c.body(n)
}

func execMessage(r *runtime, in *instr, f *frame) error {
	frag, err := r.fragment(in.body, *f)
	if err != nil {
		return err
	}
	msg := frag.StringValue()
	d := diagnostic.Diagnostic{Level: diagnostic.LevelWarning, Message: msg, Location: location(in.node)}
	if !in.terminate {
		diagnostic.Report(r.l, d)
		return nil
	}
	d.Level = diagnostic.LevelFatal
	if d.Message == "" {
		d.Message = "processing terminated by xsl:message"
	}
	diagnostic.Report(r.l, d)
	return &diagnostic.Error{Message: d.Message, Location: d.Location}
}

func execSequence(r *runtime, in *instr, f *frame) error { return r.exec(in.body, *f) }

func execNothing(*runtime, *instr, *frame) error { return nil }

func execUnsupported(r *runtime, in *instr, _ *frame) error {
	return r.fail(in.node, fmt.Errorf("xsl:%s is not supported by this processor", in.node.Name.Local))
}

func execLiteral(r *runtime, in *instr, f *frame) error {
	r.out.open(in.lre.name, in.lre.namespaces)
	if err := r.attributeSets(in.useSets, f); err != nil {
		return err
	}
	for _, a := range in.lre.attrs {
		v, err := r.evalAVT(in, a.value, f)
		if err != nil {
			return err
		}
		if err := r.out.attr(a.name, v); err != nil {
			r.recoverable(in.node, "%s", err)
		}
	}
	err := r.exec(in.body, *f)
	r.out.close()
	return err
}
