package xslt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"xslttester/internal/diagnostic"
	"xslttester/internal/xmltree"
	"xslttester/internal/xpath"
)

// instr is one compiled instruction, literal result element or text node
// of a template body.
type instr struct {
	node *xmltree.Node
	exec execFunc
	ns   xpath.Namespaces

	text    string
	name    string // expanded name of a variable, param or called template
	mode    string
	isParam bool

	sel  *xpath.Expr
	test *xpath.Expr
	avts map[string]avt

	lre     *literalElement
	body    []*instr
	sorts   []*sortSpec
	params  []*instr
	whens   []*instr
	useSets []string
	num     *numberSpec

	terminate bool
}

type literalElement struct {
	name       xmltree.Name
	namespaces []xmltree.Namespace
	attrs      []literalAttr
}

type literalAttr struct {
	name  xmltree.Name
	value avt
}

type compiler struct {
	ss       *Stylesheet
	l        diagnostic.Listener
	first    *diagnostic.Diagnostic
	forwards bool
	order    int
	calls    []*instr
	setRefs  map[*xmltree.Node][]string
}

// Compile builds a stylesheet from a parsed document, reporting every
// problem to l. When anything is wrong a fatal diagnostic follows the
// individual errors and the first of them is returned as a
// *diagnostic.Error.
func Compile(doc *xmltree.Node, l diagnostic.Listener) (*Stylesheet, error) {
	c := &compiler{
		ss: &Stylesheet{
			doc:      doc,
			named:    map[string]*template{},
			rules:    map[string][]*rule{},
			global:   map[string]*instr{},
			keys:     map[string][]*keyDef{},
			attrSets: map[string][]*attrSet{},
			formats:  map[string]*decimalFormat{"": defaultDecimalFormat()},
		},
		l:       l,
		setRefs: map[*xmltree.Node][]string{},
	}
	root := doc
	if doc.Type == xmltree.DocumentNode {
		root = doc.DocumentElement()
	}
	if root == nil {
		c.errorf(doc, "stylesheet has no document element")
		return nil, c.fail()
	}
	stripStylesheet(root, false)

	switch {
	case isXSL(root, "stylesheet") || isXSL(root, "transform"):
		c.ss.version = c.required(root, "version")
		c.forwards = c.ss.version != "" && c.ss.version != "1.0"
		for ch := root.FirstChild; ch != nil; ch = ch.NextSibling {
			c.topLevel(ch)
		}
	default:
		v, ok := root.Attr(Namespace, "version")
		if !ok {
			c.errorf(root, "document element <%s> is neither xsl:stylesheet nor a literal result element with xsl:version", root.Name)
			return nil, c.fail()
		}
		c.ss.version = v
		c.forwards = v != "1.0"
		t := &template{node: root, ns: nsOf(root), match: rootPattern, body: []*instr{c.literal(root)}}
		c.ss.templates = append(c.ss.templates, t)
		c.addRules(t, nil)
	}
	c.resolve()
	if c.first != nil {
		return nil, c.fail()
	}
	return c.ss, nil
}

var rootPattern = func() *xpath.Pattern {
	p, err := xpath.CompilePattern("/", nil)
	if err != nil {
		panic(err)
	}
	return p
}()

func (c *compiler) fail() error {
	diagnostic.Report(c.l, diagnostic.Diagnostic{
		Level:    diagnostic.LevelFatal,
		Message:  "could not compile stylesheet",
		Location: diagnostic.Location{SystemID: SystemStylesheet},
	})
	return &diagnostic.Error{Message: c.first.Message, Location: c.first.Location}
}

func (c *compiler) errorf(n *xmltree.Node, format string, args ...any) {
	d := diagnostic.Diagnostic{Level: diagnostic.LevelError, Message: fmt.Sprintf(format, args...), Location: location(n)}
	if c.first == nil {
		c.first = &d
	}
	diagnostic.Report(c.l, d)
}

func (c *compiler) warnf(n *xmltree.Node, format string, args ...any) {
	diagnostic.Report(c.l, diagnostic.Diagnostic{Level: diagnostic.LevelWarning, Message: fmt.Sprintf(format, args...), Location: location(n)})
}

func isXSL(n *xmltree.Node, local string) bool {
	return n != nil && n.Type == xmltree.ElementNode && n.Name.Space == Namespace && n.Name.Local == local
}

func attr(n *xmltree.Node, name string) (string, bool) { return n.Attr("", name) }

func (c *compiler) required(n *xmltree.Node, name string) string {
	v, ok := attr(n, name)
	if !ok {
		c.errorf(n, "xsl:%s requires a %s attribute", n.Name.Local, name)
	}
	return v
}

func nsOf(n *xmltree.Node) xpath.Namespaces { return xpath.Namespaces(n.InScopeNamespaces()) }

func (c *compiler) expr(n *xmltree.Node, name string) *xpath.Expr {
	src, ok := attr(n, name)
	if !ok {
		return nil
	}
	e, err := xpath.CompileNS(src, nsOf(n))
	if err != nil {
		c.errorf(n, "%s", err)
		return nil
	}
	return e
}

func (c *compiler) requiredExpr(n *xmltree.Node, name string) *xpath.Expr {
	if _, ok := attr(n, name); !ok {
		c.required(n, name)
		return nil
	}
	return c.expr(n, name)
}

func (c *compiler) pattern(n *xmltree.Node, name string) *xpath.Pattern {
	src, ok := attr(n, name)
	if !ok {
		return nil
	}
	p, err := xpath.CompilePattern(src, nsOf(n))
	if err != nil {
		c.errorf(n, "%s", err)
		return nil
	}
	return p
}

// qname expands a QName-valued attribute. Unprefixed names are in no
// namespace unless useDefault is set.
func (c *compiler) qname(n *xmltree.Node, value string, useDefault bool) string {
	name, err := expandQName(n, value, useDefault)
	if err != nil {
		c.errorf(n, "%s", err)
	}
	return name
}

func expandQName(n *xmltree.Node, value string, useDefault bool) (string, error) {
	value = strings.TrimSpace(value)
	if !isQName(value) {
		return "", fmt.Errorf("%q is not a valid QName", value)
	}
	prefix, local, ok := strings.Cut(value, ":")
	if !ok {
		if useDefault {
			if uri, _ := n.LookupNamespace(""); uri != "" {
				return "{" + uri + "}" + value, nil
			}
		}
		return value, nil
	}
	uri, found := n.LookupNamespace(prefix)
	if !found {
		return "", fmt.Errorf("undeclared namespace prefix %q in %q", prefix, value)
	}
	return "{" + uri + "}" + local, nil
}

func (c *compiler) qnames(n *xmltree.Node, name string, useDefault bool) []string {
	v, ok := attr(n, name)
	if !ok {
		return nil
	}
	var out []string
	for _, f := range strings.Fields(v) {
		out = append(out, c.qname(n, f, useDefault))
	}
	return out
}

func (c *compiler) yesNo(n *xmltree.Node, name string) (bool, bool) {
	v, ok := attr(n, name)
	if !ok {
		return false, false
	}
	switch v {
	case "yes":
		return true, true
	case "no":
		return false, true
	}
	c.errorf(n, "attribute %s of xsl:%s must be \"yes\" or \"no\", got %q", name, n.Name.Local, v)
	return false, false
}

// stripStylesheet drops whitespace-only text from the stylesheet except in
// xsl:text and under xml:space="preserve".
func stripStylesheet(n *xmltree.Node, preserve bool) {
	if v, ok := n.Attr(xmltree.XMLNamespace, "space"); ok {
		preserve = v == "preserve"
	}
	if isXSL(n, "text") {
		return
	}
	for ch := n.FirstChild; ch != nil; {
		next := ch.NextSibling
		switch ch.Type {
		case xmltree.TextNode:
			if !preserve && xmltree.IsWhitespace(ch.Data) {
				n.RemoveChild(ch)
			}
		case xmltree.ElementNode:
			stripStylesheet(ch, preserve)
		}
		ch = next
	}
}

var topLevelOnly = map[string]bool{
	"template": true, "output": true, "key": true, "attribute-set": true,
	"strip-space": true, "preserve-space": true, "decimal-format": true,
	"namespace-alias": true, "include": true, "import": true,
	"stylesheet": true, "transform": true,
}

func (c *compiler) topLevel(n *xmltree.Node) {
	switch n.Type {
	case xmltree.TextNode:
		c.errorf(n, "text is not allowed at the top level of a stylesheet")
		return
	case xmltree.ElementNode:
	default:
		return
	}
	if n.Name.Space != Namespace {
		if n.Name.Space == "" {
			c.errorf(n, "top-level element <%s> must be in a namespace", n.Name)
		}
		return
	}
	switch n.Name.Local {
	case "template":
		c.template(n)
	case "variable", "param":
		c.global(n)
	case "output":
		c.outputDecl(n)
	case "strip-space":
		c.spaceDecl(n, true)
	case "preserve-space":
		c.spaceDecl(n, false)
	case "key":
		c.key(n)
	case "attribute-set":
		c.attributeSet(n)
	case "decimal-format":
		c.decimalFormat(n)
	case "namespace-alias":
		c.warnf(n, "xsl:namespace-alias is not supported and is ignored")
	case "include", "import":
		c.errorf(n, "xsl:%s is not supported: external stylesheets cannot be resolved", n.Name.Local)
	default:
		if !c.forwards {
			c.errorf(n, "unknown top-level element xsl:%s", n.Name.Local)
		}
	}
}

func (c *compiler) template(n *xmltree.Node) {
	t := &template{node: n, ns: nsOf(n)}
	name, hasName := attr(n, "name")
	_, hasMatch := attr(n, "match")
	if !hasName && !hasMatch {
		c.errorf(n, "xsl:template requires a match or a name attribute")
	}
	if hasName {
		t.name = c.qname(n, name, false)
		if _, dup := c.ss.named[t.name]; dup {
			c.errorf(n, "duplicate template named %q", name)
		}
		c.ss.named[t.name] = t
	}
	if m, ok := attr(n, "mode"); ok {
		if !hasMatch {
			c.errorf(n, "xsl:template with a mode requires a match attribute")
		}
		t.mode = c.qname(n, m, false)
	}
	t.params, t.body = c.templateBody(n)
	c.ss.templates = append(c.ss.templates, t)
	if hasMatch {
		t.match = c.pattern(n, "match")
		if t.match == nil {
			return
		}
		var prio *float64
		if p, ok := attr(n, "priority"); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				c.errorf(n, "priority %q is not a number", p)
			} else {
				prio = &f
			}
		}
		c.addRules(t, prio)
	}
}

func (c *compiler) addRules(t *template, prio *float64) {
	for _, alt := range t.match.Split() {
		r := &rule{pattern: alt, tmpl: t, order: c.order}
		c.order++
		if prio != nil {
			r.priority = *prio
		} else {
			r.priority = alt.DefaultPriority()
		}
		c.ss.rules[t.mode] = append(c.ss.rules[t.mode], r)
	}
}

// templateBody splits leading xsl:param children from the rest.
func (c *compiler) templateBody(n *xmltree.Node) ([]*instr, []*instr) {
	var params []*instr
	ch := n.FirstChild
	for ; ch != nil && isXSL(ch, "param"); ch = ch.NextSibling {
		in := &instr{node: ch, ns: nsOf(ch), isParam: true}
		c.binding(ch, in)
		params = append(params, in)
	}
	var rest []*xmltree.Node
	for ; ch != nil; ch = ch.NextSibling {
		rest = append(rest, ch)
	}
	return params, c.sequence(rest)
}

func (c *compiler) body(n *xmltree.Node) []*instr { return c.sequence(n.Children()) }

func (c *compiler) sequence(nodes []*xmltree.Node) []*instr {
	var out []*instr
	for _, ch := range nodes {
		switch ch.Type {
		case xmltree.TextNode:
			out = append(out, &instr{node: ch, exec: execText, text: ch.Data})
		case xmltree.ElementNode:
			if in := c.instruction(ch); in != nil {
				out = append(out, in)
			}
		}
	}
	return out
}

func (c *compiler) instruction(n *xmltree.Node) *instr {
	if n.Name.Space != Namespace {
		return c.literal(n)
	}
	def, ok := instructions[n.Name.Local]
	if !ok {
		return c.unknown(n)
	}
	if def.compile == nil {
		c.errorf(n, "xsl:%s is not allowed here", n.Name.Local)
		return nil
	}
	in := &instr{node: n, exec: def.exec, ns: nsOf(n)}
	def.compile(c, n, in)
	return in
}

func (c *compiler) unknown(n *xmltree.Node) *instr {
	if topLevelOnly[n.Name.Local] {
		c.errorf(n, "xsl:%s is only allowed at the top level", n.Name.Local)
		return nil
	}
	var fallback []*instr
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		if isXSL(ch, "fallback") {
			fallback = append(fallback, c.body(ch)...)
		}
	}
	switch {
	case fallback != nil:
		return &instr{node: n, exec: execSequence, body: fallback}
	case c.forwards:
		return &instr{node: n, exec: execUnsupported}
	}
	c.errorf(n, "unknown XSLT instruction xsl:%s", n.Name.Local)
	return nil
}

// literal compiles a literal result element.
func (c *compiler) literal(n *xmltree.Node) *instr {
	in := &instr{node: n, exec: execLiteral, ns: nsOf(n)}
	lre := &literalElement{name: n.Name}
	excluded := excludedNamespaces(n)
	var prefixes []string
	scope := n.InScopeNamespaces()
	for p := range scope {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	for _, p := range prefixes {
		uri := scope[p]
		if uri == Namespace || uri == xmltree.XMLNamespace || uri == "" || excluded[uri] {
			continue
		}
		lre.namespaces = append(lre.namespaces, xmltree.Namespace{Prefix: p, URI: uri})
	}
	for _, a := range n.Attrs {
		if a.Name.Space == Namespace {
			if a.Name.Local == "use-attribute-sets" {
				in.useSets = c.useSets(n, a.Data)
			}
			continue
		}
		lre.attrs = append(lre.attrs, literalAttr{name: a.Name, value: c.avt(n, a.Data)})
	}
	in.lre = lre
	in.body = c.body(n)
	return in
}

// excludedNamespaces collects the URIs named by exclude-result-prefixes
// and extension-element-prefixes on n and its ancestors.
func excludedNamespaces(n *xmltree.Node) map[string]bool {
	out := map[string]bool{}
	for e := n; e != nil && e.Type == xmltree.ElementNode; e = e.Parent {
		for _, name := range []string{"exclude-result-prefixes", "extension-element-prefixes"} {
			var v string
			var ok bool
			if isXSL(e, "stylesheet") || isXSL(e, "transform") {
				v, ok = e.Attr("", name)
			} else {
				v, ok = e.Attr(Namespace, name)
			}
			if !ok {
				continue
			}
			for _, p := range strings.Fields(v) {
				if p == "#default" {
					p = ""
				}
				if uri, found := e.LookupNamespace(p); found && uri != "" {
					out[uri] = true
				}
			}
		}
	}
	return out
}

func (c *compiler) useSets(n *xmltree.Node, v string) []string {
	var out []string
	for _, f := range strings.Fields(v) {
		out = append(out, c.qname(n, f, false))
	}
	c.setRefs[n] = append(c.setRefs[n], out...)
	return out
}

// binding compiles the shared shape of xsl:variable, xsl:param and
// xsl:with-param.
func (c *compiler) binding(n *xmltree.Node, in *instr) {
	in.name = c.qname(n, c.required(n, "name"), false)
	in.sel = c.expr(n, "select")
	body := c.body(n)
	if in.sel != nil && len(body) > 0 {
		c.errorf(n, "xsl:%s must not have both a select attribute and content", n.Name.Local)
	}
	in.body = body
}

func (c *compiler) global(n *xmltree.Node) {
	in := &instr{node: n, ns: nsOf(n), isParam: n.Name.Local == "param"}
	c.binding(n, in)
	if _, dup := c.ss.global[in.name]; dup {
		c.errorf(n, "duplicate global variable %q", in.name)
		return
	}
	c.ss.global[in.name] = in
	c.ss.globals = append(c.ss.globals, in)
}

func (c *compiler) key(n *xmltree.Node) {
	name := c.qname(n, c.required(n, "name"), false)
	k := &keyDef{node: n, ns: nsOf(n)}
	if _, ok := attr(n, "match"); !ok {
		c.required(n, "match")
	} else {
		k.match = c.pattern(n, "match")
	}
	k.use = c.requiredExpr(n, "use")
	c.ss.keys[name] = append(c.ss.keys[name], k)
}

func (c *compiler) attributeSet(n *xmltree.Node) {
	name := c.qname(n, c.required(n, "name"), false)
	set := &attrSet{node: n}
	if v, ok := attr(n, "use-attribute-sets"); ok {
		set.useSets = c.useSets(n, v)
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		if !isXSL(ch, "attribute") {
			c.errorf(ch, "xsl:attribute-set may only contain xsl:attribute")
			continue
		}
		set.attrs = append(set.attrs, c.instruction(ch))
	}
	c.ss.attrSets[name] = append(c.ss.attrSets[name], set)
}

// resolve checks references that may point forward in the stylesheet.
func (c *compiler) resolve() {
	for _, in := range c.calls {
		if _, ok := c.ss.named[in.name]; !ok {
			c.errorf(in.node, "no template named %q", in.name)
		}
	}
	for n, refs := range c.setRefs {
		for _, r := range refs {
			if _, ok := c.ss.attrSets[r]; !ok && r != "" {
				c.errorf(n, "no attribute set named %q", r)
			}
		}
	}
	for name := range c.ss.attrSets {
		c.checkSetCycle(name, map[string]bool{})
	}
}

func (c *compiler) checkSetCycle(name string, seen map[string]bool) {
	if seen[name] {
		c.errorf(c.ss.attrSets[name][0].node, "attribute set %q uses itself", name)
		return
	}
	seen[name] = true
	defer delete(seen, name)
	for _, set := range c.ss.attrSets[name] {
		for _, u := range set.useSets {
			if _, ok := c.ss.attrSets[u]; ok {
				c.checkSetCycle(u, seen)
			}
		}
	}
}

// avt is a parsed attribute value template.
type avt []avtPart

type avtPart struct {
	lit  string
	expr *xpath.Expr
}

func (c *compiler) avt(n *xmltree.Node, s string) avt {
	parts, err := parseAVT(s, nsOf(n))
	if err != nil {
		c.errorf(n, "attribute value template %q: %s", s, err)
	}
	return parts
}

func (c *compiler) optAVT(n *xmltree.Node, name string) avt {
	v, ok := attr(n, name)
	if !ok {
		return nil
	}
	return c.avt(n, v)
}

func parseAVT(s string, ns xpath.Namespaces) (avt, error) {
	var (
		out avt
		lit strings.Builder
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '{' && i+1 < len(s) && s[i+1] == '{':
			lit.WriteByte('{')
			i++
		case ch == '}' && i+1 < len(s) && s[i+1] == '}':
			lit.WriteByte('}')
			i++
		case ch == '}':
			return nil, fmt.Errorf("unmatched '}'")
		case ch == '{':
			end := -1
			var quote byte
			for j := i + 1; j < len(s) && end < 0; j++ {
				switch {
				case quote != 0:
					if s[j] == quote {
						quote = 0
					}
				case s[j] == '"' || s[j] == '\'':
					quote = s[j]
				case s[j] == '}':
					end = j
				}
			}
			if end < 0 {
				return nil, fmt.Errorf("unterminated expression")
			}
			e, err := xpath.CompileNS(s[i+1:end], ns)
			if err != nil {
				return nil, err
			}
			if lit.Len() > 0 {
				out = append(out, avtPart{lit: lit.String()})
				lit.Reset()
			}
			out = append(out, avtPart{expr: e})
			i = end
		default:
			lit.WriteByte(ch)
		}
	}
	if lit.Len() > 0 || len(out) == 0 {
		out = append(out, avtPart{lit: lit.String()})
	}
	return out, nil
}

// static returns the value of a template without expressions.
func (a avt) static() (string, bool) {
	var b strings.Builder
	for _, p := range a {
		if p.expr != nil {
			return "", false
		}
		b.WriteString(p.lit)
	}
	return b.String(), true
}

func isNCName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && (r == '-' || r == '.' || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)):
		default:
			return false
		}
	}
	return true
}

func isQName(s string) bool {
	prefix, local, ok := strings.Cut(s, ":")
	if !ok {
		return isNCName(s)
	}
	return isNCName(prefix) && isNCName(local)
}
