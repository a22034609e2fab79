package xmltree

import (
	"io"
	"strconv"
	"strings"
)

type Method string

const (
	MethodXML  Method = "xml"
	MethodHTML Method = "html"
	MethodText Method = "text"
)

// Options controls serialization.
type Options struct {
	Method Method
	// Indent is the per-level indentation; empty disables indenting.
	Indent string
	// TrimText trims text nodes and collapses inner whitespace runs, the
	// way a pretty-printer presents a document.
	TrimText bool

	OmitDeclaration bool
	Version         string
	Encoding        string
	Standalone      string
	DoctypePublic   string
	DoctypeSystem   string

	// CDataElements holds expanded names whose text children are written
	// as CDATA sections.
	CDataElements map[string]bool
	// Representable reports whether a rune can be written literally in the
	// output encoding; others become character references. Nil means any.
	Representable func(rune) bool
}

// PrettyOptions is the layout used to prettify documents.
func PrettyOptions() Options {
	return Options{Method: MethodXML, Indent: "  ", TrimText: true}
}

// Write serializes n to w.
func Write(w io.Writer, n *Node, o Options) error {
	_, err := io.WriteString(w, Serialize(n, o))
	return err
}

// Serialize renders n as a string.
func Serialize(n *Node, o Options) string {
	if o.Method == "" {
		o.Method = MethodXML
	}
	s := &serializer{o: o}
	s.scopes = []map[string]string{{"xml": XMLNamespace, "": ""}}
	if o.Method == MethodText {
		s.b.WriteString(n.StringValue())
		return s.b.String()
	}
	if n.Type == DocumentNode {
		s.document(n)
	} else {
		s.node(n, 0, false)
	}
	return s.b.String()
}

type serializer struct {
	o      Options
	b      strings.Builder
	scopes []map[string]string
	gen    int
}

var htmlVoid = map[string]bool{
	"area": true, "base": true, "basefont": true, "br": true, "col": true,
	"embed": true, "frame": true, "hr": true, "img": true, "input": true,
	"isindex": true, "link": true, "meta": true, "param": true, "source": true,
	"track": true, "wbr": true,
}

func (s *serializer) indenting() bool { return s.o.Indent != "" }

func (s *serializer) newline(depth int) {
	s.b.WriteByte('\n')
	for i := 0; i < depth; i++ {
		s.b.WriteString(s.o.Indent)
	}
}

func (s *serializer) document(doc *Node) {
	wrote := false
	if s.o.Method == MethodXML && !s.o.OmitDeclaration {
		version := s.o.Version
		if version == "" {
			version = "1.0"
		}
		enc := s.o.Encoding
		if enc == "" {
			enc = "UTF-8"
		}
		s.b.WriteString(`<?xml version="` + version + `" encoding="` + enc + `"`)
		if s.o.Standalone != "" {
			s.b.WriteString(` standalone="` + s.o.Standalone + `"`)
		}
		s.b.WriteString("?>")
		wrote = true
	}
	if root := doc.DocumentElement(); root != nil && (s.o.DoctypeSystem != "" || (s.o.Method == MethodHTML && s.o.DoctypePublic != "")) {
		if wrote && s.indenting() {
			s.b.WriteByte('\n')
		}
		name := root.Name.String()
		if s.o.Method == MethodHTML {
			name = "html"
		}
		s.b.WriteString("<!DOCTYPE " + name)
		switch {
		case s.o.DoctypePublic != "":
			s.b.WriteString(` PUBLIC "` + s.o.DoctypePublic + `"`)
			if s.o.DoctypeSystem != "" {
				s.b.WriteString(` "` + s.o.DoctypeSystem + `"`)
			}
		default:
			s.b.WriteString(` SYSTEM "` + s.o.DoctypeSystem + `"`)
		}
		s.b.WriteString(">")
		wrote = true
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if s.indenting() {
			if c.Type == TextNode && collapse(c.Data) == "" {
				continue
			}
			if wrote {
				s.b.WriteByte('\n')
			}
		}
		s.node(c, 0, false)
		wrote = true
	}
	if s.indenting() && wrote {
		s.b.WriteByte('\n')
	}
}

func (s *serializer) node(n *Node, depth int, raw bool) {
	switch n.Type {
	case DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			s.node(c, depth, raw)
		}
	case ElementNode:
		s.element(n, depth, raw)
	case TextNode:
		data := n.Data
		if s.o.TrimText {
			data = collapse(data)
		}
		s.escapeText(data)
	case CommentNode:
		s.b.WriteString("<!--" + n.Data + "-->")
	case ProcInstNode:
		s.b.WriteString("<?" + n.Name.Local)
		if n.Data != "" {
			s.b.WriteString(" " + n.Data)
		}
		if s.o.Method == MethodHTML {
			s.b.WriteString(">")
		} else {
			s.b.WriteString("?>")
		}
	case AttributeNode:
		s.escapeText(n.Data)
	}
}

func (s *serializer) lookup(prefix string) (string, bool) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if uri, ok := s.scopes[i][prefix]; ok {
			return uri, true
		}
	}
	return "", false
}

func (s *serializer) prefixFor(uri string) (string, bool) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		for p, u := range s.scopes[i] {
			if u == uri && p != "" {
				if cur, _ := s.lookup(p); cur == uri {
					return p, true
				}
			}
		}
	}
	return "", false
}

func (s *serializer) isHTML(e *Node) bool {
	return s.o.Method == MethodHTML && e.Name.Space == ""
}

func (s *serializer) element(e *Node, depth int, raw bool) {
	scope := map[string]string{}
	s.scopes = append(s.scopes, scope)
	defer func() { s.scopes = s.scopes[:len(s.scopes)-1] }()

	var decls []Namespace
	bind := func(prefix, uri string) {
		scope[prefix] = uri
		decls = append(decls, Namespace{Prefix: prefix, URI: uri})
	}
	for _, ns := range e.Namespaces {
		if cur, ok := s.lookup(ns.Prefix); ok && cur == ns.URI {
			continue
		}
		if _, taken := scope[ns.Prefix]; taken {
			continue
		}
		bind(ns.Prefix, ns.URI)
	}

	prefix := e.Name.Prefix
	if e.Name.Space == "" {
		prefix = ""
	}
	if cur, _ := s.lookup(prefix); cur != e.Name.Space {
		if u, taken := scope[prefix]; taken && u != e.Name.Space {
			// An explicit declaration claimed the prefix for another URI.
			prefix = s.generatePrefix(scope)
		}
		bind(prefix, e.Name.Space)
	}
	qname := e.Name.Local
	if prefix != "" {
		qname = prefix + ":" + qname
	}

	type attr struct {
		name  string
		value string
	}
	attrs := make([]attr, 0, len(e.Attrs))
	for _, a := range e.Attrs {
		name := a.Name.Local
		switch a.Name.Space {
		case "":
		case XMLNamespace:
			name = "xml:" + a.Name.Local
		default:
			p := a.Name.Prefix
			if p != "" {
				if cur, ok := s.lookup(p); !ok || cur != a.Name.Space {
					if _, taken := scope[p]; taken {
						p = ""
					} else {
						bind(p, a.Name.Space)
					}
				}
			}
			if p == "" {
				if found, ok := s.prefixFor(a.Name.Space); ok {
					p = found
				} else {
					p = s.generatePrefix(scope)
					bind(p, a.Name.Space)
				}
			}
			name = p + ":" + a.Name.Local
		}
		attrs = append(attrs, attr{name: name, value: a.Data})
	}

	s.b.WriteString("<" + qname)
	for _, d := range decls {
		if d.Prefix == "" {
			s.b.WriteString(` xmlns="`)
		} else {
			s.b.WriteString(` xmlns:` + d.Prefix + `="`)
		}
		s.escapeAttr(d.URI)
		s.b.WriteByte('"')
	}
	for _, a := range attrs {
		s.b.WriteString(" " + a.name + `="`)
		s.escapeAttr(a.value)
		s.b.WriteByte('"')
	}

	html := s.isHTML(e)
	lower := strings.ToLower(e.Name.Local)
	if html && htmlVoid[lower] {
		s.b.WriteString(">")
		return
	}

	kids, indent := s.layout(e, raw)
	if len(kids) == 0 {
		if html {
			s.b.WriteString("></" + qname + ">")
		} else {
			s.b.WriteString("/>")
		}
		return
	}
	s.b.WriteString(">")

	cdata := s.o.CDataElements[e.Name.Expanded()]
	rawText := html && (lower == "script" || lower == "style")
	childRaw := raw || !indent
	for _, c := range kids {
		if indent {
			s.newline(depth + 1)
		}
		switch {
		case c.Type == TextNode && cdata:
			s.cdata(c.Data)
		case c.Type == TextNode && rawText:
			s.b.WriteString(c.Data)
		default:
			s.node(c, depth+1, childRaw)
		}
	}
	if indent {
		s.newline(depth)
	}
	s.b.WriteString("</" + qname + ">")
}

// layout picks the children to write and whether to put them on their own
// lines. Mixed content is never re-indented, except when trimming text.
func (s *serializer) layout(e *Node, raw bool) ([]*Node, bool) {
	all := e.Children()
	if !s.indenting() || raw {
		return all, false
	}
	if s.o.TrimText {
		kids := all[:0:0]
		for _, c := range all {
			if c.Type == TextNode && collapse(c.Data) == "" {
				continue
			}
			kids = append(kids, c)
		}
		if len(kids) == 1 && kids[0].Type == TextNode {
			return kids, false
		}
		return kids, true
	}
	kids := all[:0:0]
	for _, c := range all {
		if c.Type == TextNode {
			if !IsWhitespace(c.Data) {
				return all, false
			}
			continue
		}
		kids = append(kids, c)
	}
	return kids, true
}

func (s *serializer) generatePrefix(scope map[string]string) string {
	for {
		p := "ns" + strconv.Itoa(s.gen)
		s.gen++
		if _, used := s.lookup(p); !used {
			if _, taken := scope[p]; !taken {
				return p
			}
		}
	}
}

func (s *serializer) representable(r rune) bool {
	return r < 0x80 || s.o.Representable == nil || s.o.Representable(r)
}

func (s *serializer) charRef(r rune) {
	s.b.WriteString("&#" + strconv.Itoa(int(r)) + ";")
}

func (s *serializer) escapeText(t string) {
	for _, r := range t {
		switch r {
		case '&':
			s.b.WriteString("&amp;")
		case '<':
			s.b.WriteString("&lt;")
		case '>':
			s.b.WriteString("&gt;")
		case '\r':
			s.b.WriteString("&#13;")
		default:
			if !s.representable(r) {
				s.charRef(r)
				continue
			}
			s.b.WriteRune(r)
		}
	}
}

func (s *serializer) escapeAttr(t string) {
	html := s.o.Method == MethodHTML
	for _, r := range t {
		switch r {
		case '&':
			s.b.WriteString("&amp;")
		case '"':
			s.b.WriteString("&quot;")
		case '<':
			if html {
				s.b.WriteRune(r)
			} else {
				s.b.WriteString("&lt;")
			}
		case '\n':
			s.b.WriteString("&#10;")
		case '\r':
			s.b.WriteString("&#13;")
		case '\t':
			s.b.WriteString("&#9;")
		default:
			if !s.representable(r) {
				s.charRef(r)
				continue
			}
			s.b.WriteRune(r)
		}
	}
}

func (s *serializer) cdata(t string) {
	s.b.WriteString("<![CDATA[" + strings.ReplaceAll(t, "]]>", "]]]]><![CDATA[>") + "]]>")
}

// collapse trims s and folds every inner whitespace run to one space.
func collapse(s string) string {
	return strings.Join(strings.FieldsFunc(s, isSpace), " ")
}

func isSpace(r rune) bool { return r == ' ' || r == '\t' || r == '\n' || r == '\r' }
