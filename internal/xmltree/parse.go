package xmltree

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SyntaxError is a well-formedness or namespace error found while parsing.
type SyntaxError struct {
	Msg    string
	Line   int
	Column int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("XML syntax error on line %d, column %d: %s", e.Line, e.Column, e.Msg)
}

func ParseString(s string) (*Node, error) { return Parse(strings.NewReader(s)) }

// Parse reads a complete document. Input is taken as already-decoded text:
// an encoding named in the XML declaration is accepted and ignored.
func Parse(r io.Reader) (*Node, error) {
	p := &parser{d: xml.NewDecoder(r), doc: NewDocument()}
	p.d.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }
	if err := p.run(); err != nil {
		return nil, err
	}
	Renumber(p.doc)
	return p.doc, nil
}

type parser struct {
	d     *xml.Decoder
	doc   *Node
	stack []*openElement
	root  bool
}

type openElement struct {
	node *Node
	raw  xml.Name
}

func (p *parser) current() *Node {
	if len(p.stack) == 0 {
		return p.doc
	}
	return p.stack[len(p.stack)-1].node
}

func (p *parser) errorf(line, col int, format string, args ...any) error {
	return &SyntaxError{Msg: fmt.Sprintf(format, args...), Line: line, Column: col}
}

func (p *parser) run() error {
	for {
		line, col := p.d.InputPos()
		tok, err := p.d.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var se *xml.SyntaxError
			if errors.As(err, &se) {
				_, c := p.d.InputPos()
				return &SyntaxError{Msg: se.Msg, Line: se.Line, Column: c}
			}
			l, c := p.d.InputPos()
			return &SyntaxError{Msg: err.Error(), Line: l, Column: c}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := p.start(t, line, col); err != nil {
				return err
			}
		case xml.EndElement:
			if err := p.end(t, line, col); err != nil {
				return err
			}
		case xml.CharData:
			if err := p.text(string(t), line, col); err != nil {
				return err
			}
		case xml.Comment:
			c := NewComment(string(t))
			c.Line, c.Column = line, col
			p.current().AppendChild(c)
		case xml.ProcInst:
			if t.Target == "xml" {
				continue
			}
			if strings.EqualFold(t.Target, "xml") {
				return p.errorf(line, col, "reserved processing instruction target %q", t.Target)
			}
			pi := NewProcInst(t.Target, strings.TrimLeft(string(t.Inst), " \t\r\n"))
			pi.Line, pi.Column = line, col
			p.current().AppendChild(pi)
		case xml.Directive:
			// DOCTYPE and friends carry no information for this model.
		}
	}
	if len(p.stack) > 0 {
		l, c := p.d.InputPos()
		return p.errorf(l, c, "unexpected end of input: element <%s> is not closed", rawName(p.stack[len(p.stack)-1].raw))
	}
	if !p.root {
		l, c := p.d.InputPos()
		return p.errorf(l, c, "document has no root element")
	}
	return nil
}

func (p *parser) start(t xml.StartElement, line, col int) error {
	if len(p.stack) == 0 && p.root {
		return p.errorf(line, col, "markup after the root element: <%s>", rawName(t.Name))
	}
	el := &Node{Type: ElementNode, Line: line, Column: col}
	var plain []xml.Attr
	for _, a := range t.Attr {
		switch {
		case a.Name.Space == "xmlns":
			if a.Name.Local == "xml" || a.Name.Local == "xmlns" {
				if a.Name.Local == "xmlns" || a.Value != XMLNamespace {
					return p.errorf(line, col, "reserved prefix %q cannot be declared", a.Name.Local)
				}
				continue
			}
			if a.Value == "" {
				return p.errorf(line, col, "prefix %q cannot be bound to an empty namespace", a.Name.Local)
			}
			el.Namespaces = append(el.Namespaces, Namespace{Prefix: a.Name.Local, URI: a.Value})
		case a.Name.Space == "" && a.Name.Local == "xmlns":
			el.Namespaces = append(el.Namespaces, Namespace{URI: a.Value})
		default:
			plain = append(plain, a)
		}
	}
	// Namespace lookups need the element linked into the tree.
	p.current().AppendChild(el)

	uri, ok := el.LookupNamespace(t.Name.Space)
	if !ok {
		return p.errorf(line, col, "undeclared namespace prefix %q on element <%s>", t.Name.Space, rawName(t.Name))
	}
	el.Name = Name{Space: uri, Prefix: t.Name.Space, Local: t.Name.Local}

	for _, a := range plain {
		name := Name{Prefix: a.Name.Space, Local: a.Name.Local}
		if a.Name.Space != "" {
			uri, ok := el.LookupNamespace(a.Name.Space)
			if !ok {
				return p.errorf(line, col, "undeclared namespace prefix %q on attribute %s", a.Name.Space, rawName(a.Name))
			}
			name.Space = uri
		}
		if _, dup := el.Attr(name.Space, name.Local); dup {
			return p.errorf(line, col, "attribute %s is specified more than once", rawName(a.Name))
		}
		attr := el.SetAttr(name, a.Value)
		attr.Line, attr.Column = line, col
	}

	p.stack = append(p.stack, &openElement{node: el, raw: t.Name})
	p.root = true
	return nil
}

func (p *parser) end(t xml.EndElement, line, col int) error {
	if len(p.stack) == 0 {
		return p.errorf(line, col, "unexpected end tag </%s>", rawName(t.Name))
	}
	top := p.stack[len(p.stack)-1]
	if top.raw != t.Name {
		return p.errorf(line, col, "element <%s> closed by </%s>", rawName(top.raw), rawName(t.Name))
	}
	p.stack = p.stack[:len(p.stack)-1]
	return nil
}

func (p *parser) text(s string, line, col int) error {
	if len(p.stack) == 0 {
		if IsWhitespace(s) {
			return nil
		}
		return p.errorf(line, col, "character data outside the root element")
	}
	parent := p.current()
	if last := parent.LastChild; last != nil && last.Type == TextNode {
		last.Data += s
		return nil
	}
	t := NewText(s)
	t.Line, t.Column = line, col
	parent.AppendChild(t)
	return nil
}

func rawName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}
